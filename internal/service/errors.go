package service

import (
	"database/sql"
	"errors"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// notFoundOr maps a missing row to NotFound and anything else to an internal error.
func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
