package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/middleware"
	"github.com/noah-isme/enrollment-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

func currentUser(c *gin.Context) *models.User {
	return middleware.CurrentUser(c)
}

func bindPage(c *gin.Context) (models.Page, error) {
	var page models.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		return page, invalidPayload(err, "skip and limit must be integers")
	}
	return page, nil
}

func invalidPayload(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}
