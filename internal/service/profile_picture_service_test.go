package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/repository/memory"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngBytes(size int) []byte {
	buf := make([]byte, size)
	copy(buf, pngHeader)
	return buf
}

func newPictureFixture(t *testing.T, maxBytes int64) (*memory.Store, *memObjects, *syncCleaner, *ProfilePictureService, string) {
	t.Helper()
	store := memory.NewStore()
	objects := newMemObjects()
	cleaner := &syncCleaner{store: objects}
	students := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)
	student, err := students.Create(context.Background(), CreateStudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	svc := NewProfilePictureService(store.Students(), objects, cleaner, maxBytes, nil)
	return store, objects, cleaner, svc, student.ID
}

func TestProfilePictureUploadStoresAndReplaces(t *testing.T) {
	_, objects, cleaner, svc, id := newPictureFixture(t, 1024)
	ctx := context.Background()

	first, err := svc.Upload(ctx, id, bytes.NewReader(pngBytes(100)))
	require.NoError(t, err)
	require.NotNil(t, first.ProfilePic)
	assert.True(t, strings.HasPrefix(*first.ProfilePic, "students/"+id+"/profile-"))
	assert.True(t, strings.HasSuffix(*first.ProfilePic, ".png"))
	require.NotNil(t, first.ProfilePicURL)
	assert.Equal(t, "/uploads/"+*first.ProfilePic, *first.ProfilePicURL)
	assert.True(t, objects.has(*first.ProfilePic))

	second, err := svc.Upload(ctx, id, bytes.NewReader(pngBytes(200)))
	require.NoError(t, err)
	assert.NotEqual(t, *first.ProfilePic, *second.ProfilePic)
	assert.Equal(t, []string{*first.ProfilePic}, cleaner.scheduled)
	assert.False(t, objects.has(*first.ProfilePic))
	assert.Equal(t, 1, objects.count())
}

func TestProfilePictureUploadRejectsNonImages(t *testing.T) {
	_, objects, _, svc, id := newPictureFixture(t, 1024)

	_, err := svc.Upload(context.Background(), id, strings.NewReader("#!/bin/sh\necho hi\n"))
	assert.ErrorIs(t, err, appErrors.ErrUnsupportedMedia)
	assert.Zero(t, objects.count())

	_, err = svc.Upload(context.Background(), id, bytes.NewReader(nil))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestProfilePictureUploadEnforcesSizeLimit(t *testing.T) {
	_, objects, _, svc, id := newPictureFixture(t, 1024)

	_, err := svc.Upload(context.Background(), id, bytes.NewReader(pngBytes(1025)))
	assert.ErrorIs(t, err, appErrors.ErrPayloadTooLarge)
	assert.Zero(t, objects.count())

	_, err = svc.Upload(context.Background(), id, bytes.NewReader(pngBytes(1024)))
	assert.NoError(t, err)
}

func TestProfilePictureUploadUnknownStudent(t *testing.T) {
	_, objects, _, svc, _ := newPictureFixture(t, 1024)

	_, err := svc.Upload(context.Background(), "ghost", bytes.NewReader(pngBytes(10)))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Zero(t, objects.count())
}

func TestProfilePictureUploadStorageFailure(t *testing.T) {
	_, objects, _, svc, id := newPictureFixture(t, 1024)
	objects.putErr = errors.New("disk full")

	_, err := svc.Upload(context.Background(), id, bytes.NewReader(pngBytes(10)))
	assert.ErrorIs(t, err, appErrors.ErrStorageFailure)
}

func TestProfilePictureUploadRemovesObjectWhenRecordFails(t *testing.T) {
	store, objects, _, svc, id := newPictureFixture(t, 1024)
	store.FailWith(errors.New("connection reset"))

	_, err := svc.Upload(context.Background(), id, bytes.NewReader(pngBytes(10)))
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Zero(t, objects.count())
}
