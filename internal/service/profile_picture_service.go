package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

const sniffLen = 512

var allowedPictureTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var errPictureTooLarge = errors.New("picture exceeds size limit")

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type studentPictureRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ReplaceProfilePicture(ctx context.Context, id, picture string) (*models.Student, *string, error)
}

// StudentView is a student enriched with the public URL of its picture.
type StudentView struct {
	models.Student
	ProfilePicURL *string `json:"profile_pic_url"`
}

// ProfilePictureService stores student profile pictures.
type ProfilePictureService struct {
	repo     studentPictureRepository
	store    objectStore
	cleaner  uploadCleaner
	maxBytes int64
	logger   *zap.Logger
}

// NewProfilePictureService constructs a ProfilePictureService.
func NewProfilePictureService(repo studentPictureRepository, store objectStore, cleaner uploadCleaner, maxBytes int64, logger *zap.Logger) *ProfilePictureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &ProfilePictureService{repo: repo, store: store, cleaner: cleaner, maxBytes: maxBytes, logger: logger}
}

// MaxBytes is the largest accepted picture.
func (s *ProfilePictureService) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores the picture read from r and records it on the student.
// The content type is detected from the bytes; the client's declaration is ignored.
func (s *ProfilePictureService) Upload(ctx context.Context, studentID string, r io.Reader) (*StudentView, error) {
	if _, err := s.repo.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	ext, ok := allowedPictureTypes[contentType]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, fmt.Sprintf("unsupported image type %q", contentType))
	}

	key := fmt.Sprintf("students/%s/profile-%s%s", studentID, uuid.NewString(), ext)
	body := &limitedReader{r: io.MultiReader(bytes.NewReader(head), r), remaining: s.maxBytes}
	if _, err := s.store.Put(ctx, key, body, contentType); err != nil {
		if errors.Is(err, errPictureTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to store picture")
	}

	student, previous, err := s.repo.ReplaceProfilePicture(ctx, studentID, key)
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("failed to remove orphaned picture", zap.String("key", key), zap.Error(delErr))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record picture")
	}

	if previous != nil && *previous != key && s.cleaner != nil {
		s.cleaner.Schedule(*previous)
	}
	s.logger.Info("profile picture stored", zap.String("student_id", studentID), zap.String("key", key))
	view := s.View(student)
	return &view, nil
}

// View attaches the public picture URL to a student.
func (s *ProfilePictureService) View(student *models.Student) StudentView {
	view := StudentView{Student: *student}
	if student.ProfilePic != nil {
		url := s.store.URL(*student.ProfilePic)
		view.ProfilePicURL = &url
	}
	return view
}

// limitedReader fails once more than remaining bytes have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, errPictureTooLarge
	}
	return n, err
}
