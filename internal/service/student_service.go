package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, page models.Page) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, id string, patch models.StudentPatch) (*models.Student, error)
	Delete(ctx context.Context, id string) (*models.Student, error)
}

type roleGuard interface {
	RequireRole(user *models.User, allowed ...models.UserRole) error
}

type uploadCleaner interface {
	Schedule(key string)
}

// CreateStudentRequest is the payload for creating a student.
type CreateStudentRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// UpdateStudentRequest is the payload for updating a student. Omitted fields stay unchanged.
type UpdateStudentRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=255"`
	Email *string `json:"email" validate:"omitempty,email,max=255"`
}

// StudentService handles student business logic.
type StudentService struct {
	repo      studentRepository
	guard     roleGuard
	cleaner   uploadCleaner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs a StudentService. cleaner may be nil.
func NewStudentService(repo studentRepository, guard roleGuard, cleaner uploadCleaner, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, guard: guard, cleaner: cleaner, validator: validate, logger: logger}
}

// List returns a window of students ordered by creation time.
func (s *StudentService) List(ctx context.Context, page models.Page) ([]models.Student, int, models.Page, error) {
	page = page.Normalize()
	students, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, 0, page, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, page, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create validates and stores a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	student := &models.Student{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateKey, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update applies the supplied fields. An empty update returns the record unchanged.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name must not be empty")
		}
		req.Name = &name
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if email == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "email must not be empty")
		}
		req.Email = &email
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	patch := models.StudentPatch{Name: req.Name, Email: req.Email}
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	student, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, appErrors.Clone(appErrors.ErrDuplicateKey, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student with its enrollments. Only admins may delete.
func (s *StudentService) Delete(ctx context.Context, actor *models.User, id string) error {
	if err := s.guard.RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}

	if deleted.ProfilePic != nil && s.cleaner != nil {
		s.cleaner.Schedule(*deleted.ProfilePic)
	}
	s.logger.Info("student deleted", zap.String("student_id", id), zap.String("by", actor.ID))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
