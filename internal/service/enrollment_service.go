package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Delete(ctx context.Context, studentID, courseID string) error
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
	List(ctx context.Context, page models.Page) ([]models.EnrollmentDetail, int, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type courseLookup interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentRecorder interface {
	RecordEnrollment(outcome string)
}

// Enrollment outcomes reported to metrics.
const (
	EnrollmentOutcomeCreated   = "created"
	EnrollmentOutcomeDuplicate = "duplicate"
	EnrollmentOutcomeRemoved   = "removed"
)

// EnrollmentRequest is the payload for enrolling or unenrolling a student.
type EnrollmentRequest struct {
	StudentID string `json:"student_id" form:"student_id" validate:"required"`
	CourseID  string `json:"course_id" form:"course_id" validate:"required"`
}

// EnrollmentService coordinates the student/course link.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentLookup
	courses   courseLookup
	metrics   enrollmentRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentLookup, courses courseLookup, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, courses: courses, validator: validate, logger: logger}
}

// SetMetrics attaches a recorder for enrollment outcomes.
func (s *EnrollmentService) SetMetrics(m enrollmentRecorder) {
	s.metrics = m
}

// Enroll links a student to a course. Missing parents and duplicate links are reported as 400.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollmentRequest) (*models.Enrollment, error) {
	req = trimEnrollmentRequest(req)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if err := s.ensureStudent(ctx, req.StudentID); err != nil {
		return nil, badRequest(err)
	}
	if err := s.ensureCourse(ctx, req.CourseID); err != nil {
		return nil, badRequest(err)
	}

	enrollment, err := s.repo.Create(ctx, req.StudentID, req.CourseID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			s.record(EnrollmentOutcomeDuplicate)
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		case errors.Is(err, sql.ErrNoRows):
			// a parent vanished between the checks and the insert
			return nil, badRequest(appErrors.Clone(appErrors.ErrNotFound, "student or course not found"))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.record(EnrollmentOutcomeCreated)
	s.logger.Info("student enrolled", zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID))
	return enrollment, nil
}

// Unenroll removes the link between a student and a course.
func (s *EnrollmentService) Unenroll(ctx context.Context, req EnrollmentRequest) error {
	req = trimEnrollmentRequest(req)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if err := s.repo.Delete(ctx, req.StudentID, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	s.record(EnrollmentOutcomeRemoved)
	s.logger.Info("student unenrolled", zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID))
	return nil
}

// ListByStudent returns the courses a student is enrolled in.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, nil
}

// ListByCourse returns the students enrolled in a course.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	if err := s.ensureCourse(ctx, courseID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, nil
}

// List returns a window over every enrollment with both sides embedded.
func (s *EnrollmentService) List(ctx context.Context, page models.Page) ([]models.EnrollmentDetail, int, models.Page, error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, 0, page, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, total, page, nil
}

func (s *EnrollmentService) ensureStudent(ctx context.Context, id string) error {
	if _, err := s.students.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

func (s *EnrollmentService) ensureCourse(ctx context.Context, id string) error {
	if _, err := s.courses.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return nil
}

func (s *EnrollmentService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEnrollment(outcome)
	}
}

// badRequest reports missing parents as 400 and leaves other failures untouched.
func badRequest(err error) error {
	if errors.Is(err, appErrors.ErrNotFound) {
		return appErrors.WithStatus(err, http.StatusBadRequest)
	}
	return err
}

func trimEnrollmentRequest(req EnrollmentRequest) EnrollmentRequest {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.CourseID = strings.TrimSpace(req.CourseID)
	return req
}
