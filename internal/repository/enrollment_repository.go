package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-api/internal/models"
)

const enrollmentDetailSelect = `SELECT e.id, e.student_id, e.course_id, e.enrolled_at,
        s.name AS student_name, s.email AS student_email,
        c.title AS course_title, c.description AS course_description
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN courses c ON c.id = e.course_id`

const enrollmentOrder = ` ORDER BY e.enrolled_at ASC, e.id ASC`

// EnrollmentRepository handles persistence of the student/course link table.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create links student and course. Both parents are share-locked for the lifetime of the
// transaction so a concurrent delete cannot interleave. It returns sql.ErrNoRows when a parent
// is missing and ErrDuplicateKey when the pair is already linked.
func (r *EnrollmentRepository) Create(ctx context.Context, studentID, courseID string) (created *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM students WHERE id = $1 FOR SHARE`, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM courses WHERE id = $1 FOR SHARE`, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}

	enrollment := models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
	}
	const insert = `INSERT INTO enrollments (id, student_id, course_id, enrolled_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (student_id, course_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, insert, enrollment.ID, enrollment.StudentID, enrollment.CourseID, enrollment.EnrolledAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert enrollment rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrDuplicateKey
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll: %w", err)
	}
	return &enrollment, nil
}

// Delete removes the link for the pair, returning sql.ErrNoRows when it does not exist.
func (r *EnrollmentRepository) Delete(ctx context.Context, studentID, courseID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Find returns the link for the pair.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, enrolled_at FROM enrollments WHERE student_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// ListByStudent returns the student's enrollments in enrollment order.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	details := make([]models.EnrollmentDetail, 0)
	if err := r.db.SelectContext(ctx, &details, enrollmentDetailSelect+` WHERE e.student_id = $1`+enrollmentOrder, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}

// ListByCourse returns the course's enrollments in enrollment order.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	details := make([]models.EnrollmentDetail, 0)
	if err := r.db.SelectContext(ctx, &details, enrollmentDetailSelect+` WHERE e.course_id = $1`+enrollmentOrder, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return details, nil
}

// List returns a window over all enrollments and the total count.
func (r *EnrollmentRepository) List(ctx context.Context, page models.Page) ([]models.EnrollmentDetail, int, error) {
	page = page.Normalize()
	details := make([]models.EnrollmentDetail, 0)
	if err := r.db.SelectContext(ctx, &details, enrollmentDetailSelect+enrollmentOrder+` LIMIT $1 OFFSET $2`, page.Limit, page.Skip); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollments`); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return details, total, nil
}
