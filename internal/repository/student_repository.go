package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-api/internal/models"
)

const studentColumns = `id, name, email, profile_pic, created_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns a window of students in creation order and the total count.
func (r *StudentRepository) List(ctx context.Context, page models.Page) ([]models.Student, int, error) {
	page = page.Normalize()
	const query = `SELECT ` + studentColumns + ` FROM students ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`
	students := make([]models.Student, 0)
	if err := r.db.SelectContext(ctx, &students, query, page.Limit, page.Skip); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM students`); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// Create inserts a new student record. A taken email yields ErrDuplicateKey.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO students (id, name, email, profile_pic, created_at)
        VALUES (:id, :name, :email, :profile_pic, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update applies the supplied fields only and returns the stored row.
func (r *StudentRepository) Update(ctx context.Context, id string, patch models.StudentPatch) (*models.Student, error) {
	if patch.Empty() {
		return r.FindByID(ctx, id)
	}

	var sets []string
	var args []interface{}
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if patch.Email != nil {
		args = append(args, *patch.Email)
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE students SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), studentColumns)

	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update student: %w", err)
	}
	return &student, nil
}

// ReplaceProfilePicture stores a new picture reference and returns the row with the reference it replaced.
func (r *StudentRepository) ReplaceProfilePicture(ctx context.Context, id, picture string) (student *models.Student, previous *string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin replace profile picture: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &previous, `SELECT profile_pic FROM students WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("lock student: %w", err)
	}

	var updated models.Student
	if err = tx.GetContext(ctx, &updated, `UPDATE students SET profile_pic = $1 WHERE id = $2 RETURNING `+studentColumns, picture, id); err != nil {
		return nil, nil, fmt.Errorf("update profile picture: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit profile picture: %w", err)
	}
	return &updated, previous, nil
}

// Delete removes the student and every enrollment referencing it in one transaction.
// It returns the removed row.
func (r *StudentRepository) Delete(ctx context.Context, id string) (deleted *models.Student, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete student: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var student models.Student
	if err = tx.GetContext(ctx, &student, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete student enrollments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete student: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete student: %w", err)
	}
	return &student, nil
}
