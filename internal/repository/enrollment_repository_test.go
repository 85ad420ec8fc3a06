package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
)

var enrollmentDetailColumns = []string{"id", "student_id", "course_id", "enrolled_at", "student_name", "student_email", "course_title", "course_description"}

func expectParentLocks(mock sqlmock.Sqlmock, studentID, courseID string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR SHARE")).
		WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(studentID))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM courses WHERE id = $1 FOR SHARE")).
		WithArgs(courseID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(courseID))
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectParentLocks(mock, "s-1", "c-1")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, course_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "s-1", "c-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Create(context.Background(), "s-1", "c-1")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, "s-1", enrollment.StudentID)
	assert.Equal(t, "c-1", enrollment.CourseID)
	assert.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectParentLocks(mock, "s-1", "c-1")
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "s-1", "c-1")
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateMissingStudent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM students").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "ghost", "c-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateMissingCourse(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM students").WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1"))
	mock.ExpectQuery("SELECT id FROM courses").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "s-1", "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateForeignKeyRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectParentLocks(mock, "s-1", "c-1")
	mock.ExpectExec("INSERT INTO enrollments").WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "s-1", "c-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2")).
		WithArgs("s-1", "c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2")).
		WithArgs("s-1", "c-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "s-1", "c-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "s-1", "c-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByStudent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = $1 ORDER BY e.enrolled_at ASC, e.id ASC")).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows(enrollmentDetailColumns).
			AddRow("e-1", "s-1", "c-1", time.Now(), "Ada", "ada@example.com", "Math", nil))

	details, err := repo.ListByStudent(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Math", details[0].CourseTitle)
	assert.Equal(t, "Ada", details[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByCourseEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.course_id = $1")).
		WithArgs("c-9").
		WillReturnRows(sqlmock.NewRows(enrollmentDetailColumns))

	details, err := repo.ListByCourse(context.Background(), "c-9")
	require.NoError(t, err)
	assert.NotNil(t, details)
	assert.Empty(t, details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY e.enrolled_at ASC, e.id ASC LIMIT $1 OFFSET $2")).
		WithArgs(2, 1).
		WillReturnRows(sqlmock.NewRows(enrollmentDetailColumns).
			AddRow("e-2", "s-2", "c-1", time.Now(), "Grace", "grace@example.com", "Math", "Algebra"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	details, total, err := repo.List(context.Background(), models.Page{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, 3, total)
	assert.Equal(t, "Algebra", *details[0].CourseDescription)
	require.NoError(t, mock.ExpectationsWereMet())
}
