// Package memory holds in-process repositories with the same contracts as the Postgres ones:
// sql.ErrNoRows for missing rows, repository.ErrDuplicateKey for unique violations and
// cascading deletes. Every operation runs under one lock.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
)

type pair struct{ studentID, courseID string }

// Store is the shared state behind the repositories.
type Store struct {
	mu          sync.Mutex
	seq         int
	users       map[string]*models.User
	students    map[string]*models.Student
	courses     map[string]*models.Course
	enrollments map[pair]*models.Enrollment
	failWith    error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*models.User),
		students:    make(map[string]*models.Student),
		courses:     make(map[string]*models.Course),
		enrollments: make(map[pair]*models.Enrollment),
	}
}

// FailWith makes listing and picture updates return err until reset with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// Counts returns the number of students, courses and enrollments.
func (s *Store) Counts() (students, courses, enrollments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.students), len(s.courses), len(s.enrollments)
}

// UserCount returns the number of principals.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// SetRole changes the role of username and reports whether it exists.
func (s *Store) SetRole(username string, role models.UserRole) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			u.Role = role
			return true
		}
	}
	return false
}

// RemoveUser deletes username and reports whether it existed.
func (s *Store) RemoveUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Username == username {
			delete(s.users, id)
			return true
		}
	}
	return false
}

// tick hands out strictly increasing timestamps so ordering is deterministic.
func (s *Store) tick() time.Time {
	s.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Millisecond)
}

// Users returns the principal repository.
func (s *Store) Users() *UserRepository { return &UserRepository{s} }

// Students returns the student repository.
func (s *Store) Students() *StudentRepository { return &StudentRepository{s} }

// Courses returns the course repository.
func (s *Store) Courses() *CourseRepository { return &CourseRepository{s} }

// Enrollments returns the enrollment repository.
func (s *Store) Enrollments() *EnrollmentRepository { return &EnrollmentRepository{s} }

// UserRepository serves principals from the store.
type UserRepository struct{ s *Store }

// FindByUsername returns sql.ErrNoRows when no principal has username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

// FindByID returns sql.ErrNoRows for an unknown id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

// Create inserts user, failing with repository.ErrDuplicateKey on a taken username.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertUser(user)
}

// CreateIfNone inserts user only while no principal exists.
func (r *UserRepository) CreateIfNone(ctx context.Context, user *models.User) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.users) > 0 {
		return false, nil
	}
	return true, r.s.insertUser(user)
}

func (s *Store) insertUser(user *models.User) error {
	for _, u := range s.users {
		if u.Username == user.Username {
			return repository.ErrDuplicateKey
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.tick()
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// StudentRepository serves students from the store.
type StudentRepository struct{ s *Store }

// List returns a window of students in creation order and the total count.
func (r *StudentRepository) List(ctx context.Context, page models.Page) ([]models.Student, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, 0, r.s.failWith
	}
	all := make([]models.Student, 0, len(r.s.students))
	for _, st := range r.s.students {
		all = append(all, *st)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return window(all, page), len(all), nil
}

// FindByID returns sql.ErrNoRows for an unknown id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.students[id]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

// Create inserts student, failing with repository.ErrDuplicateKey on a taken email.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.students {
		if st.Email == student.Email {
			return repository.ErrDuplicateKey
		}
	}
	student.CreatedAt = r.s.tick()
	cp := *student
	r.s.students[student.ID] = &cp
	return nil
}

// Update applies the non-nil fields of patch.
func (r *StudentRepository) Update(ctx context.Context, id string, patch models.StudentPatch) (*models.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if patch.Email != nil {
		for otherID, other := range r.s.students {
			if otherID != id && other.Email == *patch.Email {
				return nil, repository.ErrDuplicateKey
			}
		}
		st.Email = *patch.Email
	}
	if patch.Name != nil {
		st.Name = *patch.Name
	}
	cp := *st
	return &cp, nil
}

// ReplaceProfilePicture records picture and returns the previous key, if any.
func (r *StudentRepository) ReplaceProfilePicture(ctx context.Context, id, picture string) (*models.Student, *string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, nil, r.s.failWith
	}
	st, ok := r.s.students[id]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	previous := st.ProfilePic
	st.ProfilePic = &picture
	cp := *st
	return &cp, previous, nil
}

// Delete removes the student with its enrollments and returns the removed row.
func (r *StudentRepository) Delete(ctx context.Context, id string) (*models.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for key := range r.s.enrollments {
		if key.studentID == id {
			delete(r.s.enrollments, key)
		}
	}
	delete(r.s.students, id)
	return st, nil
}

// CourseRepository serves courses from the store.
type CourseRepository struct{ s *Store }

// List returns a window of courses in creation order and the total count.
func (r *CourseRepository) List(ctx context.Context, page models.Page) ([]models.Course, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, 0, r.s.failWith
	}
	all := make([]models.Course, 0, len(r.s.courses))
	for _, c := range r.s.courses {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return window(all, page), len(all), nil
}

// FindByID returns sql.ErrNoRows for an unknown id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.courses[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

// Create inserts course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	course.CreatedAt = r.s.tick()
	cp := *course
	r.s.courses[course.ID] = &cp
	return nil
}

// Update applies the non-nil fields of patch.
func (r *CourseRepository) Update(ctx context.Context, id string, patch models.CoursePatch) (*models.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Description != nil {
		c.Description = patch.Description
	}
	cp := *c
	return &cp, nil
}

// Delete removes the course with its enrollments.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.courses[id]; !ok {
		return sql.ErrNoRows
	}
	for key := range r.s.enrollments {
		if key.courseID == id {
			delete(r.s.enrollments, key)
		}
	}
	delete(r.s.courses, id)
	return nil
}

// EnrollmentRepository serves enrollment links from the store.
type EnrollmentRepository struct{ s *Store }

// Create links the pair. A missing parent yields sql.ErrNoRows, an existing link repository.ErrDuplicateKey.
func (r *EnrollmentRepository) Create(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, hasStudent := r.s.students[studentID]
	_, hasCourse := r.s.courses[courseID]
	if !hasStudent || !hasCourse {
		return nil, sql.ErrNoRows
	}
	key := pair{studentID, courseID}
	if _, exists := r.s.enrollments[key]; exists {
		return nil, repository.ErrDuplicateKey
	}
	e := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: r.s.tick(),
	}
	r.s.enrollments[key] = e
	cp := *e
	return &cp, nil
}

// Delete unlinks the pair, returning sql.ErrNoRows when it is not linked.
func (r *EnrollmentRepository) Delete(ctx context.Context, studentID, courseID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pair{studentID, courseID}
	if _, ok := r.s.enrollments[key]; !ok {
		return sql.ErrNoRows
	}
	delete(r.s.enrollments, key)
	return nil
}

// Find returns the link for the pair.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.enrollments[pair{studentID, courseID}]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

// ListByStudent returns the student's links with course details.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	return r.details(func(e *models.Enrollment) bool { return e.StudentID == studentID }), nil
}

// ListByCourse returns the course's links with student details.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	return r.details(func(e *models.Enrollment) bool { return e.CourseID == courseID }), nil
}

// List returns a window over every link and the total count.
func (r *EnrollmentRepository) List(ctx context.Context, page models.Page) ([]models.EnrollmentDetail, int, error) {
	all := r.details(func(*models.Enrollment) bool { return true })
	return window(all, page), len(all), nil
}

func (r *EnrollmentRepository) details(keep func(*models.Enrollment) bool) []models.EnrollmentDetail {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.EnrollmentDetail, 0)
	for _, e := range r.s.enrollments {
		if !keep(e) {
			continue
		}
		st := r.s.students[e.StudentID]
		c := r.s.courses[e.CourseID]
		out = append(out, models.EnrollmentDetail{
			Enrollment:        *e,
			StudentName:       st.Name,
			StudentEmail:      st.Email,
			CourseTitle:       c.Title,
			CourseDescription: c.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out
}

func window[T any](items []T, page models.Page) []T {
	page = page.Normalize()
	if page.Skip >= len(items) {
		return []T{}
	}
	end := page.Skip + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Skip:end]
}
