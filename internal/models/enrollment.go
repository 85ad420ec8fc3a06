package models

import "time"

// Enrollment links one student to one course.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentDetail enriches an enrollment with both sides of the link.
type EnrollmentDetail struct {
	Enrollment
	StudentName       string  `db:"student_name" json:"student_name"`
	StudentEmail      string  `db:"student_email" json:"student_email"`
	CourseTitle       string  `db:"course_title" json:"course_title"`
	CourseDescription *string `db:"course_description" json:"course_description"`
}
