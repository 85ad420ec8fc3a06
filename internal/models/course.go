package models

import "time"

// Course is an offering students can enroll into.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CoursePatch lists the optional fields of a partial course update. Nil means unchanged.
type CoursePatch struct {
	Title       *string
	Description *string
}

// Empty reports whether the patch changes nothing.
func (p CoursePatch) Empty() bool {
	return p.Title == nil && p.Description == nil
}
