package models

import "time"

// Student is a person administered by the API.
type Student struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	ProfilePic *string   `db:"profile_pic" json:"profile_pic"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StudentPatch lists the optional fields of a partial student update. Nil means unchanged.
type StudentPatch struct {
	Name  *string
	Email *string
}

// Empty reports whether the patch changes nothing.
func (p StudentPatch) Empty() bool {
	return p.Name == nil && p.Email == nil
}
