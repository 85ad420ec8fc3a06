package models

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page is a skip/limit window over an ordered listing.
type Page struct {
	Skip  int `form:"skip"`
	Limit int `form:"limit"`
}

// Normalize clamps the window to sane bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
	Count int `json:"count"`
}
