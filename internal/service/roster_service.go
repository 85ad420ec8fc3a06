package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/export"
)

type rosterSource interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9]+`)

// RosterDocument is a rendered course roster.
type RosterDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// RosterService renders the students of a course as CSV or PDF.
type RosterService struct {
	courses courseLookup
	rosters rosterSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewRosterService constructs a RosterService.
func NewRosterService(courses courseLookup, rosters rosterSource, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{courses: courses, rosters: rosters, logger: logger, now: time.Now}
}

// Export renders the roster of courseID in the requested format.
func (s *RosterService) Export(ctx context.Context, courseID, format string) (*RosterDocument, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}

	items, err := s.rosters.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	table := export.Table{
		Title:   fmt.Sprintf("Roster: %s", course.Title),
		Columns: []string{"Student ID", "Name", "Email", "Enrolled At"},
		Rows:    make([][]string, 0, len(items)),
	}
	for _, item := range items {
		table.Rows = append(table.Rows, []string{
			item.StudentID,
			item.StudentName,
			item.StudentEmail,
			item.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}

	body, err := export.Render(f, table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	s.logger.Info("roster exported", zap.String("course_id", courseID), zap.String("format", string(f)), zap.Int("rows", len(items)))
	return &RosterDocument{
		Filename:    rosterFilename(course.Title, f, s.now()),
		ContentType: f.ContentType(),
		Body:        body,
	}, nil
}

func rosterFilename(title string, f export.Format, at time.Time) string {
	slug := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "course"
	}
	return fmt.Sprintf("roster-%s-%s.%s", slug, at.UTC().Format("20060102"), f)
}
