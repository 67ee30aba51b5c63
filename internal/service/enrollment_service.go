package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-admission-api/internal/dto"
	"github.com/noah-isme/course-admission-api/internal/models"
	appErrors "github.com/noah-isme/course-admission-api/pkg/errors"
	"github.com/noah-isme/course-admission-api/pkg/export"
)

type enrollmentReadStore interface {
	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	CountEnrollmentsByStatus(ctx context.Context, courseID string) (map[models.EnrollmentStatus]int, error)
	ListHistory(ctx context.Context, enrollmentID string) ([]models.EnrollmentHistory, error)
	GetCapacity(ctx context.Context, courseID string) (*models.CourseCapacity, error)
	CountWaitlist(ctx context.Context, courseID string) (int, error)
}

// ExportFile is a rendered roster ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// EnrollmentService answers enrollment read models.
type EnrollmentService struct {
	store     enrollmentReadStore
	cache     *CacheService
	statsTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(store enrollmentReadStore, cache *CacheService, statsTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		store:     store,
		cache:     cache,
		statsTTL:  statsTTL,
		validator: validate,
		logger:    logger,
		now:       clockUTC,
	}
}

// Get returns one enrollment visible to the actor.
func (s *EnrollmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	enrollment, err := s.store.FindEnrollment(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "load enrollment")
	}
	if enrollment.UserID != actor.UserID && !actor.Role.CanReadCourse() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this enrollment")
	}
	return enrollment, nil
}

// ListByUser pages through a user's enrollments across courses.
func (s *EnrollmentService) ListByUser(ctx context.Context, actor models.Actor, userID string, query dto.EnrollmentListQuery) ([]models.Enrollment, *models.Pagination, error) {
	if userID != actor.UserID && !actor.Role.CanReadCourse() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to list enrollments of another user")
	}
	return s.list(ctx, models.EnrollmentFilter{UserID: userID}, query)
}

// ListByCourse pages through a course roster.
func (s *EnrollmentService) ListByCourse(ctx context.Context, actor models.Actor, courseID string, query dto.EnrollmentListQuery) ([]models.Enrollment, *models.Pagination, error) {
	if !actor.Role.CanReadCourse() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to list course enrollments")
	}
	return s.list(ctx, models.EnrollmentFilter{CourseID: courseID}, query)
}

func (s *EnrollmentService) list(ctx context.Context, filter models.EnrollmentFilter, query dto.EnrollmentListQuery) ([]models.Enrollment, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid listing parameters")
	}
	if query.Status != "" {
		filter.Status = models.EnrollmentStatus(query.Status)
	}
	filter.Page, filter.PageSize = query.Page, query.Limit
	filter = filter.Normalize()

	enrollments, total, err := s.store.ListEnrollments(ctx, filter)
	if err != nil {
		return nil, nil, translateStoreErr(err, "enrollment", "list enrollments")
	}
	return nonNil(enrollments), &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Stats summarises a course. Results are cached until the next course mutation.
func (s *EnrollmentService) Stats(ctx context.Context, courseID string) (*models.EnrollmentStats, error) {
	version, cacheable := s.cache.CourseVersion(ctx, courseID)
	key := statsCacheKey(courseID, version)
	if cacheable {
		var cached models.EnrollmentStats
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	capacity, err := s.store.GetCapacity(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "course capacity", "load capacity")
	}
	counts, err := s.store.CountEnrollmentsByStatus(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "count enrollments")
	}
	waitlist, err := s.store.CountWaitlist(ctx, courseID)
	if err != nil {
		return nil, translateStoreErr(err, "waitlist", "count waitlist")
	}

	stats := models.EnrollmentStats{
		CourseID:  courseID,
		Active:    counts[models.EnrollmentStatusActive],
		Pending:   counts[models.EnrollmentStatusPending],
		Completed: counts[models.EnrollmentStatusCompleted],
		Dropped:   counts[models.EnrollmentStatusDropped],
		Cancelled: counts[models.EnrollmentStatusCancelled],
		Waitlist:  waitlist,
		Capacity:  capacity.Availability(),
	}
	if cacheable {
		_ = s.cache.Set(ctx, key, stats, s.statsTTL)
	}
	return &stats, nil
}

// History lists an enrollment's transitions, oldest first.
func (s *EnrollmentService) History(ctx context.Context, actor models.Actor, enrollmentID string) ([]models.EnrollmentHistory, error) {
	enrollment, err := s.store.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, translateStoreErr(err, "enrollment", "load enrollment")
	}
	if enrollment.UserID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this history")
	}
	history, err := s.store.ListHistory(ctx, enrollmentID)
	if err != nil {
		return nil, translateStoreErr(err, "enrollment history", "list history")
	}
	return nonNil(history), nil
}

var rosterColumns = []string{"Enrollment ID", "User ID", "Status", "Progress", "Payment", "Enrolled At", "Closed At"}

// ExportRoster renders the full roster of a course as CSV or PDF.
func (s *EnrollmentService) ExportRoster(ctx context.Context, actor models.Actor, courseID string, query dto.RosterExportQuery) (*ExportFile, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export parameters")
	}
	if !actor.Role.CanReadCourse() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to export course enrollments")
	}
	format := export.FormatCSV
	if query.Format != "" {
		format = export.Format(query.Format)
	}

	filter := models.EnrollmentFilter{CourseID: courseID, Status: models.EnrollmentStatus(query.Status), Page: 1, PageSize: models.MaxPageSize}
	table := export.Table{Title: fmt.Sprintf("Roster %s", courseID), Columns: rosterColumns}
	for {
		enrollments, total, err := s.store.ListEnrollments(ctx, filter)
		if err != nil {
			return nil, translateStoreErr(err, "enrollment", "list enrollments")
		}
		for _, e := range enrollments {
			table.Rows = append(table.Rows, rosterRow(e))
		}
		if len(enrollments) == 0 || filter.Page*filter.PageSize >= total {
			break
		}
		filter.Page++
	}

	body, err := export.Render(table, format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	s.logger.Info("roster exported",
		zap.String("course_id", courseID),
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)))
	return &ExportFile{
		Filename:    fmt.Sprintf("roster-%s-%s.%s", courseID, s.now().Format("20060102"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func rosterRow(e models.Enrollment) []string {
	closed := ""
	switch {
	case e.CompletedAt != nil:
		closed = e.CompletedAt.Format(time.RFC3339)
	case e.DroppedAt != nil:
		closed = e.DroppedAt.Format(time.RFC3339)
	case e.CancelledAt != nil:
		closed = e.CancelledAt.Format(time.RFC3339)
	}
	return []string{
		e.ID,
		e.UserID,
		string(e.Status),
		strconv.Itoa(e.Progress),
		string(e.PaymentStatus),
		e.EnrolledAt.Format(time.RFC3339),
		closed,
	}
}
