package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/repository"
)

// Declared query names.
const (
	QueryByFingerprint         = "findOneByFingerprint"
	QueryLatestBySeverity      = "findFirstBySeverityOrderByStartsAtDesc"
	QueryBySeverity            = "findBySeverityOrderByStartsAtDesc"
	QueryByStatusAndSeverities = "findByStatusAndSeverityIn"
	QueryByService             = "findByServiceNameOrderByStartsAtAsc"
	QueryPageByStatus          = "pageByStatus"
	QueryCountByStatus         = "countByStatus"
	QueryExistsByFingerprint   = "existsByFingerprint"
	QueryBySummary             = "findBySummaryContains"
	QueryActiveForService      = "activeForService"
	QueryUnowned               = "unowned"
)

var declarations = []repository.Declaration{
	repository.Derived(QueryByFingerprint),
	repository.Derived(QueryLatestBySeverity),
	repository.Derived(QueryBySeverity),
	repository.Derived(QueryByStatusAndSeverities),
	repository.Derived(QueryByService),
	repository.Derived(QueryPageByStatus),
	repository.Derived(QueryCountByStatus),
	repository.Derived(QueryExistsByFingerprint),
	repository.Derived(QueryBySummary),
	repository.Expression(QueryActiveForService, query.Expression{
		Text:        `status != "resolved" && service.name == args[0]`,
		Sort:        "-starts_at",
		Cardinality: query.Many,
	}),
	repository.Expression(QueryUnowned, query.Expression{
		Text:        `service == null && status != "resolved"`,
		Sort:        "starts_at",
		Cardinality: query.Many,
	}),
}

// Repository persists alerts.
type Repository struct {
	*repository.Repository[Alert, int64]
}

// NewRepository creates the alert repository on e, compiling every declared query.
func NewRepository(e *engine.Engine) (*Repository, error) {
	r, err := repository.New[Alert, int64](e, Mapper{}, declarations...)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert repository: %w", err)
	}
	return &Repository{Repository: r}, nil
}

// FindByFingerprint returns the alert with the given fingerprint.
func (r *Repository) FindByFingerprint(ctx context.Context, fingerprint string) (Alert, bool, error) {
	return r.FindOne(ctx, QueryByFingerprint, fingerprint)
}

// FindLatestBySeverity returns the most recently started alert of a severity.
func (r *Repository) FindLatestBySeverity(ctx context.Context, severity string) (Alert, bool, error) {
	return r.FindOne(ctx, QueryLatestBySeverity, severity)
}

// FindBySeverity returns alerts of a severity, newest first.
func (r *Repository) FindBySeverity(ctx context.Context, severity string) ([]Alert, error) {
	return r.Find(ctx, QueryBySeverity, severity)
}

// FindByStatusAndSeverities returns alerts in status with any of the severities.
func (r *Repository) FindByStatusAndSeverities(ctx context.Context, status string, severities ...string) ([]Alert, error) {
	if severities == nil {
		severities = []string{}
	}
	return r.Find(ctx, QueryByStatusAndSeverities, status, severities)
}

// FindByService returns the alerts of a service, oldest first.
func (r *Repository) FindByService(ctx context.Context, service string) ([]Alert, error) {
	return r.Find(ctx, QueryByService, service)
}

// PageByStatus returns one page of alerts in status.
func (r *Repository) PageByStatus(ctx context.Context, status string, req query.PageRequest) (repository.Page[Alert], error) {
	return r.PageBy(ctx, QueryPageByStatus, req, status)
}

// CountByStatus counts alerts in status.
func (r *Repository) CountByStatus(ctx context.Context, status string) (int64, error) {
	return r.CountBy(ctx, QueryCountByStatus, status)
}

// ExistsByFingerprint reports whether an alert with the fingerprint is stored.
func (r *Repository) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return r.ExistsBy(ctx, QueryExistsByFingerprint, fingerprint)
}

// FindBySummary returns alerts whose summary contains text.
func (r *Repository) FindBySummary(ctx context.Context, text string) ([]Alert, error) {
	return r.Find(ctx, QueryBySummary, text)
}

// ActiveForService returns unresolved alerts of a service, newest first.
func (r *Repository) ActiveForService(ctx context.Context, service string) ([]Alert, error) {
	return r.Find(ctx, QueryActiveForService, service)
}

// Unowned returns unresolved alerts not attached to any service, oldest first.
func (r *Repository) Unowned(ctx context.Context) ([]Alert, error) {
	return r.Find(ctx, QueryUnowned)
}

// CreateOrUpdate saves a by fingerprint: an alert with the same fingerprint
// is updated in place, otherwise a new alert is created. created reports which.
func (r *Repository) CreateOrUpdate(ctx context.Context, a Alert) (saved Alert, created bool, err error) {
	existing, found, err := r.FindByFingerprint(ctx, a.Fingerprint)
	if err != nil {
		return Alert{}, false, err
	}
	if found {
		a.ID = existing.ID
		a.Version = existing.Version
		if a.StartsAt.IsZero() {
			a.StartsAt = existing.StartsAt
		}
	} else {
		a.ID = 0
		a.Version = 0
	}
	if a.Status == "" {
		a.Status = StatusFiring
	}

	saved, err = r.Save(ctx, a)
	return saved, !found, err
}

// Acknowledge marks the alert acknowledged by who.
func (r *Repository) Acknowledge(ctx context.Context, id int64, who string) (Alert, error) {
	return r.transition(ctx, id, func(a *Alert) {
		a.Status = StatusAcknowledged
		a.AcknowledgedBy = &who
	})
}

// Resolve marks the alert resolved at the given time.
func (r *Repository) Resolve(ctx context.Context, id int64, at time.Time) (Alert, error) {
	return r.transition(ctx, id, func(a *Alert) {
		a.Status = StatusResolved
		a.ResolvedAt = &at
	})
}

func (r *Repository) transition(ctx context.Context, id int64, apply func(*Alert)) (Alert, error) {
	a, found, err := r.FindByID(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	if !found {
		return Alert{}, fmt.Errorf("%w: alert %d", repository.ErrNotFound, id)
	}
	apply(&a)
	return r.Update(ctx, a)
}
