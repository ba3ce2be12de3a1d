package alert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/repository"
	"github.com/kneutral-org/alert-repository/internal/store"
)

var (
	base     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payments = &Service{ID: uuid.MustParse("6f1c2e7a-3b7e-4f0e-9a51-2d1f0c4b8e11"), Name: "payments", Team: "billing"}
	search   = &Service{ID: uuid.MustParse("0b8f4d6c-1a2e-4c3d-8e5f-7a9b0c1d2e3f"), Name: "search", Team: "discovery"}
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	r, err := NewRepository(engine.New(store.NewInMemoryAdapter()))
	require.NoError(t, err)
	return r
}

func seedAlerts(t *testing.T, r *Repository) []Alert {
	t.Helper()
	saved, err := r.SaveAll(context.Background(), []Alert{
		{Fingerprint: "fp-1", Summary: "High error rate on checkout", Severity: SeverityCritical, Status: StatusFiring, Source: "prometheus", Service: payments, StartsAt: base},
		{Fingerprint: "fp-2", Summary: "Disk almost full", Severity: SeverityWarning, Status: StatusFiring, Source: "node-exporter", StartsAt: base.Add(time.Minute)},
		{Fingerprint: "fp-3", Summary: "Checkout latency", Severity: SeverityCritical, Status: StatusResolved, Source: "prometheus", Service: payments, StartsAt: base.Add(2 * time.Minute)},
		{Fingerprint: "fp-4", Summary: "Index lag", Severity: SeverityHigh, Status: StatusFiring, Source: "prometheus", Service: search, StartsAt: base.Add(3 * time.Minute)},
	})
	require.NoError(t, err)
	return saved
}

func fingerprints(alerts []Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.Fingerprint
	}
	return out
}

func TestMapper_RoundTrip(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	who := "sam"
	resolved := base.Add(time.Hour)
	saved, err := r.Save(ctx, Alert{
		Fingerprint:    "fp-x",
		Summary:        "Queue backlog",
		Severity:       SeverityHigh,
		Status:         StatusResolved,
		Source:         "alertmanager",
		Service:        payments,
		AcknowledgedBy: &who,
		StartsAt:       base,
		ResolvedAt:     &resolved,
	})
	require.NoError(t, err)

	found, ok, err := r.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved, found)
	assert.Equal(t, payments, found.Service)
	assert.Equal(t, "sam", *found.AcknowledgedBy)
	assert.True(t, resolved.Equal(*found.ResolvedAt))
}

func TestNewRepository_DeclaresQueries(t *testing.T) {
	r := newTestRepository(t)
	assert.Len(t, r.Declared(), len(declarations))

	q, err := r.Query(QueryByFingerprint)
	require.NoError(t, err)
	assert.Equal(t, query.Single, q.Cardinality)
	assert.True(t, q.Unique)
}

func TestRepository_DerivedQueries(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	seedAlerts(t, r)

	a, ok, err := r.FindByFingerprint(ctx, "fp-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Disk almost full", a.Summary)
	assert.Nil(t, a.Service)

	latest, ok, err := r.FindLatestBySeverity(ctx, SeverityCritical)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fp-3", latest.Fingerprint)

	critical, err := r.FindBySeverity(ctx, SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-3", "fp-1"}, fingerprints(critical))

	firing, err := r.FindByStatusAndSeverities(ctx, StatusFiring, SeverityCritical, SeverityHigh)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fp-1", "fp-4"}, fingerprints(firing))

	none, err := r.FindByStatusAndSeverities(ctx, StatusFiring)
	require.NoError(t, err)
	assert.Empty(t, none)

	byService, err := r.FindByService(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1", "fp-3"}, fingerprints(byService))

	n, err := r.CountByStatus(ctx, StatusFiring)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	exists, err := r.ExistsByFingerprint(ctx, "fp-9")
	require.NoError(t, err)
	assert.False(t, exists)

	checkout, err := r.FindBySummary(ctx, "Checkout")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fp-3"}, fingerprints(checkout))

	active, err := r.ActiveForService(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1"}, fingerprints(active))

	unowned, err := r.Unowned(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-2"}, fingerprints(unowned))
}

func TestRepository_PageByStatus(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	seedAlerts(t, r)

	order, err := query.ParseSort(r.Descriptor(), "-starts_at")
	require.NoError(t, err)

	var got []string
	req := query.PageOf(0, 2, order...)
	for {
		p, err := r.PageByStatus(ctx, StatusFiring, req)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Total)
		assert.Equal(t, 2, p.TotalPages())
		got = append(got, fingerprints(p.Content)...)
		if !p.HasNext {
			break
		}
		req = p.NextRequest()
	}
	assert.Equal(t, []string{"fp-4", "fp-2", "fp-1"}, got)
}

func TestRepository_CreateOrUpdate(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	first, created, err := r.CreateOrUpdate(ctx, Alert{Fingerprint: "fp-d", Summary: "CPU hot", Severity: SeverityWarning, StartsAt: base})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusFiring, first.Status)

	second, created, err := r.CreateOrUpdate(ctx, Alert{Fingerprint: "fp-d", Summary: "CPU very hot", Severity: SeverityCritical})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, "CPU very hot", second.Summary)
	assert.True(t, base.Equal(second.StartsAt))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepository_Transitions(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	saved := seedAlerts(t, r)

	acked, err := r.Acknowledge(ctx, saved[1].ID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	assert.Equal(t, "oncall", *acked.AcknowledgedBy)

	at := base.Add(time.Hour)
	resolved, err := r.Resolve(ctx, saved[1].ID, at)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, int64(3), resolved.Version)

	_, err = r.Resolve(ctx, 404, at)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// The stale copy from seeding must not overwrite the resolution.
	_, err = r.Save(ctx, saved[1])
	assert.ErrorIs(t, err, repository.ErrStaleEntity)
}
