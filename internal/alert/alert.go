// Package alert binds the Alert entity to the repository engine.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

// Severity levels.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Lifecycle states.
const (
	StatusFiring       = "firing"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Table is the storage namespace alerts live in.
const Table = "alerts"

// Alert is a firing or historical alert.
type Alert struct {
	ID             int64      `json:"id"`
	Fingerprint    string     `json:"fingerprint"`
	Summary        string     `json:"summary"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	Service        *Service   `json:"service,omitempty"`
	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
	StartsAt       time.Time  `json:"startsAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	Version        int64      `json:"version"`
}

// Service is the service an alert was raised for. It is stored with the alert.
type Service struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Team string    `json:"team"`
}

// Mapper maps Alert to and from storage rows.
type Mapper struct{}

// Schema declares the alerts table.
func (Mapper) Schema(b *entity.Builder) {
	b.Name("Alert").
		Table(Table).
		ID("id", entity.KindInt, entity.Generated).
		Field("fingerprint", entity.KindString).
		Field("summary", entity.KindString).
		Field("severity", entity.KindString).
		Field("status", entity.KindString).
		Field("source", entity.KindString).
		Relation("service", true, func(s *entity.Builder) {
			s.Field("id", entity.KindUUID).
				Field("name", entity.KindString).
				Field("team", entity.KindString)
		}).
		Nullable("acknowledged_by", entity.KindString).
		Field("starts_at", entity.KindTime).
		Nullable("resolved_at", entity.KindTime).
		Version("version")
}

// ToRow converts an alert to a row.
func (Mapper) ToRow(a Alert) entity.Row {
	row := entity.Row{
		"id":              a.ID,
		"fingerprint":     a.Fingerprint,
		"summary":         a.Summary,
		"severity":        a.Severity,
		"status":          a.Status,
		"source":          a.Source,
		"service":         nil,
		"acknowledged_by": a.AcknowledgedBy,
		"starts_at":       a.StartsAt,
		"resolved_at":     a.ResolvedAt,
		"version":         a.Version,
	}
	if a.Service != nil {
		row["service"] = entity.Row{
			"id":   a.Service.ID,
			"name": a.Service.Name,
			"team": a.Service.Team,
		}
	}
	return row
}

// FromRow converts a normalized row to an alert.
func (Mapper) FromRow(row entity.Row) (Alert, error) {
	var a Alert
	var ok bool

	if a.ID, ok = row["id"].(int64); !ok {
		return Alert{}, fmt.Errorf("%w: alert id is %T", entity.ErrKindMismatch, row["id"])
	}
	a.Fingerprint, _ = row["fingerprint"].(string)
	a.Summary, _ = row["summary"].(string)
	a.Severity, _ = row["severity"].(string)
	a.Status, _ = row["status"].(string)
	a.Source, _ = row["source"].(string)
	a.StartsAt, _ = row["starts_at"].(time.Time)
	a.Version, _ = row["version"].(int64)

	if by, ok := row["acknowledged_by"].(string); ok {
		a.AcknowledgedBy = &by
	}
	if at, ok := row["resolved_at"].(time.Time); ok {
		a.ResolvedAt = &at
	}
	if svc, ok := row["service"].(entity.Row); ok {
		a.Service = &Service{}
		a.Service.ID, _ = svc["id"].(uuid.UUID)
		a.Service.Name, _ = svc["name"].(string)
		a.Service.Team, _ = svc["team"].(string)
	}
	return a, nil
}
