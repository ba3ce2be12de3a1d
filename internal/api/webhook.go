package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kneutral-org/alert-repository/internal/alert"
)

// serviceNamespace derives stable service identifiers from service names.
var serviceNamespace = uuid.MustParse("5b7d3c1e-8f7a-4c2b-9d3e-1a6f0e2b4c8d")

// AlertmanagerPayload represents the webhook payload from Alertmanager.
type AlertmanagerPayload struct {
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
	Status            string              `json:"status"`
	Receiver          string              `json:"receiver"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Alerts            []AlertmanagerAlert `json:"alerts"`
}

// AlertmanagerAlert represents a single alert in the Alertmanager payload.
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Fingerprint  string            `json:"fingerprint"`
}

// WebhookResponse summarizes an ingested webhook.
type WebhookResponse struct {
	Message  string  `json:"message"`
	AlertIDs []int64 `json:"alertIds"`
	Created  int     `json:"created"`
	Updated  int     `json:"updated"`
	Failed   int     `json:"failed"`
}

// AlertmanagerWebhook handles POST /api/v1/webhook/alertmanager. Alerts are
// deduplicated by fingerprint.
func (h *Handler) AlertmanagerWebhook(c *gin.Context) {
	var payload AlertmanagerPayload
	if !h.bind(c, &payload) {
		return
	}
	if len(payload.Alerts) == 0 {
		badRequest(c, "no alerts in payload")
		return
	}

	h.logger.Info().
		Str("groupKey", payload.GroupKey).
		Str("receiver", payload.Receiver).
		Int("alertCount", len(payload.Alerts)).
		Msg("processing alertmanager webhook")

	resp := WebhookResponse{Message: "alerts processed", AlertIDs: []int64{}}
	var lastErr error
	for _, am := range payload.Alerts {
		if am.Fingerprint == "" {
			resp.Failed++
			continue
		}
		saved, created, err := h.alerts.CreateOrUpdate(c.Request.Context(), fromAlertmanager(am, payload.CommonLabels))
		if err != nil {
			h.logger.Error().
				Err(err).
				Str("fingerprint", am.Fingerprint).
				Msg("failed to process alertmanager alert")
			resp.Failed++
			lastErr = err
			continue
		}
		resp.AlertIDs = append(resp.AlertIDs, saved.ID)
		if created {
			resp.Created++
		} else {
			resp.Updated++
		}
	}

	if len(resp.AlertIDs) == 0 && lastErr != nil {
		h.respondError(c, lastErr)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func fromAlertmanager(am AlertmanagerAlert, common map[string]string) alert.Alert {
	label := func(key string) string {
		if v := am.Labels[key]; v != "" {
			return v
		}
		return common[key]
	}

	a := alert.Alert{
		Fingerprint: am.Fingerprint,
		Summary:     alertmanagerSummary(am),
		Severity:    mapSeverity(label("severity")),
		Status:      alert.StatusFiring,
		Source:      "alertmanager",
		StartsAt:    am.StartsAt.UTC(),
	}
	if a.StartsAt.IsZero() {
		a.StartsAt = time.Now().UTC()
	}
	if am.Status == "resolved" {
		a.Status = alert.StatusResolved
		if !am.EndsAt.IsZero() {
			endsAt := am.EndsAt.UTC()
			a.ResolvedAt = &endsAt
		}
	}
	if name := label("service"); name != "" {
		a.Service = &alert.Service{
			ID:   uuid.NewSHA1(serviceNamespace, []byte(name)),
			Name: name,
			Team: label("team"),
		}
	}
	return a
}

func mapSeverity(s string) string {
	switch s {
	case "critical", "page":
		return alert.SeverityCritical
	case "high", "error":
		return alert.SeverityHigh
	case "info", "informational", "low":
		return alert.SeverityInfo
	default:
		return alert.SeverityWarning
	}
}

func alertmanagerSummary(am AlertmanagerAlert) string {
	if summary := am.Annotations["summary"]; summary != "" {
		return summary
	}
	if name := am.Labels["alertname"]; name != "" {
		return name
	}
	return "Alert from Alertmanager"
}
