package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kneutral-org/alert-repository/internal/alert"
	"github.com/kneutral-org/alert-repository/internal/middleware"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/repository"
)

// AlertRequest is the body of create and replace requests.
type AlertRequest struct {
	Fingerprint    string         `json:"fingerprint" binding:"required"`
	Summary        string         `json:"summary" binding:"required"`
	Severity       string         `json:"severity" binding:"required,oneof=critical high warning info"`
	Status         string         `json:"status" binding:"omitempty,oneof=firing acknowledged resolved"`
	Source         string         `json:"source"`
	Service        *alert.Service `json:"service"`
	AcknowledgedBy *string        `json:"acknowledgedBy"`
	StartsAt       time.Time      `json:"startsAt"`
	ResolvedAt     *time.Time     `json:"resolvedAt"`
	Version        int64          `json:"version"`
}

func (r AlertRequest) toAlert() alert.Alert {
	return alert.Alert{
		Fingerprint:    r.Fingerprint,
		Summary:        r.Summary,
		Severity:       r.Severity,
		Status:         r.Status,
		Source:         r.Source,
		Service:        r.Service,
		AcknowledgedBy: r.AcknowledgedBy,
		StartsAt:       r.StartsAt,
		ResolvedAt:     r.ResolvedAt,
		Version:        r.Version,
	}
}

// AcknowledgeRequest is the body of an acknowledge request.
type AcknowledgeRequest struct {
	By string `json:"by" binding:"required"`
}

// ResolveRequest is the optional body of a resolve request.
type ResolveRequest struct {
	ResolvedAt *time.Time `json:"resolvedAt"`
}

// PageResponse is one page of alerts.
type PageResponse struct {
	Alerts     []alert.Alert `json:"alerts"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	Size       int           `json:"size"`
	TotalPages int           `json:"totalPages"`
	HasNext    bool          `json:"hasNext"`
}

// CountResponse carries a count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ListAlerts handles GET /api/v1/alerts?status=&page=&size=&sort=
func (h *Handler) ListAlerts(c *gin.Context) {
	page, err := intQuery(c, "page", 0)
	if err != nil || page < 0 {
		badRequest(c, "page must be a non-negative integer")
		return
	}
	size, err := intQuery(c, "size", h.config.DefaultPageSize)
	if err != nil {
		badRequest(c, "size must be an integer")
		return
	}
	order, err := query.ParseSort(h.alerts.Descriptor(), c.Query("sort"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	req := query.PageOf(page, size, order...)
	var p repository.Page[alert.Alert]
	if status := c.Query("status"); status != "" {
		p, err = h.alerts.PageByStatus(c.Request.Context(), status, req)
	} else {
		p, err = h.alerts.FindPage(c.Request.Context(), req)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	alerts := p.Content
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	c.JSON(http.StatusOK, PageResponse{
		Alerts:     alerts,
		Total:      p.Total,
		Page:       p.Number,
		Size:       p.Size,
		TotalPages: p.TotalPages(),
		HasNext:    p.HasNext,
	})
}

// CreateAlert handles POST /api/v1/alerts. An alert with the same
// fingerprint is updated in place.
func (h *Handler) CreateAlert(c *gin.Context) {
	var req AlertRequest
	if !h.bind(c, &req) {
		return
	}

	a := req.toAlert()
	if a.StartsAt.IsZero() {
		a.StartsAt = time.Now().UTC()
	}
	saved, created, err := h.alerts.CreateOrUpdate(c.Request.Context(), a)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, saved)
}

// GetAlert handles GET /api/v1/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, found, err := h.alerts.FindByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		h.respondError(c, repository.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetAlertByFingerprint handles GET /api/v1/alerts/fingerprint/:fingerprint
func (h *Handler) GetAlertByFingerprint(c *gin.Context) {
	a, found, err := h.alerts.FindByFingerprint(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		h.respondError(c, repository.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateAlert handles PUT /api/v1/alerts/:id. The body must carry the
// version it was read at.
func (h *Handler) UpdateAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req AlertRequest
	if !h.bind(c, &req) {
		return
	}

	a := req.toAlert()
	a.ID = id
	if a.Status == "" {
		a.Status = alert.StatusFiring
	}
	saved, err := h.alerts.Update(c.Request.Context(), a)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// DeleteAlert handles DELETE /api/v1/alerts/:id
func (h *Handler) DeleteAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.alerts.DeleteByID(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CountAlerts handles GET /api/v1/alerts/count?status=
func (h *Handler) CountAlerts(c *gin.Context) {
	var (
		n   int64
		err error
	)
	if status := c.Query("status"); status != "" {
		n, err = h.alerts.CountByStatus(c.Request.Context(), status)
	} else {
		n, err = h.alerts.Count(c.Request.Context())
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// AcknowledgeAlert handles POST /api/v1/alerts/:id/acknowledge
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req AcknowledgeRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.alerts.Acknowledge(c.Request.Context(), id, req.By)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ResolveAlert handles POST /api/v1/alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	at := time.Now().UTC()
	if req.ResolvedAt != nil {
		at = *req.ResolvedAt
	}
	a, err := h.alerts.Resolve(c.Request.Context(), id, at)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if middleware.IsPayloadTooLarge(err) {
			h.respondError(c, err)
			return false
		}
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "alert id must be a positive integer")
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
