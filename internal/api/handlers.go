package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/evaluator"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

type AlertService interface {
	Get(ctx context.Context, id string) (models.Alert, error)
	List(ctx context.Context, f store.AlertFilter) (store.AlertPage, error)
	Active(ctx context.Context, limit int) ([]models.Alert, error)
	Statistics(ctx context.Context, from, to *time.Time) (store.AlertStatistics, error)
	Acknowledge(ctx context.Context, id, userID string) (models.Alert, error)
	Resolve(ctx context.Context, id, userID, notes string) (models.Alert, error)
	Dismiss(ctx context.Context, id, userID, reason string) (models.Alert, error)
}

type TaskLookup interface {
	Get(ctx context.Context, id string) (models.AutomationTask, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]models.AutomationTask, error)
}

type ReadingIngester interface {
	Ingest(ctx context.Context, r models.Reading) error
}

type WebsocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, farmID string)
}

type Handler struct {
	alerts     AlertService
	thresholds store.ThresholdStore
	tasks      TaskLookup
	readings   ReadingIngester
	ws         WebsocketServer
	log        *logrus.Entry
}

func NewHandler(alerts AlertService, thresholds store.ThresholdStore, tasks TaskLookup, readings ReadingIngester, ws WebsocketServer, logger *logging.Logger) *Handler {
	return &Handler{
		alerts:     alerts,
		thresholds: thresholds,
		tasks:      tasks,
		readings:   readings,
		ws:         ws,
		log:        logger.WithComponent("api"),
	}
}

// respondError renders an AppError with its own status code. Anything else
// is a 500 with the detail kept in the log.
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}
	if appErr.Code >= http.StatusInternalServerError {
		h.log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(appErr.Code, gin.H{"error": appErr.Message, "type": appErr.Type})
		return
	}
	body := gin.H{"error": appErr.Message, "type": appErr.Type}
	if appErr.Details != nil {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.Code, body)
}

func (h *Handler) badRequest(c *gin.Context, msg string, err error) {
	h.respondError(c, apperrors.NewValidationError(msg, err))
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// Alerts

func (h *Handler) ListAlerts(c *gin.Context) {
	f := store.AlertFilter{
		Type:     models.AlertType(c.Query("type")),
		Severity: models.Severity(c.Query("severity")),
		Status:   models.AlertStatus(c.Query("status")),
		FarmID:   c.Query("farmId"),
		ZoneID:   c.Query("zoneId"),
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		h.badRequest(c, "from must be an RFC3339 timestamp", err)
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		h.badRequest(c, "to must be an RFC3339 timestamp", err)
		return
	}
	if f.Page, err = parseInt(c.Query("page"), 1); err != nil {
		h.badRequest(c, "page must be an integer", err)
		return
	}
	if f.Limit, err = parseInt(c.Query("limit"), 20); err != nil {
		h.badRequest(c, "limit must be an integer", err)
		return
	}

	page, err := h.alerts.List(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) ActiveAlerts(c *gin.Context) {
	limit, err := parseInt(c.Query("limit"), 100)
	if err != nil {
		h.badRequest(c, "limit must be an integer", err)
		return
	}
	alerts, err := h.alerts.Active(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) AlertStatistics(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		h.badRequest(c, "from must be an RFC3339 timestamp", err)
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		h.badRequest(c, "to must be an RFC3339 timestamp", err)
		return
	}
	stats, err := h.alerts.Statistics(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type lifecycleRequest struct {
	UserID string `json:"userId" binding:"required"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (h *Handler) bindLifecycle(c *gin.Context) (lifecycleRequest, bool) {
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "userId is required", err)
		return req, false
	}
	return req, true
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	req, ok := h.bindLifecycle(c)
	if !ok {
		return
	}
	alert, err := h.alerts.Acknowledge(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Infof("Alert %s acknowledged by %s", alert.ID, req.UserID)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	req, ok := h.bindLifecycle(c)
	if !ok {
		return
	}
	alert, err := h.alerts.Resolve(c.Request.Context(), c.Param("id"), req.UserID, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Infof("Alert %s resolved by %s", alert.ID, req.UserID)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) DismissAlert(c *gin.Context) {
	req, ok := h.bindLifecycle(c)
	if !ok {
		return
	}
	alert, err := h.alerts.Dismiss(c.Request.Context(), c.Param("id"), req.UserID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Infof("Alert %s dismissed by %s", alert.ID, req.UserID)
	c.JSON(http.StatusOK, alert)
}

// Thresholds

func (h *Handler) CreateThreshold(c *gin.Context) {
	var t models.Threshold
	if err := c.ShouldBindJSON(&t); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	t.ID = ""
	t.ViolationCount = 0
	t.LastViolation = nil
	if err := evaluator.ValidateThreshold(t); err != nil {
		h.respondError(c, err)
		return
	}

	created, err := h.thresholds.CreateThreshold(c.Request.Context(), t)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Infof("Created threshold: %s", created.ID)
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateThreshold(c *gin.Context) {
	var t models.Threshold
	if err := c.ShouldBindJSON(&t); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	t.ID = c.Param("id")
	if err := evaluator.ValidateThreshold(t); err != nil {
		h.respondError(c, err)
		return
	}

	updated, err := h.thresholds.UpdateThreshold(c.Request.Context(), t)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Infof("Updated threshold: %s", updated.ID)
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListThresholds(c *gin.Context) {
	f := store.ThresholdFilter{
		SensorType: models.SensorType(c.Query("sensorType")),
		FarmID:     c.Query("farmId"),
		ZoneID:     c.Query("zoneId"),
		ActiveOnly: c.Query("active") == "true",
	}
	thresholds, err := h.thresholds.ListThresholds(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thresholds)
}

func (h *Handler) GetThreshold(c *gin.Context) {
	t, err := h.thresholds.GetThreshold(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Automation tasks

func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.ListByCorrelation(c.Request.Context(), c.Query("correlationId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Readings

func (h *Handler) IngestReading(c *gin.Context) {
	var r models.Reading
	if err := c.ShouldBindJSON(&r); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := h.readings.Ingest(c.Request.Context(), r); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) ServeWS(c *gin.Context) {
	h.ws.ServeWS(c.Writer, c.Request, c.Query("farmId"))
}
