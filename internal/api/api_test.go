package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/alerts"
	"farm-automation/internal/automation"
	"farm-automation/internal/engine"
	"farm-automation/internal/evaluator"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/models"
	"farm-automation/internal/notification"
	"farm-automation/internal/realtime"
	"farm-automation/internal/store"
	"farm-automation/internal/store/memory"
)

type okProvider struct{}

func (okProvider) Channel() models.Channel { return models.ChannelEmail }

func (okProvider) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	return "msg-" + recipient, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNop()
	st := memory.New()
	bus := eventbus.New(logger)
	queue := automation.NewQueue(st, bus, logger)
	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{RatePerSecond: 100}, bus, logger, okProvider{})
	manager := alerts.NewManager(st, queue, notification.Settings{DefaultRecipients: []string{"ops@farm.io"}}, dispatcher, bus, logger, 3)
	manager.Subscribe()
	eng := engine.New(evaluator.New(st, logger), st, queue, bus, logger)
	eng.Subscribe()

	h := NewHandler(manager, st, queue, eng, realtime.NewHub(logger), logger)
	return NewRouter(h, logger, "/api/v1"), st
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func validThreshold() map[string]any {
	return map[string]any{
		"name":       "Greenhouse heat",
		"sensorType": "temperature",
		"farmId":     "farm-1",
		"minValue":   15,
		"maxValue":   35,
		"isActive":   true,
		"action":     map[string]any{"type": "alert"},
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateThresholdValidates(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/thresholds", validThreshold())
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Threshold](t, w)
	assert.NotEmpty(t, created.ID)

	bad := validThreshold()
	bad["minValue"] = 40
	w = do(t, r, http.MethodPost, "/api/v1/thresholds", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"validation"`)

	bad = validThreshold()
	bad["action"] = map[string]any{"type": "device"}
	w = do(t, r, http.MethodPost, "/api/v1/thresholds", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/thresholds/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	update := validThreshold()
	update["maxValue"] = 38
	w = do(t, r, http.MethodPut, "/api/v1/thresholds/"+created.ID, update)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 38.0, decode[models.Threshold](t, w).MaxValue)

	w = do(t, r, http.MethodPut, "/api/v1/thresholds/missing", update)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadingRaisesAlertAndLifecycleEndpoints(t *testing.T) {
	r, st := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/v1/thresholds", validThreshold()).Code)

	reading := map[string]any{"sensorId": "s-1", "sensorType": "temperature", "farmId": "farm-1", "value": 42, "unit": "°C"}
	w := do(t, r, http.MethodPost, "/api/v1/readings", reading)
	require.Equal(t, http.StatusAccepted, w.Code)

	page, err := st.ListAlerts(context.Background(), store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, page.Alerts, 1)
	id := page.Alerts[0].ID

	w = do(t, r, http.MethodGet, "/api/v1/alerts?severity=high", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[store.AlertPage](t, w)
	assert.EqualValues(t, 1, listed.Pagination.Total)

	w = do(t, r, http.MethodGet, "/api/v1/alerts/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = do(t, r, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", map[string]any{"userId": "u-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AlertAcknowledged, decode[models.Alert](t, w).Status)

	w = do(t, r, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]any{"userId": "u-1", "notes": "vents opened"})
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decode[models.Alert](t, w)
	assert.Equal(t, models.AlertResolved, resolved.Status)
	assert.Equal(t, "vents opened", resolved.ResolutionNotes)

	w = do(t, r, http.MethodPost, "/api/v1/alerts/"+id+"/dismiss", map[string]any{"userId": "u-2"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/alerts/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[store.AlertStatistics](t, w)
	assert.EqualValues(t, 1, stats.ByStatus[string(models.AlertResolved)])
}

func TestRejectsBadInput(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/readings", map[string]any{"sensorId": "s-1", "sensorType": "co2", "value": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/alerts?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/alerts?severity=extreme", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/alerts/stats?from=2026-07-02T00:00:00Z&to=2026-07-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/automation/tasks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/alerts/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)

	w = do(t, r, http.MethodGet, "/api/v1/automation/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
