package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodmatch/internal/matching/allocator"
	"bloodmatch/internal/matching/events"
	"bloodmatch/internal/matching/metrics"
	"bloodmatch/internal/matching/service"
	"bloodmatch/pkg/config"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *httprouter.Router {
	t.Helper()
	cfg := &config.Config{
		GridCellSizeDegrees: 0.05,
		DonationCooldown:    90 * 24 * time.Hour,
		RequestTTL: map[model.Urgency]time.Duration{
			model.UrgencyCritical: time.Hour,
			model.UrgencyHigh:     time.Hour,
			model.UrgencyMedium:   time.Hour,
			model.UrgencyLow:      time.Hour,
		},
		ReservationShards: 4,
		MaxRadiusMeters:   100_000,
		Log:               logger.Discard(),
	}
	bus := events.NewBus(cfg.Log)
	t.Cleanup(bus.Close)
	engine := service.NewEngine(cfg, bus, metrics.New(prometheus.NewRegistry()), nil)

	router := httprouter.New()
	NewMatchingHandler(engine.Service, cfg.Log).RegisterRoutes(router)
	NewHealthHandler(nil, cfg.Log).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func registerDonor(t *testing.T, router http.Handler, id, bloodType string, lat float64) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/v1/donors", map[string]any{
		"id":         id,
		"blood_type": bloodType,
		"position":   map[string]float64{"latitude": lat, "longitude": 34.78},
		"verified":   true,
		"active":     true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func submitRequest(t *testing.T, router http.Handler, bloodType string, units int) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/v1/requests", map[string]any{
		"requester_id":  "hospital-1",
		"blood_type":    bloodType,
		"units_needed":  units,
		"position":      map[string]float64{"latitude": 32.08, "longitude": 34.78},
		"radius_meters": 5000,
		"urgency":       "high",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp submitResponse
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestAllocationFlow(t *testing.T) {
	router := newTestRouter(t)
	registerDonor(t, router, "d1", "O-", 32.081)
	registerDonor(t, router, "d2", "A+", 32.09)
	id := submitRequest(t, router, "A+", 2)

	rec := do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/allocate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result allocator.AllocationResult
	decodeData(t, rec, &result)
	assert.Equal(t, []string{"d1", "d2"}, result.MatchedDonorIDs)
	assert.Equal(t, model.StatusMatched, result.Status)

	rec = do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/donors/d2/decline", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var req model.BloodRequest
	decodeData(t, rec, &req)
	assert.Equal(t, model.StatusPartiallyMatched, req.Status)
	assert.Equal(t, []string{"d1"}, req.ReservedDonors)

	rec = do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/fulfill", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &req)
	assert.Equal(t, model.StatusFulfilled, req.Status)
}

func TestAllocateWithNoCandidatesIsNotAnError(t *testing.T) {
	router := newTestRouter(t)
	id := submitRequest(t, router, "AB-", 1)

	rec := do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/allocate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result allocator.AllocationResult
	decodeData(t, rec, &result)
	assert.Empty(t, result.MatchedDonorIDs)
	assert.Equal(t, 1, result.UnfilledCount)
}

func TestStatusMapping(t *testing.T) {
	router := newTestRouter(t)
	registerDonor(t, router, "d1", "B+", 32.081)
	id := submitRequest(t, router, "B+", 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
		code   string
	}{
		{"unknown request", http.MethodGet, "/api/v1/requests/id/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown donor", http.MethodGet, "/api/v1/donors/id/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate donor", http.MethodPost, "/api/v1/donors", map[string]any{"id": "d1", "blood_type": "B+"}, http.StatusConflict, "CONFLICT"},
		{"bad blood type", http.MethodPost, "/api/v1/requests", map[string]any{
			"requester_id": "h", "blood_type": "Q", "units_needed": 1, "radius_meters": 10, "urgency": "low",
		}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown field", http.MethodPost, "/api/v1/requests", map[string]any{"color": "red"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"decline unreserved", http.MethodPost, "/api/v1/requests/id/" + id + "/donors/d1/decline", nil, http.StatusConflict, "CONFLICT"},
		{"fulfill open request", http.MethodPost, "/api/v1/requests/id/" + id + "/fulfill", nil, http.StatusConflict, "CONFLICT"},
		{"bad location", http.MethodPut, "/api/v1/donors/id/d1/location", map[string]float64{"latitude": 200}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad limit", http.MethodGet, "/api/v1/donors?limit=abc", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestCancelThenAllocateConflicts(t *testing.T) {
	router := newTestRouter(t)
	id := submitRequest(t, router, "O+", 1)

	rec := do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/allocate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/requests/id/"+id+"/expire", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDonorEndpoints(t *testing.T) {
	router := newTestRouter(t)
	registerDonor(t, router, "d1", "A-", 32.081)
	registerDonor(t, router, "d2", "A-", 32.082)

	rec := do(t, router, http.MethodPut, "/api/v1/donors/id/d1/eligibility", map[string]bool{"verified": false, "active": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var donor model.Donor
	decodeData(t, rec, &donor)
	assert.False(t, donor.Verified)

	rec = do(t, router, http.MethodPut, "/api/v1/donors/id/d1/location", map[string]float64{"latitude": 10, "longitude": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &donor)
	assert.Equal(t, model.Position{Latitude: 10, Longitude: 20}, donor.Position)

	rec = do(t, router, http.MethodDelete, "/api/v1/donors/id/d2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/donors/id/d2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &donor)
	assert.False(t, donor.Active)

	rec = do(t, router, http.MethodGet, "/api/v1/donors?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []model.Donor `json:"data"`
		TotalCount int64         `json:"total_count"`
		Limit      int           `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 2, page.TotalCount)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "d2", page.Data[0].ID)
}

type failingPinger struct{ err error }

func (p failingPinger) PingMongo(context.Context) error { return p.err }

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		path   string
		want   int
		status string
	}{
		{"health", nil, "/health", http.StatusOK, "ok"},
		{"ready without database", nil, "/ready", http.StatusOK, "ready"},
		{"ready with healthy database", failingPinger{}, "/ready", http.StatusOK, "ready"},
		{"ready with failing database", failingPinger{err: errors.New("down")}, "/ready", http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := httprouter.New()
			NewHealthHandler(tt.pinger, logger.Discard()).RegisterRoutes(router)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.want, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}
