package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bloodmatch/pkg/config"
	"bloodmatch/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes func(router *httprouter.Router)

func (r routes) RegisterRoutes(router *httprouter.Router) { r(router) }

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
		RequestTimeout:    time.Second,
		IdempotencyTTL:    time.Minute,
		MaxRequestSize:    1024,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
		IdleTimeout:       time.Second,
		ShutdownTimeout:   time.Second,
		Log:               logger.Discard(),
	}
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"}).Inc()

	a := NewApplication(testConfig(), reg)
	health := routes(func(router *httprouter.Router) {
		router.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
			w.WriteHeader(http.StatusOK)
		})
	})
	api := routes(func(router *httprouter.Router) {
		router.POST("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	a.SetApp(health, api)
	t.Cleanup(func() {
		a.idempotencyStore.Stop()
		a.rateLimiter.Stop()
	})
	return a
}

func TestRoutingAndMiddleware(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total 1")

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Requester-ID", "hospital-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", strings.NewReader(`x=1`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRunStopsWorkersAndRunsClosers(t *testing.T) {
	a := newTestApp(t)

	var started, closed atomic.Int32
	a.AddWorker("ticker", func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return nil
	})
	a.OnShutdown(func() { closed.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.Equal(t, int32(1), closed.Load())
}

func TestRunReturnsWorkerError(t *testing.T) {
	a := newTestApp(t)
	a.AddWorker("broken", func(context.Context) error {
		return assert.AnError
	})

	select {
	case err := <-runAsync(a):
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(3 * time.Second):
		t.Fatal("application did not stop after worker failure")
	}
}

func runAsync(a *Application) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	return done
}
