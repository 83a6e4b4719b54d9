package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bloodmatch/pkg/config"
	"bloodmatch/pkg/middleware"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// RouteRegistrar is implemented by every HTTP handler group.
type RouteRegistrar interface {
	RegisterRoutes(router *httprouter.Router)
}

// Worker is a long running task started with the server. It must return
// once ctx is cancelled.
type Worker func(ctx context.Context) error

type namedWorker struct {
	name string
	run  Worker
}

type Application struct {
	cfg              *config.Config
	server           *http.Server
	idempotencyStore *middleware.InMemoryIdempotencyStore
	rateLimiter      *middleware.ClientRateLimiter
	gatherer         prometheus.Gatherer
	opsHandler       http.Handler
	appHttpHandler   http.Handler
	workers          []namedWorker
	closers          []func()
}

func NewApplication(cfg *config.Config, gatherer prometheus.Gatherer) *Application {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Application{
		cfg:      cfg,
		gatherer: gatherer,
	}
}

// SetApp wires the ops routes (health, ready, metrics) with minimal
// middleware and the API routes with the full stack.
func (a *Application) SetApp(health RouteRegistrar, handlers ...RouteRegistrar) {
	a.setOpsHandler(health)
	a.setAppHandler(handlers)
	a.setAppServer()
}

// AddWorker registers a task that runs alongside the HTTP server.
func (a *Application) AddWorker(name string, w Worker) {
	a.workers = append(a.workers, namedWorker{name: name, run: w})
}

// OnShutdown registers cleanup to run after the server and workers have
// stopped, in reverse registration order.
func (a *Application) OnShutdown(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

func (a *Application) setOpsHandler(health RouteRegistrar) {
	opsRouter := httprouter.New()
	health.RegisterRoutes(opsRouter)
	opsRouter.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	var opsHandler http.Handler = opsRouter
	opsHandler = middleware.RequestLogging(a.cfg.Log)(opsHandler)
	opsHandler = middleware.Recovery(a.cfg.Log)(opsHandler)
	a.opsHandler = opsHandler
	a.cfg.Log.Info("Ops endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(handlers []RouteRegistrar) {
	appRouter := httprouter.New()
	for _, h := range handlers {
		h.RegisterRoutes(appRouter)
	}

	a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(a.cfg.IdempotencyTTL, a.cfg.IdempotencyTTL/4)
	a.rateLimiter = middleware.NewClientRateLimiter(
		a.cfg.RateLimitRequests,
		a.cfg.RateLimitWindow,
		middleware.DefaultClientExtractor,
		a.cfg.Log,
	)

	// Recovery → Logging → MaxSize → ContentType → RateLimit → Timeout → Idempotency → Router
	var appHttpHandler http.Handler = appRouter
	appHttpHandler = middleware.Idempotency(a.idempotencyStore)(appHttpHandler)
	appHttpHandler = middleware.RequestTimeout(a.cfg.RequestTimeout)(appHttpHandler)
	appHttpHandler = middleware.RateLimit(a.rateLimiter)(appHttpHandler)
	appHttpHandler = middleware.ContentTypeValidation(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.MaxRequestSize(int64(a.cfg.MaxRequestSize))(appHttpHandler)
	appHttpHandler = middleware.RequestLogging(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.Recovery(a.cfg.Log)(appHttpHandler)
	a.appHttpHandler = appHttpHandler
	a.cfg.Log.Info("Application endpoints configured with full middleware stack")
}

func (a *Application) setAppServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", a.opsHandler)
	mux.Handle("/ready", a.opsHandler)
	mux.Handle("/metrics", a.opsHandler)
	mux.Handle("/", a.appHttpHandler)

	a.server = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      mux,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

// Run serves HTTP and runs every worker until SIGINT/SIGTERM, ctx
// cancellation or the first failure, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.cfg.Log.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	for _, w := range a.workers {
		g.Go(func() error {
			a.cfg.Log.Info("Starting worker", "worker", w.name)
			if err := w.run(gctx); err != nil && !(gctx.Err() != nil && errors.Is(err, context.Canceled)) {
				a.cfg.Log.Error("Worker failed", "worker", w.name, "error", err)
				return err
			}
			a.cfg.Log.Info("Worker stopped", "worker", w.name)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.cfg.Log.Info("Shutdown signal received")
		a.shutdownServer()
		return nil
	})

	err := g.Wait()
	a.gracefulShutdown()
	return err
}

func (a *Application) shutdownServer() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Error("Could not stop server gracefully", "error", err)
		}
	}
	a.cfg.Log.Info("Server stopped")
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Stopping background workers...")
	a.idempotencyStore.Stop()
	a.rateLimiter.Stop()

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.cfg.Log.Info("Shutdown complete")
}
