package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swind/go-task-orchestrator/config"
	"github.com/Swind/go-task-orchestrator/core"
	obs "github.com/Swind/go-task-orchestrator/observability/prometheus"
	"github.com/Swind/go-task-orchestrator/workerpool"
)

const shutdownTimeout = 5 * time.Second

// Runtime wires a router, worker pool, shared partial result store and
// metrics together from one configuration.
type Runtime struct {
	cfg      *config.Config
	logger   core.Logger
	registry *prom.Registry
	metrics  core.Metrics
	poller   *obs.SnapshotPoller

	pool   *workerpool.Pool
	router *core.TaskRouter
	store  *core.PartialResultStore

	mu       sync.Mutex
	started  bool
	server   *http.Server
	listener net.Listener
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l core.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistry sets the Prometheus registry used when metrics are enabled.
func WithRegistry(reg *prom.Registry) Option {
	return func(r *Runtime) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// NewRuntime builds a stopped Runtime. A nil cfg uses config.Default().
func NewRuntime(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r := &Runtime{
		cfg:     cfg,
		metrics: &core.NilMetrics{},
		store:   core.NewPartialResultStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = core.NewLogger(core.LoggerOptions{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}

	if cfg.Metrics.Enabled {
		if r.registry == nil {
			r.registry = prom.NewRegistry()
		}
		exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, r.registry, obs.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("creating metrics exporter: %w", err)
		}
		poller, err := obs.NewSnapshotPoller(cfg.Metrics.Namespace, r.registry, cfg.Metrics.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("creating snapshot poller: %w", err)
		}
		r.metrics = exporter
		r.poller = poller
	}

	pool, err := workerpool.New(cfg.Pool.Name, cfg.Pool.Workers,
		workerpool.WithLogger(r.logger),
		workerpool.WithMetrics(r.metrics))
	if err != nil {
		return nil, err
	}
	router, err := core.NewTaskRouter(
		core.WithName(cfg.Router.Name),
		core.WithMaxConcurrency(cfg.Router.MaxConcurrency),
		core.WithRetryPolicy(cfg.Retry.Policy()),
		core.WithLogger(r.logger),
		core.WithMetrics(r.metrics))
	if err != nil {
		return nil, err
	}
	r.pool = pool
	r.router = router

	r.poller.AddRouter(cfg.Router.Name, router)
	r.poller.AddPool(cfg.Pool.Name, pool)
	return r, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Router returns the runtime's task router.
func (r *Runtime) Router() *core.TaskRouter { return r.router }

// Pool returns the worker pool backing registered tasks.
func (r *Runtime) Pool() *workerpool.Pool { return r.pool }

// Store returns the partial result store shared by chains of this runtime.
func (r *Runtime) Store() *core.PartialResultStore { return r.store }

func (r *Runtime) Logger() core.Logger { return r.logger }

func (r *Runtime) Metrics() core.Metrics { return r.metrics }

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (r *Runtime) Registry() *prom.Registry { return r.registry }

// RegisterTask registers inv as a candidate of name. Invocations run on the
// worker pool with default traits.
func (r *Runtime) RegisterTask(name string, inv core.Invoker) error {
	return r.RegisterTaskWithTraits(name, workerpool.DefaultTaskTraits(), inv)
}

// RegisterTaskWithTraits is RegisterTask with explicit scheduling traits.
func (r *Runtime) RegisterTaskWithTraits(name string, traits workerpool.TaskTraits, inv core.Invoker) error {
	if inv == nil {
		return fmt.Errorf("%w: nil implementation for %s", core.ErrInvalidTask, name)
	}
	return r.router.RegisterTask(name, workerpool.Invoker(r.pool, traits, inv))
}

// NewJobChain creates a chain writing into the shared store with the
// configured step retry policy. opts are applied last.
func (r *Runtime) NewJobChain(name string, opts ...core.ChainOption) *core.JobChain {
	base := []core.ChainOption{
		core.WithChainLogger(r.logger),
		core.WithChainMetrics(r.metrics),
		core.WithStepRetry(r.cfg.Chain.Policy()),
	}
	return core.NewJobChain(name, r.store, append(base, opts...)...)
}

// Start starts the worker pool, the snapshot poller and, when metrics are
// enabled with an address, the /metrics HTTP endpoint.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if r.cfg.Metrics.Enabled && r.cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", r.cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
		r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.listener = ln

		go func(server *http.Server) {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("Metrics server stopped", core.F("error", err))
			}
		}(r.server)
		r.logger.Info("Metrics endpoint listening", core.F("addr", ln.Addr().String()))
	}

	r.pool.Start(ctx)
	r.poller.Start(ctx)
	r.started = true
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Close stops the metrics endpoint, the poller and the worker pool. Queued
// jobs fail with workerpool.ErrPoolClosed.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.listener = nil
	r.started = false
	r.mu.Unlock()

	var err error
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if sErr := server.Shutdown(shutdownCtx); sErr != nil {
			err = fmt.Errorf("shutting down metrics server: %w", sErr)
		}
	}
	r.poller.Stop()
	r.pool.Stop()
	return err
}
