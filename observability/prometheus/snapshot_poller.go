package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-orchestrator/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RouterSnapshotProvider provides current router stats snapshots.
type RouterSnapshotProvider interface {
	Stats() core.RouterStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports router/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	routersMu sync.RWMutex
	routers   map[string]RouterSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	routerTasks  *prom.GaugeVec
	routerRouted *prom.GaugeVec
	routerFailed *prom.GaugeVec
	gateMax      *prom.GaugeVec
	gateInFlight *prom.GaugeVec
	gateWaiting  *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "orchestrator"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:     interval,
		routers:      make(map[string]RouterSnapshotProvider),
		pools:        make(map[string]PoolSnapshotProvider),
		routerTasks:  gauge("router_tasks", "Registered task names per router.", "router"),
		routerRouted: gauge("router_routed_total", "Router successful route count snapshot.", "router"),
		routerFailed: gauge("router_failed_total", "Router failed route count snapshot.", "router"),
		gateMax:      gauge("gate_max", "Concurrency limit per router.", "router"),
		gateInFlight: gauge("gate_in_flight", "Invocations holding a concurrency slot per router.", "router"),
		gateWaiting:  gauge("gate_waiting", "Callers waiting for a concurrency slot per router.", "router"),
		poolQueued:   gauge("pool_queued", "Queued jobs per pool.", "pool"),
		poolActive:   gauge("pool_active", "Active jobs per pool.", "pool"),
		poolWorkers:  gauge("pool_workers", "Worker count per pool.", "pool"),
		poolRunning:  gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.routerTasks, &p.routerRouted, &p.routerFailed,
		&p.gateMax, &p.gateInFlight, &p.gateWaiting,
		&p.poolQueued, &p.poolActive, &p.poolWorkers, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddRouter adds or replaces a router snapshot provider by name.
func (p *SnapshotPoller) AddRouter(name string, provider RouterSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "router")
	p.routersMu.Lock()
	p.routers[name] = provider
	p.routersMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.routersMu.RLock()
	for name, provider := range p.routers {
		stats := provider.Stats()
		p.routerTasks.WithLabelValues(name).Set(float64(stats.Tasks))
		p.routerRouted.WithLabelValues(name).Set(float64(stats.Routed))
		p.routerFailed.WithLabelValues(name).Set(float64(stats.Failed))
		p.gateMax.WithLabelValues(name).Set(float64(stats.Gate.Max))
		p.gateInFlight.WithLabelValues(name).Set(float64(stats.Gate.InFlight))
		p.gateWaiting.WithLabelValues(name).Set(float64(stats.Gate.Waiting))
	}
	p.routersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Running {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
	}
	p.poolsMu.RUnlock()
}
