package gate

import (
	"container/list"
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	appErr "emc/pkg/errors"
)

// Gate bounds the number of concurrent runs. Admission is strict FIFO:
// a waiter admitted later than another never started earlier. Capacity
// can be raised or lowered at runtime; lowering never interrupts runs
// already admitted, it only delays new admissions.
type Gate struct {
	mu       sync.Mutex
	capacity int
	inFlight int
	waiters  *list.List // of chan struct{}, front is oldest

	metrics *metrics
}

// New creates a gate with the given starting capacity.
func New(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, appErr.Newf(appErr.GateInvalidCapacity, "capacity %d, want >= 1", capacity)
	}
	g := &Gate{
		capacity: capacity,
		waiters:  list.New(),
		metrics:  newMetrics(),
	}
	g.metrics.capacity.Set(float64(capacity))
	return g, nil
}

// Register exposes the gate's gauges on the given registry.
func (g *Gate) Register(reg prometheus.Registerer) {
	g.metrics.register(reg)
}

// Permit is held by an admitted run until it finishes.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot. Calling it more than once is a no-op.
func (p *Permit) Release() {
	p.once.Do(p.gate.release)
}

// Acquire blocks until a slot is free or ctx is done. Waiters are
// served in arrival order.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	g.mu.Lock()
	if g.inFlight < g.capacity && g.waiters.Len() == 0 {
		g.inFlight++
		g.metrics.inFlight.Set(float64(g.inFlight))
		g.mu.Unlock()
		return &Permit{gate: g}, nil
	}

	grant := make(chan struct{})
	elem := g.waiters.PushBack(grant)
	g.metrics.waiting.Set(float64(g.waiters.Len()))
	g.mu.Unlock()

	select {
	case <-grant:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-grant:
			// granted while cancelling; hand the slot to the next waiter
			g.mu.Unlock()
			g.release()
			return nil, ctx.Err()
		default:
		}
		g.waiters.Remove(elem)
		g.metrics.waiting.Set(float64(g.waiters.Len()))
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SetCapacity changes the admission bound. Raising it wakes queued
// waiters immediately; lowering it takes effect as permits drain.
func (g *Gate) SetCapacity(capacity int) error {
	if capacity < 1 {
		return appErr.Newf(appErr.GateInvalidCapacity, "capacity %d, want >= 1", capacity)
	}
	g.mu.Lock()
	g.capacity = capacity
	g.metrics.capacity.Set(float64(capacity))
	g.admitLocked()
	g.mu.Unlock()
	return nil
}

// Capacity returns the current admission bound.
func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// InFlight returns the number of permits currently held.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Waiting returns the number of queued acquirers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

func (g *Gate) release() {
	g.mu.Lock()
	g.inFlight--
	g.admitLocked()
	g.metrics.inFlight.Set(float64(g.inFlight))
	g.mu.Unlock()
}

func (g *Gate) admitLocked() {
	for g.inFlight < g.capacity && g.waiters.Len() > 0 {
		front := g.waiters.Front()
		g.waiters.Remove(front)
		g.inFlight++
		close(front.Value.(chan struct{}))
	}
	g.metrics.inFlight.Set(float64(g.inFlight))
	g.metrics.waiting.Set(float64(g.waiters.Len()))
}

type metrics struct {
	capacity prometheus.Gauge
	inFlight prometheus.Gauge
	waiting  prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gate_capacity",
			Help: "Current admission bound of the run gate",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gate_in_flight",
			Help: "Permits currently held",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gate_waiting",
			Help: "Acquirers queued for a permit",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.capacity, m.inFlight, m.waiting)
}
