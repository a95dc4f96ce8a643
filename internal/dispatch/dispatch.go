// Package dispatch implements the Health-Aware Dispatcher: given the
// current fleet size N, it picks one active, healthy slot per call in
// roughly-even cyclic order, caching slot health for HEALTH_TTL and
// treating probe failure as optimistically healthy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrorKind discriminates dispatch failures, following the sentinel +
// Kind discriminator convention used across the control plane.
type ErrorKind string

const (
	ErrKindNoHealthyTargets ErrorKind = "no_healthy_targets"
	ErrKindInvalidFleet     ErrorKind = "invalid_fleet"
)

// Error is the dispatch package's error type.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	// ErrNoHealthyTargets is returned by Pick when every candidate slot
	// inspected is unhealthy.
	ErrNoHealthyTargets = &Error{Kind: ErrKindNoHealthyTargets, Msg: "dispatch: no healthy targets"}
	// ErrInvalidFleet is returned by Pick when N < 1.
	ErrInvalidFleet = &Error{Kind: ErrKindInvalidFleet, Msg: "dispatch: fleet size must be >= 1"}
)

// Prober is the external collaborator the dispatcher consults when a
// slot's cached health entry has gone stale. A real implementation calls
// out to the worker's health endpoint; probe failure (a non-nil error)
// is treated per ProbeFailureDefaultHealthy.
type Prober interface {
	Probe(ctx context.Context, displayName string) (healthy bool, err error)
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context, displayName string) (bool, error)

func (f ProberFunc) Probe(ctx context.Context, displayName string) (bool, error) {
	return f(ctx, displayName)
}

type healthEntry struct {
	healthy     bool
	lastProbed  time.Time
}

// Stats mirrors the spec's stats() snapshot.
type Stats struct {
	TotalPicks   int64
	HealthyCount int
	TotalCount   int
	MinLatency   time.Duration
	MaxLatency   time.Duration
}

// Dispatcher is the HAD. The zero value is not usable; construct with New.
type Dispatcher struct {
	mu      sync.RWMutex
	health  map[int]healthEntry
	cursor  uint64

	healthTTL time.Duration
	prober    Prober
	// probeFailureDefaultHealthy mirrors spec §4.2/§9: the verdict assigned
	// when the probe call itself errors out.
	probeFailureDefaultHealthy bool

	latencySimEnabled bool
	latencySimMinMs   int
	latencySimMaxMs   int

	totalPicks int64
	minLatency int64 // nanoseconds, atomic
	maxLatency int64 // nanoseconds, atomic

	log zerolog.Logger
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithSimulatedLatency enables pick() sleeping a uniform random duration
// in [minMs, maxMs] before returning, a test aid disabled by default.
func WithSimulatedLatency(minMs, maxMs int) Option {
	return func(d *Dispatcher) {
		d.latencySimEnabled = true
		d.latencySimMinMs = minMs
		d.latencySimMaxMs = maxMs
	}
}

// New creates a Dispatcher. healthTTL defaults to 10s per spec §6.4 if
// zero is passed by the caller's config loader upstream; New itself does
// not apply that default so callers always see their effective config.
func New(healthTTL time.Duration, prober Prober, probeFailureDefaultHealthy bool, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		health:                     make(map[int]healthEntry),
		healthTTL:                  healthTTL,
		prober:                     prober,
		probeFailureDefaultHealthy: probeFailureDefaultHealthy,
		log:                        log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pick returns a healthy slot index in [0, N). It fails with
// ErrInvalidFleet if N < 1, or ErrNoHealthyTargets if all N candidates
// inspected are unhealthy.
func (d *Dispatcher) Pick(ctx context.Context, n int) (int, error) {
	if n < 1 {
		return 0, ErrInvalidFleet
	}

	if d.latencySimEnabled {
		jitter := d.latencySimMinMs
		if d.latencySimMaxMs > d.latencySimMinMs {
			jitter += rand.Intn(d.latencySimMaxMs - d.latencySimMinMs + 1)
		}
		select {
		case <-time.After(time.Duration(jitter) * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	start := time.Now()
	for attempt := 0; attempt < n; attempt++ {
		idx := int(atomic.AddUint64(&d.cursor, 1) % uint64(n))
		if d.isHealthy(ctx, idx) {
			atomic.AddInt64(&d.totalPicks, 1)
			d.recordLatency(time.Since(start))
			return idx, nil
		}
	}
	return 0, ErrNoHealthyTargets
}

func (d *Dispatcher) recordLatency(elapsed time.Duration) {
	ns := elapsed.Nanoseconds()
	for {
		cur := atomic.LoadInt64(&d.minLatency)
		if cur != 0 && ns >= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&d.minLatency, cur, ns) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&d.maxLatency)
		if ns <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&d.maxLatency, cur, ns) {
			break
		}
	}
}

// isHealthy returns slot idx's health, probing if the cached entry is
// unknown or stale.
func (d *Dispatcher) isHealthy(ctx context.Context, idx int) bool {
	d.mu.RLock()
	entry, ok := d.health[idx]
	d.mu.RUnlock()

	if ok && time.Since(entry.lastProbed) < d.healthTTL {
		return entry.healthy
	}

	healthy := true
	if d.prober != nil {
		result, err := d.prober.Probe(ctx, fmt.Sprintf("slot-%d", idx))
		if err != nil {
			healthy = d.probeFailureDefaultHealthy
			d.log.Warn().
				Int("slot", idx).
				Err(err).
				Bool("defaulted_healthy", healthy).
				Msg("dispatch: health probe failed, applying default verdict")
		} else {
			healthy = result
		}
	} else if ok {
		// No prober configured and the previous entry is merely stale:
		// keep its last known value rather than resetting to the
		// implicit default.
		healthy = entry.healthy
	}

	d.mu.Lock()
	d.health[idx] = healthEntry{healthy: healthy, lastProbed: time.Now()}
	d.mu.Unlock()

	return healthy
}

// SetHealth is an explicit override used by the scaling controller when
// adding/removing slots and by test hooks. It refreshes last_probed_at to
// now, so the override sticks for a full HEALTH_TTL window.
func (d *Dispatcher) SetHealth(idx int, healthy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health[idx] = healthEntry{healthy: healthy, lastProbed: time.Now()}
}

// HealthMap returns a snapshot of every slot's cached health verdict.
func (d *Dispatcher) HealthMap() map[int]bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[int]bool, len(d.health))
	for idx, entry := range d.health {
		out[idx] = entry.healthy
	}
	return out
}

// Stats returns the running pick statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	total := len(d.health)
	healthy := 0
	for _, entry := range d.health {
		if entry.healthy {
			healthy++
		}
	}
	d.mu.RUnlock()

	return Stats{
		TotalPicks:   atomic.LoadInt64(&d.totalPicks),
		HealthyCount: healthy,
		TotalCount:   total,
		MinLatency:   time.Duration(atomic.LoadInt64(&d.minLatency)),
		MaxLatency:   time.Duration(atomic.LoadInt64(&d.maxLatency)),
	}
}

// Forget removes a slot's cached health entry, used when the fleet
// shrinks so a future grow doesn't resurrect a stale verdict for an
// index that briefly didn't exist.
func (d *Dispatcher) Forget(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.health, idx)
}

// IsKind reports whether err is a dispatch *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind == kind
	}
	return false
}
