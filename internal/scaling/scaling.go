// Package scaling implements the Scaling Controller: the periodic
// control loop that evaluates fleet utilization and forecasts, decides
// to grow, shrink, or hold the fleet, and effects that decision through
// the dispatcher's health map.
package scaling

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/controlplane/internal/config"
	"github.com/fleetwatch/controlplane/internal/events"
	"github.com/fleetwatch/controlplane/internal/fec"
	"github.com/fleetwatch/controlplane/internal/forecast"
	"github.com/fleetwatch/controlplane/internal/metrics"
)

const maxForecastHistory = 24

// DecisionKind is the tagged variant of a scale decision.
type DecisionKind string

const (
	DecisionUp   DecisionKind = "UP"
	DecisionDown DecisionKind = "DOWN"
	DecisionHold DecisionKind = "HOLD"
)

// Decision mirrors spec §3's ScaleDecision: not persisted, recorded only
// into metrics and logs.
type Decision struct {
	Kind      DecisionKind
	Cause     metrics.ScaleCause
	Fleet     int
	AvgU      float64
	Point     float64
	Timestamp time.Time
}

// Predictor is the subset of forecast.Client the controller depends on.
type Predictor interface {
	Predict(ctx context.Context, pctx forecast.PredictionContext) (forecast.Forecast, error)
	RecordActual(ctx context.Context, f forecast.Forecast, observed float64)
	Latched() bool
}

// HealthSetter is the subset of dispatch.Dispatcher the controller
// depends on to mark newly added/removed slots.
type HealthSetter interface {
	SetHealth(idx int, healthy bool)
	Forget(idx int)
}

// WaitSnapshotter is the subset of fec.Coordinator the controller reads
// to populate the wait-related fields of MetricsSnapshot.
type WaitSnapshotter interface {
	Snapshot() fec.Snapshot
}

// EventPublisher is the subset of events.Bus the controller announces
// scaling activity through. Nil is valid and silently skips publishing.
type EventPublisher interface {
	PublishScaled(events.ScaledData)
	PublishHealthChanged(events.HealthChangedData)
	PublishForecastRecorded(events.ForecastRecordedData)
}

// Controller is the SC. The zero value is not usable; construct with New.
type Controller struct {
	cfg config.Config

	dispatcher HealthSetter
	predictor  Predictor
	waiters    WaitSnapshotter
	registry   *metrics.Registry
	events     EventPublisher
	log        zerolog.Logger

	mu           sync.Mutex
	fleet        int
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	forecastMode config.ForecastMode

	opsCounter int64 // atomic, reset each tick

	loadHistory       *loadRing
	reqPerHourHistory *loadRing
	previousForecast  *forecast.Forecast

	lastTick time.Time
}

// Option configures optional Controller dependencies.
type Option func(*Controller)

// WithEvents attaches an EventPublisher that the controller announces
// scaling and forecast-accuracy activity through.
func WithEvents(pub EventPublisher) Option {
	return func(c *Controller) { c.events = pub }
}

// New creates a Controller starting with an initial fleet size of
// cfg.FleetMin.
func New(cfg config.Config, dispatcher HealthSetter, predictor Predictor, waiters WaitSnapshotter, registry *metrics.Registry, log zerolog.Logger, opts ...Option) *Controller {
	fleet := cfg.FleetMin
	if fleet < 1 {
		fleet = 1
	}
	c := &Controller{
		cfg:               cfg,
		dispatcher:        dispatcher,
		predictor:         predictor,
		waiters:           waiters,
		registry:          registry,
		log:               log,
		fleet:             fleet,
		forecastMode:      cfg.ForecastMode,
		loadHistory:       newLoadRing(cfg.HistoryLen),
		reqPerHourHistory: newLoadRing(maxForecastHistory),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start spawns the control loop. It is idempotent: a second call while
// already running is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.lastTick = time.Now()
	c.mu.Unlock()

	go c.loop(ctx)
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.EvalPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit and blocks up to ShutdownGrace for the
// current tick to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(c.cfg.ShutdownGrace):
		c.log.Warn().Msg("scaling: shutdown grace period elapsed before tick finished")
	}
}

// RecordOperation increments the tick-local operation counter. It is
// O(1), non-blocking, and safe to call from any goroutine.
func (c *Controller) RecordOperation() {
	atomic.AddInt64(&c.opsCounter, 1)
}

// SetForecastMode explicitly overrides proactive/reactive selection,
// respecting the one-way latch: once the predictor has latched into
// reactive mode, re-enabling proactive mode here has no effect.
func (c *Controller) SetForecastMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		c.forecastMode = config.ForecastModeAuto
	} else {
		c.forecastMode = config.ForecastModeForceReactive
	}
}

// ManualScaleUp bypasses load evaluation, subject to FLEET_MAX.
func (c *Controller) ManualScaleUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fleet >= c.cfg.FleetMax {
		return
	}
	c.fleet++
	newIdx := c.fleet - 1
	c.log.Info().Str("direction", "up").Str("cause", "manual").Int("fleet", c.fleet).Msg("scaling: manual scale decision")
	c.dispatcher.SetHealth(newIdx, true)
	c.registry.RecordScaleUp(metrics.CauseManual)
	c.publishScaled("up", metrics.CauseManual, c.fleet)
	c.publishHealthChanged(newIdx, true)
}

// ManualScaleDown bypasses load evaluation, subject to FLEET_MIN.
func (c *Controller) ManualScaleDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fleet <= c.cfg.FleetMin {
		return
	}
	removedIdx := c.fleet - 1
	c.dispatcher.SetHealth(removedIdx, false)
	c.dispatcher.Forget(removedIdx)
	c.fleet--
	c.log.Info().Str("direction", "down").Str("cause", "manual").Int("fleet", c.fleet).Msg("scaling: manual scale decision")
	c.registry.RecordScaleDown(metrics.CauseManual)
	c.publishScaled("down", metrics.CauseManual, c.fleet)
	c.publishHealthChanged(removedIdx, false)
}

// Fleet returns the current fleet size.
func (c *Controller) Fleet() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fleet
}

// Snapshot returns the current MetricsSnapshot, merging the registry's
// scale/accuracy counters with FEC's wait statistics and the
// controller's own fleet size.
func (c *Controller) Snapshot() metrics.Snapshot {
	c.mu.Lock()
	fleet := c.fleet
	c.mu.Unlock()

	var meanWait, maxWait float64
	var totalAdmissions int64
	var waitingNow int
	if c.waiters != nil {
		ws := c.waiters.Snapshot()
		meanWait = ws.MeanWaitMs
		maxWait = ws.MaxWaitMs
		totalAdmissions = ws.TotalAdmissions
		waitingNow = len(ws.Waiting)
	}

	return c.registry.Snapshot(fleet, meanWait, maxWait, totalAdmissions, waitingNow)
}

// tick runs one evaluation cycle. Any panic is recovered, logged, and
// treated as a failed tick per spec §4.4: no partial state, next tick
// proceeds normally.
func (c *Controller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("scaling: tick panicked, recovering and continuing")
		}
	}()

	c.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(c.lastTick)
	c.lastTick = now
	opsThisTick := atomic.SwapInt64(&c.opsCounter, 0)
	fleet := c.fleet
	mode := c.forecastMode
	c.mu.Unlock()

	elapsedMs := elapsed.Milliseconds()
	if elapsedMs <= 0 {
		elapsedMs = 1
	}
	opsPerSec := float64(opsThisTick) * 1000 / float64(elapsedMs)

	u := opsPerSec / (float64(fleet) * c.cfg.PerSlotCapacity)
	if u > 1 {
		u = 1
	}
	if c.cfg.SimulationNoise {
		jitter := (rand.Float64()*2 - 1) * 0.05
		u += jitter
		if u < 0 {
			u = 0
		}
		if u > 1 {
			u = 1
		}
	}

	c.mu.Lock()
	c.loadHistory.Append(u)
	avgU := c.loadHistory.Mean()
	c.mu.Unlock()

	reqPerHour := avgU * float64(fleet) * c.cfg.PerSlotCapacity * 3600

	c.mu.Lock()
	c.reqPerHourHistory.Append(reqPerHour)
	historySamples := c.reqPerHourHistory.Values()
	c.mu.Unlock()

	reactive := mode == config.ForecastModeForceReactive || c.predictor.Latched()

	var decision Decision
	if !reactive {
		decision = c.evaluateProactive(ctx, fleet, avgU, reqPerHour, historySamples, now)
	} else {
		decision = c.reactiveDecision(fleet, avgU, now)
	}

	c.effect(decision)
}

func (c *Controller) evaluateProactive(ctx context.Context, fleet int, avgU, reqPerHour float64, history []float64, now time.Time) Decision {
	pctx := forecast.PredictionContext{Now: now, CurrentLoad: reqPerHour, HistoricalLoads: history}
	f, err := c.predictor.Predict(ctx, pctx)
	if err != nil {
		// Predict has recorded the failure (the one-way latch trips
		// once its breaker opens); this tick falls through to a
		// reactive decision.
		return c.reactiveDecision(fleet, avgU, now)
	}

	capacity := float64(fleet) * c.cfg.PerSlotCapacity * 3600

	c.mu.Lock()
	previous := c.previousForecast
	c.mu.Unlock()

	if previous != nil && now.Sub(previous.IssuedAt) <= c.cfg.CacheTTL {
		c.predictor.RecordActual(ctx, *previous, reqPerHour)
		c.registry.RecordAccuracy(previous.Point, previous.Lo, previous.Hi, reqPerHour)
		if c.events != nil {
			c.events.PublishForecastRecorded(events.ForecastRecordedData{
				Point: previous.Point, Lo: previous.Lo, Hi: previous.Hi, Observed: reqPerHour,
			})
		}
	}

	c.mu.Lock()
	fCopy := f
	c.previousForecast = &fCopy
	c.mu.Unlock()

	d := Decision{Cause: metrics.CauseProactive, Fleet: fleet, AvgU: avgU, Point: f.Point, Timestamp: now}
	switch {
	case f.Point > c.cfg.ScaleUpRatio*capacity && fleet < c.cfg.FleetMax:
		d.Kind = DecisionUp
	case f.Point < c.cfg.ScaleDownRatio*capacity && fleet > c.cfg.FleetMin:
		d.Kind = DecisionDown
	default:
		d.Kind = DecisionHold
	}
	return d
}

func (c *Controller) reactiveDecision(fleet int, avgU float64, now time.Time) Decision {
	d := Decision{Cause: metrics.CauseReactive, Fleet: fleet, AvgU: avgU, Timestamp: now}
	switch {
	case avgU > c.cfg.ScaleUpRatio && fleet < c.cfg.FleetMax:
		d.Kind = DecisionUp
	case avgU < c.cfg.ScaleDownRatio && fleet > c.cfg.FleetMin:
		d.Kind = DecisionDown
	default:
		d.Kind = DecisionHold
	}
	return d
}

func (c *Controller) effect(d Decision) {
	switch d.Kind {
	case DecisionUp:
		c.mu.Lock()
		c.fleet++
		newIdx := c.fleet - 1
		c.mu.Unlock()
		c.dispatcher.SetHealth(newIdx, true)
		c.registry.RecordScaleUp(d.Cause)
		c.publishScaled("up", d.Cause, newIdx+1)
		c.publishHealthChanged(newIdx, true)
		c.log.Info().Str("cause", string(d.Cause)).Int("fleet", newIdx+1).Float64("avg_u", d.AvgU).Float64("forecast_point", d.Point).Msg("scaling: fleet grown")
	case DecisionDown:
		c.mu.Lock()
		removedIdx := c.fleet - 1
		c.mu.Unlock()
		c.dispatcher.SetHealth(removedIdx, false)
		c.dispatcher.Forget(removedIdx)
		c.mu.Lock()
		c.fleet--
		c.mu.Unlock()
		c.registry.RecordScaleDown(d.Cause)
		c.publishScaled("down", d.Cause, removedIdx)
		c.publishHealthChanged(removedIdx, false)
		c.log.Info().Str("cause", string(d.Cause)).Int("fleet", removedIdx).Float64("avg_u", d.AvgU).Float64("forecast_point", d.Point).Msg("scaling: fleet shrunk")
	case DecisionHold:
		c.log.Debug().Str("cause", string(d.Cause)).Int("fleet", d.Fleet).Float64("avg_u", d.AvgU).Msg("scaling: tick held")
	default:
		c.log.Error().Str("kind", string(d.Kind)).Msg("scaling: unknown decision kind")
	}
}

func (c *Controller) publishScaled(direction string, cause metrics.ScaleCause, fleet int) {
	if c.events == nil {
		return
	}
	c.events.PublishScaled(events.ScaledData{Direction: direction, Cause: string(cause), Fleet: fleet})
}

func (c *Controller) publishHealthChanged(idx int, healthy bool) {
	if c.events == nil {
		return
	}
	c.events.PublishHealthChanged(events.HealthChangedData{SlotIndex: idx, Healthy: healthy})
}
