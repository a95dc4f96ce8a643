package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/controlplane/internal/config"
	"github.com/fleetwatch/controlplane/internal/dispatch"
	"github.com/fleetwatch/controlplane/internal/fec"
	"github.com/fleetwatch/controlplane/internal/forecast"
	"github.com/fleetwatch/controlplane/internal/metrics"
	"github.com/fleetwatch/controlplane/internal/scaling"
)

type scriptedForecastServer struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	calls     int32
}

func newScriptedForecastServer(responses ...func(w http.ResponseWriter)) *httptest.Server {
	s := &scriptedForecastServer{responses: responses}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.mu.Lock()
		idx := int(atomic.AddInt32(&s.calls, 1)) - 1
		s.mu.Unlock()
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		s.responses[idx](w)
	}))
}

func fixedForecastResponse(point, lo, hi, quality float64) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"predicted_load":     point,
			"confidence_lower":   lo,
			"confidence_upper":   hi,
			"prediction_horizon": "30_minutes",
			"model_accuracy":     quality,
		})
	}
}

// Scenario 1: a tight PER_SLOT_CAPACITY makes a forecast well above
// threshold trigger a proactive scale-up.
func TestScenarioProactiveScaleUp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newScriptedForecastServer(fixedForecastResponse(820, 780, 860, 0.89))
	defer srv.Close()

	cfg := config.Default()
	cfg.FleetMin = 1
	cfg.FleetMax = 5
	cfg.PerSlotCapacity = 0.25
	cfg.ForecastMode = config.ForecastModeAuto
	cfg.ForecastServiceURL = srv.URL
	cfg.EvalPeriod = 20 * time.Millisecond

	d := dispatch.New(cfg.HealthTTL, nil, true, zerolog.Nop())
	fc := forecast.New(cfg.ForecastServiceURL, cfg.ForecastTimeout, cfg.CacheTTL, zerolog.Nop())
	reg := metrics.New()
	c := scaling.New(cfg, d, fc, nil, reg, zerolog.Nop())

	driveTick(t, c, 450)

	assert.Equal(t, 2, c.Fleet())
	assert.True(t, d.HealthMap()[1])
}

// Scenario 2: forced-reactive mode with low recent load scales down.
func TestScenarioReactiveScaleDown(t *testing.T) {
	cfg := config.Default()
	cfg.FleetMin = 1
	cfg.FleetMax = 5
	cfg.ForecastMode = config.ForecastModeForceReactive
	cfg.HistoryLen = 5
	cfg.EvalPeriod = 500 * time.Millisecond

	d := dispatch.New(cfg.HealthTTL, nil, true, zerolog.Nop())
	reg := metrics.New()
	c := scaling.New(cfg, d, noopPredictor{}, nil, reg, zerolog.Nop())
	c.ManualScaleUp()
	require.Equal(t, 2, c.Fleet())

	for i := 0; i < 5; i++ {
		// One op per tick at fleet=2, PerSlotCapacity=10 yields u ≈ 0.1 —
		// comfortably under the 0.30 scale-down threshold, matching the
		// "avg ≈ 0.122" low-utilization history this scenario describes.
		feedLoadSample(t, c, 1, cfg.EvalPeriod)
	}

	assert.Equal(t, 1, c.Fleet())
	assert.False(t, d.HealthMap()[1])
}

// Scenario 3: all slots unhealthy yields NoHealthyTargets; restoring
// one slot makes it pickable again.
func TestScenarioAllUnhealthyDispatch(t *testing.T) {
	d := dispatch.New(time.Minute, nil, true, zerolog.Nop())
	d.SetHealth(0, false)
	d.SetHealth(1, false)

	_, err := d.Pick(context.Background(), 2)
	assert.ErrorIs(t, err, dispatch.ErrNoHealthyTargets)

	d.SetHealth(0, true)
	idx, err := d.Pick(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

// Scenario 4: FIFO admission under contention — four waiters enqueue in
// order behind a holder and are admitted in that same order.
func TestScenarioFECFIFOUnderContention(t *testing.T) {
	coord := fec.New(0, zerolog.Nop())

	holder, err := coord.Enter(context.Background(), "H")
	require.NoError(t, err)

	var admissionOrder []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	names := []string{"A", "B", "C", "D"}
	tickets := make(chan *fec.Ticket, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			ticket, err := coord.Enter(context.Background(), n)
			require.NoError(t, err)
			mu.Lock()
			admissionOrder = append(admissionOrder, n)
			mu.Unlock()
			tickets <- ticket
		}(name)
		time.Sleep(10 * time.Millisecond) // preserve enqueue order
	}

	coord.Leave(holder)
	for range names {
		ticket := <-tickets
		coord.Leave(ticket)
	}
	wg.Wait()

	assert.Equal(t, []string{"A", "B", "C", "D"}, admissionOrder)
}

// Scenario 5: a starvation warning fired mid-wait must not prevent
// eventual admission once the holder releases.
func TestScenarioFECStarvationWarning(t *testing.T) {
	coord := fec.New(100*time.Millisecond, zerolog.Nop())

	holder, err := coord.Enter(context.Background(), "H")
	require.NoError(t, err)

	admitted := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		ticket, err := coord.Enter(context.Background(), "W")
		if assert.NoError(t, err) {
			close(admitted)
			coord.Leave(ticket)
		}
	}()

	time.Sleep(300 * time.Millisecond)
	coord.Leave(holder)

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter was not admitted after holder released despite a starvation warning mid-wait")
	}
}

// Scenario 6: two predict calls within CACHE_TTL trigger exactly one
// outbound request; a third call past TTL triggers a second.
func TestScenarioForecastCacheHit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fixedForecastResponse(500, 450, 550, 0.9)(w)
	}))
	defer srv.Close()

	fc := forecast.New(srv.URL, time.Second, 100*time.Millisecond, zerolog.Nop())
	ctx := context.Background()
	pctx := forecast.PredictionContext{Now: time.Now(), CurrentLoad: 100}

	_, err := fc.Predict(ctx, pctx)
	require.NoError(t, err)
	_, err = fc.Predict(ctx, pctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	time.Sleep(150 * time.Millisecond)
	_, err = fc.Predict(ctx, pctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// Scenario 7: a streak of connection failures trips the one-way latch.
func TestScenarioForecastServiceFlapTripsLatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fixedForecastResponse(500, 450, 550, 0.9)(w)
	}))
	srv.Close() // closed immediately: every call after this is connection-refused

	fc := forecast.New(srv.URL, 200*time.Millisecond, time.Millisecond, zerolog.Nop())
	ctx := context.Background()
	pctx := forecast.PredictionContext{Now: time.Now(), CurrentLoad: 100}

	for i := 0; i < 4; i++ {
		_, err := fc.Predict(ctx, pctx)
		assert.ErrorIs(t, err, forecast.ErrUnavailable)
		time.Sleep(2 * time.Millisecond)
	}

	assert.True(t, fc.Latched())
}

// Scenario 8: manual scale-up beyond FLEET_MAX is a silent no-op and
// does not inflate the scale-up counter.
func TestScenarioBoundsRespected(t *testing.T) {
	cfg := config.Default()
	cfg.FleetMin = 1
	cfg.FleetMax = 5

	d := dispatch.New(cfg.HealthTTL, nil, true, zerolog.Nop())
	reg := metrics.New()
	c := scaling.New(cfg, d, noopPredictor{}, nil, reg, zerolog.Nop())

	for i := 0; i < 10; i++ {
		c.ManualScaleUp()
	}

	assert.Equal(t, 5, c.Fleet())
	snap := c.Snapshot()
	assert.EqualValues(t, 4, snap.ScaleUpsByCause[metrics.CauseManual])
}

// driveTick runs the control loop for one short EvalPeriod window so
// at least one real tick fires, driven by the ticker rather than a
// direct (unexported) call — the decision in this scenario turns on
// the forecast point versus capacity threshold, not the exact recorded
// op count, so an approximate load is sufficient.
func driveTick(t *testing.T, c *scaling.Controller, approxOps int) {
	t.Helper()
	for i := 0; i < approxOps; i++ {
		c.RecordOperation()
	}
	c.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	c.Stop()
}

// feedLoadSample drives exactly one real tick so the controller's
// loadHistory accumulates a single utilization sample derived from ops.
func feedLoadSample(t *testing.T, c *scaling.Controller, ops int, evalPeriod time.Duration) {
	t.Helper()
	for i := 0; i < ops; i++ {
		c.RecordOperation()
	}
	c.Start(context.Background())
	time.Sleep(evalPeriod + evalPeriod/2)
	c.Stop()
}

type noopPredictor struct{}

func (noopPredictor) Predict(ctx context.Context, pctx forecast.PredictionContext) (forecast.Forecast, error) {
	return forecast.Forecast{}, forecast.ErrUnavailable
}
func (noopPredictor) RecordActual(ctx context.Context, f forecast.Forecast, observed float64) {}
func (noopPredictor) Latched() bool                                                           { return false }
