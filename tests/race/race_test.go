// Package race exercises the control plane's concurrency-sensitive
// paths against the real package code (not stubs) so `go test -race
// ./tests/race/...` catches regressions in the actual synchronization,
// not in a reproduction of a bug that no longer exists.
package race

import (
	"context"
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
	"github.com/fleetwatch/controlplane/internal/gateway"
	"github.com/fleetwatch/controlplane/internal/metrics"
	"github.com/fleetwatch/controlplane/internal/scaling"
)

type noopPredictor struct{}

func (noopPredictor) Predict(ctx context.Context, pctx forecast.PredictionContext) (forecast.Forecast, error) {
	return forecast.Forecast{}, forecast.ErrUnavailable
}
func (noopPredictor) RecordActual(ctx context.Context, f forecast.Forecast, observed float64) {}
func (noopPredictor) Latched() bool                                                           { return false }

func newRaceController(cfg config.Config, d *dispatch.Dispatcher, reg *metrics.Registry) *scaling.Controller {
	return scaling.New(cfg, d, noopPredictor{}, nil, reg, zerolog.Nop())
}

// FEC: concurrent Enter/Leave from many callers must never admit more
// than one holder at a time.
func TestFECMutualExclusionUnderRace(t *testing.T) {
	coord := fec.New(time.Second, zerolog.Nop())

	var inCriticalSection int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for round := 0; round < 10; round++ {
				err := coord.Do(context.Background(), "worker", func() error {
					cur := atomic.AddInt32(&inCriticalSection, 1)
					for {
						prev := atomic.LoadInt32(&maxObserved)
						if cur <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inCriticalSection, -1)
					return nil
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved))
}

// FEC: cancelling one waiter must never affect another's eventual
// admission, even when both race the same ticket slot.
func TestFECCancelledWaiterDoesNotStarveOthers(t *testing.T) {
	coord := fec.New(0, zerolog.Nop())

	holder, err := coord.Enter(context.Background(), "holder")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := coord.Enter(ctx, "cancelled-waiter")
		assert.ErrorIs(t, err, fec.ErrCancelled)
	}()

	admitted := make(chan struct{})
	go func() {
		ticket, err := coord.Enter(context.Background(), "patient-waiter")
		if err == nil {
			close(admitted)
			coord.Leave(ticket)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()
	coord.Leave(holder)

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("patient waiter was never admitted after the cancelled waiter left the queue")
	}
}

// Dispatcher: concurrent Pick, SetHealth, and Forget calls must not
// race the health map or the pick cursor.
func TestDispatcherConcurrentPickAndHealthMutation(t *testing.T) {
	d := dispatch.New(50*time.Millisecond, nil, true, zerolog.Nop())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = d.Pick(context.Background(), 5)
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.SetHealth(idx%5, j%2 == 0)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			d.Forget(j % 5)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

// Scaling controller: RecordOperation from many producers racing a
// running tick loop must never corrupt the fleet size.
func TestScalingControllerRecordOperationRacesTickLoop(t *testing.T) {
	cfg := config.Default()
	cfg.EvalPeriod = 2 * time.Millisecond
	cfg.ForecastMode = config.ForecastModeForceReactive

	d := dispatch.New(time.Second, nil, true, zerolog.Nop())
	reg := metrics.New()
	c := newRaceController(cfg, d, reg)

	c.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.RecordOperation()
			}
		}()
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	fleet := c.Fleet()
	assert.GreaterOrEqual(t, fleet, cfg.FleetMin)
	assert.LessOrEqual(t, fleet, cfg.FleetMax)
}

// Gateway rate limiter: concurrent Allow calls for the same and
// different keys must not race the per-key request slice.
func TestRateLimiterConcurrentAllow(t *testing.T) {
	rl := gateway.NewRateLimiter(1000, time.Minute)

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				rl.Allow(key)
			}(k)
		}
	}
	wg.Wait()
}
