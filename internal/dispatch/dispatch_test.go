package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRejectsInvalidFleet(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	_, err := d.Pick(context.Background(), 0)
	assert.True(t, IsKind(err, ErrKindInvalidFleet))
}

func TestPickFailsWhenAllUnhealthy(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	d.SetHealth(0, false)
	d.SetHealth(1, false)
	d.SetHealth(2, false)

	_, err := d.Pick(context.Background(), 3)
	assert.True(t, IsKind(err, ErrKindNoHealthyTargets))
}

func TestPickExcludesUnhealthySlots(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	d.SetHealth(0, false)
	d.SetHealth(1, true)
	d.SetHealth(2, false)

	for i := 0; i < 10; i++ {
		idx, err := d.Pick(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
	}
}

func TestPickCyclesRoughlyEvenlyOverHealthySlots(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	for i := 0; i < 4; i++ {
		d.SetHealth(i, true)
	}

	counts := map[int]int{}
	for i := 0; i < 400; i++ {
		idx, err := d.Pick(context.Background(), 4)
		require.NoError(t, err)
		counts[idx]++
	}

	for idx, count := range counts {
		assert.InDelta(t, 100, count, 5, "slot %d should receive roughly an even share", idx)
	}
}

func TestUnknownSlotDefaultsHealthy(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	idx, err := d.Pick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

type stubProber struct {
	mu    sync.Mutex
	calls int
	err   error
	up    bool
}

func (s *stubProber) Probe(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.up, nil
}

func TestProbeFailureDefaultsOptimistic(t *testing.T) {
	prober := &stubProber{err: errors.New("connection refused")}
	d := New(10*time.Second, prober, true, zerolog.Nop())

	idx, err := d.Pick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	healthMap := d.HealthMap()
	assert.True(t, healthMap[0])
}

func TestProbeFailureCanBeConfiguredPessimistic(t *testing.T) {
	prober := &stubProber{err: errors.New("connection refused")}
	d := New(10*time.Second, prober, false, zerolog.Nop())
	d.SetHealth(1, true)

	idx, err := d.Pick(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestHealthCacheRespectsTTL(t *testing.T) {
	prober := &stubProber{up: true}
	d := New(30*time.Millisecond, prober, true, zerolog.Nop())

	_, err := d.Pick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, prober.calls)

	_, err = d.Pick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, prober.calls, "cached verdict should not re-probe inside TTL")

	time.Sleep(40 * time.Millisecond)
	_, err = d.Pick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, prober.calls, "stale entry must trigger a fresh probe")
}

func TestSetHealthOverrideRefreshesTimestamp(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	d.SetHealth(0, false)
	healthMap := d.HealthMap()
	assert.False(t, healthMap[0])

	d.SetHealth(0, true)
	healthMap = d.HealthMap()
	assert.True(t, healthMap[0])
}

func TestStatsTracksPicksAndHealthCounts(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	d.SetHealth(0, true)
	d.SetHealth(1, false)

	for i := 0; i < 5; i++ {
		_, err := d.Pick(context.Background(), 2)
		require.NoError(t, err)
	}

	stats := d.Stats()
	assert.EqualValues(t, 5, stats.TotalPicks)
	assert.Equal(t, 1, stats.HealthyCount)
	assert.Equal(t, 2, stats.TotalCount)
}

func TestConcurrentPicksAreSafe(t *testing.T) {
	d := New(10*time.Second, nil, true, zerolog.Nop())
	for i := 0; i < 5; i++ {
		d.SetHealth(i, true)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Pick(context.Background(), 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, d.Stats().TotalPicks)
}
