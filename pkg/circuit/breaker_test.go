package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerClosedAllowsAndTracksFailures(t *testing.T) {
	b := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

	assert.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	b.Execute(context.Background(), func() error { return errors.New("boom") })
	assert.Equal(t, 1, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), func() error { return errors.New("boom") })
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := NewBreaker(Config{MaxFailures: 2, Timeout: 20 * time.Millisecond, HalfOpenMax: 2})

	for i := 0; i < 2; i++ {
		b.Execute(context.Background(), func() error { return errors.New("boom") })
	}
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	for i := 0; i < 2; i++ {
		assert.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerGroupIsolatesNamedBreakers(t *testing.T) {
	g := NewBreakerGroup(Config{MaxFailures: 1, Timeout: time.Second})

	g.Execute(context.Background(), "forecast", func() error { return errors.New("boom") })
	states := g.States()
	assert.Equal(t, StateOpen, states["forecast"])
	assert.Equal(t, StateClosed, g.Get("dispatch-probe").State())
}

func TestBreakerForceOpenAndReset(t *testing.T) {
	b := NewBreaker(Config{MaxFailures: 5, Timeout: time.Second})
	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}
