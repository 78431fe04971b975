package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRampScenario(t *testing.T) {
	start := time.Unix(0, 0)
	l := New(start)

	assert.True(t, l.TryMakeRequest(250, start))
	assert.True(t, l.TryMakeRequest(250, start))
	assert.False(t, l.TryMakeRequest(1, start))

	t1 := start.Add(1 * time.Second)
	assert.True(t, l.TryMakeRequest(500, t1))

	t300 := start.Add(300 * time.Second)
	assert.True(t, l.TryMakeRequest(750, t300))
	assert.False(t, l.TryMakeRequest(1, t300))
}

func TestCapacityAtRampsByPhase(t *testing.T) {
	start := time.Unix(0, 0)
	l := New(start)

	assert.Equal(t, 500.0, l.CapacityAt(start))
	assert.Equal(t, 500.0, l.CapacityAt(start.Add(299*time.Second)))
	assert.Equal(t, 750.0, l.CapacityAt(start.Add(300*time.Second)))
	assert.Equal(t, 1125.0, l.CapacityAt(start.Add(600*time.Second)))
}

func TestGetNextRequestDelayMsReturnsZeroWhenAvailable(t *testing.T) {
	start := time.Unix(0, 0)
	l := New(start)
	assert.Equal(t, int64(0), l.GetNextRequestDelayMs(500, start))
}

func TestGetNextRequestDelayMsWaitsForShortfall(t *testing.T) {
	start := time.Unix(0, 0)
	l := New(start)
	require_ := assert.New(t)
	require_.True(l.TryMakeRequest(500, start))

	// bucket now empty at capacity 500/s: 250 more tokens need 0.5s.
	delay := l.GetNextRequestDelayMs(250, start)
	assert.Equal(t, int64(500), delay)
}

func TestGetNextRequestDelayMsReturnsNegativeWhenNeverSatisfiable(t *testing.T) {
	start := time.Unix(0, 0)
	l := New(start)
	assert.Equal(t, int64(-1), l.GetNextRequestDelayMs(1000, start))
}
