package frigate

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_States(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(2, 10*time.Second, nil)
	b.now = func() time.Time { return now }

	require.NoError(t, b.allow())
	b.record(true)
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.allow())
	b.record(true)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.allow(), ErrCircuitOpen)

	// 冷却后只放行一个探测
	now = now.Add(11 * time.Second)
	require.NoError(t, b.allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.allow(), ErrCircuitOpen)

	// 探测失败重新打开
	b.record(true)
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(11 * time.Second)
	require.NoError(t, b.allow())
	b.record(false)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newBreaker(2, time.Second, nil)
	b.record(true)
	b.record(false)
	b.record(true)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_ReleaseFreesProbe(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreaker(1, time.Second, nil)
	b.now = func() time.Time { return now }

	b.record(true)
	now = now.Add(2 * time.Second)
	require.NoError(t, b.allow())
	b.release()
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.NoError(t, b.allow())
}

func TestClient_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	changes := make(chan BreakerState, 4)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(o *Options) {
		o.BreakerThreshold = 2
		o.BreakerCooldown = time.Minute
		o.OnBreakerChange = func(_, to BreakerState) { changes <- to }
	})

	for i := 0; i < 2; i++ {
		_, err := c.GetRecordingsSummary(context.Background(), "front_door")
		assert.True(t, IsAPIError(err))
	}
	assert.Equal(t, BreakerOpen, c.BreakerState())

	_, err := c.Retain(context.Background(), "e1", true)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsAPIError(err))
	assert.EqualValues(t, 2, calls.Load())

	select {
	case to := <-changes:
		assert.Equal(t, BreakerOpen, to)
	case <-time.After(time.Second):
		t.Fatal("breaker change not reported")
	}
}

func TestClient_BreakerIgnores4xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, func(o *Options) { o.BreakerThreshold = 1 })

	for i := 0; i < 3; i++ {
		_, err := c.Retain(context.Background(), "missing", false)
		assert.True(t, IsAPIError(err))
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, BreakerClosed, c.BreakerState())
}
