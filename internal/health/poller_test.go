package health

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/pkg/errs"
)

func fastPoller(max int, probe Probe) *Poller {
	p := NewPoller(logger.Nop(), max)
	p.Interval = time.Millisecond
	p.Probe = probe
	return p
}

func TestWaitReachableTimesOutAfterExactAttempts(t *testing.T) {
	var calls int32
	p := fastPoller(7, func(context.Context, string, int) bool {
		atomic.AddInt32(&calls, 1)
		return false
	})

	err := p.WaitReachable(context.Background(), v1.ModeReal, "10.0.0.9")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrConnectTimeout))
	assert.Equal(t, "10.0.0.9", errs.AsBerth(err).Node)
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
}

func TestWaitReachableSucceedsWhenOpen(t *testing.T) {
	var calls int32
	p := fastPoller(10, func(context.Context, string, int) bool {
		return atomic.AddInt32(&calls, 1) == 3
	})
	require.NoError(t, p.WaitReachable(context.Background(), v1.ModeReal, "10.0.0.9"))
	assert.Equal(t, int32(3), calls)
}

func TestWaitReachablePreviewNeverProbes(t *testing.T) {
	p := fastPoller(3, func(context.Context, string, int) bool {
		t.Fatal("probe called in preview mode")
		return false
	})
	assert.NoError(t, p.WaitReachable(context.Background(), v1.ModePreview, "10.0.0.9"))
	assert.NoError(t, p.WaitReachable(context.Background(), v1.ModeReal, "127.0.0.1"))
}

func TestWaitReachableCountersArePerCall(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	p := fastPoller(5, func(_ context.Context, host string, _ int) bool {
		mu.Lock()
		defer mu.Unlock()
		seen[host]++
		return host == "10.0.0.1" && seen[host] == 4
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, host := range []string{"10.0.0.1", "10.0.0.2"} {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			results[i] = p.WaitReachable(context.Background(), v1.ModeReal, host)
		}(i, host)
	}
	wg.Wait()

	assert.NoError(t, results[0])
	assert.Error(t, results[1])
	assert.Equal(t, 4, seen["10.0.0.1"])
	assert.Equal(t, 5, seen["10.0.0.2"])
}

func TestWaitReachableHonoursContext(t *testing.T) {
	p := fastPoller(1000, func(context.Context, string, int) bool { return false })
	p.Interval = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.WaitReachable(ctx, v1.ModeReal, "10.0.0.9"))
}

func TestTCPProbe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	assert.True(t, TCPProbe(time.Second)(context.Background(), "127.0.0.1", port))
}
