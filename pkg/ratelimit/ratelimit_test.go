package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	api := DefaultAPIConfig()
	assert.Equal(t, float64(20), api.Rate)
	assert.Equal(t, 50, api.Burst)
	assert.Equal(t, time.Minute, api.CleanupInterval)
	assert.Equal(t, 5*time.Minute, api.MaxAge)

	deploy := DefaultDeployConfig()
	assert.Less(t, deploy.Rate, api.Rate, "deploy requests are limited more tightly")
	assert.Less(t, deploy.Burst, api.Burst)
}

func TestNew(t *testing.T) {
	t.Run("creates limiter with config", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20, CleanupInterval: time.Second, MaxAge: time.Minute})
		defer rl.Stop()

		assert.Equal(t, float64(10), rl.Config().Rate)
		assert.Equal(t, 20, rl.Config().Burst)
	})

	t.Run("sets defaults for zero intervals", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20})
		defer rl.Stop()

		assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
		assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
	})
}

func TestAllow(t *testing.T) {
	t.Run("blocks requests exceeding burst limit", func(t *testing.T) {
		rl := NewWithClock(Config{Rate: 1, Burst: 3, CleanupInterval: time.Hour, MaxAge: time.Hour}, testingclock.NewFakeClock(time.Now()))
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
		assert.False(t, rl.Allow("192.168.1.1"))
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		rl := NewWithClock(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour}, testingclock.NewFakeClock(time.Now()))
		defer rl.Stop()

		rl.Allow("192.168.1.1")
		rl.Allow("192.168.1.1")
		assert.False(t, rl.Allow("192.168.1.1"))

		assert.True(t, rl.Allow("192.168.1.2"))
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		fc := testingclock.NewFakeClock(time.Now())
		rl := NewWithClock(Config{Rate: 10, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour}, fc)
		defer rl.Stop()

		assert.True(t, rl.Allow("192.168.1.1"))
		assert.False(t, rl.Allow("192.168.1.1"))

		// 10 req/s = 100ms per token
		fc.Step(150 * time.Millisecond)
		assert.True(t, rl.Allow("192.168.1.1"))
	})
}

func TestMiddleware(t *testing.T) {
	rl := NewWithClock(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour}, testingclock.NewFakeClock(time.Now()))
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/api/releases/:clusterId", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	before := testutil.ToFloat64(metrics.RateLimitedRequests.WithLabelValues("/api/releases/:clusterId"))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/releases/cluster-001", nil)
		req.RemoteAddr = "10.1.2.3:4567"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedRequests.WithLabelValues("/api/releases/:clusterId")))
}

func TestCleanupStaleEntries(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	rl := NewWithClock(Config{Rate: 10, Burst: 10, CleanupInterval: time.Hour, MaxAge: time.Minute}, fc)
	defer rl.Stop()

	rl.Allow("192.168.1.1")
	fc.Step(45 * time.Second)
	rl.Allow("192.168.1.2")
	fc.Step(30 * time.Second)

	rl.cleanupStaleEntries()
	assert.Equal(t, 1, rl.Len(), "only the entry idle for longer than MaxAge is removed")
}

func TestCleanupRunsOnTicker(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	rl := NewWithClock(Config{Rate: 10, Burst: 10, CleanupInterval: time.Minute, MaxAge: time.Minute}, fc)
	defer rl.Stop()

	rl.Allow("192.168.1.1")
	require.Equal(t, 1, rl.Len())

	assert.Eventually(t, func() bool {
		fc.Step(time.Minute)
		return rl.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	rl := New(DefaultAPIConfig())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestConcurrency(t *testing.T) {
	rl := New(Config{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("192.168.1.%d", id%10)
			for j := 0; j < 20; j++ {
				rl.Allow(ip)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, rl.Len())
}
