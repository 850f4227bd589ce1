package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenBucket_Refill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per key")

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("a"), "half a token")
	now = now.Add(600 * time.Millisecond)
	assert.True(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.Prune(time.Minute))
}

func TestTokenBucket_RunPrunesIdleClients(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Unix(1_700_000_000, 0).UnixNano())
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return time.Unix(0, now.Load()) }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond, 10*time.Minute)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, l.Len(), "recent clients survive a prune")

	now.Add(int64(time.Hour))
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTokenBucket_Middleware(t *testing.T) {
	r := gin.New()
	r.Use(NewTokenBucket(1, 1).GinMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRequestLoggerAndDuration(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "d"}, []string{"method", "route", "status"})

	r := gin.New()
	r.Use(RequestLogger(zap.New(core), "/healthz"), Duration(hist), SecurityHeaders())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/students/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/healthz", "/v1/students/S001", "/v1/students/S002"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	}

	assert.Equal(t, 2, logs.FilterMessage("request").Len())
	assert.Equal(t, 2, logs.FilterLevelExact(zap.WarnLevel).Len())
	assert.Equal(t, 2, testutil.CollectAndCount(hist))
}
