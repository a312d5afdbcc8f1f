package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestMiddlewareWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, 2, time.Minute, "login")
	r := gin.New()
	r.Use(l.Middleware(func(c *gin.Context) string { return "key" }))
	r.GET("/", func(c *gin.Context) { c.String(200, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Window expiry resets the counter.
	mr.FastForward(time.Minute)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200 after window, got %d", rr.Code)
	}
}

func TestAllowSeparateKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, 1, time.Minute, "sweep")

	ctx := context.Background()
	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatalf("first hit for a should pass")
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatalf("second hit for a should be limited")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatalf("b has its own window")
	}
}

func TestNilClientDisabled(t *testing.T) {
	l := New(nil, 1, time.Minute, "")
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow(context.Background(), "x"); !ok {
			t.Fatalf("nil client must not limit")
		}
	}
}
