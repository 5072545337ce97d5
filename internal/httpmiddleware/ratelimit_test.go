package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, nil)
	l.now = func() time.Time { return clock }

	if !l.allow("a") || !l.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("b") {
		t.Fatal("other keys have their own bucket")
	}

	clock = clock.Add(time.Second)
	if !l.allow("a") {
		t.Fatal("one token should refill after a second at 60/min")
	}
}

func TestTokenBucket_Sweep(t *testing.T) {
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewTokenBucket(1, 1, nil)
	l.now = func() time.Time { return clock }
	l.allow("old")

	clock = clock.Add(time.Hour)
	l.allow("new")
	l.Sweep(10 * time.Minute)

	if _, ok := l.state["old"]; ok {
		t.Error("idle bucket should be swept")
	}
	if _, ok := l.state["new"]; !ok {
		t.Error("active bucket should be kept")
	}
}

func TestTokenBucket_GinMiddlewareKeysBySubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewTokenBucket(1, 1, func(c *gin.Context) string { return c.GetHeader("X-Kiosk") })
	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(kiosk string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Kiosk", kiosk)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := do("k1"); code != http.StatusOK {
		t.Fatalf("first k1 request: %d", code)
	}
	if code := do("k1"); code != http.StatusTooManyRequests {
		t.Fatalf("second k1 request: %d, want 429", code)
	}
	if code := do("k2"); code != http.StatusOK {
		t.Fatalf("k2 shares the IP but not the bucket: %d", code)
	}
}
