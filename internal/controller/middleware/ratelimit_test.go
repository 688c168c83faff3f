package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func userRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/generations", nil)
	if userID != "" {
		req = req.WithContext(NewContextWithUserID(context.Background(), userID))
	}
	return req
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	handler := NewRateLimiter(100, 200).Middleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, userRequest("alice"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	// First request should succeed (uses the burst)
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, userRequest("alice"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	// Second request should be rate limited (burst exhausted)
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, userRequest("alice"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if got := rr2.Header().Get("Retry-After"); got != "1" {
		t.Errorf("got Retry-After %q, want %q", got, "1")
	}
	if !strings.Contains(rr2.Body.String(), `"success":false`) {
		t.Errorf("expected JSON error body, got %s", rr2.Body.String())
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerCaller(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), userRequest("alice"))

	rrA := httptest.NewRecorder()
	handler.ServeHTTP(rrA, userRequest("alice"))
	if rrA.Code != http.StatusTooManyRequests {
		t.Errorf("alice second request: got status %d, want %d", rrA.Code, http.StatusTooManyRequests)
	}

	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, userRequest("bob"))
	if rrB.Code != http.StatusOK {
		t.Errorf("bob request: got status %d, want %d", rrB.Code, http.StatusOK)
	}

	// Anonymous callers are keyed by remote address.
	rrAnon := httptest.NewRecorder()
	handler.ServeHTTP(rrAnon, userRequest(""))
	if rrAnon.Code != http.StatusOK {
		t.Errorf("anonymous request: got status %d, want %d", rrAnon.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateLimitZero(t *testing.T) {
	handlerCallCount := 0
	handler := NewRateLimiter(0, 0).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, userRequest("alice"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 10 {
		t.Errorf("expected 10 handler calls, got %d", handlerCallCount)
	}
}

func TestRateLimitMiddleware_ExpiredLimiterIsReplaced(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, WithTTL(time.Nanosecond))
	handler := rl.Middleware()(okHandler())

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, userRequest("alice"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want fresh limiter", i, rr.Code)
		}
	}
}
