package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllow_ConsumesBudget(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request within a minute should be denied")
	}
}

func TestAllow_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first client should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("first client should be out of budget")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("second client has its own bucket")
	}
}

func TestWrap_TooManyRequests(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	called := 0
	handler := rl.Wrap(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
		req.RemoteAddr = "10.0.0.9:51234"
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != want {
			t.Errorf("request %d: status = %d, want %d", i+1, rr.Code, want)
		}
	}
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestClientKey_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:60123"
	if got := clientKey(req); got != "192.168.1.5" {
		t.Errorf("clientKey = %q, want host only", got)
	}

	req.RemoteAddr = "no-port-here"
	if got := clientKey(req); got != "no-port-here" {
		t.Errorf("clientKey = %q, want raw address when unsplittable", got)
	}
}
