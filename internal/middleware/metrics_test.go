package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstrument_PassesThrough(t *testing.T) {
	handler := Instrument("/api/v1/report", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/api/v1/report", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if rr.Body.String() != "short and stout" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestInstrument_DefaultStatusIsOK(t *testing.T) {
	// A handler that writes a body without an explicit WriteHeader.
	handler := Instrument("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}
