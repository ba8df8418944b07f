package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestHub_PublishDelivers(t *testing.T) {
	hub := newEventHub()
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	hub.publish(RunEvent{Type: EventRunStarted, Timestamp: time.Now().UTC()})

	select {
	case ev := <-sub.ch:
		if ev.Type != EventRunStarted {
			t.Errorf("event type = %s, want %s", ev.Type, EventRunStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := newEventHub()
	sub := hub.subscribe()

	// One more event than the buffer holds, with nobody reading.
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.publish(RunEvent{Type: EventRunStarted})
	}

	if got := hub.count(); got != 0 {
		t.Errorf("subscribers = %d, want 0 after overflow", got)
	}

	received := 0
	for range sub.ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", received, subscriberBuffer)
	}
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := newEventHub()
	sub := hub.subscribe()

	hub.unsubscribe(sub)
	hub.unsubscribe(sub)

	if got := hub.count(); got != 0 {
		t.Errorf("subscribers = %d, want 0", got)
	}
}

func TestHub_ShutdownClosesAll(t *testing.T) {
	hub := newEventHub()
	a := hub.subscribe()
	b := hub.subscribe()

	hub.shutdown()

	if got := hub.count(); got != 0 {
		t.Errorf("subscribers = %d, want 0 after shutdown", got)
	}
	for _, sub := range []*subscriber{a, b} {
		if _, ok := <-sub.ch; ok {
			t.Error("channel still open after shutdown")
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"default allows vite dev server", nil, "http://localhost:5173", true},
		{"default allows react dev server", nil, "http://localhost:3000", true},
		{"default rejects other local port", nil, "http://localhost:8080", false},
		{"default rejects external origin", nil, "https://evil.example.com", false},
		{"no origin header is allowed", nil, "", true},
		{"wildcard allows anything", []string{"*"}, "https://anywhere.example.com", true},
		{"explicit origin matches", []string{"https://ops.example.gov"}, "https://ops.example.gov", true},
		{"explicit origin mismatch", []string{"https://ops.example.gov"}, "https://other.example.gov", false},
		{"origin match is case-insensitive", []string{"https://ops.example.gov"}, "https://OPS.Example.GOV", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := newUpgrader(tc.allowed)
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ws/events", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := up.CheckOrigin(r); got != tc.want {
				t.Errorf("CheckOrigin(%q) with allowed %v = %v, want %v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}

func TestEventsWS_EndToEnd(t *testing.T) {
	srv := buildServer(t, testConfig(0), nil)

	ts := httptest.NewServer(http.HandlerFunc(srv.handleEventsWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	waitFor(t, func() bool { return srv.hub.count() == 1 })

	srv.hub.publish(RunEvent{
		Type:             EventRunCompleted,
		RunID:            "run-1",
		Regions:          14,
		ConsensusFlagged: 1,
		Timestamp:        time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev RunEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != EventRunCompleted || ev.RunID != "run-1" || ev.Regions != 14 {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	waitFor(t, func() bool { return srv.hub.count() == 0 })
}

func TestEventsWS_RejectsDisallowedOrigin(t *testing.T) {
	srv := buildServer(t, testConfig(0), nil)

	ts := httptest.NewServer(http.HandlerFunc(srv.handleEventsWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("dial should fail for a disallowed origin")
	}
	if resp != nil {
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("handshake status = %d, want 403", resp.StatusCode)
		}
		resp.Body.Close()
	}
}
