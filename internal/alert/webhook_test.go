package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(t *testing.T) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = 10 * time.Millisecond
	t.Cleanup(func() { retryBackoff = prev })
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventDeny}},
	})

	d.Dispatch(AlertEvent{Type: EventDeny, HostID: "bostrom1host", Decision: "abort", Reason: "guard: blood_depleted"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventDeny}},
	})

	d.Dispatch(AlertEvent{Type: EventCommit, HostID: "bostrom1host", Decision: "commit"})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{EventEmergencyOverride}},
		{URL: srv2.URL, Format: "slack", Events: []string{EventDeny, EventEmergencyOverride}},
	})

	d.Dispatch(AlertEvent{Type: EventEmergencyOverride, HostID: "bostrom1host", Decision: "commit"})
	d.Wait()

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called1.Load()+called2.Load())
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(AlertEvent{Type: EventDeny})
	d.Wait()
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if d := NewDispatcher(nil); d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
	if d := NewDispatcher([]AlertConfig{}); d != nil {
		t.Error("expected nil dispatcher for zero-length configs")
	}
}

func TestRetryOnServerError(t *testing.T) {
	fastRetry(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Type: EventDeny})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestGiveUpAfterMaxRetries(t *testing.T) {
	fastRetry(t)
	srv, called := countingServer(t, http.StatusBadGateway)

	if err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Type: EventDeny}); err == nil {
		t.Fatal("expected error after persistent 5xx")
	}
	if called.Load() != maxRetries {
		t.Errorf("expected %d attempts, got %d", maxRetries, called.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, called := countingServer(t, http.StatusBadRequest)

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Type: EventDeny})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", called.Load())
	}
}

func TestRetryOnThrottle(t *testing.T) {
	fastRetry(t)
	srv, called := countingServer(t, http.StatusTooManyRequests)

	if err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Type: EventDeny}); err == nil {
		t.Fatal("expected error after persistent 429")
	}
	if called.Load() != maxRetries {
		t.Errorf("expected %d attempts on 429, got %d", maxRetries, called.Load())
	}
}

func TestCancelStopsRetries(t *testing.T) {
	prev := retryBackoff
	retryBackoff = time.Hour
	t.Cleanup(func() { retryBackoff = prev })

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	go func() { done <- Send(ctx, AlertConfig{URL: srv.URL}, AlertEvent{Type: EventDeny}) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send kept waiting after cancel")
	}
}

func TestSendSetsHeaders(t *testing.T) {
	var gotAuth, gotType, gotEvent, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotEvent = r.Header.Get("X-Hostguard-Event")
		gotHost = r.Header.Get("X-Hostguard-Host")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t0k"}}
	if err := Send(context.Background(), cfg, AlertEvent{Type: EventDonation, HostID: "did:aln:host-1"}); err != nil {
		t.Fatal(err)
	}
	if gotEvent != EventDonation || gotHost != "did:aln:host-1" {
		t.Errorf("hostguard headers: event=%q host=%q", gotEvent, gotHost)
	}
	if gotAuth != "Bearer t0k" || gotType != "application/json" {
		t.Errorf("headers: auth=%q type=%q", gotAuth, gotType)
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := AlertEvent{
		Timestamp: "2026-03-14T14:00:00Z",
		Type:      EventDeny,
		HostID:    "bostrom1host",
		Actor:     "bostrom1operator",
		Decision:  "abort",
		Reason:    "guard: blood_depleted",
		Stage:     "guard",
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed AlertEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != event {
		t.Errorf("round trip = %+v", parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", AlertEvent{Type: EventRouteDeny, HostID: "h", Decision: "deny", Reason: "no_fly_zone"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	text, _ := header["text"].(map[string]any)
	if text["text"] != "hostguard: route_deny" {
		t.Errorf("header text = %v", text["text"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 4 {
		t.Errorf("expected 4 fields in section, got %v", fields)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{EventEmergencyOverride, "critical"},
		{EventDeny, "error"},
		{EventRouteDeny, "warning"},
		{EventDonation, "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", AlertEvent{Type: tt.typ, HostID: "bostrom1host"})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		if parsed["event_action"] != "trigger" {
			t.Errorf("expected event_action trigger, got %v", parsed["event_action"])
		}
		payload, _ := parsed["payload"].(map[string]any)
		if payload["severity"] != tt.want {
			t.Errorf("%s: severity = %v, want %s", tt.typ, payload["severity"], tt.want)
		}
		if payload["source"] != "bostrom1host" {
			t.Errorf("source = %v", payload["source"])
		}
	}
}
