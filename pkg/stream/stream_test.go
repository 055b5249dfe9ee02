package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinround/sessioncore/pkg/bus"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/orchestrator"
	"github.com/clinround/sessioncore/pkg/repo"
	"github.com/clinround/sessioncore/pkg/scheduler"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	b := bus.New(16)
	o := orchestrator.New(context.Background(), repo.Repository{}, b, scheduler.New(), orchestrator.Config{
		IdleTimeout:     time.Hour,
		FeedbackTimeout: time.Hour,
	})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return New(b, o)
}

func TestServeHTTPRejectsMissingOrInvalidParams(t *testing.T) {
	h := newTestHandler(t)

	cases := []string{
		"/stream",
		"/stream?code=ABC123",
		"/stream?userId=1",
		"/stream?code=ABC123&userId=not-a-number",
	}

	for _, target := range cases {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("ServeHTTP(%s) = %d, want 400", target, rec.Code)
		}
	}
}

func TestAcquireSharesOneSubscriptionAcrossConcurrentConnections(t *testing.T) {
	h := newTestHandler(t)

	id := streamID("ABC123", 1)
	h.acquire(id, "ABC123", 1)
	if got := h.refs[id]; got != 1 {
		t.Fatalf("refs[id] = %d, want 1 after first acquire", got)
	}

	h.acquire(id, "ABC123", 1)
	if got := h.refs[id]; got != 2 {
		t.Fatalf("refs[id] = %d, want 2 after second acquire", got)
	}

	h.release(id)
	if _, ok := h.cancels[id]; !ok {
		t.Fatalf("the bridging subscriptions must survive while one reference remains")
	}

	h.release(id)
	if _, ok := h.cancels[id]; ok {
		t.Fatalf("the bridging subscriptions must be torn down once the last reference is released")
	}
	if _, ok := h.refs[id]; ok {
		t.Fatalf("refs entry should be deleted once the refcount reaches zero")
	}
}

func TestServeHTTPUpgradesToEventStream(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?code=ABC123&userId=1", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		// A client-side cancellation once the test's context expires is
		// expected for a long-lived stream; anything else is a failure.
		if ctx.Err() == nil {
			t.Fatalf("unexpected error opening the stream: %v", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
}

// TestPumpPublishesFlattenedEnvelopeJSON asserts on the actual bytes a
// subscriber receives over the wire: the SSE frame's Data must be a single
// JSON object carrying type/sessionCode alongside the payload's own
// fields, per §6.2 — not a payload-only document with type/sessionCode
// stranded on the SSE Event field alone.
func TestPumpPublishesFlattenedEnvelopeJSON(t *testing.T) {
	b := bus.New(16)
	o := orchestrator.New(context.Background(), repo.Repository{}, b, scheduler.New(), orchestrator.Config{
		IdleTimeout:     time.Hour,
		FeedbackTimeout: time.Hour,
	})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	h := New(b, o)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?code=ABC123&userId=1", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	env := model.Envelope{
		Type:        model.EnvPhaseChange,
		SessionCode: "ABC123",
		Payload: model.PhaseChangePayload{
			Phase:           model.Reading,
			DurationSeconds: 300,
			StartTimestamp:  1000,
		},
	}

	// Give the handler's acquire/Subscribe goroutines a beat to register
	// before publishing, since Publish is fire-and-forget to whoever is
	// currently subscribed.
	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.Topic("ABC123"), env)

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading SSE stream: %v (read so far: event=%q data=%q)", err, eventLine, dataLine)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && dataLine != "":
			goto parsed
		}
	}
parsed:
	if eventLine != string(model.EnvPhaseChange) {
		t.Fatalf("SSE event field = %q, want %s", eventLine, model.EnvPhaseChange)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(dataLine), &got); err != nil {
		t.Fatalf("data field is not valid JSON: %v (data=%q)", err, dataLine)
	}
	if got["type"] != string(model.EnvPhaseChange) {
		t.Errorf("data.type = %v, want %s", got["type"], model.EnvPhaseChange)
	}
	if got["sessionCode"] != "ABC123" {
		t.Errorf("data.sessionCode = %v, want ABC123", got["sessionCode"])
	}
	if got["phase"] != string(model.Reading) {
		t.Errorf("data.phase = %v, want %s — payload fields must be flattened alongside type/sessionCode", got["phase"], model.Reading)
	}
}
