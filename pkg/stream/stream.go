// Package stream implements C9, the client-facing subscription endpoint:
// one SSE connection per (session, participant) bridging both the
// session's shared topic and the participant's private topic (§4.9,
// §4.10) into a single outbound event stream. Grounded on the teacher's
// pkg/operator, which drives the same r3labs/sse/v2 dependency from the
// client side; here it is the server side of that same library, serving
// real browser/app connections instead of consuming a remote operator
// backend.
package stream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/r3labs/sse/v2"

	"github.com/clinround/sessioncore/pkg/bus"
	"github.com/clinround/sessioncore/pkg/logger"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/orchestrator"
)

// Handler serves GET /stream?code=<code>&userId=<id>, upgrading the
// connection to SSE and forwarding every envelope published to that
// session's shared topic or that user's private topic (§6.2).
type Handler struct {
	bus *bus.Bus
	o   *orchestrator.Orchestrator
	sse *sse.Server

	mu      sync.Mutex
	refs    map[string]int
	cancels map[string]func()
}

func New(b *bus.Bus, o *orchestrator.Orchestrator) *Handler {
	s := sse.New()
	s.AutoReplay = false
	s.AutoStream = false

	return &Handler{
		bus:     b,
		o:       o,
		sse:     s,
		refs:    make(map[string]int),
		cancels: make(map[string]func()),
	}
}

func streamID(code string, userID uint32) string {
	return code + ":" + strconv.FormatUint(uint64(userID), 10)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userIDStr := r.URL.Query().Get("userId")
	if code == "" || userIDStr == "" {
		http.Error(w, "code and userId are required", http.StatusBadRequest)
		return
	}

	userID64, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return
	}
	userID := uint32(userID64)

	id := streamID(code, userID)
	h.acquire(id, code, userID)
	defer h.release(id)

	h.o.TouchActivity(code, userID)

	r.URL.RawQuery = "stream=" + id
	h.sse.ServeHTTP(w, r)
}

// acquire creates the stream and its bridging subscriptions on the first
// concurrent connection for id; later connections from the same user
// (e.g. a second browser tab) share the refcounted stream.
func (h *Handler) acquire(id, code string, userID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs[id]++
	if h.refs[id] > 1 {
		return
	}

	h.sse.CreateStream(id)

	sharedCh, unsubShared := h.bus.Subscribe(bus.Topic(code))
	privateCh, unsubPrivate := h.bus.Subscribe(bus.PrivateTopic(code, userID))

	go h.pump(id, sharedCh)
	go h.pump(id, privateCh)

	h.cancels[id] = func() {
		unsubShared()
		unsubPrivate()
	}
}

func (h *Handler) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs[id]--
	if h.refs[id] > 0 {
		return
	}

	delete(h.refs, id)
	if cancel, ok := h.cancels[id]; ok {
		cancel()
		delete(h.cancels, id)
	}
	h.sse.RemoveStream(id)
}

// pump forwards every envelope off ch onto the SSE stream id as it
// arrives, until ch is closed by the matching unsubscribe.
func (h *Handler) pump(id string, ch <-chan model.Envelope) {
	for env := range ch {
		data, err := json.Marshal(env)
		if err != nil {
			logger.Warn("stream: marshal envelope %s for %s: %v", env.Type, id, err)
			continue
		}
		h.sse.Publish(id, &sse.Event{
			Event: []byte(env.Type),
			Data:  data,
		})
	}
}
