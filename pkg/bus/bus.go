// Package bus implements C1, the Message Bus: topic-keyed publish with
// delivery to every current subscriber, best-effort and non-blocking per
// subscriber (§4.9). Grounded on the teacher's pkg/operator: a sync.Map
// registry keyed by identity (there: (userID,dialogID); here: topic),
// each entry owning its own channel(s).
package bus

import (
	"fmt"
	"sync"

	"github.com/clinround/sessioncore/pkg/mode"
	"github.com/clinround/sessioncore/pkg/model"
)

// Topic returns the pub/sub channel name for a session code (§4.9).
func Topic(code string) string {
	return "session/" + code
}

// PrivateTopic returns the per-user channel name C9 uses to deliver
// role-filtered envelopes (CASE_DATA) that must never appear on the
// shared session topic (§4.9, §4.10).
func PrivateTopic(code string, userID uint32) string {
	return fmt.Sprintf("session/%s/user/%d", code, userID)
}

type subscriber struct {
	id int64
	ch chan model.Envelope
}

type topicState struct {
	mu   sync.Mutex
	subs []*subscriber
	next int64
}

// Bus is an in-process, per-topic publish/subscribe registry. It is not a
// general broker — topics are per-session and ephemeral (§1 Non-goals).
type Bus struct {
	topics     sync.Map // string -> *topicState
	queueDepth int
}

// New creates a Bus whose per-subscriber queues hold queueDepth envelopes
// before dropping the oldest (§4.9).
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = mode.SubscriberQueueDepth
	}
	return &Bus{queueDepth: queueDepth}
}

func (b *Bus) state(topic string) *topicState {
	v, _ := b.topics.LoadOrStore(topic, &topicState{})
	return v.(*topicState)
}

// Subscribe registers a new subscriber to topic and returns its envelope
// channel plus an idempotent unsubscribe func.
func (b *Bus) Subscribe(topic string) (<-chan model.Envelope, func()) {
	st := b.state(topic)

	st.mu.Lock()
	st.next++
	sub := &subscriber{id: st.next, ch: make(chan model.Envelope, b.queueDepth)}
	st.subs = append(st.subs, sub)
	st.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			st.mu.Lock()
			for i, s := range st.subs {
				if s.id == sub.id {
					st.subs = append(st.subs[:i], st.subs[i+1:]...)
					break
				}
			}
			st.mu.Unlock()
			close(sub.ch)
		})
	}

	return sub.ch, unsubscribe
}

// Publish delivers env to every current subscriber of topic. Delivery is
// non-blocking: a subscriber whose queue is full has its oldest envelope
// dropped to make room, so one slow subscriber never stalls the
// orchestrator (§4.9, §5 "bus publish is non-blocking").
func (b *Bus) Publish(topic string, env model.Envelope) {
	st := b.state(topic)

	st.mu.Lock()
	subs := make([]*subscriber, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- env:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- env:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscribers are currently attached to
// topic, for tests and diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	st := b.state(topic)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}
