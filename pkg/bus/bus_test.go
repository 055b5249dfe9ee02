package bus

import (
	"testing"
	"time"

	"github.com/clinround/sessioncore/pkg/model"
)

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	b := New(4)
	topic := Topic("ABC123")

	ch1, unsub1 := b.Subscribe(topic)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(topic)
	defer unsub2()

	b.Publish(topic, model.Envelope{Type: model.EnvSessionUpdate, SessionCode: "ABC123"})

	for _, ch := range []<-chan model.Envelope{ch1, ch2} {
		select {
		case env := <-ch:
			if env.Type != model.EnvSessionUpdate {
				t.Errorf("got envelope type %s, want SESSION_UPDATE", env.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestPrivateTopicIsolatesPerUser(t *testing.T) {
	b := New(4)

	chA, unsubA := b.Subscribe(PrivateTopic("ABC123", 1))
	defer unsubA()
	chB, unsubB := b.Subscribe(PrivateTopic("ABC123", 2))
	defer unsubB()

	b.Publish(PrivateTopic("ABC123", 1), model.Envelope{Type: model.EnvCaseData})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("user 1 should have received its private envelope")
	}

	select {
	case env := <-chB:
		t.Fatalf("user 2 must not receive user 1's private envelope, got %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := New(4)
	topic := Topic("ABC123")

	ch, unsub := b.Subscribe(topic)
	if got := b.SubscriberCount(topic); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	unsub()
	unsub() // must be idempotent

	if got := b.SubscriberCount(topic); got != 0 {
		t.Fatalf("SubscriberCount after unsubscribe = %d, want 0", got)
	}

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestPublishNonBlockingOnFullQueue(t *testing.T) {
	b := New(1)
	topic := Topic("ABC123")

	ch, unsub := b.Subscribe(topic)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(topic, model.Envelope{Type: model.EnvPhaseChange})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must never block even with an unread, full subscriber queue")
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected at least the last envelope to be queued")
	}
}
