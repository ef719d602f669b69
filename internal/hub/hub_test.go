package hub_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/hub"
)

func TestPublish_OrderedPerSubscriber(t *testing.T) {
	h := hub.New(16)
	accountID := uuid.New()
	sub := h.Subscribe(accountID)
	defer h.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		h.Publish(accountID, hub.KindEventCreated, fmt.Sprintf("evt-%d", i))
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-sub.C:
			if msg.Payload != fmt.Sprintf("evt-%d", i) {
				t.Errorf("message %d out of order: %v", i, msg.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
}

func TestPublish_AccountIsolation(t *testing.T) {
	h := hub.New(16)
	a, b := uuid.New(), uuid.New()
	subA := h.Subscribe(a)
	subB := h.Subscribe(b)
	defer h.Unsubscribe(subA)
	defer h.Unsubscribe(subB)

	h.Publish(a, hub.KindStatusChanged, "for-a")

	select {
	case msg := <-subA.C:
		if msg.Payload != "for-a" {
			t.Errorf("unexpected payload: %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A never got the message")
	}

	select {
	case msg := <-subB.C:
		t.Errorf("account B leaked a message: %v", msg)
	default:
	}
}

func TestPublish_FanOut(t *testing.T) {
	h := hub.New(16)
	accountID := uuid.New()
	subs := []*hub.Subscriber{h.Subscribe(accountID), h.Subscribe(accountID), h.Subscribe(accountID)}

	h.Publish(accountID, hub.KindPlanUpdated, "delta")

	for i, sub := range subs {
		select {
		case msg := <-sub.C:
			if msg.Kind != hub.KindPlanUpdated {
				t.Errorf("subscriber %d got wrong kind: %s", i, msg.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d starved", i)
		}
		h.Unsubscribe(sub)
	}
}

func TestPublish_SlowSubscriberDisconnected(t *testing.T) {
	h := hub.New(2)
	accountID := uuid.New()
	slow := h.Subscribe(accountID)

	// Fill the queue, then overflow it. The publisher must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			h.Publish(accountID, hub.KindEventCreated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if h.SubscriberCount(accountID) != 0 {
		t.Error("overflowed subscriber should be removed")
	}

	// The channel is closed after the buffered messages drain.
	var received int
	for msg := range slow.C {
		_ = msg
		received++
	}
	if received != 2 {
		t.Errorf("expected the 2 queued messages before close, got %d", received)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := hub.New(4)
	accountID := uuid.New()
	sub := h.Subscribe(accountID)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	if h.SubscriberCount(accountID) != 0 {
		t.Error("expected no subscribers")
	}
	if _, open := <-sub.C; open {
		t.Error("channel should be closed")
	}
}
