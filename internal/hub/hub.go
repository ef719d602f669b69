package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-monitor/internal/metrics"
)

// Message kinds pushed to operator channels.
const (
	KindEventCreated   = "event.created"
	KindStatusChanged  = "event.status_changed"
	KindPlanUpdated    = "event.plan_updated"
	KindCallLogged     = "event.call_logged"
	KindStreamDegraded = "stream.degraded"
)

type Message struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Subscriber is one operator channel. C delivers messages for the
// subscriber's account in publish order until the hub closes it.
type Subscriber struct {
	AccountID uuid.UUID
	C         chan Message

	closeOnce sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.C) })
}

// Hub fans out event notifications to per-account subscribers.
// Delivery is ordered per subscriber and never blocks the publisher:
// a subscriber whose queue is full is disconnected, and the client is
// expected to reconnect and refetch.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[*Subscriber]struct{}
	queueDepth int

	// Optional NATS mirror. Every message is also published to
	// "{subjectPrefix}.{account_id}" when a connection is configured.
	nc            *nats.Conn
	subjectPrefix string
}

func New(queueDepth int) *Hub {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Hub{
		subs:       make(map[uuid.UUID]map[*Subscriber]struct{}),
		queueDepth: queueDepth,
	}
}

// EnableMirror turns on NATS mirroring for all published messages.
func (h *Hub) EnableMirror(nc *nats.Conn, subjectPrefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nc = nc
	h.subjectPrefix = subjectPrefix
}

// Subscribe registers a new channel for an account.
func (h *Hub) Subscribe(accountID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		AccountID: accountID,
		C:         make(chan Message, h.queueDepth),
	}

	h.mu.Lock()
	set, ok := h.subs[accountID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[accountID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	metrics.HubSubscribers.Inc()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.subs[sub.AccountID]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.AccountID)
			}
			metrics.HubSubscribers.Dec()
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish fans a message out to every subscriber of the account.
// Fire-and-forget: a full subscriber queue disconnects that subscriber
// rather than stalling the caller.
func (h *Hub) Publish(accountID uuid.UUID, kind string, payload any) {
	msg := Message{Kind: kind, Payload: payload}

	h.mu.RLock()
	var overflowed []*Subscriber
	for sub := range h.subs[accountID] {
		select {
		case sub.C <- msg:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	nc, prefix := h.nc, h.subjectPrefix
	h.mu.RUnlock()

	for _, sub := range overflowed {
		log.Printf("[Hub] Dropping slow subscriber for account %s", accountID)
		metrics.HubDroppedTotal.Inc()
		h.Unsubscribe(sub)
	}

	if nc != nil {
		data, err := json.Marshal(msg)
		if err == nil {
			subject := fmt.Sprintf("%s.%s", prefix, accountID)
			if err := nc.Publish(subject, data); err != nil {
				log.Printf("[Hub] NATS mirror publish failed: %v", err)
			}
		}
	}
}

// SubscriberCount reports connected channels for an account.
func (h *Hub) SubscriberCount(accountID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}
