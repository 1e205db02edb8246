package live

import (
	"encoding/json"
	"sync"

	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	TypeBalanceUpdated = "balance.updated"

	// SendBuffer is how many messages a slow subscriber may fall behind before
	// messages to it are dropped.
	SendBuffer = 64
)

// Message is the envelope sent to dashboard subscribers.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// BalanceUpdated announces a successfully appended entry.
type BalanceUpdated struct {
	ID        string `json:"id"`
	PeerID    string `json:"peer_id"`
	Hostname  string `json:"hostname"`
	Balance   string `json:"balance"`
	Timestamp string `json:"timestamp"`
}

// NewBalanceUpdated builds the event for e with a fresh id.
func NewBalanceUpdated(e balance.Entry) BalanceUpdated {
	return BalanceUpdated{
		ID:        uuid.NewString(),
		PeerID:    e.PeerID,
		Hostname:  e.Hostname,
		Balance:   e.Balance,
		Timestamp: e.Date,
	}
}

// Encode renders the event inside its Message envelope.
func (b BalanceUpdated) Encode() ([]byte, error) {
	return json.Marshal(Message{Type: TypeBalanceUpdated, Payload: b})
}

// Subscriber receives encoded messages on Send until it is removed.
type Subscriber struct {
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *Subscriber) offer(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.Send <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Send)
	}
}

// Hub fans messages out to every registered subscriber.
type Hub struct {
	subs   *xsync.Map[*Subscriber, struct{}]
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   xsync.NewMap[*Subscriber, struct{}](),
		logger: logger,
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{Send: make(chan []byte, SendBuffer)}
	h.subs.Store(s, struct{}{})
	return s
}

// Unsubscribe removes s and closes its channel. Calling it twice is safe.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.subs.Delete(s)
	s.close()
}

// Len is the number of current subscribers.
func (h *Hub) Len() int {
	return h.subs.Size()
}

// Broadcast queues msg for every subscriber without blocking. Subscribers with
// a full buffer miss the message.
func (h *Hub) Broadcast(msg []byte) {
	h.subs.Range(func(s *Subscriber, _ struct{}) bool {
		if !s.offer(msg) {
			h.logger.Debug("Dropping live message for slow subscriber")
		}
		return true
	})
}
