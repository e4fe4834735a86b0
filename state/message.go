package state

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message is a routed application message. It is created once at the sender
// and mutated at every hop: TTL is decremented and the chosen next hop is
// appended to Path. The payload is opaque to the mesh core.
type Message struct {
	Id        string
	From      NodeId
	To        NodeId
	Payload   []byte
	TTL       int
	Path      []NodeId
	Timestamp time.Time
}

func NewMessage(from, to NodeId, payload []byte) *Message {
	return &Message{
		Id:        fmt.Sprintf("%s:%s", from, uuid.NewString()[:8]),
		From:      from,
		To:        to,
		Payload:   payload,
		TTL:       MessageTTL,
		Path:      []NodeId{from},
		Timestamp: time.Now(),
	}
}

// Clone copies the message so that per-hop mutation on one node does not leak
// into another (the in-memory transport shares no wire format).
func (m *Message) Clone() *Message {
	c := *m
	c.Path = slices.Clone(m.Path)
	c.Payload = slices.Clone(m.Payload)
	return &c
}
