package dlctest

import (
	"context"
	"sync"

	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// Hub connects in-memory transports. Messages cross it as bytes, so every
// delivery also exercises the wire codec.
type Hub struct {
	mu    sync.Mutex
	nodes map[dlcstate.PubKey]*Transport
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[dlcstate.PubKey]*Transport)}
}

// Transport returns the transport of the node identified by self, creating
// it on first use.
func (h *Hub) Transport(self dlcstate.PubKey) *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.nodes[self]; ok {
		return t
	}
	t := &Transport{hub: h, self: self, connected: make(map[dlcstate.PubKey]bool)}
	h.nodes[self] = t
	return t
}

func (h *Hub) lookup(pk dlcstate.PubKey) *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[pk]
}

type envelope struct {
	peer dlcstate.PubKey
	raw  []byte
}

// Transport is an in-memory dlccore.Transport. SendMessage queues;
// ProcessMessages delivers the queue to the peers' inboxes.
type Transport struct {
	hub  *Hub
	self dlcstate.PubKey

	mu        sync.Mutex
	inbox     []dlccore.ReceivedMessage
	outbox    []envelope
	sent      []dlcstate.Message
	connected map[dlcstate.PubKey]bool
	dials     int
	listens   int
}

var _ dlccore.Transport = (*Transport)(nil)

func (t *Transport) Listen(ctx context.Context) error {
	t.mu.Lock()
	t.listens++
	t.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (t *Transport) SendMessage(peer dlcstate.PubKey, msg dlcstate.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbox = append(t.outbox, envelope{peer: peer, raw: msg.Bytes()})
	t.sent = append(t.sent, msg)
}

// Deliver puts msg in the inbox as if peer had sent it.
func (t *Transport) Deliver(peer dlcstate.PubKey, msg dlcstate.Message) {
	t.deliverRaw(peer, msg.Bytes())
}

func (t *Transport) deliverRaw(peer dlcstate.PubKey, raw []byte) {
	msg, err := dlcstate.MessageFromBytes(raw)
	if err != nil {
		panic("dlctest: undecodable message: " + err.Error())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, dlccore.ReceivedMessage{Peer: peer, Msg: msg})
}

func (t *Transport) GetAndClearReceivedMessages() []dlccore.ReceivedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.inbox
	t.inbox = nil
	return msgs
}

func (t *Transport) HasPendingMessages() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outbox) > 0
}

// ProcessMessages delivers queued messages. Messages to peers that are not
// on the hub are dropped.
func (t *Transport) ProcessMessages() {
	t.mu.Lock()
	out := t.outbox
	t.outbox = nil
	t.mu.Unlock()
	for _, e := range out {
		if peer := t.hub.lookup(e.peer); peer != nil {
			peer.deliverRaw(t.self, e.raw)
		}
	}
}

func (t *Transport) Connect(ctx context.Context, p dlccore.PeerInfo) error {
	pk, err := dlcstate.ParsePubKeyHex(p.PubKey)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.connected[pk] = true
	return nil
}

func (t *Transport) IsConnected(peer dlcstate.PubKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected[peer]
}

// Sent returns every message passed to SendMessage.
func (t *Transport) Sent() []dlcstate.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]dlcstate.Message(nil), t.sent...)
}

// Pending returns the number of received messages not yet drained.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbox)
}

// Dials is the number of Connect calls.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Listens is the number of Listen calls.
func (t *Transport) Listens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listens
}
