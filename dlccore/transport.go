package dlccore

import (
	"context"

	"github.com/mit-dci/dlcd/dlcstate"
)

// ReceivedMessage is an inbound message and the peer it came from.
type ReceivedMessage struct {
	Peer dlcstate.PubKey
	Msg  dlcstate.Message
}

// Transport moves messages between peers. SendMessage queues; ProcessMessages
// flushes the queue. It must be safe for concurrent use.
type Transport interface {
	// Listen serves connections until ctx is done.
	Listen(ctx context.Context) error
	SendMessage(peer dlcstate.PubKey, msg dlcstate.Message)
	GetAndClearReceivedMessages() []ReceivedMessage
	HasPendingMessages() bool
	ProcessMessages()
	Connect(ctx context.Context, peer PeerInfo) error
	IsConnected(peer dlcstate.PubKey) bool
}

// Oracle supplies announcements and attestations.
type Oracle interface {
	GetAnnouncements(ctx context.Context, eventID string) ([]dlcstate.OracleAnnouncement, error)
	// GetAttestation returns nil and no error if the event is not yet
	// attested.
	GetAttestation(ctx context.Context, eventID string) (*dlcstate.OracleAttestation, error)
}
