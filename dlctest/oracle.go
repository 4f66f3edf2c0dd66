package dlctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// Oracle is an in-memory dlccore.Oracle.
type Oracle struct {
	mu            sync.Mutex
	announcements map[string]dlcstate.OracleAnnouncement
	attestations  map[string]dlcstate.OracleAttestation
}

var _ dlccore.Oracle = (*Oracle)(nil)

// NewOracle returns an oracle with no events.
func NewOracle() *Oracle {
	return &Oracle{
		announcements: make(map[string]dlcstate.OracleAnnouncement),
		attestations:  make(map[string]dlcstate.OracleAttestation),
	}
}

// Announce adds a yes/no event maturing at maturity and returns its
// announcement.
func (o *Oracle) Announce(eventID string, maturity uint32) dlcstate.OracleAnnouncement {
	a := SampleAnnouncement(eventID, maturity)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.announcements[eventID] = a
	return a
}

// Attest publishes outcome for eventID.
func (o *Oracle) Attest(eventID, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attestations[eventID] = SampleAttestation(eventID, outcome)
}

func (o *Oracle) GetAnnouncements(ctx context.Context, eventID string) ([]dlcstate.OracleAnnouncement, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.announcements[eventID]
	if !ok {
		return nil, fmt.Errorf("no event %q", eventID)
	}
	return []dlcstate.OracleAnnouncement{a}, nil
}

func (o *Oracle) GetAttestation(ctx context.Context, eventID string) (*dlcstate.OracleAttestation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.attestations[eventID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
