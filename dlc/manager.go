package dlc

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/eventbus"
	"github.com/mit-dci/dlcd/logging"
)

const (
	// DefaultNbConfirmations is the depth at which a funding transaction
	// counts as confirmed.
	DefaultNbConfirmations = 6
	// DefaultRefundDelay is added to the latest oracle maturity to get the
	// refund locktime.
	DefaultRefundDelay = 7 * 24 * 60 * 60
	// DefaultCetNsequence is the relative locktime on channel CETs.
	DefaultCetNsequence = 288
)

// Config wires a DlcManager to its collaborators.
type Config struct {
	Storage   dlccore.Storage
	Wallet    dlccore.Wallet
	Oracle    dlccore.Oracle
	Transport dlccore.Transport
	Events    *eventbus.EventBus
	Params    *chaincfg.Params

	NbConfirmations uint32
	RefundDelay     uint32
	CetNsequence    uint32

	// Now defaults to time.Now.
	Now func() time.Time
}

// DlcManager applies every state transition of contracts and channels.
// It is not safe for concurrent use; the node runs it on one goroutine.
type DlcManager struct {
	store     dlccore.Storage
	wallet    dlccore.Wallet
	oracle    dlccore.Oracle
	transport dlccore.Transport
	events    *eventbus.EventBus
	params    *chaincfg.Params

	nbConfirmations uint32
	refundDelay     uint32
	cetNsequence    uint32
	now             func() time.Time
}

// NewManager checks cfg and fills in defaults.
func NewManager(cfg Config) (*DlcManager, error) {
	if cfg.Storage == nil || cfg.Wallet == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("dlc manager needs storage, wallet and transport")
	}
	mgr := &DlcManager{
		store:           cfg.Storage,
		wallet:          cfg.Wallet,
		oracle:          cfg.Oracle,
		transport:       cfg.Transport,
		events:          cfg.Events,
		params:          cfg.Params,
		nbConfirmations: cfg.NbConfirmations,
		refundDelay:     cfg.RefundDelay,
		cetNsequence:    cfg.CetNsequence,
		now:             cfg.Now,
	}
	if mgr.events == nil {
		mgr.events = eventbus.NewEventBus()
	}
	if mgr.params == nil {
		mgr.params = &chaincfg.RegressionNetParams
	}
	if mgr.nbConfirmations == 0 {
		mgr.nbConfirmations = DefaultNbConfirmations
	}
	if mgr.refundDelay == 0 {
		mgr.refundDelay = DefaultRefundDelay
	}
	if mgr.cetNsequence == 0 {
		mgr.cetNsequence = DefaultCetNsequence
	}
	if mgr.now == nil {
		mgr.now = time.Now
	}
	return mgr, nil
}

// Events returns the bus lifecycle events are published on.
func (mgr *DlcManager) Events() *eventbus.EventBus { return mgr.events }

// Params returns the chain the manager negotiates on.
func (mgr *DlcManager) Params() *chaincfg.Params { return mgr.params }

// loadContract fetches id and checks its state.
func (mgr *DlcManager) loadContract(id dlcstate.ContractID, want ...dlcstate.ContractState) (*dlcstate.Contract, error) {
	c, err := mgr.store.GetContract(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &dlccore.ProtocolError{Msg: fmt.Sprintf("contract %s", id), Err: dlccore.ErrNotFound}
	}
	for _, s := range want {
		if c.State == s {
			return c, nil
		}
	}
	return nil, dlccore.Protocolf("contract %s is %s", id, c.State)
}

// loadChannel fetches id and checks its state.
func (mgr *DlcManager) loadChannel(id dlcstate.ChannelID, want dlcstate.ChannelState) (*dlcstate.Channel, error) {
	ch, err := mgr.store.GetChannel(id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, &dlccore.ProtocolError{Msg: fmt.Sprintf("channel %s", id), Err: dlccore.ErrNotFound}
	}
	if ch.State != want {
		return nil, dlccore.Protocolf("channel %s is %s, want %s", id, ch.State, want)
	}
	return ch, nil
}

// updateContract checks the transition, stores next and publishes it.
func (mgr *DlcManager) updateContract(prev dlcstate.ContractState, next *dlcstate.Contract) error {
	if !prev.CanTransition(next.State) {
		return dlccore.Protocolf("contract %s cannot go from %s to %s", next.ID(), prev, next.State)
	}
	if err := mgr.store.UpdateContract(next); err != nil {
		return err
	}
	mgr.publishContract(prev, next, false)
	return nil
}

// upsertChannel checks the transitions of both records and stores them
// together.
func (mgr *DlcManager) upsertChannel(prevCh *dlcstate.Channel, next *dlcstate.Channel,
	prevC *dlcstate.ContractState, c *dlcstate.Contract) error {

	if prevCh != nil && prevCh.State != next.State && !prevCh.State.CanTransition(next.State) {
		return dlccore.Protocolf("channel %s cannot go from %s to %s", next.ID(), prevCh.State, next.State)
	}
	if prevCh != nil && prevCh.State == dlcstate.ChannelSigned && next.State == dlcstate.ChannelSigned {
		from, to := prevCh.Signed.Substate.Kind, next.Signed.Substate.Kind
		if from != to && !from.CanTransition(to) {
			return dlccore.Protocolf("channel %s cannot go from %s to %s", next.ID(), from, to)
		}
	}
	if prevC != nil && c != nil && !prevC.CanTransition(c.State) {
		return dlccore.Protocolf("contract %s cannot go from %s to %s", c.ID(), *prevC, c.State)
	}
	if err := mgr.store.UpsertChannel(next, c); err != nil {
		return err
	}
	mgr.publishChannel(prevCh, next)
	if c != nil {
		if prevC != nil {
			mgr.publishContract(*prevC, c, false)
		} else {
			mgr.publishContract(c.State, c, true)
		}
	}
	return nil
}

func (mgr *DlcManager) publishContract(prev dlcstate.ContractState, c *dlcstate.Contract, created bool) {
	ev := ContractStateEvent{
		ContractID:   c.ID(),
		TemporaryID:  c.TemporaryID(),
		CounterParty: c.CounterParty(),
		Previous:     prev,
		State:        c.State,
		Created:      created,
	}
	logging.WithFields(ev.fields()).Infof("contract %s", c.State)
	if _, err := mgr.events.Publish(ev); err != nil {
		logging.Warnf("dlc: publish contract event: %v", err)
	}
}

func (mgr *DlcManager) publishChannel(prev *dlcstate.Channel, ch *dlcstate.Channel) {
	ev := ChannelStateEvent{
		ChannelID:    ch.ID(),
		TemporaryID:  ch.TemporaryID(),
		CounterParty: ch.CounterParty(),
		State:        ch.State,
		Created:      prev == nil,
	}
	if prev != nil {
		ev.Previous = prev.State
	}
	if ch.State == dlcstate.ChannelSigned {
		k := ch.Signed.Substate.Kind
		ev.Substate = &k
	}
	logging.WithFields(ev.fields()).Infof("channel %s", ch.State)
	if _, err := mgr.events.Publish(ev); err != nil {
		logging.Warnf("dlc: publish channel event: %v", err)
	}
}
