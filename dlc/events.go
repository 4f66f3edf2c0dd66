package dlc

import (
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/eventbus"
	"github.com/sirupsen/logrus"
)

// Event names on the bus.
const (
	ContractStateEventName = "dlc.contract.state"
	ChannelStateEventName  = "dlc.channel.state"
)

// ContractStateEvent is published after a contract change is committed.
// Handlers run on the manager goroutine and must not call back into the
// node.
type ContractStateEvent struct {
	ContractID   dlcstate.ContractID
	TemporaryID  dlcstate.ContractID
	CounterParty dlcstate.PubKey
	Previous     dlcstate.ContractState
	State        dlcstate.ContractState
	// Created is set for the first record of a contract; Previous is then
	// meaningless.
	Created bool
}

func (ContractStateEvent) Name() string { return ContractStateEventName }

func (ContractStateEvent) Flags() uint8 { return eventbus.EFLAG_UNCANCELLABLE }

func (e ContractStateEvent) fields() logrus.Fields {
	return logrus.Fields{
		"contract":     e.ContractID.String(),
		"counterparty": e.CounterParty.String(),
		"from":         e.Previous.String(),
	}
}

// ChannelStateEvent is published after a channel change is committed.
type ChannelStateEvent struct {
	ChannelID    dlcstate.ChannelID
	TemporaryID  dlcstate.ChannelID
	CounterParty dlcstate.PubKey
	Previous     dlcstate.ChannelState
	State        dlcstate.ChannelState
	Substate     *dlcstate.SignedSubstateKind
	Created      bool
}

func (ChannelStateEvent) Name() string { return ChannelStateEventName }

func (ChannelStateEvent) Flags() uint8 { return eventbus.EFLAG_UNCANCELLABLE }

func (e ChannelStateEvent) fields() logrus.Fields {
	f := logrus.Fields{
		"channel":      e.ChannelID.String(),
		"counterparty": e.CounterParty.String(),
	}
	if e.Substate != nil {
		f["substate"] = e.Substate.String()
	}
	return f
}
