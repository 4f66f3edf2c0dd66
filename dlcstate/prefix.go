package dlcstate

import (
	"errors"
	"fmt"
)

// ErrUnknownPrefix is returned for a record whose type or substate byte
// is not in the tables below.
var ErrUnknownPrefix = errors.New("unknown record prefix")

// These tables are the on-disk tags. They must never be renumbered.
var contractPrefixes = [...]struct {
	state  ContractState
	prefix byte
}{
	{ContractOffered, 1},
	{ContractAccepted, 2},
	{ContractSigned, 3},
	{ContractConfirmed, 4},
	{ContractPreClosed, 5},
	{ContractClosed, 6},
	{ContractFailedAccept, 7},
	{ContractFailedSign, 8},
	{ContractRefunded, 9},
	{ContractRejected, 10},
}

var channelPrefixes = [...]struct {
	state  ChannelState
	prefix byte
}{
	{ChannelOffered, 100},
	{ChannelAccepted, 101},
	{ChannelSigned, 102},
	{ChannelFailedAccept, 103},
	{ChannelFailedSign, 104},
	{ChannelClosing, 105},
	{ChannelClosed, 106},
	{ChannelCounterClosed, 107},
	{ChannelClosedPunished, 108},
	{ChannelCollaborativelyClosed, 109},
	{ChannelCancelled, 110},
}

var substatePrefixes = [...]struct {
	kind   SignedSubstateKind
	prefix byte
}{
	{SubstateEstablished, 1},
	{SubstateSettledOffered, 2},
	{SubstateSettledReceived, 3},
	{SubstateSettledAccepted, 4},
	{SubstateSettledConfirmed, 5},
	{SubstateSettled, 6},
	{SubstateClosing, 7},
	{SubstateCollaborativeCloseOffered, 8},
	{SubstateRenewAccepted, 9},
	{SubstateRenewOffered, 10},
	{SubstateRenewFinalized, 11},
	{SubstateRenewConfirmed, 12},
}

// ContractPrefix returns the record tag for a contract state.
func ContractPrefix(s ContractState) byte {
	for _, e := range contractPrefixes {
		if e.state == s {
			return e.prefix
		}
	}
	panic(fmt.Sprintf("no prefix for contract state %d", uint8(s)))
}

// ContractStateFromPrefix is the inverse of ContractPrefix.
func ContractStateFromPrefix(p byte) (ContractState, error) {
	for _, e := range contractPrefixes {
		if e.prefix == p {
			return e.state, nil
		}
	}
	return 0, fmt.Errorf("%w: contract prefix %d", ErrUnknownPrefix, p)
}

// ChannelPrefix returns the record tag for a channel state.
func ChannelPrefix(s ChannelState) byte {
	for _, e := range channelPrefixes {
		if e.state == s {
			return e.prefix
		}
	}
	panic(fmt.Sprintf("no prefix for channel state %d", uint8(s)))
}

// ChannelStateFromPrefix is the inverse of ChannelPrefix.
func ChannelStateFromPrefix(p byte) (ChannelState, error) {
	for _, e := range channelPrefixes {
		if e.prefix == p {
			return e.state, nil
		}
	}
	return 0, fmt.Errorf("%w: channel prefix %d", ErrUnknownPrefix, p)
}

// SubstatePrefix returns the record tag for a signed channel substate.
func SubstatePrefix(k SignedSubstateKind) byte {
	for _, e := range substatePrefixes {
		if e.kind == k {
			return e.prefix
		}
	}
	panic(fmt.Sprintf("no prefix for substate %d", uint8(k)))
}

// SubstateFromPrefix is the inverse of SubstatePrefix.
func SubstateFromPrefix(p byte) (SignedSubstateKind, error) {
	for _, e := range substatePrefixes {
		if e.prefix == p {
			return e.kind, nil
		}
	}
	return 0, fmt.Errorf("%w: substate prefix %d", ErrUnknownPrefix, p)
}
