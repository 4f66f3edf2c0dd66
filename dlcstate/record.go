package dlcstate

import (
	"bytes"
	"fmt"
)

// SerializeContract encodes c as type prefix followed by its payload.
func SerializeContract(c *Contract) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteByte(ContractPrefix(c.State))
	switch c.State {
	case ContractOffered, ContractRejected:
		writeOfferedContract(&b, c.Offered)
	case ContractAccepted:
		writeAcceptedContract(&b, c.Accepted)
	case ContractSigned, ContractConfirmed, ContractRefunded:
		writeSignedContract(&b, c.Signed)
	case ContractPreClosed:
		writePreClosedContract(&b, c.PreClosed)
	case ContractClosed:
		writeClosedContract(&b, c.Closed)
	case ContractFailedAccept:
		writeFailedAcceptContract(&b, c.FailedAccept)
	case ContractFailedSign:
		writeFailedSignContract(&b, c.FailedSign)
	}
	return b.Bytes(), nil
}

// DeserializeContract decodes a full contract record.
func DeserializeContract(p []byte) (*Contract, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty contract record")
	}
	state, err := ContractStateFromPrefix(p[0])
	if err != nil {
		return nil, err
	}
	return DecodeContractPayload(state, p[1:])
}

// DecodeContractPayload decodes the bytes after the prefix of a record
// already known to be in state.
func DecodeContractPayload(state ContractState, payload []byte) (*Contract, error) {
	r := newReader(payload)
	c := &Contract{State: state}
	switch state {
	case ContractOffered, ContractRejected:
		c.Offered = readOfferedContract(r)
	case ContractAccepted:
		c.Accepted = readAcceptedContract(r)
	case ContractSigned, ContractConfirmed, ContractRefunded:
		c.Signed = readSignedContract(r)
	case ContractPreClosed:
		c.PreClosed = readPreClosedContract(r)
	case ContractClosed:
		c.Closed = readClosedContract(r)
	case ContractFailedAccept:
		c.FailedAccept = readFailedAcceptContract(r)
	case ContractFailedSign:
		c.FailedSign = readFailedSignContract(r)
	default:
		return nil, fmt.Errorf("%w: contract state %d", ErrUnknownPrefix, uint8(state))
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("decode %s contract: %w", state, err)
	}
	return c, nil
}

// SerializeChannel encodes c. Signed channels carry the substate tag as a
// second prefix byte so stores can filter on it.
func SerializeChannel(c *Channel) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteByte(ChannelPrefix(c.State))
	switch c.State {
	case ChannelOffered, ChannelCancelled:
		writeOfferedChannel(&b, c.Offered)
	case ChannelAccepted:
		writeAcceptedChannel(&b, c.Accepted)
	case ChannelSigned:
		b.WriteByte(SubstatePrefix(c.Signed.Substate.Kind))
		writeSignedChannel(&b, c.Signed)
	case ChannelFailedAccept:
		writeFailedAcceptChannel(&b, c.FailedAccept)
	case ChannelFailedSign:
		writeFailedSignChannel(&b, c.FailedSign)
	case ChannelClosing:
		writeClosingChannel(&b, c.Closing)
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		writeClosedChannel(&b, c.Closed)
	case ChannelClosedPunished:
		writeClosedPunishedChannel(&b, c.ClosedPunished)
	}
	return b.Bytes(), nil
}

// DeserializeChannel decodes a full channel record, checking that the
// substate tag of a signed channel agrees with its payload.
func DeserializeChannel(p []byte) (*Channel, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty channel record")
	}
	state, err := ChannelStateFromPrefix(p[0])
	if err != nil {
		return nil, err
	}
	payload := p[1:]
	if state != ChannelSigned {
		return DecodeChannelPayload(state, payload)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("signed channel record has no substate byte")
	}
	kind, err := SubstateFromPrefix(payload[0])
	if err != nil {
		return nil, err
	}
	c, err := DecodeChannelPayload(state, payload[1:])
	if err != nil {
		return nil, err
	}
	if c.Signed.Substate.Kind != kind {
		return nil, fmt.Errorf("substate tag %s disagrees with payload %s",
			kind, c.Signed.Substate.Kind)
	}
	return c, nil
}

// DecodeChannelPayload decodes the bytes after all prefix bytes.
func DecodeChannelPayload(state ChannelState, payload []byte) (*Channel, error) {
	r := newReader(payload)
	c := &Channel{State: state}
	switch state {
	case ChannelOffered, ChannelCancelled:
		c.Offered = readOfferedChannel(r)
	case ChannelAccepted:
		c.Accepted = readAcceptedChannel(r)
	case ChannelSigned:
		c.Signed = readSignedChannel(r)
	case ChannelFailedAccept:
		c.FailedAccept = readFailedAcceptChannel(r)
	case ChannelFailedSign:
		c.FailedSign = readFailedSignChannel(r)
	case ChannelClosing:
		c.Closing = readClosingChannel(r)
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		c.Closed = readClosedChannel(r)
	case ChannelClosedPunished:
		c.ClosedPunished = readClosedPunishedChannel(r)
	default:
		return nil, fmt.Errorf("%w: channel state %d", ErrUnknownPrefix, uint8(state))
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("decode %s channel: %w", state, err)
	}
	return c, nil
}
