package dlcstate

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChannelState is the lifecycle stage of a channel.
type ChannelState uint8

const (
	ChannelOffered ChannelState = iota
	ChannelAccepted
	ChannelSigned
	ChannelFailedAccept
	ChannelFailedSign
	ChannelClosing
	ChannelClosed
	ChannelCounterClosed
	ChannelClosedPunished
	ChannelCollaborativelyClosed
	ChannelCancelled
)

var channelStateNames = [...]string{
	ChannelOffered:               "Offered",
	ChannelAccepted:              "Accepted",
	ChannelSigned:                "Signed",
	ChannelFailedAccept:          "FailedAccept",
	ChannelFailedSign:            "FailedSign",
	ChannelClosing:               "Closing",
	ChannelClosed:                "Closed",
	ChannelCounterClosed:         "CounterClosed",
	ChannelClosedPunished:        "ClosedPunished",
	ChannelCollaborativelyClosed: "CollaborativelyClosed",
	ChannelCancelled:             "Cancelled",
}

func (s ChannelState) String() string {
	if int(s) < len(channelStateNames) {
		return channelStateNames[s]
	}
	return fmt.Sprintf("ChannelState(%d)", uint8(s))
}

// SignedSubstateKind is the sub-state of a Signed channel.
type SignedSubstateKind uint8

const (
	SubstateEstablished SignedSubstateKind = iota
	SubstateSettledOffered
	SubstateSettledReceived
	SubstateSettledAccepted
	SubstateSettledConfirmed
	SubstateSettled
	SubstateRenewOffered
	SubstateRenewAccepted
	SubstateRenewConfirmed
	SubstateRenewFinalized
	SubstateClosing
	SubstateCollaborativeCloseOffered
)

var substateNames = [...]string{
	SubstateEstablished:               "Established",
	SubstateSettledOffered:            "SettledOffered",
	SubstateSettledReceived:           "SettledReceived",
	SubstateSettledAccepted:           "SettledAccepted",
	SubstateSettledConfirmed:          "SettledConfirmed",
	SubstateSettled:                   "Settled",
	SubstateRenewOffered:              "RenewOffered",
	SubstateRenewAccepted:             "RenewAccepted",
	SubstateRenewConfirmed:            "RenewConfirmed",
	SubstateRenewFinalized:            "RenewFinalized",
	SubstateClosing:                   "Closing",
	SubstateCollaborativeCloseOffered: "CollaborativeCloseOffered",
}

func (k SignedSubstateKind) String() string {
	if int(k) < len(substateNames) {
		return substateNames[k]
	}
	return fmt.Sprintf("SignedSubstateKind(%d)", uint8(k))
}

// SignedSubstate carries the fields of every sub-state; which of them are
// meaningful depends on Kind.
type SignedSubstate struct {
	Kind SignedSubstateKind
	// ContractID is the contract a renew is moving to.
	ContractID     ContractID
	OwnPayout      uint64
	CounterPayout  uint64
	IsOfferer      bool
	CloseTx        *wire.MsgTx
	CloseSignature [64]byte
	Timeout        uint64
}

// OfferedChannel is a proposed channel. It is keyed by its temporary id.
type OfferedChannel struct {
	TemporaryChannelID     ChannelID
	TemporaryContractID    ContractID
	CounterParty           PubKey
	IsOfferParty           bool
	CounterPartyCollateral uint64
	CetNsequence           uint32
	FeeRatePerVb           uint64
}

// AcceptedChannel has a funding transaction and a computed id.
type AcceptedChannel struct {
	Offered           *OfferedChannel
	ChannelID         ChannelID
	ContractID        ContractID
	FundTx            *wire.MsgTx
	FundOutputIndex   uint16
	FundScript        []byte
	OwnFundPubKey     PubKey
	CounterFundPubKey PubKey
}

// SignedChannel is an open channel.
type SignedChannel struct {
	ChannelID          ChannelID
	TemporaryChannelID ChannelID
	CounterParty       PubKey
	IsOfferParty       bool
	ContractID         ContractID
	FundTx             *wire.MsgTx
	FundOutputIndex    uint16
	FundScript         []byte
	OwnFundPubKey      PubKey
	CounterFundPubKey  PubKey
	CetNsequence       uint32
	FeeRatePerVb       uint64
	UpdateIdx          uint64
	Substate           SignedSubstate
}

// FailedAcceptChannel records an accept that did not verify.
type FailedAcceptChannel struct {
	TemporaryChannelID ChannelID
	CounterParty       PubKey
	Error              string
}

// FailedSignChannel records a sign that did not verify.
type FailedSignChannel struct {
	ChannelID          ChannelID
	TemporaryChannelID ChannelID
	CounterParty       PubKey
	Error              string
}

// ClosingChannel has its buffer transaction broadcast.
type ClosingChannel struct {
	ChannelID          ChannelID
	TemporaryChannelID ChannelID
	CounterParty       PubKey
	ContractID         ContractID
	BufferTx           *wire.MsgTx
	IsClosingParty     bool
}

// ClosedChannel is a closed channel. Closed, CounterClosed and
// CollaborativelyClosed share it.
type ClosedChannel struct {
	ChannelID          ChannelID
	TemporaryChannelID ChannelID
	CounterParty       PubKey
}

// ClosedPunishedChannel is closed after a revoked state was punished.
type ClosedPunishedChannel struct {
	ChannelID          ChannelID
	TemporaryChannelID ChannelID
	CounterParty       PubKey
	PunishTxID         chainhash.Hash
}

// Channel is a tagged union like Contract. Offered and Cancelled share
// Offered; Closed, CounterClosed and CollaborativelyClosed share Closed.
type Channel struct {
	State          ChannelState
	Offered        *OfferedChannel
	Accepted       *AcceptedChannel
	Signed         *SignedChannel
	FailedAccept   *FailedAcceptChannel
	FailedSign     *FailedSignChannel
	Closing        *ClosingChannel
	Closed         *ClosedChannel
	ClosedPunished *ClosedPunishedChannel
}

// ID is the storage key of the channel.
func (c *Channel) ID() ChannelID {
	switch c.State {
	case ChannelOffered, ChannelCancelled:
		return c.Offered.TemporaryChannelID
	case ChannelAccepted:
		return c.Accepted.ChannelID
	case ChannelSigned:
		return c.Signed.ChannelID
	case ChannelFailedAccept:
		return c.FailedAccept.TemporaryChannelID
	case ChannelFailedSign:
		return c.FailedSign.ChannelID
	case ChannelClosing:
		return c.Closing.ChannelID
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		return c.Closed.ChannelID
	case ChannelClosedPunished:
		return c.ClosedPunished.ChannelID
	}
	return ChannelID{}
}

// TemporaryID is the id chosen at offer time.
func (c *Channel) TemporaryID() ChannelID {
	switch c.State {
	case ChannelOffered, ChannelCancelled:
		return c.Offered.TemporaryChannelID
	case ChannelAccepted:
		return c.Accepted.Offered.TemporaryChannelID
	case ChannelSigned:
		return c.Signed.TemporaryChannelID
	case ChannelFailedAccept:
		return c.FailedAccept.TemporaryChannelID
	case ChannelFailedSign:
		return c.FailedSign.TemporaryChannelID
	case ChannelClosing:
		return c.Closing.TemporaryChannelID
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		return c.Closed.TemporaryChannelID
	case ChannelClosedPunished:
		return c.ClosedPunished.TemporaryChannelID
	}
	return ChannelID{}
}

// CounterParty is the remote peer.
func (c *Channel) CounterParty() PubKey {
	switch c.State {
	case ChannelOffered, ChannelCancelled:
		return c.Offered.CounterParty
	case ChannelAccepted:
		return c.Accepted.Offered.CounterParty
	case ChannelSigned:
		return c.Signed.CounterParty
	case ChannelFailedAccept:
		return c.FailedAccept.CounterParty
	case ChannelFailedSign:
		return c.FailedSign.CounterParty
	case ChannelClosing:
		return c.Closing.CounterParty
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		return c.Closed.CounterParty
	case ChannelClosedPunished:
		return c.ClosedPunished.CounterParty
	}
	return PubKey{}
}

// IsRekeyed reports whether storing c moves it off its temporary id.
func (c *Channel) IsRekeyed() bool {
	return c.State == ChannelAccepted || c.State == ChannelSigned
}

func (c *Channel) check() error {
	var ok bool
	switch c.State {
	case ChannelOffered, ChannelCancelled:
		ok = c.Offered != nil
	case ChannelAccepted:
		ok = c.Accepted != nil && c.Accepted.Offered != nil
	case ChannelSigned:
		ok = c.Signed != nil
		if ok && int(c.Signed.Substate.Kind) >= len(substateNames) {
			return fmt.Errorf("%w: signed substate %d", ErrUnknownPrefix, uint8(c.Signed.Substate.Kind))
		}
	case ChannelFailedAccept:
		ok = c.FailedAccept != nil
	case ChannelFailedSign:
		ok = c.FailedSign != nil
	case ChannelClosing:
		ok = c.Closing != nil
	case ChannelClosed, ChannelCounterClosed, ChannelCollaborativelyClosed:
		ok = c.Closed != nil
	case ChannelClosedPunished:
		ok = c.ClosedPunished != nil
	default:
		return fmt.Errorf("%w: channel state %d", ErrUnknownPrefix, uint8(c.State))
	}
	if !ok {
		return fmt.Errorf("channel in state %s is missing its payload", c.State)
	}
	return nil
}

func writeOfferedChannel(b *bytes.Buffer, o *OfferedChannel) {
	b.Write(o.TemporaryChannelID[:])
	b.Write(o.TemporaryContractID[:])
	b.Write(o.CounterParty[:])
	putBool(b, o.IsOfferParty)
	putU64(b, o.CounterPartyCollateral)
	putU32(b, o.CetNsequence)
	putU64(b, o.FeeRatePerVb)
}

func readOfferedChannel(r *reader) *OfferedChannel {
	o := new(OfferedChannel)
	r.fixed(o.TemporaryChannelID[:])
	r.fixed(o.TemporaryContractID[:])
	r.fixed(o.CounterParty[:])
	o.IsOfferParty = r.boolean()
	o.CounterPartyCollateral = r.u64()
	o.CetNsequence = r.u32()
	o.FeeRatePerVb = r.u64()
	return o
}

func writeAcceptedChannel(b *bytes.Buffer, a *AcceptedChannel) {
	writeOfferedChannel(b, a.Offered)
	b.Write(a.ChannelID[:])
	b.Write(a.ContractID[:])
	putTx(b, a.FundTx)
	putU16(b, a.FundOutputIndex)
	putVarBytes(b, a.FundScript)
	b.Write(a.OwnFundPubKey[:])
	b.Write(a.CounterFundPubKey[:])
}

func readAcceptedChannel(r *reader) *AcceptedChannel {
	a := &AcceptedChannel{Offered: readOfferedChannel(r)}
	r.fixed(a.ChannelID[:])
	r.fixed(a.ContractID[:])
	a.FundTx = r.tx()
	a.FundOutputIndex = r.u16()
	a.FundScript = r.varBytes()
	r.fixed(a.OwnFundPubKey[:])
	r.fixed(a.CounterFundPubKey[:])
	return a
}

func writeSubstate(b *bytes.Buffer, s *SignedSubstate) {
	b.WriteByte(byte(s.Kind))
	b.Write(s.ContractID[:])
	putU64(b, s.OwnPayout)
	putU64(b, s.CounterPayout)
	putBool(b, s.IsOfferer)
	putTx(b, s.CloseTx)
	b.Write(s.CloseSignature[:])
	putU64(b, s.Timeout)
}

func readSubstate(r *reader) SignedSubstate {
	var s SignedSubstate
	s.Kind = SignedSubstateKind(r.u8())
	if r.err == nil && int(s.Kind) >= len(substateNames) {
		r.fail(fmt.Errorf("%w: signed substate %d", ErrUnknownPrefix, uint8(s.Kind)))
	}
	r.fixed(s.ContractID[:])
	s.OwnPayout = r.u64()
	s.CounterPayout = r.u64()
	s.IsOfferer = r.boolean()
	s.CloseTx = r.tx()
	r.fixed(s.CloseSignature[:])
	s.Timeout = r.u64()
	return s
}

func writeSignedChannel(b *bytes.Buffer, s *SignedChannel) {
	b.Write(s.ChannelID[:])
	b.Write(s.TemporaryChannelID[:])
	b.Write(s.CounterParty[:])
	putBool(b, s.IsOfferParty)
	b.Write(s.ContractID[:])
	putTx(b, s.FundTx)
	putU16(b, s.FundOutputIndex)
	putVarBytes(b, s.FundScript)
	b.Write(s.OwnFundPubKey[:])
	b.Write(s.CounterFundPubKey[:])
	putU32(b, s.CetNsequence)
	putU64(b, s.FeeRatePerVb)
	putU64(b, s.UpdateIdx)
	writeSubstate(b, &s.Substate)
}

func readSignedChannel(r *reader) *SignedChannel {
	s := new(SignedChannel)
	r.fixed(s.ChannelID[:])
	r.fixed(s.TemporaryChannelID[:])
	r.fixed(s.CounterParty[:])
	s.IsOfferParty = r.boolean()
	r.fixed(s.ContractID[:])
	s.FundTx = r.tx()
	s.FundOutputIndex = r.u16()
	s.FundScript = r.varBytes()
	r.fixed(s.OwnFundPubKey[:])
	r.fixed(s.CounterFundPubKey[:])
	s.CetNsequence = r.u32()
	s.FeeRatePerVb = r.u64()
	s.UpdateIdx = r.u64()
	s.Substate = readSubstate(r)
	return s
}

func writeFailedAcceptChannel(b *bytes.Buffer, f *FailedAcceptChannel) {
	b.Write(f.TemporaryChannelID[:])
	b.Write(f.CounterParty[:])
	putString(b, f.Error)
}

func readFailedAcceptChannel(r *reader) *FailedAcceptChannel {
	f := new(FailedAcceptChannel)
	r.fixed(f.TemporaryChannelID[:])
	r.fixed(f.CounterParty[:])
	f.Error = r.str()
	return f
}

func writeFailedSignChannel(b *bytes.Buffer, f *FailedSignChannel) {
	b.Write(f.ChannelID[:])
	b.Write(f.TemporaryChannelID[:])
	b.Write(f.CounterParty[:])
	putString(b, f.Error)
}

func readFailedSignChannel(r *reader) *FailedSignChannel {
	f := new(FailedSignChannel)
	r.fixed(f.ChannelID[:])
	r.fixed(f.TemporaryChannelID[:])
	r.fixed(f.CounterParty[:])
	f.Error = r.str()
	return f
}

func writeClosingChannel(b *bytes.Buffer, c *ClosingChannel) {
	b.Write(c.ChannelID[:])
	b.Write(c.TemporaryChannelID[:])
	b.Write(c.CounterParty[:])
	b.Write(c.ContractID[:])
	putTx(b, c.BufferTx)
	putBool(b, c.IsClosingParty)
}

func readClosingChannel(r *reader) *ClosingChannel {
	c := new(ClosingChannel)
	r.fixed(c.ChannelID[:])
	r.fixed(c.TemporaryChannelID[:])
	r.fixed(c.CounterParty[:])
	r.fixed(c.ContractID[:])
	c.BufferTx = r.tx()
	c.IsClosingParty = r.boolean()
	return c
}

func writeClosedChannel(b *bytes.Buffer, c *ClosedChannel) {
	b.Write(c.ChannelID[:])
	b.Write(c.TemporaryChannelID[:])
	b.Write(c.CounterParty[:])
}

func readClosedChannel(r *reader) *ClosedChannel {
	c := new(ClosedChannel)
	r.fixed(c.ChannelID[:])
	r.fixed(c.TemporaryChannelID[:])
	r.fixed(c.CounterParty[:])
	return c
}

func writeClosedPunishedChannel(b *bytes.Buffer, c *ClosedPunishedChannel) {
	writeClosedChannel(b, &ClosedChannel{
		ChannelID:          c.ChannelID,
		TemporaryChannelID: c.TemporaryChannelID,
		CounterParty:       c.CounterParty,
	})
	b.Write(c.PunishTxID[:])
}

func readClosedPunishedChannel(r *reader) *ClosedPunishedChannel {
	cl := readClosedChannel(r)
	return &ClosedPunishedChannel{
		ChannelID:          cl.ChannelID,
		TemporaryChannelID: cl.TemporaryChannelID,
		CounterParty:       cl.CounterParty,
		PunishTxID:         r.hash(),
	}
}
