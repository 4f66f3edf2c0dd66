package dlcstate

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Message types on the wire. The first byte of Bytes() is always one of these.
const (
	MSGID_OFFER_DLC  = 0xA0
	MSGID_ACCEPT_DLC = 0xA1
	MSGID_SIGN_DLC   = 0xA2
	MSGID_REJECT_DLC = 0xA3

	MSGID_OFFER_CHANNEL      = 0xB0
	MSGID_ACCEPT_CHANNEL     = 0xB1
	MSGID_SIGN_CHANNEL       = 0xB2
	MSGID_REJECT_CHANNEL     = 0xB3
	MSGID_COLLAB_CLOSE_OFFER = 0xB4
)

// ProtocolVersion is sent in every negotiation message.
const ProtocolVersion = 1

// Message is a DLC protocol message.
type Message interface {
	MsgType() uint8
	Bytes() []byte
}

// MessageFromBytes decodes any message produced by Bytes.
func MessageFromBytes(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	r := newReader(b[1:])
	var m Message
	switch b[0] {
	case MSGID_OFFER_DLC:
		m = readOfferDlc(r)
	case MSGID_ACCEPT_DLC:
		m = readAcceptDlc(r)
	case MSGID_SIGN_DLC:
		m = readSignDlc(r)
	case MSGID_REJECT_DLC:
		m = readRejectDlc(r)
	case MSGID_OFFER_CHANNEL:
		m = readOfferChannel(r)
	case MSGID_ACCEPT_CHANNEL:
		m = readAcceptChannel(r)
	case MSGID_SIGN_CHANNEL:
		m = readSignChannel(r)
	case MSGID_REJECT_CHANNEL:
		m = readRejectChannel(r)
	case MSGID_COLLAB_CLOSE_OFFER:
		m = readCollaborativeCloseOffer(r)
	default:
		return nil, fmt.Errorf("unknown message type %x", b[0])
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("decode message %x: %w", b[0], err)
	}
	return m, nil
}

func msgBytes(t uint8, write func(*bytes.Buffer)) []byte {
	var b bytes.Buffer
	b.WriteByte(t)
	write(&b)
	return b.Bytes()
}

// OfferDlc proposes a contract.
type OfferDlc struct {
	ProtocolVersion     uint32
	ChainHash           chainhash.Hash
	TemporaryContractID ContractID
	ContractInfo        ContractInfo
	OfferParams         PartyParams
	TotalCollateral     uint64
	FundOutputSerialID  uint64
	FeeRatePerVb        uint64
	CetLocktime         uint32
	RefundLocktime      uint32
}

func (m *OfferDlc) MsgType() uint8 { return MSGID_OFFER_DLC }
func (m *OfferDlc) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *OfferDlc) write(b *bytes.Buffer) {
	putU32(b, m.ProtocolVersion)
	b.Write(m.ChainHash[:])
	b.Write(m.TemporaryContractID[:])
	writeContractInfo(b, &m.ContractInfo)
	writePartyParams(b, &m.OfferParams)
	putU64(b, m.TotalCollateral)
	putU64(b, m.FundOutputSerialID)
	putU64(b, m.FeeRatePerVb)
	putU32(b, m.CetLocktime)
	putU32(b, m.RefundLocktime)
}

func readOfferDlc(r *reader) *OfferDlc {
	m := new(OfferDlc)
	m.ProtocolVersion = r.u32()
	m.ChainHash = r.hash()
	r.fixed(m.TemporaryContractID[:])
	m.ContractInfo = readContractInfo(r)
	m.OfferParams = readPartyParams(r)
	m.TotalCollateral = r.u64()
	m.FundOutputSerialID = r.u64()
	m.FeeRatePerVb = r.u64()
	m.CetLocktime = r.u32()
	m.RefundLocktime = r.u32()
	return m
}

// AcceptDlc answers an offer with the accepter's funding and signatures.
type AcceptDlc struct {
	ProtocolVersion     uint32
	TemporaryContractID ContractID
	AcceptParams        PartyParams
	CetSignatures       CetSignatures
}

func (m *AcceptDlc) MsgType() uint8 { return MSGID_ACCEPT_DLC }
func (m *AcceptDlc) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *AcceptDlc) write(b *bytes.Buffer) {
	putU32(b, m.ProtocolVersion)
	b.Write(m.TemporaryContractID[:])
	writePartyParams(b, &m.AcceptParams)
	writeCetSignatures(b, &m.CetSignatures)
}

func readAcceptDlc(r *reader) *AcceptDlc {
	m := new(AcceptDlc)
	m.ProtocolVersion = r.u32()
	r.fixed(m.TemporaryContractID[:])
	m.AcceptParams = readPartyParams(r)
	m.CetSignatures = readCetSignatures(r)
	return m
}

// SignDlc completes the negotiation with the offerer's signatures.
// FundingSignatures holds one serialized witness per offerer input, in
// funding transaction order.
type SignDlc struct {
	ProtocolVersion   uint32
	ContractID        ContractID
	CetSignatures     CetSignatures
	FundingSignatures [][]byte
}

func (m *SignDlc) MsgType() uint8 { return MSGID_SIGN_DLC }
func (m *SignDlc) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *SignDlc) write(b *bytes.Buffer) {
	putU32(b, m.ProtocolVersion)
	b.Write(m.ContractID[:])
	writeCetSignatures(b, &m.CetSignatures)
	putByteList(b, m.FundingSignatures)
}

func readSignDlc(r *reader) *SignDlc {
	m := new(SignDlc)
	m.ProtocolVersion = r.u32()
	r.fixed(m.ContractID[:])
	m.CetSignatures = readCetSignatures(r)
	m.FundingSignatures = r.byteList()
	return m
}

// RejectDlc declines an offer.
type RejectDlc struct {
	ContractID ContractID
}

func (m *RejectDlc) MsgType() uint8 { return MSGID_REJECT_DLC }
func (m *RejectDlc) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *RejectDlc) write(b *bytes.Buffer) { b.Write(m.ContractID[:]) }

func readRejectDlc(r *reader) *RejectDlc {
	m := new(RejectDlc)
	r.fixed(m.ContractID[:])
	return m
}

// OfferChannel proposes a channel funding its first contract.
type OfferChannel struct {
	ProtocolVersion     uint32
	ChainHash           chainhash.Hash
	TemporaryChannelID  ChannelID
	TemporaryContractID ContractID
	ContractInfo        ContractInfo
	OfferParams         PartyParams
	TotalCollateral     uint64
	FundOutputSerialID  uint64
	FeeRatePerVb        uint64
	CetLocktime         uint32
	RefundLocktime      uint32
	CetNsequence        uint32
}

func (m *OfferChannel) MsgType() uint8 { return MSGID_OFFER_CHANNEL }
func (m *OfferChannel) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *OfferChannel) write(b *bytes.Buffer) {
	putU32(b, m.ProtocolVersion)
	b.Write(m.ChainHash[:])
	b.Write(m.TemporaryChannelID[:])
	b.Write(m.TemporaryContractID[:])
	writeContractInfo(b, &m.ContractInfo)
	writePartyParams(b, &m.OfferParams)
	putU64(b, m.TotalCollateral)
	putU64(b, m.FundOutputSerialID)
	putU64(b, m.FeeRatePerVb)
	putU32(b, m.CetLocktime)
	putU32(b, m.RefundLocktime)
	putU32(b, m.CetNsequence)
}

func readOfferChannel(r *reader) *OfferChannel {
	m := new(OfferChannel)
	m.ProtocolVersion = r.u32()
	m.ChainHash = r.hash()
	r.fixed(m.TemporaryChannelID[:])
	r.fixed(m.TemporaryContractID[:])
	m.ContractInfo = readContractInfo(r)
	m.OfferParams = readPartyParams(r)
	m.TotalCollateral = r.u64()
	m.FundOutputSerialID = r.u64()
	m.FeeRatePerVb = r.u64()
	m.CetLocktime = r.u32()
	m.RefundLocktime = r.u32()
	m.CetNsequence = r.u32()
	return m
}

// AcceptChannel answers a channel offer.
type AcceptChannel struct {
	TemporaryChannelID ChannelID
	AcceptParams       PartyParams
	CetSignatures      CetSignatures
}

func (m *AcceptChannel) MsgType() uint8 { return MSGID_ACCEPT_CHANNEL }
func (m *AcceptChannel) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *AcceptChannel) write(b *bytes.Buffer) {
	b.Write(m.TemporaryChannelID[:])
	writePartyParams(b, &m.AcceptParams)
	writeCetSignatures(b, &m.CetSignatures)
}

func readAcceptChannel(r *reader) *AcceptChannel {
	m := new(AcceptChannel)
	r.fixed(m.TemporaryChannelID[:])
	m.AcceptParams = readPartyParams(r)
	m.CetSignatures = readCetSignatures(r)
	return m
}

// SignChannel completes channel establishment.
type SignChannel struct {
	ChannelID         ChannelID
	CetSignatures     CetSignatures
	FundingSignatures [][]byte
}

func (m *SignChannel) MsgType() uint8 { return MSGID_SIGN_CHANNEL }
func (m *SignChannel) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *SignChannel) write(b *bytes.Buffer) {
	b.Write(m.ChannelID[:])
	writeCetSignatures(b, &m.CetSignatures)
	putByteList(b, m.FundingSignatures)
}

func readSignChannel(r *reader) *SignChannel {
	m := new(SignChannel)
	r.fixed(m.ChannelID[:])
	m.CetSignatures = readCetSignatures(r)
	m.FundingSignatures = r.byteList()
	return m
}

// RejectChannel declines a channel offer.
type RejectChannel struct {
	TemporaryChannelID ChannelID
}

func (m *RejectChannel) MsgType() uint8 { return MSGID_REJECT_CHANNEL }
func (m *RejectChannel) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *RejectChannel) write(b *bytes.Buffer) { b.Write(m.TemporaryChannelID[:]) }

func readRejectChannel(r *reader) *RejectChannel {
	m := new(RejectChannel)
	r.fixed(m.TemporaryChannelID[:])
	return m
}

// CollaborativeCloseOffer proposes closing a channel cooperatively, paying
// CounterPayout to the receiver.
type CollaborativeCloseOffer struct {
	ChannelID      ChannelID
	CounterPayout  uint64
	CloseSignature [64]byte
}

func (m *CollaborativeCloseOffer) MsgType() uint8 { return MSGID_COLLAB_CLOSE_OFFER }
func (m *CollaborativeCloseOffer) Bytes() []byte { return msgBytes(m.MsgType(), m.write) }

func (m *CollaborativeCloseOffer) write(b *bytes.Buffer) {
	b.Write(m.ChannelID[:])
	putU64(b, m.CounterPayout)
	b.Write(m.CloseSignature[:])
}

func readCollaborativeCloseOffer(r *reader) *CollaborativeCloseOffer {
	m := new(CollaborativeCloseOffer)
	r.fixed(m.ChannelID[:])
	m.CounterPayout = r.u64()
	r.fixed(m.CloseSignature[:])
	return m
}
