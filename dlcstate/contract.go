package dlcstate

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ContractState is the lifecycle stage of a contract.
type ContractState uint8

const (
	ContractOffered ContractState = iota
	ContractAccepted
	ContractSigned
	ContractConfirmed
	ContractPreClosed
	ContractClosed
	ContractRefunded
	ContractFailedAccept
	ContractFailedSign
	ContractRejected
)

var contractStateNames = [...]string{
	ContractOffered:      "Offered",
	ContractAccepted:     "Accepted",
	ContractSigned:       "Signed",
	ContractConfirmed:    "Confirmed",
	ContractPreClosed:    "PreClosed",
	ContractClosed:       "Closed",
	ContractRefunded:     "Refunded",
	ContractFailedAccept: "FailedAccept",
	ContractFailedSign:   "FailedSign",
	ContractRejected:     "Rejected",
}

func (s ContractState) String() string {
	if int(s) < len(contractStateNames) {
		return contractStateNames[s]
	}
	return fmt.Sprintf("ContractState(%d)", uint8(s))
}

// OfferedContract is a contract that has been proposed but not accepted.
// ID is the temporary id.
type OfferedContract struct {
	ID                 ContractID
	IsOfferParty       bool
	CounterParty       PubKey
	ContractInfo       ContractInfo
	OfferParams        PartyParams
	TotalCollateral    uint64
	FundOutputSerialID uint64
	FeeRatePerVb       uint64
	CetLocktime        uint32
	RefundLocktime     uint32
}

// AcceptedContract adds the accepting side's parameters and the funding
// transaction both sides derive from them.
type AcceptedContract struct {
	Offered          *OfferedContract
	ContractID       ContractID
	AcceptParams     PartyParams
	FundTx           *wire.MsgTx
	FundOutputIndex  uint16
	FundScript       []byte
	AcceptSignatures CetSignatures
}

// OwnParams returns the local side's party parameters.
func (a *AcceptedContract) OwnParams() *PartyParams {
	if a.Offered.IsOfferParty {
		return &a.Offered.OfferParams
	}
	return &a.AcceptParams
}

// OwnCollateral is the local side's collateral.
func (a *AcceptedContract) OwnCollateral() uint64 { return a.OwnParams().Collateral }

// SignedContract is fully signed; the funding transaction may be unconfirmed.
type SignedContract struct {
	Accepted          *AcceptedContract
	OfferSignatures   CetSignatures
	FundingSignatures [][]byte
}

// PreClosedContract has a CET broadcast that is not yet confirmed.
type PreClosedContract struct {
	Signed       *SignedContract
	Attestations []OracleAttestation
	SignedCet    *wire.MsgTx
}

// ClosedContract is settled on chain.
type ClosedContract struct {
	ContractID   ContractID
	TemporaryID  ContractID
	CounterParty PubKey
	Pnl          int64
	SignedCet    *wire.MsgTx
	Attestations []OracleAttestation
}

// FailedAcceptContract records an accept message that did not verify.
type FailedAcceptContract struct {
	Offered       *OfferedContract
	AcceptMessage *AcceptDlc
	Error         string
}

// FailedSignContract records a sign message that did not verify.
type FailedSignContract struct {
	Accepted    *AcceptedContract
	SignMessage *SignDlc
	Error       string
}

// Contract is a tagged union over the payloads above. Exactly one pointer
// matching State is set. Offered and Rejected share Offered; Signed,
// Confirmed and Refunded share Signed.
type Contract struct {
	State        ContractState
	Offered      *OfferedContract
	Accepted     *AcceptedContract
	Signed       *SignedContract
	PreClosed    *PreClosedContract
	Closed       *ClosedContract
	FailedAccept *FailedAcceptContract
	FailedSign   *FailedSignContract
}

// NewOfferedContract wraps o in the Offered state.
func NewOfferedContract(o *OfferedContract) *Contract {
	return &Contract{State: ContractOffered, Offered: o}
}

// ID is the key the contract is stored under: the temporary id until an
// accept has fixed the funding transaction, the computed id after.
func (c *Contract) ID() ContractID {
	switch c.State {
	case ContractOffered, ContractRejected:
		return c.Offered.ID
	case ContractAccepted:
		return c.Accepted.ContractID
	case ContractSigned, ContractConfirmed, ContractRefunded:
		return c.Signed.Accepted.ContractID
	case ContractPreClosed:
		return c.PreClosed.Signed.Accepted.ContractID
	case ContractClosed:
		return c.Closed.ContractID
	case ContractFailedAccept:
		return c.FailedAccept.Offered.ID
	case ContractFailedSign:
		return c.FailedSign.Accepted.ContractID
	}
	return ContractID{}
}

// TemporaryID is the id chosen at offer time.
func (c *Contract) TemporaryID() ContractID {
	switch c.State {
	case ContractOffered, ContractRejected:
		return c.Offered.ID
	case ContractAccepted:
		return c.Accepted.Offered.ID
	case ContractSigned, ContractConfirmed, ContractRefunded:
		return c.Signed.Accepted.Offered.ID
	case ContractPreClosed:
		return c.PreClosed.Signed.Accepted.Offered.ID
	case ContractClosed:
		return c.Closed.TemporaryID
	case ContractFailedAccept:
		return c.FailedAccept.Offered.ID
	case ContractFailedSign:
		return c.FailedSign.Accepted.Offered.ID
	}
	return ContractID{}
}

// CounterParty is the remote peer.
func (c *Contract) CounterParty() PubKey {
	switch c.State {
	case ContractOffered, ContractRejected:
		return c.Offered.CounterParty
	case ContractAccepted:
		return c.Accepted.Offered.CounterParty
	case ContractSigned, ContractConfirmed, ContractRefunded:
		return c.Signed.Accepted.Offered.CounterParty
	case ContractPreClosed:
		return c.PreClosed.Signed.Accepted.Offered.CounterParty
	case ContractClosed:
		return c.Closed.CounterParty
	case ContractFailedAccept:
		return c.FailedAccept.Offered.CounterParty
	case ContractFailedSign:
		return c.FailedSign.Accepted.Offered.CounterParty
	}
	return PubKey{}
}

// IsRekeyed reports whether storing c moves it from its temporary id to
// its computed id.
func (c *Contract) IsRekeyed() bool {
	return c.State == ContractAccepted || c.State == ContractSigned
}

func (c *Contract) check() error {
	var ok bool
	switch c.State {
	case ContractOffered, ContractRejected:
		ok = c.Offered != nil
	case ContractAccepted:
		ok = c.Accepted != nil && c.Accepted.Offered != nil
	case ContractSigned, ContractConfirmed, ContractRefunded:
		ok = c.Signed != nil && c.Signed.Accepted != nil && c.Signed.Accepted.Offered != nil
	case ContractPreClosed:
		ok = c.PreClosed != nil && c.PreClosed.Signed != nil &&
			c.PreClosed.Signed.Accepted != nil && c.PreClosed.Signed.Accepted.Offered != nil
	case ContractClosed:
		ok = c.Closed != nil
	case ContractFailedAccept:
		ok = c.FailedAccept != nil && c.FailedAccept.Offered != nil
	case ContractFailedSign:
		ok = c.FailedSign != nil && c.FailedSign.Accepted != nil && c.FailedSign.Accepted.Offered != nil
	default:
		return fmt.Errorf("%w: contract state %d", ErrUnknownPrefix, uint8(c.State))
	}
	if !ok {
		return fmt.Errorf("contract in state %s is missing its payload", c.State)
	}
	return nil
}

func writeOfferedContract(b *bytes.Buffer, o *OfferedContract) {
	b.Write(o.ID[:])
	putBool(b, o.IsOfferParty)
	b.Write(o.CounterParty[:])
	writeContractInfo(b, &o.ContractInfo)
	writePartyParams(b, &o.OfferParams)
	putU64(b, o.TotalCollateral)
	putU64(b, o.FundOutputSerialID)
	putU64(b, o.FeeRatePerVb)
	putU32(b, o.CetLocktime)
	putU32(b, o.RefundLocktime)
}

func readOfferedContract(r *reader) *OfferedContract {
	o := new(OfferedContract)
	r.fixed(o.ID[:])
	o.IsOfferParty = r.boolean()
	r.fixed(o.CounterParty[:])
	o.ContractInfo = readContractInfo(r)
	o.OfferParams = readPartyParams(r)
	o.TotalCollateral = r.u64()
	o.FundOutputSerialID = r.u64()
	o.FeeRatePerVb = r.u64()
	o.CetLocktime = r.u32()
	o.RefundLocktime = r.u32()
	return o
}

func writeAcceptedContract(b *bytes.Buffer, a *AcceptedContract) {
	writeOfferedContract(b, a.Offered)
	b.Write(a.ContractID[:])
	writePartyParams(b, &a.AcceptParams)
	putTx(b, a.FundTx)
	putU16(b, a.FundOutputIndex)
	putVarBytes(b, a.FundScript)
	writeCetSignatures(b, &a.AcceptSignatures)
}

func readAcceptedContract(r *reader) *AcceptedContract {
	a := &AcceptedContract{Offered: readOfferedContract(r)}
	r.fixed(a.ContractID[:])
	a.AcceptParams = readPartyParams(r)
	a.FundTx = r.tx()
	a.FundOutputIndex = r.u16()
	a.FundScript = r.varBytes()
	a.AcceptSignatures = readCetSignatures(r)
	return a
}

func writeSignedContract(b *bytes.Buffer, s *SignedContract) {
	writeAcceptedContract(b, s.Accepted)
	writeCetSignatures(b, &s.OfferSignatures)
	putByteList(b, s.FundingSignatures)
}

func readSignedContract(r *reader) *SignedContract {
	s := &SignedContract{Accepted: readAcceptedContract(r)}
	s.OfferSignatures = readCetSignatures(r)
	s.FundingSignatures = r.byteList()
	return s
}

func writePreClosedContract(b *bytes.Buffer, p *PreClosedContract) {
	writeSignedContract(b, p.Signed)
	writeAttestations(b, p.Attestations)
	putTx(b, p.SignedCet)
}

func readPreClosedContract(r *reader) *PreClosedContract {
	p := &PreClosedContract{Signed: readSignedContract(r)}
	p.Attestations = readAttestations(r)
	p.SignedCet = r.tx()
	return p
}

func writeClosedContract(b *bytes.Buffer, c *ClosedContract) {
	b.Write(c.ContractID[:])
	b.Write(c.TemporaryID[:])
	b.Write(c.CounterParty[:])
	putU64(b, uint64(c.Pnl))
	putTx(b, c.SignedCet)
	writeAttestations(b, c.Attestations)
}

func readClosedContract(r *reader) *ClosedContract {
	c := new(ClosedContract)
	r.fixed(c.ContractID[:])
	r.fixed(c.TemporaryID[:])
	r.fixed(c.CounterParty[:])
	c.Pnl = int64(r.u64())
	c.SignedCet = r.tx()
	c.Attestations = readAttestations(r)
	return c
}

func writeFailedAcceptContract(b *bytes.Buffer, f *FailedAcceptContract) {
	writeOfferedContract(b, f.Offered)
	putBool(b, f.AcceptMessage != nil)
	if f.AcceptMessage != nil {
		f.AcceptMessage.write(b)
	}
	putString(b, f.Error)
}

func readFailedAcceptContract(r *reader) *FailedAcceptContract {
	f := &FailedAcceptContract{Offered: readOfferedContract(r)}
	if r.boolean() {
		f.AcceptMessage = readAcceptDlc(r)
	}
	f.Error = r.str()
	return f
}

func writeFailedSignContract(b *bytes.Buffer, f *FailedSignContract) {
	writeAcceptedContract(b, f.Accepted)
	putBool(b, f.SignMessage != nil)
	if f.SignMessage != nil {
		f.SignMessage.write(b)
	}
	putString(b, f.Error)
}

func readFailedSignContract(r *reader) *FailedSignContract {
	f := &FailedSignContract{Accepted: readAcceptedContract(r)}
	if r.boolean() {
		f.SignMessage = readSignDlc(r)
	}
	f.Error = r.str()
	return f
}
