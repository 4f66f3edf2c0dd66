package dlcstate

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// OutcomePayout is what each side receives if the oracle attests Outcome.
type OutcomePayout struct {
	Outcome      string
	OfferPayout  uint64
	AcceptPayout uint64
}

// OracleAnnouncement is an oracle's signed commitment to attest an event.
type OracleAnnouncement struct {
	Signature    [64]byte
	OraclePubKey [32]byte
	EventID      string
	Outcomes     []string
	Maturity     uint32
}

// OracleAttestation is the oracle's signature over the outcome it saw.
type OracleAttestation struct {
	OraclePubKey [32]byte
	EventID      string
	Signatures   [][64]byte
	Outcomes     []string
}

// ContractInfo holds the terms both parties agree to.
type ContractInfo struct {
	Payouts       []OutcomePayout
	Announcements []OracleAnnouncement
	Threshold     uint16
}

// TotalCollateral is the payout of any outcome, which every outcome shares.
func (ci *ContractInfo) TotalCollateral() uint64 {
	if len(ci.Payouts) == 0 {
		return 0
	}
	return ci.Payouts[0].OfferPayout + ci.Payouts[0].AcceptPayout
}

// PayoutFor finds the payout for an attested outcome.
func (ci *ContractInfo) PayoutFor(outcome string) (OutcomePayout, bool) {
	for _, p := range ci.Payouts {
		if p.Outcome == outcome {
			return p, true
		}
	}
	return OutcomePayout{}, false
}

// FundingInput is one UTXO a party commits to the funding transaction.
type FundingInput struct {
	OutPoint      wire.OutPoint
	Value         uint64
	SerialID      uint64
	MaxWitnessLen uint16
}

// PartyParams are one side's funding contribution.
type PartyParams struct {
	FundPubKey     PubKey
	ChangeScript   []byte
	ChangeSerialID uint64
	PayoutScript   []byte
	PayoutSerialID uint64
	Inputs         []FundingInput
	InputAmount    uint64
	Collateral     uint64
}

// CetSignatures are adaptor signatures, one per outcome, plus the refund
// signature.
type CetSignatures struct {
	AdaptorSignatures [][]byte
	RefundSignature   [64]byte
}

func writeOutcomePayout(b *bytes.Buffer, p *OutcomePayout) {
	putString(b, p.Outcome)
	putU64(b, p.OfferPayout)
	putU64(b, p.AcceptPayout)
}

func readOutcomePayout(r *reader) OutcomePayout {
	return OutcomePayout{Outcome: r.str(), OfferPayout: r.u64(), AcceptPayout: r.u64()}
}

func writeAnnouncement(b *bytes.Buffer, a *OracleAnnouncement) {
	b.Write(a.Signature[:])
	b.Write(a.OraclePubKey[:])
	putString(b, a.EventID)
	putStringList(b, a.Outcomes)
	putU32(b, a.Maturity)
}

func readAnnouncement(r *reader) OracleAnnouncement {
	var a OracleAnnouncement
	r.fixed(a.Signature[:])
	r.fixed(a.OraclePubKey[:])
	a.EventID = r.str()
	a.Outcomes = r.stringList()
	a.Maturity = r.u32()
	return a
}

func writeAttestation(b *bytes.Buffer, a *OracleAttestation) {
	b.Write(a.OraclePubKey[:])
	putString(b, a.EventID)
	putVarInt(b, uint64(len(a.Signatures)))
	for i := range a.Signatures {
		b.Write(a.Signatures[i][:])
	}
	putStringList(b, a.Outcomes)
}

func readAttestation(r *reader) OracleAttestation {
	var a OracleAttestation
	r.fixed(a.OraclePubKey[:])
	a.EventID = r.str()
	if n := r.count(); n > 0 {
		a.Signatures = make([][64]byte, n)
		for i := range a.Signatures {
			r.fixed(a.Signatures[i][:])
		}
	}
	a.Outcomes = r.stringList()
	return a
}

func writeAttestations(b *bytes.Buffer, l []OracleAttestation) {
	putVarInt(b, uint64(len(l)))
	for i := range l {
		writeAttestation(b, &l[i])
	}
}

func readAttestations(r *reader) []OracleAttestation {
	n := r.count()
	if n == 0 {
		return nil
	}
	l := make([]OracleAttestation, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		l = append(l, readAttestation(r))
	}
	return l
}

func writeContractInfo(b *bytes.Buffer, ci *ContractInfo) {
	putVarInt(b, uint64(len(ci.Payouts)))
	for i := range ci.Payouts {
		writeOutcomePayout(b, &ci.Payouts[i])
	}
	putVarInt(b, uint64(len(ci.Announcements)))
	for i := range ci.Announcements {
		writeAnnouncement(b, &ci.Announcements[i])
	}
	putU16(b, ci.Threshold)
}

func readContractInfo(r *reader) ContractInfo {
	var ci ContractInfo
	if n := r.count(); n > 0 {
		ci.Payouts = make([]OutcomePayout, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			ci.Payouts = append(ci.Payouts, readOutcomePayout(r))
		}
	}
	if n := r.count(); n > 0 {
		ci.Announcements = make([]OracleAnnouncement, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			ci.Announcements = append(ci.Announcements, readAnnouncement(r))
		}
	}
	ci.Threshold = r.u16()
	return ci
}

func writePartyParams(b *bytes.Buffer, p *PartyParams) {
	b.Write(p.FundPubKey[:])
	putVarBytes(b, p.ChangeScript)
	putU64(b, p.ChangeSerialID)
	putVarBytes(b, p.PayoutScript)
	putU64(b, p.PayoutSerialID)
	putVarInt(b, uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		putOutPoint(b, in.OutPoint)
		putU64(b, in.Value)
		putU64(b, in.SerialID)
		putU16(b, in.MaxWitnessLen)
	}
	putU64(b, p.InputAmount)
	putU64(b, p.Collateral)
}

func readPartyParams(r *reader) PartyParams {
	var p PartyParams
	r.fixed(p.FundPubKey[:])
	p.ChangeScript = r.varBytes()
	p.ChangeSerialID = r.u64()
	p.PayoutScript = r.varBytes()
	p.PayoutSerialID = r.u64()
	if n := r.count(); n > 0 {
		p.Inputs = make([]FundingInput, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			p.Inputs = append(p.Inputs, FundingInput{
				OutPoint:      r.outPoint(),
				Value:         r.u64(),
				SerialID:      r.u64(),
				MaxWitnessLen: r.u16(),
			})
		}
	}
	p.InputAmount = r.u64()
	p.Collateral = r.u64()
	return p
}

func writeCetSignatures(b *bytes.Buffer, s *CetSignatures) {
	putByteList(b, s.AdaptorSignatures)
	b.Write(s.RefundSignature[:])
}

func readCetSignatures(r *reader) CetSignatures {
	var s CetSignatures
	s.AdaptorSignatures = r.byteList()
	r.fixed(s.RefundSignature[:])
	return s
}
