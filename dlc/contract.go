package dlc

import (
	"fmt"
	"math/bits"

	"github.com/mit-dci/dlcd/dlcstate"
)

// maxFeeRate caps fee rates, in sat/vbyte.
const maxFeeRate = 25 * 250

// ContractInput describes the terms of a contract to offer.
type ContractInput struct {
	OfferCollateral  uint64
	AcceptCollateral uint64
	FeeRate          uint64
	Payouts          []dlcstate.OutcomePayout
	// Threshold is the number of oracles that must attest. Zero means one.
	Threshold uint16
}

// TotalCollateral is what the funding output locks.
func (in *ContractInput) TotalCollateral() uint64 {
	return in.OfferCollateral + in.AcceptCollateral
}

// Validate checks the terms against the oracle announcements they settle on.
func (in *ContractInput) Validate(announcements []dlcstate.OracleAnnouncement) error {
	if in.OfferCollateral == 0 {
		return fmt.Errorf("offer collateral must be positive")
	}
	if in.FeeRate == 0 || in.FeeRate > maxFeeRate {
		return fmt.Errorf("fee rate %d out of range", in.FeeRate)
	}
	if len(in.Payouts) == 0 {
		return fmt.Errorf("no payouts")
	}
	if len(announcements) == 0 {
		return fmt.Errorf("no oracle announcements")
	}
	if int(in.Threshold) > len(announcements) {
		return fmt.Errorf("threshold %d exceeds %d oracles", in.Threshold, len(announcements))
	}
	total, carry := bits.Add64(in.OfferCollateral, in.AcceptCollateral, 0)
	if carry != 0 {
		return fmt.Errorf("collateral overflows")
	}
	seen := make(map[string]bool)
	for _, p := range in.Payouts {
		if !payoutSumsTo(p, total) {
			return fmt.Errorf("payout for %q does not sum to %d", p.Outcome, total)
		}
		if seen[p.Outcome] {
			return fmt.Errorf("duplicate outcome %q", p.Outcome)
		}
		seen[p.Outcome] = true
		for _, a := range announcements {
			if !hasOutcome(a.Outcomes, p.Outcome) {
				return fmt.Errorf("oracle event %s has no outcome %q", a.EventID, p.Outcome)
			}
		}
	}
	return nil
}

func hasOutcome(outcomes []string, o string) bool {
	for _, x := range outcomes {
		if x == o {
			return true
		}
	}
	return false
}

// contractInfo bundles validated terms with their announcements.
func (in *ContractInput) contractInfo(announcements []dlcstate.OracleAnnouncement) dlcstate.ContractInfo {
	threshold := in.Threshold
	if threshold == 0 {
		threshold = 1
	}
	payouts := make([]dlcstate.OutcomePayout, len(in.Payouts))
	copy(payouts, in.Payouts)
	anns := make([]dlcstate.OracleAnnouncement, len(announcements))
	copy(anns, announcements)
	return dlcstate.ContractInfo{Payouts: payouts, Announcements: anns, Threshold: threshold}
}

// locktimes derives the CET locktime from the earliest maturity and the
// refund locktime from the latest one.
func (mgr *DlcManager) locktimes(announcements []dlcstate.OracleAnnouncement) (cet, refund uint32) {
	cet = announcements[0].Maturity
	latest := cet
	for _, a := range announcements[1:] {
		if a.Maturity < cet {
			cet = a.Maturity
		}
		if a.Maturity > latest {
			latest = a.Maturity
		}
	}
	return cet, latest + mgr.refundDelay
}

// ownPayout returns the local side's share for an attested outcome.
func ownPayout(o *dlcstate.OfferedContract, outcome string) (uint64, bool) {
	p, ok := o.ContractInfo.PayoutFor(outcome)
	if !ok {
		return 0, false
	}
	if o.IsOfferParty {
		return p.OfferPayout, true
	}
	return p.AcceptPayout, true
}

// payoutSumsTo reports whether both sides of p add up to total exactly.
func payoutSumsTo(p dlcstate.OutcomePayout, total uint64) bool {
	return p.OfferPayout <= total && p.AcceptPayout == total-p.OfferPayout
}

// validateOffer checks an inbound offer before it is stored.
func validateOffer(info *dlcstate.ContractInfo, offerParams *dlcstate.PartyParams, total uint64, feeRate uint64) error {
	if len(info.Payouts) == 0 || len(info.Announcements) == 0 {
		return fmt.Errorf("offer has no payouts or announcements")
	}
	if info.Threshold == 0 || int(info.Threshold) > len(info.Announcements) {
		return fmt.Errorf("bad threshold %d", info.Threshold)
	}
	if feeRate == 0 || feeRate > maxFeeRate {
		return fmt.Errorf("fee rate %d out of range", feeRate)
	}
	if offerParams.Collateral > total {
		return fmt.Errorf("offer collateral %d exceeds total %d", offerParams.Collateral, total)
	}
	for _, p := range info.Payouts {
		if !payoutSumsTo(p, total) {
			return fmt.Errorf("payout for %q does not sum to %d", p.Outcome, total)
		}
	}
	if _, err := dlcstate.ParsePubKey(offerParams.FundPubKey[:]); err != nil {
		return fmt.Errorf("funding pubkey: %w", err)
	}
	return nil
}
