package dlc

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// PeriodicCheck moves contracts and channels forward on chain events:
// funding confirmations, oracle attestations, refund maturity and closing
// confirmations. A failure on one record is logged and the check goes on;
// all failures are returned together.
func (mgr *DlcManager) PeriodicCheck(ctx context.Context) error {
	monitor := dlcstate.NewChainMonitor()
	height, err := mgr.wallet.BestBlockHeight()
	if err != nil {
		return dlccore.NewWalletError("best block", err)
	}
	monitor.LastHeight = height

	inChannel, err := mgr.channelContracts()
	if err != nil {
		return err
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			logging.Warnf("dlc: periodic check: %v", err)
			errs = append(errs, err)
		}
	}
	collect(mgr.checkSigned(monitor, inChannel))
	collect(mgr.checkConfirmed(ctx, monitor, inChannel))
	collect(mgr.checkPreClosed(monitor))
	collect(mgr.checkCollaborativeCloses(monitor))
	collect(mgr.checkClosing(monitor))

	collect(mgr.store.PersistChainMonitor(monitor))
	return errors.Join(errs...)
}

// channelContracts are the contracts whose settlement belongs to an open
// channel.
func (mgr *DlcManager) channelContracts() (map[dlcstate.ContractID]bool, error) {
	signed, err := mgr.store.GetSignedChannels(nil)
	if err != nil {
		return nil, err
	}
	ids := make(map[dlcstate.ContractID]bool, len(signed))
	for _, s := range signed {
		ids[s.ContractID] = true
	}
	return ids, nil
}

func (mgr *DlcManager) confirmed(txid chainhash.Hash) (bool, error) {
	n, err := mgr.wallet.GetTransactionConfirmations(txid)
	if err != nil {
		return false, dlccore.NewWalletError("confirmations of "+txid.String(), err)
	}
	return n >= mgr.nbConfirmations, nil
}

func (mgr *DlcManager) refundDue(s *dlcstate.SignedContract) bool {
	return mgr.now().Unix() >= int64(s.Accepted.Offered.RefundLocktime)
}

func (mgr *DlcManager) checkSigned(monitor *dlcstate.ChainMonitor, inChannel map[dlcstate.ContractID]bool) error {
	contracts, err := mgr.store.GetSignedContracts()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range contracts {
		a := s.Accepted
		if inChannel[a.ContractID] {
			continue
		}
		fundID := a.FundTx.TxHash()
		ok, err := mgr.confirmed(fundID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch {
		case ok:
			next := &dlcstate.Contract{State: dlcstate.ContractConfirmed, Signed: s}
			errs = append(errs, mgr.updateContract(dlcstate.ContractSigned, next))
		case mgr.refundDue(s):
			errs = append(errs, mgr.refund(dlcstate.ContractSigned, s, monitor))
		default:
			monitor.Watch(fundID, dlcstate.WatchedTx{Kind: dlcstate.WatchFund, ContractID: a.ContractID})
		}
	}
	return errors.Join(errs...)
}

func (mgr *DlcManager) refund(prev dlcstate.ContractState, s *dlcstate.SignedContract, monitor *dlcstate.ChainMonitor) error {
	tx, err := mgr.wallet.SignRefund(s)
	if err != nil {
		return dlccore.NewWalletError("sign refund", err)
	}
	if err := mgr.wallet.Broadcast(tx); err != nil {
		return dlccore.NewWalletError("broadcast refund", err)
	}
	monitor.Watch(tx.TxHash(), dlcstate.WatchedTx{Kind: dlcstate.WatchRefund, ContractID: s.Accepted.ContractID})
	return mgr.updateContract(prev, &dlcstate.Contract{State: dlcstate.ContractRefunded, Signed: s})
}

func (mgr *DlcManager) checkConfirmed(ctx context.Context, monitor *dlcstate.ChainMonitor,
	inChannel map[dlcstate.ContractID]bool) error {

	contracts, err := mgr.store.GetConfirmedContracts()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range contracts {
		o := s.Accepted.Offered
		if inChannel[s.Accepted.ContractID] {
			continue
		}
		if mgr.now().Unix() < int64(o.CetLocktime) {
			continue
		}
		atts, err := mgr.attestations(ctx, &o.ContractInfo)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if atts == nil {
			if mgr.refundDue(s) {
				errs = append(errs, mgr.refund(dlcstate.ContractConfirmed, s, monitor))
			}
			continue
		}
		errs = append(errs, mgr.closeWithCet(s, atts, monitor))
	}
	return errors.Join(errs...)
}

// attestations returns enough attestations agreeing on one outcome to
// meet the contract's threshold, or nil if the oracles have not attested.
func (mgr *DlcManager) attestations(ctx context.Context, info *dlcstate.ContractInfo) ([]dlcstate.OracleAttestation, error) {
	if mgr.oracle == nil {
		return nil, nil
	}
	byOutcome := make(map[string][]dlcstate.OracleAttestation)
	for _, ann := range info.Announcements {
		att, err := mgr.oracle.GetAttestation(ctx, ann.EventID)
		if err != nil {
			return nil, fmt.Errorf("attestation for %s: %w", ann.EventID, err)
		}
		if att == nil || len(att.Outcomes) == 0 {
			continue
		}
		outcome := att.Outcomes[0]
		byOutcome[outcome] = append(byOutcome[outcome], *att)
		if len(byOutcome[outcome]) >= int(info.Threshold) {
			if _, ok := info.PayoutFor(outcome); !ok {
				return nil, fmt.Errorf("oracle attested unknown outcome %q", outcome)
			}
			return byOutcome[outcome], nil
		}
	}
	return nil, nil
}

func (mgr *DlcManager) closeWithCet(s *dlcstate.SignedContract, atts []dlcstate.OracleAttestation,
	monitor *dlcstate.ChainMonitor) error {

	cet, err := mgr.wallet.SignCet(s, atts)
	if err != nil {
		return dlccore.NewWalletError("sign cet", err)
	}
	if err := mgr.wallet.Broadcast(cet); err != nil {
		return dlccore.NewWalletError("broadcast cet", err)
	}
	monitor.Watch(cet.TxHash(), dlcstate.WatchedTx{Kind: dlcstate.WatchCet, ContractID: s.Accepted.ContractID})
	next := &dlcstate.Contract{
		State: dlcstate.ContractPreClosed,
		PreClosed: &dlcstate.PreClosedContract{
			Signed:       s,
			Attestations: atts,
			SignedCet:    cet,
		},
	}
	return mgr.updateContract(dlcstate.ContractConfirmed, next)
}

func (mgr *DlcManager) checkPreClosed(monitor *dlcstate.ChainMonitor) error {
	contracts, err := mgr.store.GetPreClosedContracts()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range contracts {
		a := p.Signed.Accepted
		cetID := p.SignedCet.TxHash()
		ok, err := mgr.confirmed(cetID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			monitor.Watch(cetID, dlcstate.WatchedTx{Kind: dlcstate.WatchCet, ContractID: a.ContractID})
			continue
		}
		var payout uint64
		if len(p.Attestations) > 0 && len(p.Attestations[0].Outcomes) > 0 {
			payout, _ = ownPayout(a.Offered, p.Attestations[0].Outcomes[0])
		}
		next := &dlcstate.Contract{
			State: dlcstate.ContractClosed,
			Closed: &dlcstate.ClosedContract{
				ContractID:   a.ContractID,
				TemporaryID:  a.Offered.ID,
				CounterParty: a.Offered.CounterParty,
				Pnl:          int64(payout) - int64(a.OwnCollateral()),
				SignedCet:    p.SignedCet,
				Attestations: p.Attestations,
			},
		}
		errs = append(errs, mgr.updateContract(dlcstate.ContractPreClosed, next))
	}
	return errors.Join(errs...)
}

func (mgr *DlcManager) checkCollaborativeCloses(monitor *dlcstate.ChainMonitor) error {
	kind := dlcstate.SubstateCollaborativeCloseOffered
	channels, err := mgr.store.GetSignedChannels(&kind)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range channels {
		if !s.Substate.IsOfferer || s.Substate.CloseTx == nil {
			continue
		}
		closeID := s.Substate.CloseTx.TxHash()
		ok, err := mgr.confirmed(closeID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			monitor.Watch(closeID, dlcstate.WatchedTx{Kind: dlcstate.WatchClose, ChannelID: s.ChannelID})
			continue
		}
		ch := &dlcstate.Channel{State: dlcstate.ChannelSigned, Signed: s}
		errs = append(errs, mgr.closeChannel(ch, dlcstate.ChannelCollaborativelyClosed, s.Substate.CloseTx))
	}
	return errors.Join(errs...)
}

func (mgr *DlcManager) checkClosing(monitor *dlcstate.ChainMonitor) error {
	channels, err := mgr.store.GetClosingChannels()
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range channels {
		bufferID := c.BufferTx.TxHash()
		ok, err := mgr.confirmed(bufferID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			monitor.Watch(bufferID, dlcstate.WatchedTx{Kind: dlcstate.WatchBuffer, ChannelID: c.ChannelID})
			continue
		}
		prev := &dlcstate.Channel{State: dlcstate.ChannelClosing, Closing: c}
		closed := &dlcstate.Channel{
			State: dlcstate.ChannelClosed,
			Closed: &dlcstate.ClosedChannel{
				ChannelID:          c.ChannelID,
				TemporaryChannelID: c.TemporaryChannelID,
				CounterParty:       c.CounterParty,
			},
		}
		errs = append(errs, mgr.upsertChannel(prev, closed, nil, nil))
	}
	return errors.Join(errs...)
}
