package dlc_test

import (
	"context"
	"testing"

	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/stretchr/testify/require"
)

func (h *harness) confirmFunding(t *testing.T, id dlcstate.ContractID) {
	t.Helper()
	txid := h.bob.contract(t, id).Signed.Accepted.FundTx.TxHash()
	h.alice.wallet.Confirm(txid, dlc.DefaultNbConfirmations)
	h.bob.wallet.Confirm(txid, dlc.DefaultNbConfirmations)
}

func (h *harness) check(t *testing.T) {
	t.Helper()
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.NoError(t, h.bob.mgr.PeriodicCheck(context.Background()))
}

func TestUnconfirmedFundingIsWatched(t *testing.T) {
	h := newHarness(t)
	id := h.sign(t)
	h.check(t)

	require.Equal(t, dlcstate.ContractSigned, h.alice.contract(t, id).State)
	m, err := h.alice.store.GetChainMonitor()
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, uint64(100), m.LastHeight)

	fundID := h.bob.contract(t, id).Signed.Accepted.FundTx.TxHash()
	require.Equal(t, dlcstate.WatchedTx{Kind: dlcstate.WatchFund, ContractID: id}, m.Watched[fundID])
}

func TestSettleWithAttestation(t *testing.T) {
	h := newHarness(t)
	id := h.sign(t)
	h.confirmFunding(t, id)
	h.check(t)
	require.Equal(t, dlcstate.ContractConfirmed, h.alice.contract(t, id).State)
	require.Equal(t, dlcstate.ContractConfirmed, h.bob.contract(t, id).State)

	// Past maturity without an attestation nothing moves.
	h.clock.Set(maturity + 60)
	h.check(t)
	require.Equal(t, dlcstate.ContractConfirmed, h.alice.contract(t, id).State)

	h.oracle.Attest("event-1", "yes")
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	pre := h.alice.contract(t, id)
	require.Equal(t, dlcstate.ContractPreClosed, pre.State)
	require.Equal(t, []string{"yes"}, pre.PreClosed.Attestations[0].Outcomes)

	txs := h.alice.wallet.Broadcasts()
	require.Len(t, txs, 1)
	cet := txs[0]
	require.Equal(t, cet.TxHash(), pre.PreClosed.SignedCet.TxHash())

	// Not deep enough yet.
	h.alice.wallet.Confirm(cet.TxHash(), 1)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractPreClosed, h.alice.contract(t, id).State)

	h.alice.wallet.Confirm(cet.TxHash(), dlc.DefaultNbConfirmations)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	closed := h.alice.contract(t, id)
	require.Equal(t, dlcstate.ContractClosed, closed.State)
	require.Equal(t, int64(50000), closed.Closed.Pnl)
	require.Equal(t, id, closed.Closed.ContractID)

	h.bob.wallet.Confirm(cet.TxHash(), dlc.DefaultNbConfirmations)
	require.NoError(t, h.bob.mgr.PeriodicCheck(context.Background()))
	require.NoError(t, h.bob.mgr.PeriodicCheck(context.Background()))
	closed = h.bob.contract(t, id)
	require.Equal(t, dlcstate.ContractClosed, closed.State)
	require.Equal(t, int64(-50000), closed.Closed.Pnl)
}

func TestRefundAfterLocktime(t *testing.T) {
	h := newHarness(t)
	id := h.sign(t)
	refundAt := h.alice.contract(t, id).Signed.Accepted.Offered.RefundLocktime
	require.Equal(t, uint32(maturity+dlc.DefaultRefundDelay), refundAt)

	h.clock.Set(int64(refundAt) - 1)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractSigned, h.alice.contract(t, id).State)
	require.Empty(t, h.alice.wallet.Broadcasts())

	h.clock.Set(int64(refundAt))
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractRefunded, h.alice.contract(t, id).State)

	txs := h.alice.wallet.Broadcasts()
	require.Len(t, txs, 1)
	m, err := h.alice.store.GetChainMonitor()
	require.NoError(t, err)
	require.Equal(t, dlcstate.WatchRefund, m.Watched[txs[0].TxHash()].Kind)
}

func TestRefundFromConfirmed(t *testing.T) {
	h := newHarness(t)
	id := h.sign(t)
	h.confirmFunding(t, id)
	h.clock.Set(maturity + dlc.DefaultRefundDelay)

	// Confirmed and refunded in the same pass.
	require.NoError(t, h.bob.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractRefunded, h.bob.contract(t, id).State)
}

func TestAttestationOfUnknownOutcome(t *testing.T) {
	h := newHarness(t)
	id := h.sign(t)
	h.confirmFunding(t, id)
	h.clock.Set(maturity)
	h.oracle.Attest("event-1", "maybe")

	require.Error(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractConfirmed, h.alice.contract(t, id).State)
	require.Empty(t, h.alice.wallet.Broadcasts())
}
