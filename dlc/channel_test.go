package dlc_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/stretchr/testify/require"
)

func (p *party) channel(t *testing.T, id dlcstate.ChannelID) *dlcstate.Channel {
	t.Helper()
	ch, err := p.store.GetChannel(id)
	require.NoError(t, err)
	require.NotNil(t, ch, "no channel %s", id)
	return ch
}

func (h *harness) offerChannel(t *testing.T) *dlcstate.OfferChannel {
	t.Helper()
	offer, err := h.alice.mgr.OfferChannel(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)
	h.alice.send(h.bob, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	return offer
}

// openChannel runs offer, accept and sign and returns the channel id.
func (h *harness) openChannel(t *testing.T) dlcstate.ChannelID {
	t.Helper()
	offer := h.offerChannel(t)
	id, counterParty, accept, err := h.bob.mgr.AcceptChannel(offer.TemporaryChannelID)
	require.NoError(t, err)
	require.Equal(t, h.alice.key, counterParty)
	h.bob.send(h.alice, accept)
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	return id
}

func TestOpenChannel(t *testing.T) {
	h := newHarness(t)
	offer := h.offerChannel(t)

	ch := h.bob.channel(t, offer.TemporaryChannelID)
	require.Equal(t, dlcstate.ChannelOffered, ch.State)
	require.Equal(t, uint64(50000), ch.Offered.CounterPartyCollateral)
	require.Equal(t, uint32(dlc.DefaultCetNsequence), ch.Offered.CetNsequence)
	require.Equal(t, dlcstate.ContractOffered, h.bob.contract(t, offer.TemporaryContractID).State)

	id, _, accept, err := h.bob.mgr.AcceptChannel(offer.TemporaryChannelID)
	require.NoError(t, err)
	require.Equal(t, dlcstate.ChannelAccepted, h.bob.channel(t, id).State)
	h.bob.send(h.alice, accept)
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())

	for _, p := range []*party{h.alice, h.bob} {
		ch := p.channel(t, id)
		require.Equal(t, dlcstate.ChannelSigned, ch.State)
		require.Equal(t, dlcstate.SubstateEstablished, ch.Signed.Substate.Kind)
		require.Equal(t, uint64(1<<48-1), ch.Signed.UpdateIdx)
		require.Equal(t, dlcstate.ContractSigned, p.contract(t, ch.Signed.ContractID).State)

		old, err := p.store.GetChannel(offer.TemporaryChannelID)
		require.NoError(t, err)
		require.Nil(t, old)
	}
	require.True(t, h.alice.channel(t, id).Signed.IsOfferParty)
	require.False(t, h.bob.channel(t, id).Signed.IsOfferParty)
	require.Len(t, h.bob.wallet.Broadcasts(), 1)
}

func TestChannelContractNotSettledByCheck(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)
	contractID := h.bob.channel(t, id).Signed.ContractID
	h.confirmFunding(t, contractID)
	h.clock.Set(maturity + dlc.DefaultRefundDelay)
	h.oracle.Attest("event-1", "yes")

	h.check(t)
	require.Equal(t, dlcstate.ContractSigned, h.alice.contract(t, contractID).State)
	require.Empty(t, h.alice.wallet.Broadcasts())
}

func TestCollaborativeClose(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)

	offer, counterParty, err := h.alice.mgr.OfferCollaborativeClose(id, 30000)
	require.NoError(t, err)
	require.Equal(t, h.bob.key, counterParty)
	sub := h.alice.channel(t, id).Signed.Substate
	require.Equal(t, dlcstate.SubstateCollaborativeCloseOffered, sub.Kind)
	require.True(t, sub.IsOfferer)
	require.Equal(t, uint64(70000), sub.OwnPayout)

	h.alice.send(h.bob, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	sub = h.bob.channel(t, id).Signed.Substate
	require.False(t, sub.IsOfferer)
	require.Equal(t, uint64(30000), sub.OwnPayout)

	require.NoError(t, h.bob.mgr.AcceptCollaborativeClose(id))
	require.Equal(t, dlcstate.ChannelCollaborativelyClosed, h.bob.channel(t, id).State)
	contractID := h.alice.channel(t, id).Signed.ContractID
	require.Equal(t, int64(-20000), h.bob.contract(t, contractID).Closed.Pnl)

	txs := h.bob.wallet.Broadcasts()
	closeTx := txs[len(txs)-1]

	// The offerer closes once the close transaction confirms.
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ChannelSigned, h.alice.channel(t, id).State)
	h.alice.wallet.Confirm(closeTx.TxHash(), dlc.DefaultNbConfirmations)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ChannelCollaborativelyClosed, h.alice.channel(t, id).State)
	closed := h.alice.contract(t, contractID)
	require.Equal(t, dlcstate.ContractClosed, closed.State)
	require.Equal(t, int64(20000), closed.Closed.Pnl)
}

func TestCollaborativeCloseCollision(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)

	aliceOffer, _, err := h.alice.mgr.OfferCollaborativeClose(id, 30000)
	require.NoError(t, err)
	bobOffer, _, err := h.bob.mgr.OfferCollaborativeClose(id, 40000)
	require.NoError(t, err)
	h.alice.send(h.bob, aliceOffer)
	h.bob.send(h.alice, bobOffer)
	require.Equal(t, 1, h.alice.mgr.ProcessMessages()+h.bob.mgr.ProcessMessages())

	winner, loser := h.alice, h.bob
	if s := h.alice.channel(t, id).Signed; bytes.Compare(s.OwnFundPubKey[:], s.CounterFundPubKey[:]) > 0 {
		winner, loser = h.bob, h.alice
	}
	won := winner.channel(t, id).Signed.Substate
	lost := loser.channel(t, id).Signed.Substate
	require.True(t, won.IsOfferer)
	require.False(t, lost.IsOfferer)
	require.Equal(t, won.CounterPayout, lost.OwnPayout)
	require.Equal(t, won.OwnPayout, lost.CounterPayout)

	require.NoError(t, loser.mgr.AcceptCollaborativeClose(id))
	require.Equal(t, dlcstate.ChannelCollaborativelyClosed, loser.channel(t, id).State)
}

func TestCloseOfferRejectedWhileSettling(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)
	ch := h.bob.channel(t, id)
	ch.Signed.Substate = dlcstate.SignedSubstate{Kind: dlcstate.SubstateSettledOffered}
	require.NoError(t, h.bob.store.UpsertChannel(ch, nil))

	offer, _, err := h.alice.mgr.OfferCollaborativeClose(id, 30000)
	require.NoError(t, err)
	h.alice.send(h.bob, offer)
	require.Equal(t, 0, h.bob.mgr.ProcessMessages())
	require.Equal(t, dlcstate.SubstateSettledOffered, h.bob.channel(t, id).Signed.Substate.Kind)
}

func TestCollaborativeCloseExpires(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)
	offer, _, err := h.alice.mgr.OfferCollaborativeClose(id, 30000)
	require.NoError(t, err)
	h.alice.send(h.bob, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())

	h.clock.Set(maturity - 3600 + 24*60*60 + 1)
	err = h.bob.mgr.AcceptCollaborativeClose(id)
	require.ErrorIs(t, err, dlccore.ErrInvalidState)
	require.Equal(t, dlcstate.ChannelSigned, h.bob.channel(t, id).State)
}

func TestCollaborativeCloseTooLarge(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)
	_, _, err := h.alice.mgr.OfferCollaborativeClose(id, 100001)
	require.ErrorIs(t, err, dlccore.ErrInvalidState)
}

func TestRejectChannel(t *testing.T) {
	h := newHarness(t)
	offer := h.offerChannel(t)

	reject, counterParty, err := h.bob.mgr.RejectChannelOffer(offer.TemporaryChannelID)
	require.NoError(t, err)
	require.Equal(t, h.alice.key, counterParty)
	require.Equal(t, dlcstate.ChannelCancelled, h.bob.channel(t, offer.TemporaryChannelID).State)

	h.bob.send(h.alice, reject)
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	require.Equal(t, dlcstate.ChannelCancelled, h.alice.channel(t, offer.TemporaryChannelID).State)
	require.Equal(t, dlcstate.ContractRejected, h.alice.contract(t, offer.TemporaryContractID).State)
	require.Equal(t, 0, h.alice.wallet.Reserved())
}

func TestChannelFailedAccept(t *testing.T) {
	h := newHarness(t)
	offer := h.offerChannel(t)
	_, _, accept, err := h.bob.mgr.AcceptChannel(offer.TemporaryChannelID)
	require.NoError(t, err)

	h.alice.wallet.FailVerify = true
	h.bob.send(h.alice, accept)
	require.Equal(t, 0, h.alice.mgr.ProcessMessages())

	ch := h.alice.channel(t, offer.TemporaryChannelID)
	require.Equal(t, dlcstate.ChannelFailedAccept, ch.State)
	require.NotEmpty(t, ch.FailedAccept.Error)
	require.Equal(t, dlcstate.ContractFailedAccept, h.alice.contract(t, offer.TemporaryContractID).State)
	require.Equal(t, 0, h.alice.wallet.Reserved())
}

func TestForceClose(t *testing.T) {
	h := newHarness(t)
	id := h.openChannel(t)
	contractID := h.alice.channel(t, id).Signed.ContractID

	require.NoError(t, h.alice.mgr.ForceCloseChannel(id))
	ch := h.alice.channel(t, id)
	require.Equal(t, dlcstate.ChannelClosing, ch.State)
	require.True(t, ch.Closing.IsClosingParty)
	bufferID := ch.Closing.BufferTx.TxHash()

	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ChannelClosing, h.alice.channel(t, id).State)
	m, err := h.alice.store.GetChainMonitor()
	require.NoError(t, err)
	require.Equal(t, dlcstate.WatchBuffer, m.Watched[bufferID].Kind)

	h.alice.wallet.Confirm(bufferID, dlc.DefaultNbConfirmations)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ChannelClosed, h.alice.channel(t, id).State)

	// The contract is no longer shielded by the channel.
	h.confirmFunding(t, contractID)
	require.NoError(t, h.alice.mgr.PeriodicCheck(context.Background()))
	require.Equal(t, dlcstate.ContractConfirmed, h.alice.contract(t, contractID).State)

	_, _, err = h.alice.mgr.OfferCollaborativeClose(id, 1)
	require.ErrorIs(t, err, dlccore.ErrInvalidState)
}
