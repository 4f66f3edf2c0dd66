package dlc

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// collabCloseTimeout is how long, in seconds, a collaborative close offer
// stays open.
const collabCloseTimeout = 24 * 60 * 60

func logChannel(id dlcstate.ChannelID, peer dlcstate.PubKey, format string, args ...interface{}) {
	logging.WithField("channel", id.String()).
		WithField("counterparty", peer.String()).
		Infof(format, args...)
}

func contractState(s dlcstate.ContractState) *dlcstate.ContractState { return &s }

// OfferChannel stores a new Offered channel with its first contract and
// returns the offer for counterParty.
func (mgr *DlcManager) OfferChannel(terms *ContractInput, counterParty dlcstate.PubKey,
	announcements []dlcstate.OracleAnnouncement) (*dlcstate.OfferChannel, error) {

	if err := terms.Validate(announcements); err != nil {
		return nil, &dlccore.ProtocolError{Msg: "invalid contract input", Err: err}
	}
	if _, err := dlcstate.ParsePubKey(counterParty[:]); err != nil {
		return nil, &dlccore.ProtocolError{Msg: "invalid counterparty", Err: err}
	}
	tempChannelID, err := dlcstate.NewTemporaryID()
	if err != nil {
		return nil, err
	}
	tempContractID, err := dlcstate.NewTemporaryID()
	if err != nil {
		return nil, err
	}
	o, err := mgr.newOffer(tempContractID, terms, counterParty, announcements)
	if err != nil {
		return nil, err
	}
	ch := &dlcstate.Channel{
		State: dlcstate.ChannelOffered,
		Offered: &dlcstate.OfferedChannel{
			TemporaryChannelID:     tempChannelID,
			TemporaryContractID:    tempContractID,
			CounterParty:           counterParty,
			IsOfferParty:           true,
			CounterPartyCollateral: terms.AcceptCollateral,
			CetNsequence:           mgr.cetNsequence,
			FeeRatePerVb:           terms.FeeRate,
		},
	}
	if err := mgr.upsertChannel(nil, ch, nil, dlcstate.NewOfferedContract(o)); err != nil {
		mgr.unreserve(&o.OfferParams)
		return nil, err
	}

	return &dlcstate.OfferChannel{
		ProtocolVersion:     dlcstate.ProtocolVersion,
		ChainHash:           *mgr.params.GenesisHash,
		TemporaryChannelID:  tempChannelID,
		TemporaryContractID: tempContractID,
		ContractInfo:        o.ContractInfo,
		OfferParams:         o.OfferParams,
		TotalCollateral:     o.TotalCollateral,
		FundOutputSerialID:  o.FundOutputSerialID,
		FeeRatePerVb:        o.FeeRatePerVb,
		CetLocktime:         o.CetLocktime,
		RefundLocktime:      o.RefundLocktime,
		CetNsequence:        mgr.cetNsequence,
	}, nil
}

func (mgr *DlcManager) onOfferChannel(peer dlcstate.PubKey, msg *dlcstate.OfferChannel) error {
	if err := mgr.checkOfferHeader(msg.ProtocolVersion, msg.ChainHash); err != nil {
		return err
	}
	if err := validateOffer(&msg.ContractInfo, &msg.OfferParams, msg.TotalCollateral, msg.FeeRatePerVb); err != nil {
		return &dlccore.ProtocolError{Msg: "invalid channel offer", Err: err}
	}
	existing, err := mgr.store.GetChannel(msg.TemporaryChannelID)
	if err != nil {
		return err
	}
	if existing != nil {
		return dlccore.Protocolf("duplicate channel offer %s", msg.TemporaryChannelID)
	}
	if c, err := mgr.store.GetContract(msg.TemporaryContractID); err != nil {
		return err
	} else if c != nil {
		return dlccore.Protocolf("duplicate contract offer %s", msg.TemporaryContractID)
	}

	o := &dlcstate.OfferedContract{
		ID:                 msg.TemporaryContractID,
		IsOfferParty:       false,
		CounterParty:       peer,
		ContractInfo:       msg.ContractInfo,
		OfferParams:        msg.OfferParams,
		TotalCollateral:    msg.TotalCollateral,
		FundOutputSerialID: msg.FundOutputSerialID,
		FeeRatePerVb:       msg.FeeRatePerVb,
		CetLocktime:        msg.CetLocktime,
		RefundLocktime:     msg.RefundLocktime,
	}
	ch := &dlcstate.Channel{
		State: dlcstate.ChannelOffered,
		Offered: &dlcstate.OfferedChannel{
			TemporaryChannelID:     msg.TemporaryChannelID,
			TemporaryContractID:    msg.TemporaryContractID,
			CounterParty:           peer,
			IsOfferParty:           false,
			CounterPartyCollateral: msg.OfferParams.Collateral,
			CetNsequence:           msg.CetNsequence,
			FeeRatePerVb:           msg.FeeRatePerVb,
		},
	}
	return mgr.upsertChannel(nil, ch, nil, dlcstate.NewOfferedContract(o))
}

// offeredChannel loads an Offered channel and its Offered contract.
func (mgr *DlcManager) offeredChannel(id dlcstate.ChannelID) (*dlcstate.Channel, *dlcstate.Contract, error) {
	ch, err := mgr.loadChannel(id, dlcstate.ChannelOffered)
	if err != nil {
		return nil, nil, err
	}
	c, err := mgr.loadContract(ch.Offered.TemporaryContractID, dlcstate.ContractOffered)
	if err != nil {
		return nil, nil, err
	}
	return ch, c, nil
}

// AcceptChannel accepts a channel offered by a peer. It returns the final
// channel id, the offer party and the message to send it.
func (mgr *DlcManager) AcceptChannel(id dlcstate.ChannelID) (dlcstate.ChannelID, dlcstate.PubKey, *dlcstate.AcceptChannel, error) {
	var none dlcstate.PubKey
	ch, c, err := mgr.offeredChannel(id)
	if err != nil {
		return id, none, nil, err
	}
	if ch.Offered.IsOfferParty {
		return id, none, nil, dlccore.Protocolf("channel %s is our own offer", id)
	}
	a, err := mgr.acceptOffer(c.Offered)
	if err != nil {
		return id, none, nil, err
	}
	accepted := &dlcstate.Channel{
		State: dlcstate.ChannelAccepted,
		Accepted: &dlcstate.AcceptedChannel{
			Offered:           ch.Offered,
			ChannelID:         dlcstate.ChannelID(dlcstate.ComputeID(a.FundTx.TxHash(), a.FundOutputIndex, ch.Offered.TemporaryChannelID)),
			ContractID:        a.ContractID,
			FundTx:            a.FundTx,
			FundOutputIndex:   a.FundOutputIndex,
			FundScript:        a.FundScript,
			OwnFundPubKey:     a.AcceptParams.FundPubKey,
			CounterFundPubKey: a.Offered.OfferParams.FundPubKey,
		},
	}
	contract := &dlcstate.Contract{State: dlcstate.ContractAccepted, Accepted: a}
	if err := mgr.upsertChannel(ch, accepted, contractState(c.State), contract); err != nil {
		mgr.unreserve(&a.AcceptParams)
		return id, none, nil, err
	}
	channelID := accepted.Accepted.ChannelID
	logChannel(channelID, ch.Offered.CounterParty, "accepted channel offer %s", id)

	return channelID, ch.Offered.CounterParty, &dlcstate.AcceptChannel{
		TemporaryChannelID: id,
		AcceptParams:       a.AcceptParams,
		CetSignatures:      a.AcceptSignatures,
	}, nil
}

func (mgr *DlcManager) onAcceptChannel(peer dlcstate.PubKey, msg *dlcstate.AcceptChannel) (dlcstate.Message, error) {
	ch, c, err := mgr.offeredChannel(msg.TemporaryChannelID)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(ch.Offered.CounterParty, peer); err != nil {
		return nil, err
	}
	if !ch.Offered.IsOfferParty {
		return nil, dlccore.Protocolf("accept for channel %s we did not offer", msg.TemporaryChannelID)
	}
	o := c.Offered

	a, verr := mgr.verifyAccept(o, &msg.AcceptParams, &msg.CetSignatures)
	if verr != nil {
		failedCh := &dlcstate.Channel{
			State: dlcstate.ChannelFailedAccept,
			FailedAccept: &dlcstate.FailedAcceptChannel{
				TemporaryChannelID: msg.TemporaryChannelID,
				CounterParty:       peer,
				Error:              verr.Error(),
			},
		}
		failedC := &dlcstate.Contract{
			State: dlcstate.ContractFailedAccept,
			FailedAccept: &dlcstate.FailedAcceptContract{
				Offered: o,
				AcceptMessage: &dlcstate.AcceptDlc{
					ProtocolVersion:     dlcstate.ProtocolVersion,
					TemporaryContractID: o.ID,
					AcceptParams:        msg.AcceptParams,
					CetSignatures:       msg.CetSignatures,
				},
				Error: verr.Error(),
			},
		}
		if err := mgr.upsertChannel(ch, failedCh, contractState(c.State), failedC); err != nil {
			return nil, err
		}
		mgr.unreserve(&o.OfferParams)
		return nil, &dlccore.ProtocolError{Msg: "channel accept does not verify", Err: verr}
	}

	s, err := mgr.signAccepted(a)
	if err != nil {
		return nil, err
	}
	signedCh := &dlcstate.Channel{
		State: dlcstate.ChannelSigned,
		Signed: &dlcstate.SignedChannel{
			ChannelID:          dlcstate.ChannelID(dlcstate.ComputeID(a.FundTx.TxHash(), a.FundOutputIndex, msg.TemporaryChannelID)),
			TemporaryChannelID: msg.TemporaryChannelID,
			CounterParty:       peer,
			IsOfferParty:       true,
			ContractID:         a.ContractID,
			FundTx:             a.FundTx,
			FundOutputIndex:    a.FundOutputIndex,
			FundScript:         a.FundScript,
			OwnFundPubKey:      o.OfferParams.FundPubKey,
			CounterFundPubKey:  msg.AcceptParams.FundPubKey,
			CetNsequence:       ch.Offered.CetNsequence,
			FeeRatePerVb:       ch.Offered.FeeRatePerVb,
			UpdateIdx:          initialUpdateIdx,
			Substate:           dlcstate.SignedSubstate{Kind: dlcstate.SubstateEstablished},
		},
	}
	signedC := &dlcstate.Contract{State: dlcstate.ContractSigned, Signed: s}
	if err := mgr.upsertChannel(ch, signedCh, contractState(c.State), signedC); err != nil {
		return nil, err
	}
	logChannel(signedCh.Signed.ChannelID, peer, "channel signed")

	return &dlcstate.SignChannel{
		ChannelID:         signedCh.Signed.ChannelID,
		CetSignatures:     s.OfferSignatures,
		FundingSignatures: s.FundingSignatures,
	}, nil
}

func (mgr *DlcManager) onSignChannel(peer dlcstate.PubKey, msg *dlcstate.SignChannel) error {
	ch, err := mgr.loadChannel(msg.ChannelID, dlcstate.ChannelAccepted)
	if err != nil {
		return err
	}
	acc := ch.Accepted
	if err := checkPeer(acc.Offered.CounterParty, peer); err != nil {
		return err
	}
	c, err := mgr.loadContract(acc.ContractID, dlcstate.ContractAccepted)
	if err != nil {
		return err
	}
	a := c.Accepted

	fundTx, verr := mgr.verifySign(a, &msg.CetSignatures, msg.FundingSignatures)
	if verr != nil {
		failedCh := &dlcstate.Channel{
			State: dlcstate.ChannelFailedSign,
			FailedSign: &dlcstate.FailedSignChannel{
				ChannelID:          acc.ChannelID,
				TemporaryChannelID: acc.Offered.TemporaryChannelID,
				CounterParty:       peer,
				Error:              verr.Error(),
			},
		}
		failedC := &dlcstate.Contract{
			State: dlcstate.ContractFailedSign,
			FailedSign: &dlcstate.FailedSignContract{
				Accepted: a,
				SignMessage: &dlcstate.SignDlc{
					ProtocolVersion:   dlcstate.ProtocolVersion,
					ContractID:        a.ContractID,
					CetSignatures:     msg.CetSignatures,
					FundingSignatures: msg.FundingSignatures,
				},
				Error: verr.Error(),
			},
		}
		if err := mgr.upsertChannel(ch, failedCh, contractState(c.State), failedC); err != nil {
			return err
		}
		mgr.unreserve(&a.AcceptParams)
		return &dlccore.ProtocolError{Msg: "channel sign does not verify", Err: verr}
	}

	if err := mgr.completeFunding(a, fundTx); err != nil {
		return err
	}
	funded := *a
	funded.FundTx = fundTx
	signedCh := &dlcstate.Channel{
		State: dlcstate.ChannelSigned,
		Signed: &dlcstate.SignedChannel{
			ChannelID:          acc.ChannelID,
			TemporaryChannelID: acc.Offered.TemporaryChannelID,
			CounterParty:       peer,
			IsOfferParty:       false,
			ContractID:         a.ContractID,
			FundTx:             fundTx,
			FundOutputIndex:    acc.FundOutputIndex,
			FundScript:         acc.FundScript,
			OwnFundPubKey:      acc.OwnFundPubKey,
			CounterFundPubKey:  acc.CounterFundPubKey,
			CetNsequence:       acc.Offered.CetNsequence,
			FeeRatePerVb:       acc.Offered.FeeRatePerVb,
			UpdateIdx:          initialUpdateIdx,
			Substate:           dlcstate.SignedSubstate{Kind: dlcstate.SubstateEstablished},
		},
	}
	signedC := &dlcstate.Contract{
		State: dlcstate.ContractSigned,
		Signed: &dlcstate.SignedContract{
			Accepted:          &funded,
			OfferSignatures:   msg.CetSignatures,
			FundingSignatures: msg.FundingSignatures,
		},
	}
	if err := mgr.upsertChannel(ch, signedCh, contractState(c.State), signedC); err != nil {
		return err
	}
	if err := mgr.broadcastFunding(fundTx); err != nil {
		return err
	}
	logChannel(acc.ChannelID, peer, "channel funding broadcast")
	return nil
}

// RejectChannelOffer declines a channel offered by a peer.
func (mgr *DlcManager) RejectChannelOffer(id dlcstate.ChannelID) (*dlcstate.RejectChannel, dlcstate.PubKey, error) {
	ch, c, err := mgr.offeredChannel(id)
	if err != nil {
		return nil, dlcstate.PubKey{}, err
	}
	if ch.Offered.IsOfferParty {
		return nil, dlcstate.PubKey{}, dlccore.Protocolf("channel %s is our own offer", id)
	}
	if err := mgr.cancelChannel(ch, c); err != nil {
		return nil, dlcstate.PubKey{}, err
	}
	return &dlcstate.RejectChannel{TemporaryChannelID: id}, ch.Offered.CounterParty, nil
}

func (mgr *DlcManager) onRejectChannel(peer dlcstate.PubKey, msg *dlcstate.RejectChannel) error {
	ch, c, err := mgr.offeredChannel(msg.TemporaryChannelID)
	if err != nil {
		return err
	}
	if err := checkPeer(ch.Offered.CounterParty, peer); err != nil {
		return err
	}
	if !ch.Offered.IsOfferParty {
		return dlccore.Protocolf("reject for channel %s we did not offer", msg.TemporaryChannelID)
	}
	if err := mgr.cancelChannel(ch, c); err != nil {
		return err
	}
	mgr.unreserve(&c.Offered.OfferParams)
	return nil
}

func (mgr *DlcManager) cancelChannel(ch *dlcstate.Channel, c *dlcstate.Contract) error {
	cancelled := &dlcstate.Channel{State: dlcstate.ChannelCancelled, Offered: ch.Offered}
	rejected := &dlcstate.Contract{State: dlcstate.ContractRejected, Offered: c.Offered}
	return mgr.upsertChannel(ch, cancelled, contractState(c.State), rejected)
}

// fundValue is the amount locked in the channel's funding output.
func fundValue(s *dlcstate.SignedChannel) uint64 {
	return uint64(s.FundTx.TxOut[s.FundOutputIndex].Value)
}

// OfferCollaborativeClose proposes closing a signed channel, paying
// counterPayout to the peer and the rest of the funding output to us.
func (mgr *DlcManager) OfferCollaborativeClose(id dlcstate.ChannelID, counterPayout uint64) (*dlcstate.CollaborativeCloseOffer, dlcstate.PubKey, error) {
	var none dlcstate.PubKey
	ch, err := mgr.loadChannel(id, dlcstate.ChannelSigned)
	if err != nil {
		return nil, none, err
	}
	s := ch.Signed
	total := fundValue(s)
	if counterPayout > total {
		return nil, none, dlccore.Protocolf("payout %d exceeds channel value %d", counterPayout, total)
	}
	if !s.Substate.Kind.CanTransition(dlcstate.SubstateCollaborativeCloseOffered) {
		return nil, none, dlccore.Protocolf("channel %s is %s", id, s.Substate.Kind)
	}
	closeTx, sig, err := mgr.wallet.CreateCollaborativeClose(s, counterPayout)
	if err != nil {
		return nil, none, dlccore.NewWalletError("collaborative close", err)
	}

	next := *s
	next.Substate = dlcstate.SignedSubstate{
		Kind:          dlcstate.SubstateCollaborativeCloseOffered,
		OwnPayout:     total - counterPayout,
		CounterPayout: counterPayout,
		IsOfferer:     true,
		CloseTx:       closeTx,
		Timeout:       uint64(mgr.now().Unix()) + collabCloseTimeout,
	}
	if err := mgr.upsertChannel(ch, &dlcstate.Channel{State: dlcstate.ChannelSigned, Signed: &next}, nil, nil); err != nil {
		return nil, none, err
	}
	return &dlcstate.CollaborativeCloseOffer{
		ChannelID:      id,
		CounterPayout:  counterPayout,
		CloseSignature: sig,
	}, s.CounterParty, nil
}

func (mgr *DlcManager) onCollaborativeCloseOffer(peer dlcstate.PubKey, msg *dlcstate.CollaborativeCloseOffer) error {
	ch, err := mgr.loadChannel(msg.ChannelID, dlcstate.ChannelSigned)
	if err != nil {
		return err
	}
	s := ch.Signed
	if err := checkPeer(s.CounterParty, peer); err != nil {
		return err
	}
	total := fundValue(s)
	if msg.CounterPayout > total {
		return dlccore.Protocolf("offered payout %d exceeds channel value %d", msg.CounterPayout, total)
	}
	if err := mgr.checkCloseCollision(peer, s); err != nil {
		return err
	}
	next := *s
	next.Substate = dlcstate.SignedSubstate{
		Kind:           dlcstate.SubstateCollaborativeCloseOffered,
		OwnPayout:      msg.CounterPayout,
		CounterPayout:  total - msg.CounterPayout,
		IsOfferer:      false,
		CloseSignature: msg.CloseSignature,
		Timeout:        uint64(mgr.now().Unix()) + collabCloseTimeout,
	}
	return mgr.upsertChannel(ch, &dlcstate.Channel{State: dlcstate.ChannelSigned, Signed: &next}, nil, nil)
}

// checkCloseCollision decides whether a close offer from the peer may
// replace the substate of s. When both sides have a live close offer out,
// the one made by the party with the lower funding key stands, so both
// nodes keep the same offer.
func (mgr *DlcManager) checkCloseCollision(peer dlcstate.PubKey, s *dlcstate.SignedChannel) error {
	sub := s.Substate
	if sub.Kind != dlcstate.SubstateCollaborativeCloseOffered {
		if !sub.Kind.CanTransition(dlcstate.SubstateCollaborativeCloseOffered) {
			return dlccore.Protocolf("channel %s is %s", s.ChannelID, sub.Kind)
		}
		return nil
	}
	if !sub.IsOfferer || uint64(mgr.now().Unix()) > sub.Timeout {
		return nil
	}
	if bytes.Compare(s.OwnFundPubKey[:], s.CounterFundPubKey[:]) < 0 {
		return dlccore.Protocolf("channel %s already has our close offer", s.ChannelID)
	}
	logChannel(s.ChannelID, peer, "dropping our close offer for the peer's")
	return nil
}

// AcceptCollaborativeClose completes a close offered by the peer and
// broadcasts it.
func (mgr *DlcManager) AcceptCollaborativeClose(id dlcstate.ChannelID) error {
	ch, err := mgr.loadChannel(id, dlcstate.ChannelSigned)
	if err != nil {
		return err
	}
	s := ch.Signed
	if s.Substate.Kind != dlcstate.SubstateCollaborativeCloseOffered || s.Substate.IsOfferer {
		return dlccore.Protocolf("channel %s has no close offer from the peer", id)
	}
	if now := uint64(mgr.now().Unix()); now > s.Substate.Timeout {
		return dlccore.Protocolf("close offer for channel %s expired", id)
	}
	closeTx, err := mgr.wallet.FinalizeCollaborativeClose(s, s.Substate.CloseSignature)
	if err != nil {
		return dlccore.NewWalletError("finalize collaborative close", err)
	}
	if err := mgr.wallet.Broadcast(closeTx); err != nil {
		return dlccore.NewWalletError("broadcast close", err)
	}
	logChannel(id, s.CounterParty, "broadcast collaborative close %s", closeTx.TxHash())
	return mgr.closeChannel(ch, dlcstate.ChannelCollaborativelyClosed, closeTx)
}

// closeChannel moves a signed channel and its contract to their closed
// states. closeTx, if set, is recorded as the contract's settlement.
func (mgr *DlcManager) closeChannel(ch *dlcstate.Channel, state dlcstate.ChannelState, closeTx *wire.MsgTx) error {
	s := ch.Signed
	c, err := mgr.loadContract(s.ContractID, dlcstate.ContractSigned, dlcstate.ContractConfirmed)
	if err != nil {
		return err
	}
	closedCh := &dlcstate.Channel{
		State: state,
		Closed: &dlcstate.ClosedChannel{
			ChannelID:          s.ChannelID,
			TemporaryChannelID: s.TemporaryChannelID,
			CounterParty:       s.CounterParty,
		},
	}
	closedC := &dlcstate.Contract{
		State: dlcstate.ContractClosed,
		Closed: &dlcstate.ClosedContract{
			ContractID:   c.ID(),
			TemporaryID:  c.TemporaryID(),
			CounterParty: c.CounterParty(),
			Pnl:          int64(s.Substate.OwnPayout) - int64(c.Signed.Accepted.OwnCollateral()),
			SignedCet:    closeTx,
		},
	}
	return mgr.upsertChannel(ch, closedCh, contractState(c.State), closedC)
}

// ForceCloseChannel broadcasts the buffer transaction of a signed channel.
// The contract then settles on chain like a plain contract.
func (mgr *DlcManager) ForceCloseChannel(id dlcstate.ChannelID) error {
	ch, err := mgr.loadChannel(id, dlcstate.ChannelSigned)
	if err != nil {
		return err
	}
	s := ch.Signed
	bufferTx, err := mgr.wallet.SignBufferTx(s)
	if err != nil {
		return dlccore.NewWalletError("sign buffer", err)
	}
	if err := mgr.wallet.Broadcast(bufferTx); err != nil {
		return dlccore.NewWalletError("broadcast buffer", err)
	}
	closing := &dlcstate.Channel{
		State: dlcstate.ChannelClosing,
		Closing: &dlcstate.ClosingChannel{
			ChannelID:          s.ChannelID,
			TemporaryChannelID: s.TemporaryChannelID,
			CounterParty:       s.CounterParty,
			ContractID:         s.ContractID,
			BufferTx:           bufferTx,
			IsClosingParty:     true,
		},
	}
	if err := mgr.upsertChannel(ch, closing, nil, nil); err != nil {
		return err
	}
	logChannel(id, s.CounterParty, "force closing with buffer %s", bufferTx.TxHash())
	return nil
}
