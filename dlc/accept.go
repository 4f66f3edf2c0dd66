package dlc

import (
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// AcceptContractOffer accepts an offer received from a peer. It returns the
// final contract id, the offer party and the accept message to send it.
func (mgr *DlcManager) AcceptContractOffer(id dlcstate.ContractID) (dlcstate.ContractID, dlcstate.PubKey, *dlcstate.AcceptDlc, error) {
	var none dlcstate.PubKey
	c, err := mgr.loadContract(id, dlcstate.ContractOffered)
	if err != nil {
		return id, none, nil, err
	}
	o := c.Offered
	if o.IsOfferParty {
		return id, none, nil, dlccore.Protocolf("contract %s is our own offer", id)
	}

	a, err := mgr.acceptOffer(o)
	if err != nil {
		return id, none, nil, err
	}
	accepted := &dlcstate.Contract{State: dlcstate.ContractAccepted, Accepted: a}
	if err := mgr.updateContract(c.State, accepted); err != nil {
		mgr.unreserve(&a.AcceptParams)
		return id, none, nil, err
	}
	logContract(a.ContractID, o.CounterParty, "accepted offer %s", o.ID)

	return a.ContractID, o.CounterParty, &dlcstate.AcceptDlc{
		ProtocolVersion:     dlcstate.ProtocolVersion,
		TemporaryContractID: o.ID,
		AcceptParams:        a.AcceptParams,
		CetSignatures:       a.AcceptSignatures,
	}, nil
}

// acceptOffer funds the accept side of o and signs its CETs. Coins stay
// reserved on success.
func (mgr *DlcManager) acceptOffer(o *dlcstate.OfferedContract) (*dlcstate.AcceptedContract, error) {
	params, err := mgr.partyParams(o.ID, o.TotalCollateral-o.OfferParams.Collateral, o.FeeRatePerVb)
	if err != nil {
		return nil, err
	}
	a, err := mgr.acceptedFromOffer(o, params, &dlcstate.CetSignatures{})
	if err != nil {
		mgr.unreserve(params)
		return nil, err
	}
	sigs, err := mgr.wallet.CreateCetAdaptorSignatures(&o.ContractInfo, a.FundTx, a.FundOutputIndex,
		a.FundScript, params.FundPubKey)
	if err != nil {
		mgr.unreserve(params)
		return nil, dlccore.NewWalletError("cet signatures", err)
	}
	a.AcceptSignatures = *sigs
	return a, nil
}

// onAccept is run by the offer party. An accept that does not verify moves
// the contract to FailedAccept; the reply is the sign message.
func (mgr *DlcManager) onAccept(peer dlcstate.PubKey, msg *dlcstate.AcceptDlc) (dlcstate.Message, error) {
	c, err := mgr.loadContract(msg.TemporaryContractID, dlcstate.ContractOffered)
	if err != nil {
		return nil, err
	}
	o := c.Offered
	if err := checkPeer(o.CounterParty, peer); err != nil {
		return nil, err
	}
	if !o.IsOfferParty {
		return nil, dlccore.Protocolf("accept for contract %s we did not offer", o.ID)
	}

	a, verr := mgr.verifyAccept(o, &msg.AcceptParams, &msg.CetSignatures)
	if verr != nil {
		failed := &dlcstate.Contract{
			State: dlcstate.ContractFailedAccept,
			FailedAccept: &dlcstate.FailedAcceptContract{
				Offered:       o,
				AcceptMessage: msg,
				Error:         verr.Error(),
			},
		}
		if err := mgr.updateContract(c.State, failed); err != nil {
			return nil, err
		}
		mgr.unreserve(&o.OfferParams)
		return nil, &dlccore.ProtocolError{Msg: "accept for " + o.ID.String() + " does not verify", Err: verr}
	}

	s, err := mgr.signAccepted(a)
	if err != nil {
		return nil, err
	}
	signed := &dlcstate.Contract{State: dlcstate.ContractSigned, Signed: s}
	if err := mgr.updateContract(c.State, signed); err != nil {
		return nil, err
	}
	logContract(a.ContractID, peer, "signed contract")

	return &dlcstate.SignDlc{
		ProtocolVersion:   dlcstate.ProtocolVersion,
		ContractID:        a.ContractID,
		CetSignatures:     s.OfferSignatures,
		FundingSignatures: s.FundingSignatures,
	}, nil
}

// signAccepted adds the offer party's CET and funding signatures to a
// verified accept.
func (mgr *DlcManager) signAccepted(a *dlcstate.AcceptedContract) (*dlcstate.SignedContract, error) {
	o := a.Offered
	sigs, err := mgr.wallet.CreateCetAdaptorSignatures(&o.ContractInfo, a.FundTx, a.FundOutputIndex,
		a.FundScript, o.OfferParams.FundPubKey)
	if err != nil {
		return nil, dlccore.NewWalletError("cet signatures", err)
	}
	fundingSigs, err := mgr.signOwnInputs(a.FundTx, &o.OfferParams)
	if err != nil {
		return nil, err
	}
	return &dlcstate.SignedContract{
		Accepted:          a,
		OfferSignatures:   *sigs,
		FundingSignatures: fundingSigs,
	}, nil
}
