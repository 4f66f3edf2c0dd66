package dlc

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// SendOffer stores a new Offered contract for terms and returns the offer
// to send to counterParty. The caller sends it.
func (mgr *DlcManager) SendOffer(terms *ContractInput, counterParty dlcstate.PubKey,
	announcements []dlcstate.OracleAnnouncement) (*dlcstate.OfferDlc, error) {

	if err := terms.Validate(announcements); err != nil {
		return nil, &dlccore.ProtocolError{Msg: "invalid contract input", Err: err}
	}
	if _, err := dlcstate.ParsePubKey(counterParty[:]); err != nil {
		return nil, &dlccore.ProtocolError{Msg: "invalid counterparty", Err: err}
	}
	tempID, err := dlcstate.NewTemporaryID()
	if err != nil {
		return nil, err
	}
	o, err := mgr.newOffer(tempID, terms, counterParty, announcements)
	if err != nil {
		return nil, err
	}
	if err := mgr.store.CreateContract(o); err != nil {
		mgr.unreserve(&o.OfferParams)
		return nil, err
	}
	mgr.publishContract(dlcstate.ContractOffered, dlcstate.NewOfferedContract(o), true)

	return &dlcstate.OfferDlc{
		ProtocolVersion:     dlcstate.ProtocolVersion,
		ChainHash:           *mgr.params.GenesisHash,
		TemporaryContractID: o.ID,
		ContractInfo:        o.ContractInfo,
		OfferParams:         o.OfferParams,
		TotalCollateral:     o.TotalCollateral,
		FundOutputSerialID:  o.FundOutputSerialID,
		FeeRatePerVb:        o.FeeRatePerVb,
		CetLocktime:         o.CetLocktime,
		RefundLocktime:      o.RefundLocktime,
	}, nil
}

// newOffer reserves the offer party's coins and builds the offered
// contract. Nothing is stored.
func (mgr *DlcManager) newOffer(tempID [32]byte, terms *ContractInput, counterParty dlcstate.PubKey,
	announcements []dlcstate.OracleAnnouncement) (*dlcstate.OfferedContract, error) {

	params, err := mgr.partyParams(tempID, terms.OfferCollateral, terms.FeeRate)
	if err != nil {
		return nil, err
	}
	cetLocktime, refundLocktime := mgr.locktimes(announcements)
	return &dlcstate.OfferedContract{
		ID:                 tempID,
		IsOfferParty:       true,
		CounterParty:       counterParty,
		ContractInfo:       terms.contractInfo(announcements),
		OfferParams:        *params,
		TotalCollateral:    terms.TotalCollateral(),
		FundOutputSerialID: randomSerialID(),
		FeeRatePerVb:       terms.FeeRate,
		CetLocktime:        cetLocktime,
		RefundLocktime:     refundLocktime,
	}, nil
}

// checkOfferHeader rejects offers for another chain or protocol version.
func (mgr *DlcManager) checkOfferHeader(version uint32, chain chainhash.Hash) error {
	if version != dlcstate.ProtocolVersion {
		return dlccore.Protocolf("unsupported protocol version %d", version)
	}
	if chain != *mgr.params.GenesisHash {
		return dlccore.Protocolf("offer is for chain %x, we are on %s", chain[:4], mgr.params.Name)
	}
	return nil
}

func (mgr *DlcManager) onOffer(peer dlcstate.PubKey, msg *dlcstate.OfferDlc) error {
	if err := mgr.checkOfferHeader(msg.ProtocolVersion, msg.ChainHash); err != nil {
		return err
	}
	if err := validateOffer(&msg.ContractInfo, &msg.OfferParams, msg.TotalCollateral, msg.FeeRatePerVb); err != nil {
		return &dlccore.ProtocolError{Msg: "invalid offer", Err: err}
	}
	existing, err := mgr.store.GetContract(msg.TemporaryContractID)
	if err != nil {
		return err
	}
	if existing != nil {
		return dlccore.Protocolf("duplicate offer %s", msg.TemporaryContractID)
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
	if err := mgr.store.CreateContract(o); err != nil {
		return err
	}
	mgr.publishContract(dlcstate.ContractOffered, dlcstate.NewOfferedContract(o), true)
	return nil
}

// RejectContractOffer declines an offer received from a peer. The returned
// message is for the offer party.
func (mgr *DlcManager) RejectContractOffer(id dlcstate.ContractID) (*dlcstate.RejectDlc, dlcstate.PubKey, error) {
	c, err := mgr.loadContract(id, dlcstate.ContractOffered)
	if err != nil {
		return nil, dlcstate.PubKey{}, err
	}
	if c.Offered.IsOfferParty {
		return nil, dlcstate.PubKey{}, dlccore.Protocolf("contract %s is our own offer", id)
	}
	rejected := &dlcstate.Contract{State: dlcstate.ContractRejected, Offered: c.Offered}
	if err := mgr.updateContract(c.State, rejected); err != nil {
		return nil, dlcstate.PubKey{}, err
	}
	return &dlcstate.RejectDlc{ContractID: id}, c.Offered.CounterParty, nil
}

func (mgr *DlcManager) onReject(peer dlcstate.PubKey, msg *dlcstate.RejectDlc) error {
	c, err := mgr.loadContract(msg.ContractID, dlcstate.ContractOffered)
	if err != nil {
		return err
	}
	if err := checkPeer(c.Offered.CounterParty, peer); err != nil {
		return err
	}
	if !c.Offered.IsOfferParty {
		return dlccore.Protocolf("reject for contract %s we did not offer", msg.ContractID)
	}
	rejected := &dlcstate.Contract{State: dlcstate.ContractRejected, Offered: c.Offered}
	if err := mgr.updateContract(c.State, rejected); err != nil {
		return err
	}
	mgr.unreserve(&c.Offered.OfferParams)
	return nil
}

func checkPeer(want, got dlcstate.PubKey) error {
	if want != got {
		return &dlccore.ProtocolError{
			Msg: fmt.Sprintf("message from %s for a record held with %s", got, want),
			Err: dlccore.ErrInvalidState,
		}
	}
	return nil
}

func logContract(id dlcstate.ContractID, peer dlcstate.PubKey, format string, args ...interface{}) {
	logging.WithField("contract", id.String()).
		WithField("counterparty", peer.String()).
		Infof(format, args...)
}
