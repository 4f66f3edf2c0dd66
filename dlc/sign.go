package dlc

import (
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// onSign is run by the accept party. It stores the contract as Signed and
// then broadcasts the funding transaction; there is no reply.
func (mgr *DlcManager) onSign(peer dlcstate.PubKey, msg *dlcstate.SignDlc) error {
	c, err := mgr.loadContract(msg.ContractID, dlcstate.ContractAccepted)
	if err != nil {
		return err
	}
	a := c.Accepted
	if err := checkPeer(a.Offered.CounterParty, peer); err != nil {
		return err
	}

	fundTx, verr := mgr.verifySign(a, &msg.CetSignatures, msg.FundingSignatures)
	if verr != nil {
		failed := &dlcstate.Contract{
			State: dlcstate.ContractFailedSign,
			FailedSign: &dlcstate.FailedSignContract{
				Accepted:    a,
				SignMessage: msg,
				Error:       verr.Error(),
			},
		}
		if err := mgr.updateContract(c.State, failed); err != nil {
			return err
		}
		mgr.unreserve(&a.AcceptParams)
		return &dlccore.ProtocolError{Msg: "sign for " + a.ContractID.String() + " does not verify", Err: verr}
	}

	if err := mgr.completeFunding(a, fundTx); err != nil {
		return err
	}
	funded := *a
	funded.FundTx = fundTx
	signed := &dlcstate.Contract{
		State: dlcstate.ContractSigned,
		Signed: &dlcstate.SignedContract{
			Accepted:          &funded,
			OfferSignatures:   msg.CetSignatures,
			FundingSignatures: msg.FundingSignatures,
		},
	}
	if err := mgr.updateContract(c.State, signed); err != nil {
		return err
	}
	if err := mgr.broadcastFunding(fundTx); err != nil {
		return err
	}
	logContract(a.ContractID, peer, "funding broadcast")
	return nil
}
