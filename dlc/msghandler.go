package dlc

import (
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// OnDlcMessage applies one inbound message from peer and returns the reply
// to send back, if any.
func (mgr *DlcManager) OnDlcMessage(msg dlcstate.Message, peer dlcstate.PubKey) (dlcstate.Message, error) {
	switch m := msg.(type) {
	case *dlcstate.OfferDlc:
		return nil, mgr.onOffer(peer, m)
	case *dlcstate.AcceptDlc:
		return mgr.onAccept(peer, m)
	case *dlcstate.SignDlc:
		return nil, mgr.onSign(peer, m)
	case *dlcstate.RejectDlc:
		return nil, mgr.onReject(peer, m)
	case *dlcstate.OfferChannel:
		return nil, mgr.onOfferChannel(peer, m)
	case *dlcstate.AcceptChannel:
		return mgr.onAcceptChannel(peer, m)
	case *dlcstate.SignChannel:
		return nil, mgr.onSignChannel(peer, m)
	case *dlcstate.RejectChannel:
		return nil, mgr.onRejectChannel(peer, m)
	case *dlcstate.CollaborativeCloseOffer:
		return nil, mgr.onCollaborativeCloseOffer(peer, m)
	}
	return nil, dlccore.Protocolf("unhandled message type %#x", msg.MsgType())
}

// ProcessMessages drains the transport, applies every message in the order
// received and queues the replies. A message that fails is logged and
// dropped. It returns the number of messages applied without error.
func (mgr *DlcManager) ProcessMessages() int {
	applied := 0
	for _, rm := range mgr.transport.GetAndClearReceivedMessages() {
		log := logging.WithField("counterparty", rm.Peer.String()).WithField("type", rm.Msg.MsgType())
		log.Debugf("processing dlc message")

		reply, err := mgr.OnDlcMessage(rm.Msg, rm.Peer)
		observeMessage(rm.Msg.MsgType(), err)
		if err != nil {
			log.Warnf("dlc message failed: %v", err)
			continue
		}
		applied++
		if reply != nil {
			log.Debugf("replying with %#x", reply.MsgType())
			mgr.transport.SendMessage(rm.Peer, reply)
		}
	}
	if mgr.transport.HasPendingMessages() {
		mgr.transport.ProcessMessages()
	}
	return applied
}

// SavePeer records a peer to reconnect to.
func (mgr *DlcManager) SavePeer(p dlccore.PeerInfo) error {
	return mgr.store.SavePeer(p)
}

// ListPeers returns the peers saved with SavePeer.
func (mgr *DlcManager) ListPeers() ([]dlccore.PeerInfo, error) {
	return mgr.store.ListPeers()
}

// Contract returns the stored contract under id, or nil.
func (mgr *DlcManager) Contract(id dlcstate.ContractID) (*dlcstate.Contract, error) {
	return mgr.store.GetContract(id)
}

// Contracts returns every stored contract.
func (mgr *DlcManager) Contracts() ([]*dlcstate.Contract, error) {
	return mgr.store.GetContracts()
}

// Channel returns the stored channel under id, or nil.
func (mgr *DlcManager) Channel(id dlcstate.ChannelID) (*dlcstate.Channel, error) {
	return mgr.store.GetChannel(id)
}
