package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// send queues msg for peer and flushes the transport.
func (n *DlcNode) send(peer dlcstate.PubKey, msg dlcstate.Message) {
	n.transport.SendMessage(peer, msg)
	n.transport.ProcessMessages()
}

// SendDlcOffer stores a new offer and sends it to counterParty.
func (n *DlcNode) SendDlcOffer(ctx context.Context, terms *dlc.ContractInput, counterParty dlcstate.PubKey,
	announcements []dlcstate.OracleAnnouncement) (*dlcstate.OfferDlc, error) {

	var offer *dlcstate.OfferDlc
	err := n.call(ctx, "send_offer", func(mgr *dlc.DlcManager) (err error) {
		offer, err = mgr.SendOffer(terms, counterParty, announcements)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.send(counterParty, offer)
	return offer, nil
}

// AcceptDlcOffer accepts a received offer and sends the accept message. It
// returns the final contract id.
func (n *DlcNode) AcceptDlcOffer(ctx context.Context, id dlcstate.ContractID) (dlcstate.ContractID, dlcstate.PubKey, *dlcstate.AcceptDlc, error) {
	var (
		contractID   dlcstate.ContractID
		counterParty dlcstate.PubKey
		accept       *dlcstate.AcceptDlc
	)
	err := n.call(ctx, "accept_offer", func(mgr *dlc.DlcManager) (err error) {
		contractID, counterParty, accept, err = mgr.AcceptContractOffer(id)
		return err
	})
	if err != nil {
		return id, counterParty, nil, err
	}
	n.send(counterParty, accept)
	return contractID, counterParty, accept, nil
}

// RejectDlcOffer declines a received offer and tells the offer party.
func (n *DlcNode) RejectDlcOffer(ctx context.Context, id dlcstate.ContractID) error {
	var (
		reject       *dlcstate.RejectDlc
		counterParty dlcstate.PubKey
	)
	err := n.call(ctx, "reject_offer", func(mgr *dlc.DlcManager) (err error) {
		reject, counterParty, err = mgr.RejectContractOffer(id)
		return err
	})
	if err != nil {
		return err
	}
	n.send(counterParty, reject)
	return nil
}

// OfferChannel stores a new channel offer and sends it to counterParty.
func (n *DlcNode) OfferChannel(ctx context.Context, terms *dlc.ContractInput, counterParty dlcstate.PubKey,
	announcements []dlcstate.OracleAnnouncement) (*dlcstate.OfferChannel, error) {

	var offer *dlcstate.OfferChannel
	err := n.call(ctx, "offer_channel", func(mgr *dlc.DlcManager) (err error) {
		offer, err = mgr.OfferChannel(terms, counterParty, announcements)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.send(counterParty, offer)
	return offer, nil
}

// AcceptChannel accepts a received channel offer and returns the final
// channel id.
func (n *DlcNode) AcceptChannel(ctx context.Context, id dlcstate.ChannelID) (dlcstate.ChannelID, error) {
	var (
		channelID    dlcstate.ChannelID
		counterParty dlcstate.PubKey
		accept       *dlcstate.AcceptChannel
	)
	err := n.call(ctx, "accept_channel", func(mgr *dlc.DlcManager) (err error) {
		channelID, counterParty, accept, err = mgr.AcceptChannel(id)
		return err
	})
	if err != nil {
		return id, err
	}
	n.send(counterParty, accept)
	return channelID, nil
}

// RejectChannel declines a received channel offer.
func (n *DlcNode) RejectChannel(ctx context.Context, id dlcstate.ChannelID) error {
	var (
		reject       *dlcstate.RejectChannel
		counterParty dlcstate.PubKey
	)
	err := n.call(ctx, "reject_channel", func(mgr *dlc.DlcManager) (err error) {
		reject, counterParty, err = mgr.RejectChannelOffer(id)
		return err
	})
	if err != nil {
		return err
	}
	n.send(counterParty, reject)
	return nil
}

// OfferCollaborativeClose proposes closing channel id with counterPayout
// going to the peer.
func (n *DlcNode) OfferCollaborativeClose(ctx context.Context, id dlcstate.ChannelID, counterPayout uint64) error {
	var (
		offer        *dlcstate.CollaborativeCloseOffer
		counterParty dlcstate.PubKey
	)
	err := n.call(ctx, "offer_close", func(mgr *dlc.DlcManager) (err error) {
		offer, counterParty, err = mgr.OfferCollaborativeClose(id, counterPayout)
		return err
	})
	if err != nil {
		return err
	}
	n.send(counterParty, offer)
	return nil
}

// AcceptCollaborativeClose signs and broadcasts a close the peer offered.
func (n *DlcNode) AcceptCollaborativeClose(ctx context.Context, id dlcstate.ChannelID) error {
	return n.call(ctx, "accept_close", func(mgr *dlc.DlcManager) error {
		return mgr.AcceptCollaborativeClose(id)
	})
}

// ForceCloseChannel closes channel id on chain without the peer.
func (n *DlcNode) ForceCloseChannel(ctx context.Context, id dlcstate.ChannelID) error {
	return n.call(ctx, "force_close", func(mgr *dlc.DlcManager) error {
		return mgr.ForceCloseChannel(id)
	})
}

// ProcessMessagesNow drains the transport on the worker and returns how
// many messages applied cleanly.
func (n *DlcNode) ProcessMessagesNow(ctx context.Context) (int, error) {
	var applied int
	err := n.call(ctx, "process_messages", func(mgr *dlc.DlcManager) error {
		applied = mgr.ProcessMessages()
		return nil
	})
	return applied, err
}

// PeriodicCheck moves contracts and channels forward on chain and oracle
// events.
func (n *DlcNode) PeriodicCheck(ctx context.Context) error {
	return n.call(ctx, "periodic_check", func(mgr *dlc.DlcManager) error {
		return mgr.PeriodicCheck(ctx)
	})
}

// Contract returns the contract stored under id, or nil if there is none.
func (n *DlcNode) Contract(ctx context.Context, id dlcstate.ContractID) (*dlcstate.Contract, error) {
	var c *dlcstate.Contract
	err := n.call(ctx, "get_contract", func(mgr *dlc.DlcManager) (err error) {
		c, err = mgr.Contract(id)
		return err
	})
	return c, err
}

// Contracts lists every stored contract.
func (n *DlcNode) Contracts(ctx context.Context) ([]*dlcstate.Contract, error) {
	var cs []*dlcstate.Contract
	err := n.call(ctx, "list_contracts", func(mgr *dlc.DlcManager) (err error) {
		cs, err = mgr.Contracts()
		return err
	})
	return cs, err
}

// Channel returns the channel stored under id, or nil if there is none.
func (n *DlcNode) Channel(ctx context.Context, id dlcstate.ChannelID) (*dlcstate.Channel, error) {
	var ch *dlcstate.Channel
	err := n.call(ctx, "get_channel", func(mgr *dlc.DlcManager) (err error) {
		ch, err = mgr.Channel(id)
		return err
	})
	return ch, err
}

// AddPeer records a peer for ConnectIfNecessary.
func (n *DlcNode) AddPeer(ctx context.Context, p dlccore.PeerInfo) error {
	if _, err := dlcstate.ParsePubKeyHex(p.PubKey); err != nil {
		return fmt.Errorf("peer key: %w", err)
	}
	return n.call(ctx, "add_peer", func(mgr *dlc.DlcManager) error {
		return mgr.SavePeer(p)
	})
}

// ConnectIfNecessary dials every saved peer the transport is not
// connected to, no faster than the configured reconnect rate.
func (n *DlcNode) ConnectIfNecessary(ctx context.Context) error {
	var peers []dlccore.PeerInfo
	err := n.call(ctx, "list_peers", func(mgr *dlc.DlcManager) (err error) {
		peers, err = mgr.ListPeers()
		return err
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range peers {
		pk, err := dlcstate.ParsePubKeyHex(p.PubKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", p.PubKey, err))
			continue
		}
		if n.transport.IsConnected(pk) {
			continue
		}
		if err := n.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := n.transport.Connect(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("connect %s@%s: %w", p.PubKey, p.Host, err))
			continue
		}
		logging.Infof("node: connected to %s", p.PubKey)
	}
	return errors.Join(errs...)
}

// FetchAnnouncements asks the oracle for the announcements of eventID.
func (n *DlcNode) FetchAnnouncements(ctx context.Context, eventID string) ([]dlcstate.OracleAnnouncement, error) {
	if n.oracle == nil {
		return nil, fmt.Errorf("no oracle configured")
	}
	return n.oracle.GetAnnouncements(ctx, eventID)
}
