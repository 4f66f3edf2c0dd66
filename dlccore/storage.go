package dlccore

import "github.com/mit-dci/dlcd/dlcstate"

// Storage is the state store. Reads return nil and no error for a missing
// record; every write is one transaction.
type Storage interface {
	GetContract(id dlcstate.ContractID) (*dlcstate.Contract, error)
	GetContracts() ([]*dlcstate.Contract, error)
	CreateContract(o *dlcstate.OfferedContract) error
	UpdateContract(c *dlcstate.Contract) error
	DeleteContract(id dlcstate.ContractID) error

	GetContractOffers() ([]*dlcstate.OfferedContract, error)
	GetSignedContracts() ([]*dlcstate.SignedContract, error)
	GetConfirmedContracts() ([]*dlcstate.SignedContract, error)
	GetPreClosedContracts() ([]*dlcstate.PreClosedContract, error)

	// UpsertChannel writes the channel and, if c is not nil, the contract,
	// in a single transaction.
	UpsertChannel(ch *dlcstate.Channel, c *dlcstate.Contract) error
	DeleteChannel(id dlcstate.ChannelID) error
	GetChannel(id dlcstate.ChannelID) (*dlcstate.Channel, error)
	GetOfferedChannels() ([]*dlcstate.OfferedChannel, error)
	// GetSignedChannels filters on substate when kind is not nil.
	GetSignedChannels(kind *dlcstate.SignedSubstateKind) ([]*dlcstate.SignedChannel, error)
	GetClosingChannels() ([]*dlcstate.ClosingChannel, error)

	PersistChainMonitor(m *dlcstate.ChainMonitor) error
	GetChainMonitor() (*dlcstate.ChainMonitor, error)

	ListPeers() ([]PeerInfo, error)
	SavePeer(p PeerInfo) error
}

// PeerInfo is a peer the node has talked to and will reconnect to.
type PeerInfo struct {
	PubKey string `json:"pubkey"`
	Host   string `json:"host"`
}
