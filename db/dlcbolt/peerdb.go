package dlcbolt

import (
	"encoding/json"

	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
)

func readPeers(tx *bolt.Tx) ([]dlccore.PeerInfo, error) {
	peers := make([]dlccore.PeerInfo, 0)
	raw := tx.Bucket(BKTPeers).Get(KEYPeers)
	if raw == nil {
		return peers, nil
	}
	if err := json.Unmarshal(raw, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// ListPeers returns saved peers in the order they were first saved.
func (s *Store) ListPeers() ([]dlccore.PeerInfo, error) {
	var peers []dlccore.PeerInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		peers, err = readPeers(tx)
		return err
	})
	if err != nil {
		return nil, dlccore.NewStorageError("list peers", err)
	}
	return peers, nil
}

// SavePeer appends p unless an equal record is already saved.
func (s *Store) SavePeer(p dlccore.PeerInfo) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		peers, err := readPeers(tx)
		if err != nil {
			return err
		}
		for _, existing := range peers {
			if existing == p {
				return nil
			}
		}
		raw, err := json.Marshal(append(peers, p))
		if err != nil {
			return err
		}
		return tx.Bucket(BKTPeers).Put(KEYPeers, raw)
	})
	return dlccore.NewStorageError("save peer", err)
}
