package dlcbolt

import (
	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// PersistChainMonitor overwrites the stored monitor.
func (s *Store) PersistChainMonitor(m *dlcstate.ChainMonitor) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTChainMonitor).Put(KEYChainMonitor, m.Bytes())
	})
	return dlccore.NewStorageError("persist chain monitor", err)
}

// GetChainMonitor returns the stored monitor, or nil if none was saved.
func (s *Store) GetChainMonitor() (*dlcstate.ChainMonitor, error) {
	var m *dlcstate.ChainMonitor
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(BKTChainMonitor).Get(KEYChainMonitor)
		if v == nil {
			return nil
		}
		var err error
		m, err = dlcstate.ChainMonitorFromBytes(v)
		return err
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get chain monitor", err)
	}
	return m, nil
}
