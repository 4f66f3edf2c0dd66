package dlcbolt

import (
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// UpsertChannel writes ch and, when c is not nil, c in one transaction.
// Either both records are visible afterwards or neither is.
func (s *Store) UpsertChannel(ch *dlcstate.Channel, c *dlcstate.Contract) error {
	data, err := dlcstate.SerializeChannel(ch)
	if err != nil {
		return dlccore.NewStorageError("upsert channel", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BKTChannels)
		if ch.IsRekeyed() {
			tmp := ch.TemporaryID()
			if err := b.Delete(tmp[:]); err != nil {
				return err
			}
		}
		id := ch.ID()
		if err := b.Put(id[:], data); err != nil {
			return err
		}
		if s.failpoint != nil {
			if err := s.failpoint(); err != nil {
				return err
			}
		}
		if c == nil {
			return nil
		}
		return putContract(tx, c)
	})
	return dlccore.NewStorageError(fmt.Sprintf("upsert channel %s", ch.ID()), err)
}

// DeleteChannel removes the channel stored under id.
func (s *Store) DeleteChannel(id dlcstate.ChannelID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTChannels).Delete(id[:])
	})
	return dlccore.NewStorageError(fmt.Sprintf("delete channel %s", id), err)
}

// GetChannel returns the channel stored under id, or nil.
func (s *Store) GetChannel(id dlcstate.ChannelID) (*dlcstate.Channel, error) {
	var ch *dlcstate.Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(BKTChannels).Get(id[:])
		if v == nil {
			return nil
		}
		var err error
		ch, err = dlcstate.DeserializeChannel(v)
		return err
	})
	if err != nil {
		return nil, dlccore.NewStorageError(fmt.Sprintf("get channel %s", id), err)
	}
	return ch, nil
}

func (s *Store) channelsWithPrefix(prefix []byte, fn func(ch *dlcstate.Channel)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return scanWithPrefix(tx, BKTChannels, prefix, func(record []byte) error {
			ch, err := dlcstate.DeserializeChannel(record)
			if err != nil {
				return err
			}
			fn(ch)
			return nil
		})
	})
}

// GetOfferedChannels returns channels in the Offered state.
func (s *Store) GetOfferedChannels() ([]*dlcstate.OfferedChannel, error) {
	res := make([]*dlcstate.OfferedChannel, 0)
	prefix := []byte{dlcstate.ChannelPrefix(dlcstate.ChannelOffered)}
	err := s.channelsWithPrefix(prefix, func(ch *dlcstate.Channel) {
		res = append(res, ch.Offered)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get offered channels", err)
	}
	return res, nil
}

// GetSignedChannels returns signed channels, only those in substate kind
// when kind is not nil. The kind filter matches on the second tag byte.
func (s *Store) GetSignedChannels(kind *dlcstate.SignedSubstateKind) ([]*dlcstate.SignedChannel, error) {
	prefix := []byte{dlcstate.ChannelPrefix(dlcstate.ChannelSigned)}
	if kind != nil {
		prefix = append(prefix, dlcstate.SubstatePrefix(*kind))
	}
	res := make([]*dlcstate.SignedChannel, 0)
	err := s.channelsWithPrefix(prefix, func(ch *dlcstate.Channel) {
		res = append(res, ch.Signed)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get signed channels", err)
	}
	return res, nil
}

// GetClosingChannels returns channels whose buffer transaction is out.
func (s *Store) GetClosingChannels() ([]*dlcstate.ClosingChannel, error) {
	res := make([]*dlcstate.ClosingChannel, 0)
	prefix := []byte{dlcstate.ChannelPrefix(dlcstate.ChannelClosing)}
	err := s.channelsWithPrefix(prefix, func(ch *dlcstate.Channel) {
		res = append(res, ch.Closing)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get closing channels", err)
	}
	return res, nil
}
