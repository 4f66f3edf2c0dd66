package dlcbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/dlctest"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dlc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countRecords(t *testing.T, s *Store, bucket []byte) int {
	t.Helper()
	n := 0
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	}))
	return n
}

func TestCreateGetDeleteContract(t *testing.T) {
	s := newTestStore(t)
	offered := dlctest.SampleOffered(dlctest.FilledID(0x01), true)

	require.NoError(t, s.CreateContract(offered))

	c, err := s.GetContract(offered.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, dlcstate.ContractOffered, c.State)
	require.Equal(t, offered, c.Offered)

	require.NoError(t, s.DeleteContract(offered.ID))
	c, err = s.GetContract(offered.ID)
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestUpdateContractRekeys(t *testing.T) {
	s := newTestStore(t)
	temp := dlctest.FilledID(0xAA)
	require.NoError(t, s.CreateContract(dlctest.SampleOffered(temp, false)))

	accepted := dlctest.SampleContract(dlcstate.ContractAccepted, temp)
	require.NotEqual(t, dlcstate.ContractID(temp), accepted.ID())
	require.NoError(t, s.UpdateContract(accepted))

	old, err := s.GetContract(temp)
	require.NoError(t, err)
	require.Nil(t, old)

	c, err := s.GetContract(accepted.ID())
	require.NoError(t, err)
	require.Equal(t, dlcstate.ContractAccepted, c.State)
	require.Equal(t, dlcstate.ContractID(temp), c.TemporaryID())
	require.Equal(t, 1, countRecords(t, s, BKTContracts))

	signed := dlctest.SampleContract(dlcstate.ContractSigned, temp)
	require.Equal(t, accepted.ID(), signed.ID())
	require.NoError(t, s.UpdateContract(signed))
	require.Equal(t, 1, countRecords(t, s, BKTContracts))

	// Offered to Signed directly, as the offer party does.
	temp2 := dlctest.FilledID(0xAB)
	require.NoError(t, s.CreateContract(dlctest.SampleOffered(temp2, true)))
	require.NoError(t, s.UpdateContract(dlctest.SampleContract(dlcstate.ContractSigned, temp2)))
	old, err = s.GetContract(temp2)
	require.NoError(t, err)
	require.Nil(t, old)
	require.Equal(t, 2, countRecords(t, s, BKTContracts))
}

func TestContractFilters(t *testing.T) {
	s := newTestStore(t)
	states := []dlcstate.ContractState{
		dlcstate.ContractSigned, dlcstate.ContractSigned,
		dlcstate.ContractConfirmed, dlcstate.ContractConfirmed,
		dlcstate.ContractOffered, dlcstate.ContractPreClosed,
	}
	for i, state := range states {
		require.NoError(t, s.UpdateContract(dlctest.SampleContract(state, dlctest.FilledID(byte(i+1)))))
	}

	all, err := s.GetContracts()
	require.NoError(t, err)
	require.Len(t, all, 6)

	offers, err := s.GetContractOffers()
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, dlcstate.ContractID(dlctest.FilledID(5)), offers[0].ID)

	signed, err := s.GetSignedContracts()
	require.NoError(t, err)
	require.Len(t, signed, 2)

	confirmed, err := s.GetConfirmedContracts()
	require.NoError(t, err)
	require.Len(t, confirmed, 2)

	preclosed, err := s.GetPreClosedContracts()
	require.NoError(t, err)
	require.Len(t, preclosed, 1)
}

func TestOffersOnlyMatchOfferedPrefix(t *testing.T) {
	s := newTestStore(t)
	// Rejected and FailedAccept carry an offered payload but are not offers.
	require.NoError(t, s.UpdateContract(dlctest.SampleContract(dlcstate.ContractRejected, dlctest.FilledID(1))))
	require.NoError(t, s.UpdateContract(dlctest.SampleContract(dlcstate.ContractFailedAccept, dlctest.FilledID(2))))
	require.NoError(t, s.CreateContract(dlctest.SampleOffered(dlctest.FilledID(3), true)))
	require.NoError(t, s.CreateContract(dlctest.SampleOffered(dlctest.FilledID(4), false)))

	offers, err := s.GetContractOffers()
	require.NoError(t, err)
	ids := map[dlcstate.ContractID]bool{}
	for _, o := range offers {
		ids[o.ID] = true
	}
	require.Equal(t, map[dlcstate.ContractID]bool{
		dlctest.FilledID(3): true,
		dlctest.FilledID(4): true,
	}, ids)
}

func TestUnknownPrefixIsStorageError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateContract(dlctest.SampleOffered(dlctest.FilledID(1), true)))
	bad := dlctest.FilledID(2)
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTContracts).Put(bad[:], []byte{42, 1, 2, 3})
	}))

	_, err := s.GetContract(bad)
	var se *dlccore.StorageError
	require.True(t, errors.As(err, &se))
	require.True(t, errors.Is(err, dlccore.ErrUnknownPrefix))

	_, err = s.GetContracts()
	require.True(t, errors.As(err, &se))

	// A record with a known prefix but a corrupt payload fails the scan too.
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTContracts).Put(bad[:], []byte{dlcstate.ContractPrefix(dlcstate.ContractOffered), 1})
	}))
	_, err = s.GetContractOffers()
	require.True(t, errors.As(err, &se))
}

func TestChannelGetDelete(t *testing.T) {
	s := newTestStore(t)
	ch := dlctest.SampleChannel(dlcstate.ChannelOffered, dlctest.FilledID(0x30))
	require.NoError(t, s.UpsertChannel(ch, nil))

	got, err := s.GetChannel(ch.ID())
	require.NoError(t, err)
	require.Equal(t, ch, got)

	offered, err := s.GetOfferedChannels()
	require.NoError(t, err)
	require.Len(t, offered, 1)

	require.NoError(t, s.DeleteChannel(ch.ID()))
	got, err = s.GetChannel(ch.ID())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpsertChannelRekeysBoth(t *testing.T) {
	s := newTestStore(t)
	tempChannel := dlctest.FilledID(0x40)
	tempContract := dlctest.FilledID(0xCC)

	offeredCh := dlctest.SampleChannel(dlcstate.ChannelOffered, tempChannel)
	offeredC := dlcstate.NewOfferedContract(dlctest.SampleOffered(tempContract, true))
	require.NoError(t, s.UpsertChannel(offeredCh, offeredC))
	require.Equal(t, 1, countRecords(t, s, BKTChannels))
	require.Equal(t, 1, countRecords(t, s, BKTContracts))

	signedCh := dlctest.SampleChannel(dlcstate.ChannelSigned, tempChannel)
	signedC := dlctest.SampleContract(dlcstate.ContractSigned, tempContract)
	require.NoError(t, s.UpsertChannel(signedCh, signedC))

	require.Equal(t, 1, countRecords(t, s, BKTChannels))
	require.Equal(t, 1, countRecords(t, s, BKTContracts))
	got, err := s.GetChannel(tempChannel)
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = s.GetChannel(signedCh.ID())
	require.NoError(t, err)
	require.Equal(t, dlcstate.ChannelSigned, got.State)
	c, err := s.GetContract(tempContract)
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestUpsertChannelIsAtomic(t *testing.T) {
	s := newTestStore(t)
	tempChannel := dlctest.FilledID(0x50)
	tempContract := dlctest.FilledID(0xCC)
	require.NoError(t, s.UpsertChannel(
		dlctest.SampleChannel(dlcstate.ChannelOffered, tempChannel),
		dlcstate.NewOfferedContract(dlctest.SampleOffered(tempContract, true))))

	boom := errors.New("disk on fire")
	s.failpoint = func() error { return boom }

	signedCh := dlctest.SampleChannel(dlcstate.ChannelSigned, tempChannel)
	signedC := dlctest.SampleContract(dlcstate.ContractSigned, tempContract)
	err := s.UpsertChannel(signedCh, signedC)
	require.ErrorIs(t, err, boom)
	var se *dlccore.StorageError
	require.ErrorAs(t, err, &se)

	// Neither namespace shows the new records; the old ones are intact.
	got, err := s.GetChannel(signedCh.ID())
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = s.GetChannel(tempChannel)
	require.NoError(t, err)
	require.Equal(t, dlcstate.ChannelOffered, got.State)

	c, err := s.GetContract(signedC.ID())
	require.NoError(t, err)
	require.Nil(t, c)
	c, err = s.GetContract(tempContract)
	require.NoError(t, err)
	require.Equal(t, dlcstate.ContractOffered, c.State)

	s.failpoint = nil
	require.NoError(t, s.UpsertChannel(signedCh, signedC))
	c, err = s.GetContract(signedC.ID())
	require.NoError(t, err)
	require.Equal(t, dlcstate.ContractSigned, c.State)
}

func TestSignedChannelFilter(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertChannel(
		dlctest.SampleSignedChannel(dlcstate.SubstateEstablished, dlctest.FilledID(0x61)), nil))
	require.NoError(t, s.UpsertChannel(
		dlctest.SampleSignedChannel(dlcstate.SubstateSettled, dlctest.FilledID(0x62)), nil))
	require.NoError(t, s.UpsertChannel(
		dlctest.SampleChannel(dlcstate.ChannelClosing, dlctest.FilledID(0x63)), nil))

	established := dlcstate.SubstateEstablished
	chans, err := s.GetSignedChannels(&established)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.Equal(t, dlcstate.SubstateEstablished, chans[0].Substate.Kind)

	chans, err = s.GetSignedChannels(nil)
	require.NoError(t, err)
	require.Len(t, chans, 2)

	closing, err := s.GetClosingChannels()
	require.NoError(t, err)
	require.Len(t, closing, 1)
}

func TestSignedChannelScanRejectsCorruptTags(t *testing.T) {
	s := newTestStore(t)
	ch := dlctest.SampleSignedChannel(dlcstate.SubstateEstablished, dlctest.FilledID(0x64))
	require.NoError(t, s.UpsertChannel(ch, nil))
	id := ch.ID()
	rewrite := func(fn func(v []byte) []byte) {
		require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(BKTChannels)
			v := append([]byte(nil), b.Get(id[:])...)
			return b.Put(id[:], fn(v))
		}))
	}
	var se *dlccore.StorageError

	// Unknown substate tag: the keyed read and the scan both fail.
	rewrite(func(v []byte) []byte { v[1] = 99; return v })
	_, err := s.GetChannel(id)
	require.True(t, errors.Is(err, dlccore.ErrUnknownPrefix))
	_, err = s.GetSignedChannels(nil)
	require.True(t, errors.As(err, &se))
	require.True(t, errors.Is(err, dlccore.ErrUnknownPrefix))

	// Known tag that disagrees with the payload.
	settled := dlcstate.SubstateSettled
	rewrite(func(v []byte) []byte { v[1] = dlcstate.SubstatePrefix(settled); return v })
	_, err = s.GetSignedChannels(&settled)
	require.True(t, errors.As(err, &se))

	// A record cut down to its state tag is corruption, not a miss.
	rewrite(func(v []byte) []byte { return v[:1] })
	_, err = s.GetSignedChannels(nil)
	require.True(t, errors.As(err, &se))
	_, err = s.GetChannel(id)
	require.True(t, errors.As(err, &se))
}

func TestChainMonitor(t *testing.T) {
	s := newTestStore(t)
	m, err := s.GetChainMonitor()
	require.NoError(t, err)
	require.Nil(t, m)

	m = dlcstate.NewChainMonitor()
	m.LastHeight = 100
	m.Watch(dlctest.SampleTx("fund").TxHash(), dlcstate.WatchedTx{
		Kind:       dlcstate.WatchFund,
		ContractID: dlctest.FilledID(1),
	})
	require.NoError(t, s.PersistChainMonitor(m))

	m.LastHeight = 101
	require.NoError(t, s.PersistChainMonitor(m))

	got, err := s.GetChainMonitor()
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestPeers(t *testing.T) {
	s := newTestStore(t)
	peers, err := s.ListPeers()
	require.NoError(t, err)
	require.Empty(t, peers)

	alice := dlccore.PeerInfo{PubKey: dlctest.PubKey("alice").String(), Host: "127.0.0.1:9000"}
	bob := dlccore.PeerInfo{PubKey: dlctest.PubKey("bob").String(), Host: "127.0.0.1:9001"}
	require.NoError(t, s.SavePeer(bob))
	require.NoError(t, s.SavePeer(alice))
	require.NoError(t, s.SavePeer(bob))

	peers, err = s.ListPeers()
	require.NoError(t, err)
	require.Equal(t, []dlccore.PeerInfo{bob, alice}, peers)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlc.db")
	s, err := Open(path)
	require.NoError(t, err)
	signed := dlctest.SampleContract(dlcstate.ContractSigned, dlctest.FilledID(9))
	require.NoError(t, s.UpdateContract(signed))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	c, err := s.GetContract(signed.ID())
	require.NoError(t, err)
	require.Equal(t, dlcstate.ContractSigned, c.State)
}
