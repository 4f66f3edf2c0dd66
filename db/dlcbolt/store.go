// Package dlcbolt stores contracts, channels, the chain monitor and the
// peer list in a bolt database.
package dlcbolt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/logging"
)

// const strings for db usage
var (
	BKTContracts    = []byte("Contracts")
	BKTChannels     = []byte("Channels")
	BKTChainMonitor = []byte("ChainMonitor")
	BKTPeers        = []byte("Peers")

	KEYChainMonitor = []byte{4}
	KEYPeers        = []byte("peers")

	buckets = [][]byte{BKTContracts, BKTChannels, BKTChainMonitor, BKTPeers}
)

// Store implements dlccore.Storage.
type Store struct {
	db *bolt.DB

	// failpoint, if set, runs inside UpsertChannel between the channel and
	// contract writes. Tests use it to abort the transaction.
	failpoint func() error
}

var _ dlccore.Storage = (*Store)(nil)

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, dlccore.NewStorageError("open", err)
	}

	// Ensure buckets exist that we need
	err = db.Update(func(tx *bolt.Tx) error {
		for _, n := range buckets {
			if _, err := tx.CreateBucketIfNotExists(n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, dlccore.NewStorageError("create buckets", err)
	}

	logging.Debugf("dlcbolt: opened %s", dbPath)
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return dlccore.NewStorageError("close", s.db.Close())
}

// scanWithPrefix calls decode with every record in bucket whose value
// starts with prefix. decode gets the whole record, tags included, so a
// filtered read rejects the same corrupt records a keyed read does. A decode
// error aborts the scan.
func scanWithPrefix(tx *bolt.Tx, bucket, prefix []byte, decode func(record []byte) error) error {
	c := tx.Bucket(bucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !bytes.HasPrefix(v, prefix) {
			continue
		}
		if err := decode(v); err != nil {
			return fmt.Errorf("record %x: %w", k, err)
		}
	}
	return nil
}
