package dlcstate

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// WatchKind says why a transaction is being watched.
type WatchKind uint8

const (
	WatchFund WatchKind = iota + 1
	WatchCet
	WatchRefund
	WatchBuffer
	WatchClose
)

// WatchedTx ties a watched transaction to the contract or channel whose
// state depends on it. Only one of the ids is meaningful, selected by Kind.
type WatchedTx struct {
	Kind       WatchKind
	ContractID ContractID
	ChannelID  ChannelID
}

// ChainMonitor is the persisted watch set. It is stored as a single record.
type ChainMonitor struct {
	LastHeight uint64
	Watched    map[chainhash.Hash]WatchedTx
}

// NewChainMonitor returns an empty monitor.
func NewChainMonitor() *ChainMonitor {
	return &ChainMonitor{Watched: make(map[chainhash.Hash]WatchedTx)}
}

// Watch adds or replaces a watched transaction.
func (m *ChainMonitor) Watch(txid chainhash.Hash, w WatchedTx) {
	if m.Watched == nil {
		m.Watched = make(map[chainhash.Hash]WatchedTx)
	}
	m.Watched[txid] = w
}

// Bytes serializes the monitor with entries sorted by txid, so equal
// monitors always encode identically.
func (m *ChainMonitor) Bytes() []byte {
	var b bytes.Buffer
	putU64(&b, m.LastHeight)
	txids := make([]chainhash.Hash, 0, len(m.Watched))
	for h := range m.Watched {
		txids = append(txids, h)
	}
	sort.Slice(txids, func(i, j int) bool {
		return bytes.Compare(txids[i][:], txids[j][:]) < 0
	})
	putVarInt(&b, uint64(len(txids)))
	for _, h := range txids {
		w := m.Watched[h]
		b.Write(h[:])
		b.WriteByte(byte(w.Kind))
		b.Write(w.ContractID[:])
		b.Write(w.ChannelID[:])
	}
	return b.Bytes()
}

// ChainMonitorFromBytes reverses Bytes.
func ChainMonitorFromBytes(p []byte) (*ChainMonitor, error) {
	r := newReader(p)
	m := NewChainMonitor()
	m.LastHeight = r.u64()
	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		h := r.hash()
		var w WatchedTx
		w.Kind = WatchKind(r.u8())
		r.fixed(w.ContractID[:])
		r.fixed(w.ChannelID[:])
		m.Watched[h] = w
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("decode chain monitor: %w", err)
	}
	return m, nil
}
