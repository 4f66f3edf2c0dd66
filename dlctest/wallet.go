package dlctest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/psbt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// ErrBadSignature is returned by Wallet.VerifyCetAdaptorSignatures.
var ErrBadSignature = errors.New("adaptor signature does not verify")

// UtxoValue is the value of every coin the fake wallet hands out on top of
// the requested amount.
const UtxoValue = 100000

// Wallet is an in-memory dlccore.Wallet. Signatures are hashes over the
// signer's key and the funding txid, so two wallets agree on them without
// any real cryptography.
type Wallet struct {
	Seed   string
	Params *chaincfg.Params

	mu         sync.Mutex
	next       int
	reserved   map[wire.OutPoint]bool
	broadcasts []*wire.MsgTx
	confs      map[chainhash.Hash]uint32
	height     uint64
	syncs      int

	// FailVerify makes every signature verification fail.
	FailVerify bool
	// FailBroadcast makes Broadcast fail without recording the tx.
	FailBroadcast bool
}

var _ dlccore.Wallet = (*Wallet)(nil)

// NewWallet returns a wallet whose keys derive from seed.
func NewWallet(seed string) *Wallet {
	return &Wallet{
		Seed:     seed,
		Params:   &chaincfg.RegressionNetParams,
		reserved: make(map[wire.OutPoint]bool),
		confs:    make(map[chainhash.Hash]uint32),
		height:   100,
	}
}

func (w *Wallet) address() (btcutil.Address, error) {
	w.mu.Lock()
	w.next++
	n := w.next
	w.mu.Unlock()
	pk := PubKey(fmt.Sprintf("%s-addr-%d", w.Seed, n))
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pk[:]), w.Params)
}

func (w *Wallet) NewExternalAddress() (btcutil.Address, error) { return w.address() }

func (w *Wallet) NewChangeAddress() (btcutil.Address, error) { return w.address() }

// FundingPubKey derives a key per temporary id.
func (w *Wallet) FundingPubKey(temporaryID [32]byte) (dlcstate.PubKey, error) {
	return PubKey(fmt.Sprintf("%s-fund-%x", w.Seed, temporaryID)), nil
}

// GetUtxosForAmount makes up one fresh coin worth amount plus UtxoValue.
func (w *Wallet) GetUtxosForAmount(amount btcutil.Amount, feeRate uint64) ([]dlccore.Utxo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	op := wire.OutPoint{Hash: chainhash.HashH([]byte(fmt.Sprintf("%s-utxo-%d", w.Seed, w.next)))}
	w.reserved[op] = true
	return []dlccore.Utxo{{OutPoint: op, Value: amount + UtxoValue, MaxWitnessLen: 108}}, nil
}

func (w *Wallet) UnreserveUtxos(outpoints []wire.OutPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, op := range outpoints {
		delete(w.reserved, op)
	}
	return nil
}

// Reserved is the number of coins currently reserved.
func (w *Wallet) Reserved() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.reserved)
}

func (w *Wallet) SignPsbtInput(p *psbt.Packet, idx int) error {
	if idx >= len(p.Inputs) {
		return fmt.Errorf("no input %d", idx)
	}
	op := p.UnsignedTx.TxIn[idx].PreviousOutPoint
	w.mu.Lock()
	ok := w.reserved[op]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("input %s is not ours", op)
	}
	sig := sha256.Sum256([]byte(w.Seed + op.String()))
	p.Inputs[idx].FinalScriptWitness = dlcstate.SerializeWitness(wire.TxWitness{sig[:], []byte(w.Seed)})
	return nil
}

// CetSignatures computes the signatures key would produce over the CETs of
// fundTx.
func CetSignatures(info *dlcstate.ContractInfo, fundTx *wire.MsgTx, key dlcstate.PubKey) *dlcstate.CetSignatures {
	txid := fundTx.TxHash()
	sigs := &dlcstate.CetSignatures{}
	for _, p := range info.Payouts {
		h := sha256.Sum256(bytes.Join([][]byte{key[:], txid[:], []byte(p.Outcome)}, nil))
		sigs.AdaptorSignatures = append(sigs.AdaptorSignatures, h[:])
	}
	h := sha256.Sum256(bytes.Join([][]byte{key[:], txid[:], []byte("refund")}, nil))
	copy(sigs.RefundSignature[:], h[:])
	return sigs
}

func (w *Wallet) CreateCetAdaptorSignatures(info *dlcstate.ContractInfo, fundTx *wire.MsgTx,
	fundOutputIndex uint16, fundScript []byte, fundPubKey dlcstate.PubKey) (*dlcstate.CetSignatures, error) {
	return CetSignatures(info, fundTx, fundPubKey), nil
}

func (w *Wallet) VerifyCetAdaptorSignatures(info *dlcstate.ContractInfo, fundTx *wire.MsgTx,
	fundOutputIndex uint16, fundScript []byte, remoteFundPubKey dlcstate.PubKey,
	sigs *dlcstate.CetSignatures) error {

	if w.FailVerify {
		return ErrBadSignature
	}
	want := CetSignatures(info, fundTx, remoteFundPubKey)
	if len(want.AdaptorSignatures) != len(sigs.AdaptorSignatures) || want.RefundSignature != sigs.RefundSignature {
		return ErrBadSignature
	}
	for i := range want.AdaptorSignatures {
		if !bytes.Equal(want.AdaptorSignatures[i], sigs.AdaptorSignatures[i]) {
			return ErrBadSignature
		}
	}
	return nil
}

// spend builds a transaction spending the funding output of fundTx.
func spend(fundTx *wire.MsgTx, idx uint16, tag string, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	prev := fundTx.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, uint32(idx)), nil, wire.TxWitness{[]byte(tag)}))
	for _, o := range outs {
		if o.Value > 0 {
			tx.AddTxOut(o)
		}
	}
	if len(tx.TxOut) == 0 {
		tx.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))
	}
	return tx
}

func (w *Wallet) SignCet(c *dlcstate.SignedContract, attestations []dlcstate.OracleAttestation) (*wire.MsgTx, error) {
	if len(attestations) == 0 || len(attestations[0].Outcomes) == 0 {
		return nil, fmt.Errorf("no attested outcome")
	}
	a := c.Accepted
	p, ok := a.Offered.ContractInfo.PayoutFor(attestations[0].Outcomes[0])
	if !ok {
		return nil, fmt.Errorf("no payout for %q", attestations[0].Outcomes[0])
	}
	return spend(a.FundTx, a.FundOutputIndex, "cet-"+p.Outcome,
		wire.NewTxOut(int64(p.OfferPayout), a.Offered.OfferParams.PayoutScript),
		wire.NewTxOut(int64(p.AcceptPayout), a.AcceptParams.PayoutScript)), nil
}

func (w *Wallet) SignRefund(c *dlcstate.SignedContract) (*wire.MsgTx, error) {
	a := c.Accepted
	return spend(a.FundTx, a.FundOutputIndex, "refund",
		wire.NewTxOut(int64(a.Offered.OfferParams.Collateral), a.Offered.OfferParams.PayoutScript),
		wire.NewTxOut(int64(a.AcceptParams.Collateral), a.AcceptParams.PayoutScript)), nil
}

func (w *Wallet) SignBufferTx(ch *dlcstate.SignedChannel) (*wire.MsgTx, error) {
	value := ch.FundTx.TxOut[ch.FundOutputIndex].Value
	return spend(ch.FundTx, ch.FundOutputIndex, "buffer", wire.NewTxOut(value, ch.FundScript)), nil
}

func closeSig(ch *dlcstate.SignedChannel, counterPayout uint64) [64]byte {
	var sig [64]byte
	h := sha256.Sum256([]byte(fmt.Sprintf("close-%s-%d", ch.ChannelID, counterPayout)))
	copy(sig[:], h[:])
	return sig
}

func (w *Wallet) CreateCollaborativeClose(ch *dlcstate.SignedChannel, counterPayout uint64) (*wire.MsgTx, [64]byte, error) {
	value := uint64(ch.FundTx.TxOut[ch.FundOutputIndex].Value)
	tx := spend(ch.FundTx, ch.FundOutputIndex, "close",
		wire.NewTxOut(int64(value-counterPayout), []byte{0x00, 0x14, 0x01}),
		wire.NewTxOut(int64(counterPayout), []byte{0x00, 0x14, 0x02}))
	return tx, closeSig(ch, counterPayout), nil
}

func (w *Wallet) FinalizeCollaborativeClose(ch *dlcstate.SignedChannel, counterSig [64]byte) (*wire.MsgTx, error) {
	if counterSig != closeSig(ch, ch.Substate.OwnPayout) {
		return nil, ErrBadSignature
	}
	value := uint64(ch.FundTx.TxOut[ch.FundOutputIndex].Value)
	return spend(ch.FundTx, ch.FundOutputIndex, "close",
		wire.NewTxOut(int64(value-ch.Substate.OwnPayout), []byte{0x00, 0x14, 0x01}),
		wire.NewTxOut(int64(ch.Substate.OwnPayout), []byte{0x00, 0x14, 0x02})), nil
}

func (w *Wallet) Broadcast(tx *wire.MsgTx) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailBroadcast {
		return fmt.Errorf("broadcast %s refused", tx.TxHash())
	}
	w.broadcasts = append(w.broadcasts, tx)
	if _, ok := w.confs[tx.TxHash()]; !ok {
		w.confs[tx.TxHash()] = 0
	}
	return nil
}

// Broadcasts returns every transaction broadcast so far.
func (w *Wallet) Broadcasts() []*wire.MsgTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*wire.MsgTx(nil), w.broadcasts...)
}

// Confirm sets the confirmation count of txid.
func (w *Wallet) Confirm(txid chainhash.Hash, n uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confs[txid] = n
}

func (w *Wallet) GetTransactionConfirmations(txid chainhash.Hash) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.confs[txid], nil
}

func (w *Wallet) BestBlockHeight() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height, nil
}

func (w *Wallet) Sync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncs++
	w.height++
	return ctx.Err()
}

// Syncs is the number of Sync calls.
func (w *Wallet) Syncs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncs
}
