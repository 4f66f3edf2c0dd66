package dlccore

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/psbt"
	"github.com/mit-dci/dlcd/dlcstate"
)

// Utxo is a wallet output offered for funding.
type Utxo struct {
	OutPoint      wire.OutPoint
	Value         btcutil.Amount
	MaxWitnessLen uint16
}

// Wallet owns keys, coins and chain access. All cryptography of the
// protocol happens behind it. It must be safe for concurrent use: the sync
// ticker calls Sync while the manager signs.
type Wallet interface {
	NewExternalAddress() (btcutil.Address, error)
	NewChangeAddress() (btcutil.Address, error)
	// FundingPubKey returns the key the wallet signs the funding output
	// with for the contract or channel created under temporaryID.
	FundingPubKey(temporaryID [32]byte) (dlcstate.PubKey, error)

	// GetUtxosForAmount selects and reserves coins covering amount plus
	// fees at feeRate sat/vbyte.
	GetUtxosForAmount(amount btcutil.Amount, feeRate uint64) ([]Utxo, error)
	UnreserveUtxos(outpoints []wire.OutPoint) error
	// SignPsbtInput signs input idx, leaving the final witness in
	// p.Inputs[idx].FinalScriptWitness.
	SignPsbtInput(p *psbt.Packet, idx int) error

	CreateCetAdaptorSignatures(info *dlcstate.ContractInfo, fundTx *wire.MsgTx,
		fundOutputIndex uint16, fundScript []byte, fundPubKey dlcstate.PubKey) (*dlcstate.CetSignatures, error)
	VerifyCetAdaptorSignatures(info *dlcstate.ContractInfo, fundTx *wire.MsgTx,
		fundOutputIndex uint16, fundScript []byte, remoteFundPubKey dlcstate.PubKey,
		sigs *dlcstate.CetSignatures) error
	// SignCet builds and signs the CET for the attested outcome.
	SignCet(c *dlcstate.SignedContract, attestations []dlcstate.OracleAttestation) (*wire.MsgTx, error)
	SignRefund(c *dlcstate.SignedContract) (*wire.MsgTx, error)

	SignBufferTx(ch *dlcstate.SignedChannel) (*wire.MsgTx, error)
	// CreateCollaborativeClose builds a close paying counterPayout to the
	// counterparty, returning it with the local signature.
	CreateCollaborativeClose(ch *dlcstate.SignedChannel, counterPayout uint64) (*wire.MsgTx, [64]byte, error)
	// FinalizeCollaborativeClose completes a close offered by the
	// counterparty.
	FinalizeCollaborativeClose(ch *dlcstate.SignedChannel, counterSig [64]byte) (*wire.MsgTx, error)

	Broadcast(tx *wire.MsgTx) error
	GetTransactionConfirmations(txid chainhash.Hash) (uint32, error)
	BestBlockHeight() (uint64, error)
	Sync(ctx context.Context) error
}
