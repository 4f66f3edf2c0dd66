package dlcstate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ContractID identifies a contract. Before funding it holds the random
// temporary id chosen by the offerer, afterwards the id from ComputeID.
type ContractID [32]byte

// ChannelID identifies a channel, same scheme as ContractID.
type ChannelID [32]byte

// PubKey is a compressed secp256k1 public key naming a peer or a funding key.
type PubKey [33]byte

func (id ContractID) String() string { return hex.EncodeToString(id[:]) }

func (id ChannelID) String() string { return hex.EncodeToString(id[:]) }

func (p PubKey) String() string { return hex.EncodeToString(p[:]) }

// IsZero reports whether the key was never set.
func (p PubKey) IsZero() bool { return p == PubKey{} }

// ParsePubKey checks that b is a valid compressed point.
func ParsePubKey(b []byte) (PubKey, error) {
	var pk PubKey
	if len(b) != len(pk) {
		return pk, fmt.Errorf("pubkey has %d bytes, want %d", len(b), len(pk))
	}
	if _, err := btcec.ParsePubKey(b, btcec.S256()); err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePubKeyHex is ParsePubKey over a hex string.
func ParsePubKeyHex(s string) (PubKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PubKey{}, err
	}
	return ParsePubKey(b)
}

// ParseContractID decodes a 64 character hex id.
func ParseContractID(s string) (ContractID, error) {
	var id ContractID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("contract id has %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// NewTemporaryID draws 32 random bytes.
func NewTemporaryID() ([32]byte, error) {
	var id [32]byte
	_, err := rand.Read(id[:])
	return id, err
}

// ComputeID derives the final id of a funded contract or channel: the
// byte-reversed funding txid xor the temporary id, with the output index
// folded into the last two bytes.
func ComputeID(fundTxID chainhash.Hash, fundOutputIndex uint16, temporaryID [32]byte) [32]byte {
	var res [32]byte
	for i := range res {
		res[i] = fundTxID[31-i] ^ temporaryID[i]
	}
	res[30] ^= byte(fundOutputIndex >> 8)
	res[31] ^= byte(fundOutputIndex)
	return res
}
