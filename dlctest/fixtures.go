// Package dlctest holds fixtures and in-memory collaborators for tests of
// the dlc packages.
package dlctest

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/mit-dci/dlcd/dlcstate"
)

// FilledID returns an id with every byte set to b.
func FilledID(b byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = b
	}
	return id
}

// PrivKey derives a deterministic key from seed.
func PrivKey(seed string) *btcec.PrivateKey {
	h := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), h[:])
	return priv
}

// PubKey is the compressed public key of PrivKey(seed).
func PubKey(seed string) dlcstate.PubKey {
	var pk dlcstate.PubKey
	copy(pk[:], PrivKey(seed).PubKey().SerializeCompressed())
	return pk
}

// SampleTx builds a witness transaction with one input and two outputs.
// Transactions without inputs do not survive witness serialization, so
// fixtures always carry one.
func SampleTx(seed string) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	prev := chainhash.HashH([]byte(seed))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 1), nil,
		wire.TxWitness{[]byte("sig-" + seed), []byte("key-" + seed)}))
	tx.AddTxOut(wire.NewTxOut(90000, []byte{0x00, 0x14, 1, 2, 3}))
	tx.AddTxOut(wire.NewTxOut(10000, []byte{0x00, 0x14, 4, 5, 6}))
	return tx
}

// oracleKey is the x-only key of the sample oracle.
func oracleKey() [32]byte {
	var key [32]byte
	pk := PubKey("oracle")
	copy(key[:], pk[1:])
	return key
}

// SampleAnnouncement is a two-outcome announcement for eventID.
func SampleAnnouncement(eventID string, maturity uint32) dlcstate.OracleAnnouncement {
	a := dlcstate.OracleAnnouncement{
		EventID:  eventID,
		Outcomes: []string{"yes", "no"},
		Maturity: maturity,
	}
	a.OraclePubKey = oracleKey()
	sig := sha256.Sum256([]byte(eventID))
	copy(a.Signature[:], sig[:])
	return a
}

// SampleAttestation attests outcome for eventID.
func SampleAttestation(eventID, outcome string) dlcstate.OracleAttestation {
	a := dlcstate.OracleAttestation{
		EventID:    eventID,
		Outcomes:   []string{outcome},
		Signatures: make([][64]byte, 1),
	}
	a.OraclePubKey = oracleKey()
	sig := sha256.Sum256([]byte(eventID + outcome))
	copy(a.Signatures[0][:], sig[:])
	return a
}

// SampleContractInfo splits a 100000 sat pot on a yes/no event.
func SampleContractInfo() dlcstate.ContractInfo {
	return dlcstate.ContractInfo{
		Payouts: []dlcstate.OutcomePayout{
			{Outcome: "yes", OfferPayout: 100000, AcceptPayout: 0},
			{Outcome: "no", OfferPayout: 0, AcceptPayout: 100000},
		},
		Announcements: []dlcstate.OracleAnnouncement{SampleAnnouncement("event-1", 1700000000)},
		Threshold:     1,
	}
}

// SampleParams returns party parameters with one funding input.
func SampleParams(seed string, collateral uint64) dlcstate.PartyParams {
	prev := chainhash.HashH([]byte("utxo-" + seed))
	return dlcstate.PartyParams{
		FundPubKey:     PubKey(seed),
		ChangeScript:   []byte{0x00, 0x14, 0xc1},
		ChangeSerialID: 11,
		PayoutScript:   []byte{0x00, 0x14, 0xa1},
		PayoutSerialID: 12,
		Inputs: []dlcstate.FundingInput{{
			OutPoint:      wire.OutPoint{Hash: prev, Index: 0},
			Value:         collateral + 20000,
			SerialID:      13,
			MaxWitnessLen: 108,
		}},
		InputAmount: collateral + 20000,
		Collateral:  collateral,
	}
}

func sampleSigs(seed string) dlcstate.CetSignatures {
	s := dlcstate.CetSignatures{AdaptorSignatures: [][]byte{[]byte(seed + "-yes"), []byte(seed + "-no")}}
	h := sha256.Sum256([]byte(seed))
	copy(s.RefundSignature[:], h[:])
	return s
}

// SampleOffered returns an offered contract under tempID.
func SampleOffered(tempID [32]byte, isOfferParty bool) *dlcstate.OfferedContract {
	return &dlcstate.OfferedContract{
		ID:                 tempID,
		IsOfferParty:       isOfferParty,
		CounterParty:       PubKey("bob"),
		ContractInfo:       SampleContractInfo(),
		OfferParams:        SampleParams("alice", 50000),
		TotalCollateral:    100000,
		FundOutputSerialID: 7,
		FeeRatePerVb:       2,
		CetLocktime:        1700000000,
		RefundLocktime:     1700604800,
	}
}

// SampleAccepted returns an accepted contract whose final id is computed
// from its sample funding transaction.
func SampleAccepted(tempID [32]byte) *dlcstate.AcceptedContract {
	fundTx := SampleTx(fmt.Sprintf("fund-%x", tempID[:4]))
	return &dlcstate.AcceptedContract{
		Offered:          SampleOffered(tempID, false),
		ContractID:       dlcstate.ComputeID(fundTx.TxHash(), 0, tempID),
		AcceptParams:     SampleParams("bob", 50000),
		FundTx:           fundTx,
		FundOutputIndex:  0,
		FundScript:       []byte{0x52, 0x21, 0x52, 0xae},
		AcceptSignatures: sampleSigs("accept"),
	}
}

// SampleSigned returns a signed contract.
func SampleSigned(tempID [32]byte) *dlcstate.SignedContract {
	return &dlcstate.SignedContract{
		Accepted:          SampleAccepted(tempID),
		OfferSignatures:   sampleSigs("offer"),
		FundingSignatures: [][]byte{dlcstate.SerializeWitness(wire.TxWitness{{1, 2}, {3}})},
	}
}

// SampleContract builds a contract in any state.
func SampleContract(state dlcstate.ContractState, tempID [32]byte) *dlcstate.Contract {
	c := &dlcstate.Contract{State: state}
	switch state {
	case dlcstate.ContractOffered, dlcstate.ContractRejected:
		c.Offered = SampleOffered(tempID, true)
	case dlcstate.ContractAccepted:
		c.Accepted = SampleAccepted(tempID)
	case dlcstate.ContractSigned, dlcstate.ContractConfirmed, dlcstate.ContractRefunded:
		c.Signed = SampleSigned(tempID)
	case dlcstate.ContractPreClosed:
		c.PreClosed = &dlcstate.PreClosedContract{
			Signed:       SampleSigned(tempID),
			Attestations: []dlcstate.OracleAttestation{SampleAttestation("event-1", "yes")},
			SignedCet:    SampleTx("cet"),
		}
	case dlcstate.ContractClosed:
		a := SampleAccepted(tempID)
		c.Closed = &dlcstate.ClosedContract{
			ContractID:   a.ContractID,
			TemporaryID:  tempID,
			CounterParty: PubKey("bob"),
			Pnl:          -50000,
			SignedCet:    SampleTx("cet"),
			Attestations: []dlcstate.OracleAttestation{SampleAttestation("event-1", "no")},
		}
	case dlcstate.ContractFailedAccept:
		c.FailedAccept = &dlcstate.FailedAcceptContract{
			Offered: SampleOffered(tempID, true),
			AcceptMessage: &dlcstate.AcceptDlc{
				ProtocolVersion:     dlcstate.ProtocolVersion,
				TemporaryContractID: tempID,
				AcceptParams:        SampleParams("bob", 50000),
				CetSignatures:       sampleSigs("bad"),
			},
			Error: "adaptor signature does not verify",
		}
	case dlcstate.ContractFailedSign:
		a := SampleAccepted(tempID)
		c.FailedSign = &dlcstate.FailedSignContract{
			Accepted: a,
			SignMessage: &dlcstate.SignDlc{
				ProtocolVersion: dlcstate.ProtocolVersion,
				ContractID:      a.ContractID,
				CetSignatures:   sampleSigs("bad"),
			},
			Error: "refund signature does not verify",
		}
	}
	return c
}

// SampleOfferedChannel returns an offered channel paired with tempContractID.
func SampleOfferedChannel(tempID, tempContractID [32]byte, isOfferParty bool) *dlcstate.OfferedChannel {
	return &dlcstate.OfferedChannel{
		TemporaryChannelID:     tempID,
		TemporaryContractID:    tempContractID,
		CounterParty:           PubKey("bob"),
		IsOfferParty:           isOfferParty,
		CounterPartyCollateral: 50000,
		CetNsequence:           288,
		FeeRatePerVb:           2,
	}
}

// SampleSignedChannel returns a signed channel in substate kind.
func SampleSignedChannel(kind dlcstate.SignedSubstateKind, tempID [32]byte) *dlcstate.Channel {
	fundTx := SampleTx(fmt.Sprintf("chan-%x", tempID[:4]))
	s := &dlcstate.SignedChannel{
		ChannelID:          dlcstate.ComputeID(fundTx.TxHash(), 0, tempID),
		TemporaryChannelID: tempID,
		CounterParty:       PubKey("bob"),
		IsOfferParty:       true,
		ContractID:         dlcstate.ComputeID(fundTx.TxHash(), 0, FilledID(0xCC)),
		FundTx:             fundTx,
		FundOutputIndex:    0,
		FundScript:         []byte{0x52, 0xae},
		OwnFundPubKey:      PubKey("alice"),
		CounterFundPubKey:  PubKey("bob"),
		CetNsequence:       288,
		FeeRatePerVb:       2,
		UpdateIdx:          1<<48 - 1,
		Substate: dlcstate.SignedSubstate{
			Kind:          kind,
			OwnPayout:     60000,
			CounterPayout: 40000,
			IsOfferer:     true,
			Timeout:       1700000100,
		},
	}
	if kind == dlcstate.SubstateCollaborativeCloseOffered {
		s.Substate.CloseTx = SampleTx("close")
	}
	return &dlcstate.Channel{State: dlcstate.ChannelSigned, Signed: s}
}

// SampleChannel builds a channel in any state; signed channels are
// Established.
func SampleChannel(state dlcstate.ChannelState, tempID [32]byte) *dlcstate.Channel {
	signed := SampleSignedChannel(dlcstate.SubstateEstablished, tempID).Signed
	c := &dlcstate.Channel{State: state}
	switch state {
	case dlcstate.ChannelOffered, dlcstate.ChannelCancelled:
		c.Offered = SampleOfferedChannel(tempID, FilledID(0xCC), true)
	case dlcstate.ChannelAccepted:
		c.Accepted = &dlcstate.AcceptedChannel{
			Offered:           SampleOfferedChannel(tempID, FilledID(0xCC), false),
			ChannelID:         signed.ChannelID,
			ContractID:        signed.ContractID,
			FundTx:            signed.FundTx,
			FundOutputIndex:   0,
			FundScript:        signed.FundScript,
			OwnFundPubKey:     PubKey("bob"),
			CounterFundPubKey: PubKey("alice"),
		}
	case dlcstate.ChannelSigned:
		c.Signed = signed
	case dlcstate.ChannelFailedAccept:
		c.FailedAccept = &dlcstate.FailedAcceptChannel{
			TemporaryChannelID: tempID,
			CounterParty:       PubKey("bob"),
			Error:              "bad accept",
		}
	case dlcstate.ChannelFailedSign:
		c.FailedSign = &dlcstate.FailedSignChannel{
			ChannelID:          signed.ChannelID,
			TemporaryChannelID: tempID,
			CounterParty:       PubKey("bob"),
			Error:              "bad sign",
		}
	case dlcstate.ChannelClosing:
		c.Closing = &dlcstate.ClosingChannel{
			ChannelID:          signed.ChannelID,
			TemporaryChannelID: tempID,
			CounterParty:       PubKey("bob"),
			ContractID:         signed.ContractID,
			BufferTx:           SampleTx("buffer"),
			IsClosingParty:     true,
		}
	case dlcstate.ChannelClosed, dlcstate.ChannelCounterClosed, dlcstate.ChannelCollaborativelyClosed:
		c.Closed = &dlcstate.ClosedChannel{
			ChannelID:          signed.ChannelID,
			TemporaryChannelID: tempID,
			CounterParty:       PubKey("bob"),
		}
	case dlcstate.ChannelClosedPunished:
		c.ClosedPunished = &dlcstate.ClosedPunishedChannel{
			ChannelID:          signed.ChannelID,
			TemporaryChannelID: tempID,
			CounterParty:       PubKey("bob"),
			PunishTxID:         SampleTx("punish").TxHash(),
		}
	}
	return c
}
