package dlcstate_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/dlctest"
)

func TestMessageRoundTrip(t *testing.T) {
	temp := dlctest.FilledID(0x10)
	sig := [64]byte{1, 2, 3}
	msgs := []dlcstate.Message{
		&dlcstate.OfferDlc{
			ProtocolVersion:     dlcstate.ProtocolVersion,
			ChainHash:           *chaincfg.RegressionNetParams.GenesisHash,
			TemporaryContractID: temp,
			ContractInfo:        dlctest.SampleContractInfo(),
			OfferParams:         dlctest.SampleParams("alice", 50000),
			TotalCollateral:     100000,
			FundOutputSerialID:  3,
			FeeRatePerVb:        4,
			CetLocktime:         100,
			RefundLocktime:      200,
		},
		&dlcstate.AcceptDlc{
			ProtocolVersion:     dlcstate.ProtocolVersion,
			TemporaryContractID: temp,
			AcceptParams:        dlctest.SampleParams("bob", 50000),
			CetSignatures:       dlcstate.CetSignatures{AdaptorSignatures: [][]byte{{1}, {2}}, RefundSignature: sig},
		},
		&dlcstate.SignDlc{
			ProtocolVersion:   dlcstate.ProtocolVersion,
			ContractID:        temp,
			CetSignatures:     dlcstate.CetSignatures{AdaptorSignatures: [][]byte{{3}}, RefundSignature: sig},
			FundingSignatures: [][]byte{{9, 9}},
		},
		&dlcstate.RejectDlc{ContractID: temp},
		&dlcstate.OfferChannel{
			ProtocolVersion:     dlcstate.ProtocolVersion,
			ChainHash:           *chaincfg.RegressionNetParams.GenesisHash,
			TemporaryChannelID:  dlctest.FilledID(0x20),
			TemporaryContractID: temp,
			ContractInfo:        dlctest.SampleContractInfo(),
			OfferParams:         dlctest.SampleParams("alice", 50000),
			TotalCollateral:     100000,
			FundOutputSerialID:  5,
			FeeRatePerVb:        1,
			CetLocktime:         100,
			RefundLocktime:      200,
			CetNsequence:        288,
		},
		&dlcstate.AcceptChannel{
			TemporaryChannelID: dlctest.FilledID(0x20),
			AcceptParams:       dlctest.SampleParams("bob", 50000),
			CetSignatures:      dlcstate.CetSignatures{AdaptorSignatures: [][]byte{{4}}, RefundSignature: sig},
		},
		&dlcstate.SignChannel{
			ChannelID:         dlctest.FilledID(0x21),
			CetSignatures:     dlcstate.CetSignatures{AdaptorSignatures: [][]byte{{5}}, RefundSignature: sig},
			FundingSignatures: [][]byte{{6}},
		},
		&dlcstate.RejectChannel{TemporaryChannelID: dlctest.FilledID(0x20)},
		&dlcstate.CollaborativeCloseOffer{ChannelID: dlctest.FilledID(0x21), CounterPayout: 42, CloseSignature: sig},
	}

	for _, msg := range msgs {
		b := msg.Bytes()
		if b[0] != msg.MsgType() {
			t.Fatalf("type byte %x, want %x", b[0], msg.MsgType())
		}
		msg2, err := dlcstate.MessageFromBytes(b)
		if err != nil {
			t.Fatalf("%x: %v", msg.MsgType(), err)
		}
		if !bytes.Equal(b, msg2.Bytes()) {
			t.Fatalf("bytes mismatch:\n%x\n%x\n", b, msg2.Bytes())
		}
		if !reflect.DeepEqual(msg, msg2) {
			t.Fatalf("%x: decoded message differs:\n%+v\n%+v", msg.MsgType(), msg, msg2)
		}
	}
}

func TestMessageFromBytesErrors(t *testing.T) {
	if _, err := dlcstate.MessageFromBytes(nil); err == nil {
		t.Fatal("expected error for empty message")
	}
	if _, err := dlcstate.MessageFromBytes([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for unknown type")
	}
	b := (&dlcstate.RejectDlc{}).Bytes()
	if _, err := dlcstate.MessageFromBytes(b[:10]); err == nil {
		t.Fatal("expected error for short message")
	}
}
