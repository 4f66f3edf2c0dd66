package dlc

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/psbt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// Funding transaction weights, split evenly between the two parties.
const (
	fundTxBaseWeight = 107
	fundInputWeight  = 164
	changeOutWeight  = 36
	dustLimit        = 1000
)

// initialUpdateIdx is the update index of a freshly signed channel. It
// counts down on every renew.
const initialUpdateIdx = 1<<48 - 1

func randomSerialID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:])
}

// partyFee is what one side pays towards the funding transaction.
func partyFee(p *dlcstate.PartyParams, feeRate uint64) uint64 {
	weight := uint64(fundTxBaseWeight)
	for _, in := range p.Inputs {
		weight += fundInputWeight + uint64(in.MaxWitnessLen)
	}
	weight += changeOutWeight + 4*uint64(len(p.ChangeScript))
	return (weight + 3) / 4 * feeRate
}

// changeValue is left to p after collateral and fees, or an error if the
// inputs do not cover both.
func changeValue(p *dlcstate.PartyParams, feeRate uint64) (uint64, error) {
	need, carry := bits.Add64(p.Collateral, partyFee(p, feeRate), 0)
	if carry != 0 || p.InputAmount < need {
		return 0, fmt.Errorf("inputs of %d sat do not cover %d sat", p.InputAmount, need)
	}
	return p.InputAmount - need, nil
}

// partyParams reserves coins for collateral and returns the local side's
// funding contribution.
func (mgr *DlcManager) partyParams(tempID [32]byte, collateral, feeRate uint64) (*dlcstate.PartyParams, error) {
	fundPubKey, err := mgr.wallet.FundingPubKey(tempID)
	if err != nil {
		return nil, dlccore.NewWalletError("funding pubkey", err)
	}
	changeAddr, err := mgr.wallet.NewChangeAddress()
	if err != nil {
		return nil, dlccore.NewWalletError("change address", err)
	}
	payoutAddr, err := mgr.wallet.NewExternalAddress()
	if err != nil {
		return nil, dlccore.NewWalletError("payout address", err)
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, err
	}
	payoutScript, err := txscript.PayToAddrScript(payoutAddr)
	if err != nil {
		return nil, err
	}

	utxos, err := mgr.wallet.GetUtxosForAmount(btcutil.Amount(collateral), feeRate)
	if err != nil {
		return nil, dlccore.NewWalletError("select utxos", err)
	}
	p := &dlcstate.PartyParams{
		FundPubKey:     fundPubKey,
		ChangeScript:   changeScript,
		ChangeSerialID: randomSerialID(),
		PayoutScript:   payoutScript,
		PayoutSerialID: randomSerialID(),
		Collateral:     collateral,
	}
	for _, u := range utxos {
		p.Inputs = append(p.Inputs, dlcstate.FundingInput{
			OutPoint:      u.OutPoint,
			Value:         uint64(u.Value),
			SerialID:      randomSerialID(),
			MaxWitnessLen: u.MaxWitnessLen,
		})
		p.InputAmount += uint64(u.Value)
	}
	if _, err := changeValue(p, feeRate); err != nil {
		mgr.unreserve(p)
		return nil, dlccore.NewWalletError("select utxos", err)
	}
	return p, nil
}

// unreserve releases the coins of p. Failures are only logged; the wallet
// will see the coins again after its next sync.
func (mgr *DlcManager) unreserve(p *dlcstate.PartyParams) {
	if len(p.Inputs) == 0 {
		return
	}
	ops := make([]wire.OutPoint, len(p.Inputs))
	for i, in := range p.Inputs {
		ops[i] = in.OutPoint
	}
	if err := mgr.wallet.UnreserveUtxos(ops); err != nil {
		logging.Warnf("dlc: unreserve %d utxos: %v", len(ops), err)
	}
}

// fundScript is the 2-of-2 multisig both funding keys sign, keys sorted.
func (mgr *DlcManager) fundScript(a, b dlcstate.PubKey) ([]byte, error) {
	keys := [][]byte{a[:], b[:]}
	if bytes.Compare(keys[0], keys[1]) > 0 {
		keys[0], keys[1] = keys[1], keys[0]
	}
	addrs := make([]*btcutil.AddressPubKey, 2)
	for i, k := range keys {
		addr, err := btcutil.NewAddressPubKey(k, mgr.params)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return txscript.MultiSigScript(addrs, 2)
}

type serialOut struct {
	serial uint64
	out    *wire.TxOut
	fund   bool
}

// buildFundingTx assembles the unsigned funding transaction. Inputs and
// outputs are ordered by serial id, so both sides derive the same bytes.
func (mgr *DlcManager) buildFundingTx(offer, accept *dlcstate.PartyParams,
	fundSerialID, feeRate uint64) (*wire.MsgTx, uint16, []byte, error) {

	script, err := mgr.fundScript(offer.FundPubKey, accept.FundPubKey)
	if err != nil {
		return nil, 0, nil, err
	}
	scriptHash := sha256.Sum256(script)
	fundAddr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], mgr.params)
	if err != nil {
		return nil, 0, nil, err
	}
	fundPkScript, err := txscript.PayToAddrScript(fundAddr)
	if err != nil {
		return nil, 0, nil, err
	}

	inputs := make([]dlcstate.FundingInput, 0, len(offer.Inputs)+len(accept.Inputs))
	inputs = append(inputs, offer.Inputs...)
	inputs = append(inputs, accept.Inputs...)
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].SerialID < inputs[j].SerialID })
	for i := 1; i < len(inputs); i++ {
		if inputs[i].SerialID == inputs[i-1].SerialID {
			return nil, 0, nil, fmt.Errorf("duplicate input serial id %d", inputs[i].SerialID)
		}
	}

	outs := []serialOut{{
		serial: fundSerialID,
		out:    wire.NewTxOut(int64(offer.Collateral+accept.Collateral), fundPkScript),
		fund:   true,
	}}
	for _, p := range []*dlcstate.PartyParams{offer, accept} {
		change, err := changeValue(p, feeRate)
		if err != nil {
			return nil, 0, nil, err
		}
		if change < dustLimit {
			continue
		}
		outs = append(outs, serialOut{serial: p.ChangeSerialID, out: wire.NewTxOut(int64(change), p.ChangeScript)})
	}
	sort.SliceStable(outs, func(i, j int) bool { return outs[i].serial < outs[j].serial })

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		op := in.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	var fundIdx uint16
	for i, o := range outs {
		if o.fund {
			fundIdx = uint16(i)
		}
		tx.AddTxOut(o.out)
	}
	return tx, fundIdx, script, nil
}

// ownsInput reports whether op is one of p's inputs.
func ownsInput(p *dlcstate.PartyParams, op wire.OutPoint) (dlcstate.FundingInput, bool) {
	for _, in := range p.Inputs {
		if in.OutPoint == op {
			return in, true
		}
	}
	return dlcstate.FundingInput{}, false
}

// signOwnInputs asks the wallet for witnesses on every input of tx that
// belongs to own, in transaction order.
func (mgr *DlcManager) signOwnInputs(tx *wire.MsgTx, own *dlcstate.PartyParams) ([][]byte, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	var witnesses [][]byte
	for i, txIn := range tx.TxIn {
		in, ok := ownsInput(own, txIn.PreviousOutPoint)
		if !ok {
			continue
		}
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(in.Value), nil)
		if err := mgr.wallet.SignPsbtInput(packet, i); err != nil {
			return nil, dlccore.NewWalletError("sign funding input", err)
		}
		w := packet.Inputs[i].FinalScriptWitness
		if len(w) == 0 {
			return nil, dlccore.NewWalletError("sign funding input",
				fmt.Errorf("no witness for input %d", i))
		}
		witnesses = append(witnesses, w)
	}
	return witnesses, nil
}

// applyWitnesses sets the witnesses of p's inputs on tx, in transaction
// order.
func applyWitnesses(tx *wire.MsgTx, p *dlcstate.PartyParams, witnesses [][]byte) error {
	if len(witnesses) != len(p.Inputs) {
		return fmt.Errorf("got %d funding signatures for %d inputs", len(witnesses), len(p.Inputs))
	}
	next := 0
	for _, txIn := range tx.TxIn {
		if _, ok := ownsInput(p, txIn.PreviousOutPoint); !ok {
			continue
		}
		w, err := dlcstate.ParseWitness(witnesses[next])
		if err != nil {
			return fmt.Errorf("funding signature %d: %w", next, err)
		}
		txIn.Witness = w
		next++
	}
	return nil
}

// acceptedFromOffer builds the funding transaction for an offer and an
// accept and checks the accept's collateral.
func (mgr *DlcManager) acceptedFromOffer(o *dlcstate.OfferedContract, acceptParams *dlcstate.PartyParams,
	acceptSigs *dlcstate.CetSignatures) (*dlcstate.AcceptedContract, error) {

	if want := o.TotalCollateral - o.OfferParams.Collateral; acceptParams.Collateral != want {
		return nil, fmt.Errorf("accept collateral %d, want %d", acceptParams.Collateral, want)
	}
	fundTx, idx, script, err := mgr.buildFundingTx(&o.OfferParams, acceptParams, o.FundOutputSerialID, o.FeeRatePerVb)
	if err != nil {
		return nil, err
	}
	return &dlcstate.AcceptedContract{
		Offered:          o,
		ContractID:       dlcstate.ContractID(dlcstate.ComputeID(fundTx.TxHash(), idx, o.ID)),
		AcceptParams:     *acceptParams,
		FundTx:           fundTx,
		FundOutputIndex:  idx,
		FundScript:       script,
		AcceptSignatures: *acceptSigs,
	}, nil
}

// verifyAccept is run by the offer party on an inbound accept. Any error
// it returns means the accept is invalid.
func (mgr *DlcManager) verifyAccept(o *dlcstate.OfferedContract, acceptParams *dlcstate.PartyParams,
	acceptSigs *dlcstate.CetSignatures) (*dlcstate.AcceptedContract, error) {

	if _, err := dlcstate.ParsePubKey(acceptParams.FundPubKey[:]); err != nil {
		return nil, fmt.Errorf("accept funding pubkey: %w", err)
	}
	a, err := mgr.acceptedFromOffer(o, acceptParams, acceptSigs)
	if err != nil {
		return nil, err
	}
	err = mgr.wallet.VerifyCetAdaptorSignatures(&o.ContractInfo, a.FundTx, a.FundOutputIndex,
		a.FundScript, acceptParams.FundPubKey, acceptSigs)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// verifySign is run by the accept party on an inbound sign. It returns the
// funding transaction carrying the offer party's witnesses.
func (mgr *DlcManager) verifySign(a *dlcstate.AcceptedContract, sigs *dlcstate.CetSignatures,
	fundingSigs [][]byte) (*wire.MsgTx, error) {

	o := a.Offered
	err := mgr.wallet.VerifyCetAdaptorSignatures(&o.ContractInfo, a.FundTx, a.FundOutputIndex,
		a.FundScript, o.OfferParams.FundPubKey, sigs)
	if err != nil {
		return nil, err
	}
	tx := a.FundTx.Copy()
	if err := applyWitnesses(tx, &o.OfferParams, fundingSigs); err != nil {
		return nil, err
	}
	return tx, nil
}

// completeFunding adds the accept party's witnesses to tx.
func (mgr *DlcManager) completeFunding(a *dlcstate.AcceptedContract, tx *wire.MsgTx) error {
	own, err := mgr.signOwnInputs(a.FundTx, &a.AcceptParams)
	if err != nil {
		return err
	}
	return applyWitnesses(tx, &a.AcceptParams, own)
}

// broadcastFunding publishes a funding tx whose contract is already stored
// as Signed. On failure the record, funding tx included, is left as is.
func (mgr *DlcManager) broadcastFunding(tx *wire.MsgTx) error {
	if err := mgr.wallet.Broadcast(tx); err != nil {
		return dlccore.NewWalletError("broadcast funding", err)
	}
	logging.Infof("dlc: broadcast funding tx %s", tx.TxHash())
	return nil
}
