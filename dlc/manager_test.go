package dlc_test

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mit-dci/dlcd/db/dlcbolt"
	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/dlctest"
	"github.com/mit-dci/dlcd/eventbus"
	"github.com/stretchr/testify/require"
)

const maturity = 1700000000

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0)
}

type party struct {
	key       dlcstate.PubKey
	wallet    *dlctest.Wallet
	transport *dlctest.Transport
	store     *dlcbolt.Store
	mgr       *dlc.DlcManager
	events    []dlc.ContractStateEvent
}

type harness struct {
	hub    *dlctest.Hub
	oracle *dlctest.Oracle
	clock  *clock
	alice  *party
	bob    *party
	ann    dlcstate.OracleAnnouncement
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		hub:    dlctest.NewHub(),
		oracle: dlctest.NewOracle(),
		clock:  &clock{},
	}
	h.clock.Set(maturity - 3600)
	h.ann = h.oracle.Announce("event-1", maturity)
	h.alice = h.newParty(t, "alice")
	h.bob = h.newParty(t, "bob")
	return h
}

func (h *harness) newParty(t *testing.T, name string) *party {
	t.Helper()
	store, err := dlcbolt.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := &party{
		key:    dlctest.PubKey(name),
		wallet: dlctest.NewWallet(name),
		store:  store,
	}
	p.transport = h.hub.Transport(p.key)
	bus := eventbus.NewEventBus()
	bus.RegisterHandler(dlc.ContractStateEventName, func(e eventbus.Event) eventbus.EventHandleResult {
		p.events = append(p.events, e.(dlc.ContractStateEvent))
		return eventbus.EHANDLE_OK
	})
	p.mgr, err = dlc.NewManager(dlc.Config{
		Storage:   store,
		Wallet:    p.wallet,
		Oracle:    h.oracle,
		Transport: p.transport,
		Events:    bus,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	return p
}

func (p *party) contract(t *testing.T, id dlcstate.ContractID) *dlcstate.Contract {
	t.Helper()
	c, err := p.store.GetContract(id)
	require.NoError(t, err)
	require.NotNil(t, c, "no contract %s", id)
	return c
}

func (p *party) send(to *party, msg dlcstate.Message) {
	p.transport.SendMessage(to.key, msg)
	p.transport.ProcessMessages()
}

func terms() *dlc.ContractInput {
	return &dlc.ContractInput{
		OfferCollateral:  50000,
		AcceptCollateral: 50000,
		FeeRate:          2,
		Payouts: []dlcstate.OutcomePayout{
			{Outcome: "yes", OfferPayout: 100000, AcceptPayout: 0},
			{Outcome: "no", OfferPayout: 0, AcceptPayout: 100000},
		},
	}
}

// offer has alice offer a contract to bob and returns the temporary id.
func (h *harness) offer(t *testing.T) dlcstate.ContractID {
	t.Helper()
	offer, err := h.alice.mgr.SendOffer(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)
	h.alice.send(h.bob, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	return offer.TemporaryContractID
}

// accept has bob accept tempID and delivers the accept to alice.
func (h *harness) accept(t *testing.T, tempID dlcstate.ContractID) dlcstate.ContractID {
	t.Helper()
	id, counterParty, accept, err := h.bob.mgr.AcceptContractOffer(tempID)
	require.NoError(t, err)
	require.Equal(t, h.alice.key, counterParty)
	h.bob.send(h.alice, accept)
	return id
}

// sign runs the whole negotiation and returns the final contract id.
func (h *harness) sign(t *testing.T) dlcstate.ContractID {
	t.Helper()
	id := h.accept(t, h.offer(t))
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	return id
}

func TestOfferAcceptSign(t *testing.T) {
	h := newHarness(t)
	tempID := h.offer(t)

	c := h.bob.contract(t, tempID)
	require.Equal(t, dlcstate.ContractOffered, c.State)
	require.False(t, c.Offered.IsOfferParty)
	require.Equal(t, h.alice.key, c.Offered.CounterParty)
	require.True(t, h.alice.contract(t, tempID).Offered.IsOfferParty)

	id := h.accept(t, tempID)
	require.NotEqual(t, tempID, id)
	require.Equal(t, dlcstate.ContractAccepted, h.bob.contract(t, id).State)

	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	signed := h.alice.contract(t, id)
	require.Equal(t, dlcstate.ContractSigned, signed.State)
	require.Len(t, signed.Signed.FundingSignatures, 1)

	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	require.Equal(t, dlcstate.ContractSigned, h.bob.contract(t, id).State)

	for _, p := range []*party{h.alice, h.bob} {
		old, err := p.store.GetContract(tempID)
		require.NoError(t, err)
		require.Nil(t, old, "temporary record left behind")
		all, err := p.store.GetContracts()
		require.NoError(t, err)
		require.Len(t, all, 1)
	}

	txs := h.bob.wallet.Broadcasts()
	require.Len(t, txs, 1)
	fundTx := txs[0]
	require.Len(t, fundTx.TxIn, 2)
	for _, in := range fundTx.TxIn {
		require.NotEmpty(t, in.Witness)
	}
	a := h.bob.contract(t, id).Signed.Accepted
	require.Equal(t, dlcstate.ContractID(dlcstate.ComputeID(fundTx.TxHash(), a.FundOutputIndex, tempID)), id)
	require.Equal(t, int64(100000), fundTx.TxOut[a.FundOutputIndex].Value)
	require.Empty(t, h.alice.wallet.Broadcasts())
}

func TestSignStoredBeforeFundingBroadcast(t *testing.T) {
	h := newHarness(t)
	id := h.accept(t, h.offer(t))
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())

	h.bob.wallet.FailBroadcast = true
	require.Equal(t, 0, h.bob.mgr.ProcessMessages())
	require.Empty(t, h.bob.wallet.Broadcasts())

	c := h.bob.contract(t, id)
	require.Equal(t, dlcstate.ContractSigned, c.State)
	for _, in := range c.Signed.Accepted.FundTx.TxIn {
		require.NotEmpty(t, in.Witness)
	}
}

func TestAcceptRekeysFixedTemporaryID(t *testing.T) {
	h := newHarness(t)
	temp := dlcstate.ContractID(dlctest.FilledID(0xAA))
	params := dlctest.SampleParams("alice", 50000)
	offer := &dlcstate.OfferDlc{
		ProtocolVersion:     dlcstate.ProtocolVersion,
		ChainHash:           *h.bob.mgr.Params().GenesisHash,
		TemporaryContractID: temp,
		ContractInfo:        dlctest.SampleContractInfo(),
		OfferParams:         params,
		TotalCollateral:     100000,
		FundOutputSerialID:  7,
		FeeRatePerVb:        2,
		CetLocktime:         maturity,
		RefundLocktime:      maturity + dlc.DefaultRefundDelay,
	}
	h.bob.transport.Deliver(h.alice.key, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())

	id, _, accept, err := h.bob.mgr.AcceptContractOffer(temp)
	require.NoError(t, err)
	require.Equal(t, temp, accept.TemporaryContractID)

	c := h.bob.contract(t, id)
	a := c.Accepted
	require.Equal(t, dlcstate.ContractID(dlcstate.ComputeID(a.FundTx.TxHash(), a.FundOutputIndex, temp)), id)
	old, err := h.bob.store.GetContract(temp)
	require.NoError(t, err)
	require.Nil(t, old)
	offers, err := h.bob.store.GetContractOffers()
	require.NoError(t, err)
	require.Empty(t, offers)
}

func TestOfferForOtherChain(t *testing.T) {
	h := newHarness(t)
	offer, err := h.alice.mgr.SendOffer(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)
	offer.ChainHash[0] ^= 0xff
	h.alice.send(h.bob, offer)
	require.Equal(t, 0, h.bob.mgr.ProcessMessages())

	all, err := h.bob.store.GetContracts()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOfferWithWrappingPayoutIgnored(t *testing.T) {
	h := newHarness(t)
	offer, err := h.alice.mgr.SendOffer(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)
	offer.ContractInfo.Payouts[0] = dlcstate.OutcomePayout{Outcome: "yes", OfferPayout: math.MaxUint64, AcceptPayout: 100001}
	h.alice.send(h.bob, offer)
	require.Equal(t, 0, h.bob.mgr.ProcessMessages())

	all, err := h.bob.store.GetContracts()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDuplicateOfferIgnored(t *testing.T) {
	h := newHarness(t)
	offer, err := h.alice.mgr.SendOffer(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)
	h.alice.send(h.bob, offer)
	h.alice.send(h.bob, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
}

func TestInvalidContractInput(t *testing.T) {
	h := newHarness(t)
	in := terms()
	in.Payouts[0].OfferPayout = 1
	_, err := h.alice.mgr.SendOffer(in, h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	var perr *dlccore.ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, 0, h.alice.wallet.Reserved())
}

func TestFailedAccept(t *testing.T) {
	h := newHarness(t)
	tempID := h.offer(t)
	h.accept(t, tempID)
	require.Equal(t, 1, h.alice.wallet.Reserved())

	h.alice.wallet.FailVerify = true
	require.Equal(t, 0, h.alice.mgr.ProcessMessages())

	c := h.alice.contract(t, tempID)
	require.Equal(t, dlcstate.ContractFailedAccept, c.State)
	require.Equal(t, dlctest.ErrBadSignature.Error(), c.FailedAccept.Error)
	require.Equal(t, tempID, c.FailedAccept.AcceptMessage.TemporaryContractID)
	require.Equal(t, 0, h.alice.wallet.Reserved())
	require.Empty(t, h.alice.transport.Sent()[1:], "no sign message after a failed accept")
}

func TestFailedSign(t *testing.T) {
	h := newHarness(t)
	id := h.accept(t, h.offer(t))
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())

	h.bob.wallet.FailVerify = true
	require.Equal(t, 0, h.bob.mgr.ProcessMessages())

	c := h.bob.contract(t, id)
	require.Equal(t, dlcstate.ContractFailedSign, c.State)
	require.Equal(t, id, c.FailedSign.SignMessage.ContractID)
	require.Equal(t, 0, h.bob.wallet.Reserved())
	require.Empty(t, h.bob.wallet.Broadcasts())
}

func TestRejectOffer(t *testing.T) {
	h := newHarness(t)
	tempID := h.offer(t)

	reject, counterParty, err := h.bob.mgr.RejectContractOffer(tempID)
	require.NoError(t, err)
	require.Equal(t, h.alice.key, counterParty)
	require.Equal(t, dlcstate.ContractRejected, h.bob.contract(t, tempID).State)

	h.bob.send(h.alice, reject)
	require.Equal(t, 1, h.alice.mgr.ProcessMessages())
	require.Equal(t, dlcstate.ContractRejected, h.alice.contract(t, tempID).State)
	require.Equal(t, 0, h.alice.wallet.Reserved())

	_, _, _, err = h.bob.mgr.AcceptContractOffer(tempID)
	require.ErrorIs(t, err, dlccore.ErrInvalidState)
}

func TestAcceptOwnOfferRefused(t *testing.T) {
	h := newHarness(t)
	tempID := h.offer(t)
	_, _, _, err := h.alice.mgr.AcceptContractOffer(tempID)
	require.ErrorIs(t, err, dlccore.ErrInvalidState)

	_, _, _, err = h.alice.mgr.AcceptContractOffer(dlcstate.ContractID(dlctest.FilledID(0x42)))
	require.ErrorIs(t, err, dlccore.ErrNotFound)
}

func TestMessageFromWrongPeer(t *testing.T) {
	h := newHarness(t)
	tempID := h.offer(t)
	_, _, accept, err := h.bob.mgr.AcceptContractOffer(tempID)
	require.NoError(t, err)

	h.alice.transport.Deliver(dlctest.PubKey("mallory"), accept)
	require.Equal(t, 0, h.alice.mgr.ProcessMessages())
	require.Equal(t, dlcstate.ContractOffered, h.alice.contract(t, tempID).State)
}

func TestProcessMessagesSkipsFailures(t *testing.T) {
	h := newHarness(t)
	offer, err := h.alice.mgr.SendOffer(terms(), h.bob.key, []dlcstate.OracleAnnouncement{h.ann})
	require.NoError(t, err)

	h.bob.transport.Deliver(h.alice.key, &dlcstate.SignDlc{ContractID: dlcstate.ContractID(dlctest.FilledID(9))})
	h.bob.transport.Deliver(h.alice.key, offer)
	require.Equal(t, 1, h.bob.mgr.ProcessMessages())
	require.Equal(t, 0, h.bob.transport.Pending())
	require.Equal(t, dlcstate.ContractOffered, h.bob.contract(t, offer.TemporaryContractID).State)
}

func TestContractEvents(t *testing.T) {
	h := newHarness(t)
	h.sign(t)

	var states []dlcstate.ContractState
	for _, e := range h.alice.events {
		states = append(states, e.State)
	}
	require.Equal(t, []dlcstate.ContractState{dlcstate.ContractOffered, dlcstate.ContractSigned}, states)
	require.True(t, h.alice.events[0].Created)
	require.Equal(t, dlcstate.ContractOffered, h.alice.events[1].Previous)

	states = nil
	for _, e := range h.bob.events {
		states = append(states, e.State)
	}
	require.Equal(t, []dlcstate.ContractState{
		dlcstate.ContractOffered, dlcstate.ContractAccepted, dlcstate.ContractSigned,
	}, states)
}
