package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

var (
	white       = color.New(color.FgHiWhite).SprintFunc()
	green       = color.New(color.FgHiGreen).SprintFunc()
	red         = color.New(color.FgHiRed).SprintFunc()
	header      = color.New(color.FgHiCyan).SprintFunc()
	promptColor = color.New(color.FgHiYellow).SprintFunc()
	satoshi     = color.New(color.Faint).SprintFunc()
)

var errExit = errors.New("exit")

type Command struct {
	Name             string
	Format           string
	ShortDescription string
	run              func(sh *shell, args []string) error
}

var commands []*Command

func init() {
	commands = []*Command{
		{"ls", "ls [state]", "List contracts, optionally only those in state", (*shell).listContracts},
		{"show", "show <contract id>", "Show one contract", (*shell).showContract},
		{"chan", "chan", "List open, offered and closing channels", (*shell).listChannels},
		{"peers", "peers", "List saved peers", (*shell).listPeers},
		{"monitor", "monitor", "Show the chain monitor", (*shell).showMonitor},
		{"ann", "ann <event id>", "Fetch an event's announcements from the oracle", (*shell).announcements},
		{"att", "att <event id>", "Fetch an event's attestation from the oracle", (*shell).attestation},
		{"help", "help", "Show this list", (*shell).help},
	}
}

type shell struct {
	store  dlccore.Storage
	oracle dlccore.Oracle
	out    io.Writer
}

func (sh *shell) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{readline.PcItem("exit")}
	for _, c := range commands {
		items = append(items, readline.PcItem(c.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

// parse runs one command line. It returns errExit for exit and quit.
func (sh *shell) parse(cmdslice []string) error {
	if len(cmdslice) == 0 {
		return nil
	}
	cmd, args := cmdslice[0], cmdslice[1:]
	if cmd == "exit" || cmd == "quit" {
		return errExit
	}
	for _, c := range commands {
		if c.Name == cmd {
			return c.run(sh, args)
		}
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (sh *shell) help(args []string) error {
	for _, c := range commands {
		fmt.Fprintf(sh.out, "%-22s %s\n", white(c.Format), c.ShortDescription)
	}
	return nil
}

func (sh *shell) listContracts(args []string) error {
	cs, err := sh.store.GetContracts()
	if err != nil {
		return err
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID().String() < cs[j].ID().String() })
	n := 0
	for _, c := range cs {
		if len(args) > 0 && c.State.String() != args[0] {
			continue
		}
		fmt.Fprintf(sh.out, "%s %-12s peer %s\n", c.ID(), header(c.State), c.CounterParty())
		n++
	}
	fmt.Fprintf(sh.out, "%d contracts\n", n)
	return nil
}

func (sh *shell) showContract(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <contract id>")
	}
	id, err := dlcstate.ParseContractID(args[0])
	if err != nil {
		return err
	}
	c, err := sh.store.GetContract(id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("no contract %s", id)
	}

	fmt.Fprintf(sh.out, "%s %s\n", header("contract"), c.ID())
	fmt.Fprintf(sh.out, "\tstate: %s\n", c.State)
	fmt.Fprintf(sh.out, "\ttemporary id: %s\n", c.TemporaryID())
	fmt.Fprintf(sh.out, "\tpeer: %s\n", c.CounterParty())
	if o := offeredOf(c); o != nil {
		fmt.Fprintf(sh.out, "\tcollateral: %s total, %s ours\n", satoshi(o.TotalCollateral), satoshi(ourCollateral(o)))
		fmt.Fprintf(sh.out, "\tfee rate: %d sat/vB\n", o.FeeRatePerVb)
		fmt.Fprintf(sh.out, "\tcet locktime: %s\n", time.Unix(int64(o.CetLocktime), 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(sh.out, "\trefund locktime: %s\n", time.Unix(int64(o.RefundLocktime), 0).UTC().Format(time.RFC3339))
		for _, p := range o.ContractInfo.Payouts {
			fmt.Fprintf(sh.out, "\t\t%-10s offer %s accept %s\n", p.Outcome, satoshi(p.OfferPayout), satoshi(p.AcceptPayout))
		}
	}
	switch c.State {
	case dlcstate.ContractClosed:
		pnl := fmt.Sprintf("%d", c.Closed.Pnl)
		if c.Closed.Pnl < 0 {
			pnl = red(pnl)
		} else {
			pnl = green(pnl)
		}
		fmt.Fprintf(sh.out, "\tpnl: %s\n", pnl)
	case dlcstate.ContractFailedAccept:
		fmt.Fprintf(sh.out, "\terror: %s\n", red(c.FailedAccept.Error))
	case dlcstate.ContractFailedSign:
		fmt.Fprintf(sh.out, "\terror: %s\n", red(c.FailedSign.Error))
	}
	return nil
}

// offeredOf returns the offer terms carried by every state but Closed.
func offeredOf(c *dlcstate.Contract) *dlcstate.OfferedContract {
	switch {
	case c.Offered != nil:
		return c.Offered
	case c.Accepted != nil:
		return c.Accepted.Offered
	case c.Signed != nil:
		return c.Signed.Accepted.Offered
	case c.PreClosed != nil:
		return c.PreClosed.Signed.Accepted.Offered
	case c.FailedAccept != nil:
		return c.FailedAccept.Offered
	case c.FailedSign != nil:
		return c.FailedSign.Accepted.Offered
	}
	return nil
}

func ourCollateral(o *dlcstate.OfferedContract) uint64 {
	if o.IsOfferParty {
		return o.OfferParams.Collateral
	}
	return o.TotalCollateral - o.OfferParams.Collateral
}

func (sh *shell) listChannels(args []string) error {
	offered, err := sh.store.GetOfferedChannels()
	if err != nil {
		return err
	}
	signed, err := sh.store.GetSignedChannels(nil)
	if err != nil {
		return err
	}
	closing, err := sh.store.GetClosingChannels()
	if err != nil {
		return err
	}
	for _, o := range offered {
		fmt.Fprintf(sh.out, "%s %-12s peer %s\n", o.TemporaryChannelID, header("Offered"), o.CounterParty)
	}
	for _, s := range signed {
		fmt.Fprintf(sh.out, "%s %-12s peer %s value %s\n", s.ChannelID, header(s.Substate.Kind),
			s.CounterParty, satoshi(s.FundTx.TxOut[s.FundOutputIndex].Value))
	}
	for _, c := range closing {
		fmt.Fprintf(sh.out, "%s %-12s peer %s buffer %s\n", c.ChannelID, header("Closing"), c.CounterParty, c.BufferTx.TxHash())
	}
	fmt.Fprintf(sh.out, "%d channels\n", len(offered)+len(signed)+len(closing))
	return nil
}

func (sh *shell) listPeers(args []string) error {
	peers, err := sh.store.ListPeers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Fprintf(sh.out, "%s@%s\n", p.PubKey, p.Host)
	}
	fmt.Fprintf(sh.out, "%d peers\n", len(peers))
	return nil
}

func (sh *shell) showMonitor(args []string) error {
	m, err := sh.store.GetChainMonitor()
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintf(sh.out, "no chain monitor saved yet\n")
		return nil
	}
	fmt.Fprintf(sh.out, "%s height %d, watching %d txs\n", header("monitor"), m.LastHeight, len(m.Watched))
	for txid, w := range m.Watched {
		fmt.Fprintf(sh.out, "\t%s kind %d\n", txid, w.Kind)
	}
	return nil
}

func (sh *shell) oracleCall(args []string, fn func(ctx context.Context, eventID string) error) error {
	if sh.oracle == nil {
		return fmt.Errorf("no oracle configured, set --oracle")
	}
	if len(args) != 1 {
		return fmt.Errorf("need an event id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, args[0])
}

func (sh *shell) announcements(args []string) error {
	return sh.oracleCall(args, func(ctx context.Context, eventID string) error {
		anns, err := sh.oracle.GetAnnouncements(ctx, eventID)
		if err != nil {
			return err
		}
		for _, a := range anns {
			fmt.Fprintf(sh.out, "%s matures %s outcomes %v\n", header(a.EventID),
				time.Unix(int64(a.Maturity), 0).UTC().Format(time.RFC3339), a.Outcomes)
		}
		return nil
	})
}

func (sh *shell) attestation(args []string) error {
	return sh.oracleCall(args, func(ctx context.Context, eventID string) error {
		att, err := sh.oracle.GetAttestation(ctx, eventID)
		if err != nil {
			return err
		}
		if att == nil {
			fmt.Fprintf(sh.out, "%s not attested yet\n", eventID)
			return nil
		}
		fmt.Fprintf(sh.out, "%s attested %s\n", header(att.EventID), green(att.Outcomes))
		return nil
	})
}
