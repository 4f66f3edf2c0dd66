package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/mit-dci/dlcd/config"
	"github.com/mit-dci/dlcd/db/dlcbolt"
	"github.com/mit-dci/dlcd/logging"
	"github.com/mit-dci/dlcd/oracle"
)

/*
dlc-af

Inspection shell for a dlcd data directory. It opens the state database
directly, so the node must not be running, and can query the configured
oracle for announcements and attestations.
*/

const historyFilename = "dlc-af.history"

func main() {
	conf, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := logging.ParseLogLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.SetLogLevel(level)
	logfile, err := os.OpenFile(conf.LogFile(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logfile.Close()
	logging.SetLogFile(logfile)
	// the shell owns the terminal unless asked otherwise
	if conf.Verbose {
		logging.SetLogOutput(os.Stdout)
	} else {
		logging.SetLogOutput(io.Discard)
	}

	store, err := dlcbolt.Open(conf.DBPath())
	if err != nil {
		logging.Fatalf("%v (is dlcd running?)", err)
	}
	defer store.Close()

	sh := &shell{store: store, out: color.Output}
	if conf.OracleURL != "" {
		o, err := openOracle(conf)
		if err != nil {
			logging.Warnf("oracle %s: %v", conf.OracleName, err)
			fmt.Fprintf(sh.out, "%s oracle disabled: %s\n", red("warning:"), err)
		} else {
			sh.oracle = o
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       promptColor("dlc-af") + white("# "),
		HistoryFile:  filepath.Join(conf.DataDir, historyFilename),
		AutoComplete: sh.completer(),
	})
	if err != nil {
		logging.Fatalf("%v", err)
	}
	defer rl.Close()

	// main shell loop
	for {
		msg, err := rl.Readline()
		if err != nil {
			break
		}
		msg = strings.TrimSpace(msg)
		if len(msg) == 0 {
			continue
		}
		rl.SaveHistory(msg)

		if err := sh.parse(strings.Fields(msg)); err != nil {
			if err == errExit {
				break
			}
			fmt.Fprintf(sh.out, "%s %s\n", red("error:"), err)
		}
	}
}

const oracleImportTimeout = 10 * time.Second

// openOracle returns a client for the configured oracle with its key pinned,
// either to the configured key or to the one the oracle reports now.
func openOracle(conf *config.Config) (*oracle.RestOracle, error) {
	o := oracle.New(conf.OracleURL, conf.OracleName)
	if conf.OracleKey != "" {
		return o, o.PinKey(conf.OracleKey)
	}
	ctx, cancel := context.WithTimeout(context.Background(), oracleImportTimeout)
	defer cancel()
	if _, err := o.Import(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
