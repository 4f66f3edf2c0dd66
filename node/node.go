// Package node runs a DlcManager behind a single worker goroutine. Every
// state change, whether from an API call, an inbound message or a
// background tick, is a command on one queue, so the manager never sees
// two at once.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mit-dci/dlcd/config"
	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/eventbus"
	"github.com/mit-dci/dlcd/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DlcNode owns the manager and its collaborators.
type DlcNode struct {
	cfg       *config.Config
	params    *chaincfg.Params
	wallet    dlccore.Wallet
	transport dlccore.Transport
	oracle    dlccore.Oracle
	mgr       *dlc.DlcManager
	metrics   *nodeMetrics
	limiter   *rate.Limiter

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mtx        sync.RWMutex
	running    bool
	cmds       chan command
	workerDone chan struct{}
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// New builds a stopped node. oracle may be nil, in which case contracts
// only settle by refund.
func New(cfg *config.Config, wallet dlccore.Wallet, transport dlccore.Transport,
	oracle dlccore.Oracle, store dlccore.Storage) (*DlcNode, error) {

	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	mgrCfg := dlc.Config{
		Storage:   store,
		Wallet:    wallet,
		Oracle:    oracle,
		Transport: transport,
		Events:    eventbus.NewEventBus(),
		Params:    params,
	}
	mgr, err := dlc.NewManager(mgrCfg)
	if err != nil {
		return nil, err
	}
	return &DlcNode{
		cfg:       cfg,
		params:    params,
		wallet:    wallet,
		transport: transport,
		oracle:    oracle,
		mgr:       mgr,
		metrics:   newNodeMetrics(cfg.MetricsNamespace),
		limiter:   rate.NewLimiter(rate.Limit(cfg.ReconnectRate), 1),
	}, nil
}

// Network returns the chain the node runs on.
func (n *DlcNode) Network() *chaincfg.Params { return n.params }

// Events returns the bus contract and channel state changes are published
// on. Handlers run on the worker goroutine.
func (n *DlcNode) Events() *eventbus.EventBus { return n.mgr.Events() }

// Start launches the worker and the background tasks.
func (n *DlcNode) Start() error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	n.mtx.Lock()
	if n.running {
		n.mtx.Unlock()
		return dlccore.ErrAlreadyRunning
	}
	cmds := make(chan command, n.cfg.QueueSize)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	n.running, n.cmds, n.workerDone, n.cancel, n.group = true, cmds, done, cancel, group
	n.mtx.Unlock()

	go n.worker(cmds, done)

	group.Go(func() error { return n.listen(gctx) })
	group.Go(func() error {
		return n.every(gctx, "process", n.cfg.ProcessInterval, func(ctx context.Context) error {
			_, err := n.ProcessMessagesNow(ctx)
			return err
		})
	})
	group.Go(func() error { return n.every(gctx, "sync", n.cfg.SyncInterval, n.wallet.Sync) })
	group.Go(func() error { return n.every(gctx, "check", n.cfg.CheckInterval, n.PeriodicCheck) })
	group.Go(func() error { return n.every(gctx, "reconnect", n.cfg.ReconnectInterval, n.ConnectIfNecessary) })
	if n.cfg.MetricsAddr != "" {
		group.Go(func() error { return n.serveMetrics(gctx) })
	}
	logging.Infof("node: started on %s", n.params.Name)
	return nil
}

// Stop queues the shutdown command behind everything already queued, waits
// for the worker to exit and then stops the background tasks. A stopped
// node can be started again.
func (n *DlcNode) Stop() error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	n.mtx.Lock()
	if !n.running {
		n.mtx.Unlock()
		return dlccore.ErrNotRunning
	}
	n.running = false
	cmds, done, cancel, group := n.cmds, n.workerDone, n.cancel, n.group
	n.mtx.Unlock()

	shutdown := command{kind: kindShutdown, ctx: context.Background(), reply: make(chan error, 1)}
	select {
	case cmds <- shutdown:
	case <-done:
	}
	<-done

	cancel()
	err := group.Wait()
	logging.Infof("node: stopped")
	return err
}

// Running reports whether the node is started.
func (n *DlcNode) Running() bool {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.running
}

func (n *DlcNode) listen(ctx context.Context) error {
	if err := n.transport.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Errorf("node: transport listener: %v", err)
	}
	return nil
}

// every runs fn on each tick until ctx is done. Failures are logged and the
// ticker keeps going.
func (n *DlcNode) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logging.Warnf("node: %s: %v", name, err)
			}
		}
	}
}

func (n *DlcNode) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.handler())
	srv := &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		logging.Errorf("node: metrics server: %v", err)
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
