package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mit-dci/dlcd/dlc"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/logging"
)

const kindShutdown = "shutdown"

// command is one unit of work for the worker. run is called on the worker
// goroutine; its result goes back on reply, which has room for one value
// so the worker never blocks on a caller that gave up.
type command struct {
	id    uuid.UUID
	kind  string
	ctx   context.Context
	run   func(mgr *dlc.DlcManager) error
	reply chan error
}

// worker runs commands one at a time, in the order they were queued, until
// it takes the shutdown command.
func (n *DlcNode) worker(cmds <-chan command, done chan<- struct{}) {
	defer close(done)
	for cmd := range cmds {
		n.metrics.queueDepth.Set(float64(len(cmds)))
		if cmd.kind == kindShutdown {
			logging.Infof("node: worker shutting down")
			cmd.reply <- nil
			return
		}
		cmd.reply <- n.runCommand(cmd)
	}
}

func (n *DlcNode) runCommand(cmd command) (err error) {
	log := logging.WithField("cmd", cmd.id.String()).WithField("kind", cmd.kind)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s command panicked: %v", cmd.kind, r)
			log.Errorf("%v", err)
		}
		n.metrics.observe(cmd.kind, err)
	}()
	if err := cmd.ctx.Err(); err != nil {
		log.Debugf("caller gone, skipping: %v", err)
		return err
	}
	log.Debugf("running command")
	return cmd.run(n.mgr)
}

// call queues fn for the worker and waits for its result. fn is skipped if
// ctx is done before the worker reaches it. Once fn has started it runs to
// completion: if ctx is done meanwhile, its writes stand but call returns
// ctx.Err(), so a message fn built is never handed back for sending. Such a
// contract stays in the store and can be looked up again.
func (n *DlcNode) call(ctx context.Context, kind string, fn func(mgr *dlc.DlcManager) error) error {
	n.mtx.RLock()
	running, cmds, done := n.running, n.cmds, n.workerDone
	n.mtx.RUnlock()
	if !running {
		return dlccore.ErrNotRunning
	}

	cmd := command{id: uuid.New(), kind: kind, ctx: ctx, run: fn, reply: make(chan error, 1)}
	select {
	case cmds <- cmd:
		n.metrics.queueDepth.Set(float64(len(cmds)))
	case <-done:
		return dlccore.ErrReplyLost
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-done:
		// The worker may have answered just before it exited.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return dlccore.ErrReplyLost
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
