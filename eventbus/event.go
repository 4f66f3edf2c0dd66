package eventbus

import "fmt"

// Event is anything published on the bus. Handlers are matched on Name.
type Event interface {
	Name() string
	Flags() uint8
}

// Event flags.
const (
	// EFLAG_NORMAL events run handlers on the publisher and may be cancelled.
	EFLAG_NORMAL = 0

	// EFLAG_UNCANCELLABLE events ignore EHANDLE_CANCEL. State changes that
	// are already committed use it.
	EFLAG_UNCANCELLABLE = 1 << 0

	// EFLAG_ASYNC_UNSAFE only marks the async bit. Use EFLAG_ASYNC.
	EFLAG_ASYNC_UNSAFE = 1 << 1

	// EFLAG_ASYNC events run each handler on its own goroutine.
	EFLAG_ASYNC = EFLAG_ASYNC_UNSAFE | EFLAG_UNCANCELLABLE
)

func isAsync(e Event) bool { return e.Flags()&EFLAG_ASYNC_UNSAFE != 0 }

func isUncancellable(e Event) bool { return e.Flags()&EFLAG_UNCANCELLABLE != 0 }

// checkFlags rejects async events that could be cancelled, since Publish
// returns before an async handler gets to answer.
func checkFlags(e Event) error {
	if isAsync(e) && !isUncancellable(e) {
		return fmt.Errorf("event %s is async but cancellable, flag it EFLAG_ASYNC", e.Name())
	}
	return nil
}
