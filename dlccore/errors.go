package dlccore

import (
	"errors"
	"fmt"

	"github.com/mit-dci/dlcd/dlcstate"
)

var (
	// ErrAlreadyRunning is returned by Start on a running node.
	ErrAlreadyRunning = errors.New("dlc node is already running")
	// ErrNotRunning is returned by calls that need a started node.
	ErrNotRunning = errors.New("dlc node is not running")
	// ErrReplyLost is returned when the worker exits before answering a call.
	ErrReplyLost = errors.New("worker exited before replying")
	// ErrUnknownPrefix marks a stored record with an unknown type tag.
	ErrUnknownPrefix = dlcstate.ErrUnknownPrefix
	// ErrNotFound marks a lookup of a contract or channel that is not stored.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation on a record in the wrong state.
	ErrInvalidState = errors.New("invalid state")
)

// StorageError wraps a failure of the state store: encoding, an unknown
// prefix, or the database engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err for op, leaving nil and existing storage
// errors alone.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ProtocolError is returned for a message or command that does not apply
// to the current state, or whose signatures do not verify.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Msg
	}
	return fmt.Sprintf("protocol: %s: %v", e.Msg, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Protocolf builds a ProtocolError wrapping ErrInvalidState.
func Protocolf(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Err: ErrInvalidState}
}

// WalletError wraps a failure reported by the wallet.
type WalletError struct {
	Op  string
	Err error
}

func (e *WalletError) Error() string { return fmt.Sprintf("wallet: %s: %v", e.Op, e.Err) }

func (e *WalletError) Unwrap() error { return e.Err }

// NewWalletError wraps err for op.
func NewWalletError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WalletError{Op: op, Err: err}
}
