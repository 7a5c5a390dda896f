package contract

import "fmt"

// ErrorKind is a recoverable, caller-decodable failure.
type ErrorKind string

const (
	ErrInsufficientTransfer ErrorKind = "InsufficientTransfer"
	ErrOnlyOwner            ErrorKind = "OnlyOwner"
)

// Error is returned by operations that fail without side effects.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string {
	return fmt.Sprintf("contract: %s", e.Kind)
}

// Abort messages.
const (
	MsgBalanceTooLow   = "Balance too low to withdraw already!"
	MsgInsufficientFee = "Insufficient transfer to cover the fees!"
	MsgUnknownMethod   = "unknown method"
	MsgNotPayable      = "method is not payable"
	MsgBulkFeeOverflow = "bulk fee overflow"
	MsgTransferFailed  = "transfer to owner failed"
)

// Abort is the panic value of an irrecoverable failure. Only Invoke and
// Deploy recover it; it never travels through an error return.
type Abort struct {
	Message string
}

func (a *Abort) Error() string {
	return "contract: aborted: " + a.Message
}

func abort(msg string) {
	panic(&Abort{Message: msg})
}
