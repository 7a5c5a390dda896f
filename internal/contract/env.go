package contract

import (
	"fmt"

	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

// ExecutionContext is the host environment seen by one call. Balance already
// includes the value attached to the call.
type ExecutionContext interface {
	Caller() domain.AccountID
	TransferredValue() *uint256.Int
	Balance() *uint256.Int
	Transfer(to domain.AccountID, amount *uint256.Int) error
	EmitEvent(ev domain.MessageSent)
}

// TransferError is returned by hosts that refuse a value transfer.
type TransferError struct {
	To     domain.AccountID
	Amount string
	Reason string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s to %s refused: %s", e.Amount, e.To, e.Reason)
}
