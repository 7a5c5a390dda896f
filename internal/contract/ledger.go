// Package contract implements the messaging ledger: fee-gated message
// broadcast, owner administration of fees and ownership, and fee withdrawal
// above a fixed reserve. It holds no I/O; every host primitive arrives through
// an ExecutionContext.
package contract

import (
	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

const (
	// ReserveMinimum is the balance CollectFees always leaves behind.
	ReserveMinimum uint64 = 10_000_000_000

	DefaultStandardFee uint64 = 50_000_000_000
	DefaultBulkBaseFee uint64 = 5_000_000_000_000
	DefaultBulkVarFee  uint64 = 10_000_000_000
)

// FeeKind names one field of the fee schedule.
type FeeKind int

const (
	FeeStandard FeeKind = iota
	FeeBulkBase
	FeeBulkVar
)

// Ledger is the contract storage plus the capabilities it was deployed with.
type Ledger struct {
	state domain.LedgerState
	caps  Capabilities
}

// Construct initializes a ledger owned by the caller with the default fees.
func Construct(env ExecutionContext, caps Capabilities) *Ledger {
	l := &Ledger{caps: caps}
	l.state.Owner = env.Caller()
	l.state.StandardFee.SetUint64(DefaultStandardFee)
	if caps.SupportsBulk() {
		l.state.BulkBaseFee.SetUint64(DefaultBulkBaseFee)
		l.state.BulkVarFee.SetUint64(DefaultBulkVarFee)
	}
	return l
}

// Load rebuilds a ledger from persisted storage.
func Load(state domain.LedgerState, caps Capabilities) *Ledger {
	return &Ledger{state: state, caps: caps}
}

func (l *Ledger) State() domain.LedgerState {
	return l.state
}

// SendMessage emits one MessageSent if the attached value covers the standard fee.
// Any excess stays with the contract.
func (l *Ledger) SendMessage(env ExecutionContext, to domain.AccountID, text string, encrypted bool) error {
	if env.TransferredValue().Lt(&l.state.StandardFee) {
		return l.insufficientTransfer()
	}
	env.EmitEvent(l.message(env.Caller(), to, text, encrypted))
	return nil
}

// BulkSendMessage emits one unencrypted MessageSent per recipient, in order,
// if the attached value covers bulk_base_fee + bulk_var_fee*len(to).
func (l *Ledger) BulkSendMessage(env ExecutionContext, to []domain.AccountID, text string) error {
	if !l.caps.SupportsBulk() {
		abort(MsgUnknownMethod)
	}
	required, ok := l.RequiredBulkAmount(len(to))
	if !ok {
		abort(MsgBulkFeeOverflow)
	}
	if env.TransferredValue().Lt(required) {
		return l.insufficientTransfer()
	}
	from := env.Caller()
	for _, recipient := range to {
		env.EmitEvent(l.message(from, recipient, text, false))
	}
	return nil
}

// RequiredBulkAmount is bulk_base_fee + bulk_var_fee*n. ok is false when the
// result does not fit in 128 bits.
func (l *Ledger) RequiredBulkAmount(n int) (amount *uint256.Int, ok bool) {
	if n < 0 {
		return nil, false
	}
	variable, overflow := new(uint256.Int).MulOverflow(&l.state.BulkVarFee, uint256.NewInt(uint64(n)))
	if overflow {
		return nil, false
	}
	total, overflow := new(uint256.Int).AddOverflow(&l.state.BulkBaseFee, variable)
	if overflow || !domain.InRange(total) {
		return nil, false
	}
	return total, true
}

// CollectFees sends everything above ReserveMinimum to the owner. Any caller
// may trigger it; the destination is always the current owner.
func (l *Ledger) CollectFees(env ExecutionContext) {
	balance := env.Balance()
	reserve := uint256.NewInt(ReserveMinimum)
	if !balance.Gt(reserve) {
		abort(MsgBalanceTooLow)
	}
	amount := new(uint256.Int).Sub(balance, reserve)
	if err := env.Transfer(l.state.Owner, amount); err != nil {
		abort(MsgTransferFailed + ": " + err.Error())
	}
}

// ModifyOwner hands every administrative right to newOwner.
func (l *Ledger) ModifyOwner(env ExecutionContext, newOwner domain.AccountID) error {
	if env.Caller() != l.state.Owner {
		return &Error{Kind: ErrOnlyOwner}
	}
	l.state.Owner = newOwner
	return nil
}

// ModifyFee overwrites one fee field verbatim.
func (l *Ledger) ModifyFee(env ExecutionContext, kind FeeKind, value *uint256.Int) error {
	field := l.feeField(kind)
	if env.Caller() != l.state.Owner {
		return &Error{Kind: ErrOnlyOwner}
	}
	field.Set(value)
	return nil
}

func (l *Ledger) Owner() domain.AccountID {
	return l.state.Owner
}

func (l *Ledger) StandardFee() *uint256.Int {
	return l.state.StandardFee.Clone()
}

func (l *Ledger) BulkBaseFee() *uint256.Int {
	return l.state.BulkBaseFee.Clone()
}

func (l *Ledger) BulkVarFee() *uint256.Int {
	return l.state.BulkVarFee.Clone()
}

// feeField aborts when the deployment does not expose the field for writing.
func (l *Ledger) feeField(kind FeeKind) *uint256.Int {
	switch kind {
	case FeeStandard:
		if l.caps.Administrable {
			return &l.state.StandardFee
		}
	case FeeBulkBase:
		if l.caps.SupportsBulk() {
			return &l.state.BulkBaseFee
		}
	case FeeBulkVar:
		if l.caps.SupportsBulk() {
			return &l.state.BulkVarFee
		}
	}
	abort(MsgUnknownMethod)
	return nil
}

func (l *Ledger) insufficientTransfer() error {
	if l.caps.FeeCheck == FeeCheckAbort {
		abort(MsgInsufficientFee)
	}
	return &Error{Kind: ErrInsufficientTransfer}
}

func (l *Ledger) message(from, to domain.AccountID, text string, encrypted bool) domain.MessageSent {
	ev := domain.MessageSent{From: from, To: to, Text: text}
	if l.caps.EncryptedFlag {
		flag := encrypted
		ev.Encrypted = &flag
	}
	return ev
}
