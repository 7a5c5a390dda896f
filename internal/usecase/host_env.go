package usecase

import (
	"github.com/holiman/uint256"

	"messaging-ledger/internal/contract"
	"messaging-ledger/internal/domain"
)

// callEnv is the contract.ExecutionContext of one call. Events and payouts are
// buffered and only reach storage if the call commits.
type callEnv struct {
	caller  domain.AccountID
	value   uint256.Int
	balance uint256.Int
	events  []domain.MessageSent
	payouts []domain.Payout
}

// newCallEnv credits value to the contract balance up front. ok is false if the
// resulting balance leaves the u128 range.
func newCallEnv(caller domain.AccountID, value, balance *uint256.Int) (env *callEnv, ok bool) {
	env = &callEnv{caller: caller}
	env.value.Set(value)
	total, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow || !domain.InRange(total) {
		return nil, false
	}
	env.balance.Set(total)
	return env, true
}

func (e *callEnv) Caller() domain.AccountID {
	return e.caller
}

func (e *callEnv) TransferredValue() *uint256.Int {
	return e.value.Clone()
}

func (e *callEnv) Balance() *uint256.Int {
	return e.balance.Clone()
}

func (e *callEnv) Transfer(to domain.AccountID, amount *uint256.Int) error {
	if !to.Valid() {
		return &contract.TransferError{To: to, Amount: amount.Dec(), Reason: "invalid destination"}
	}
	if amount.Gt(&e.balance) {
		return &contract.TransferError{To: to, Amount: amount.Dec(), Reason: "insufficient contract balance"}
	}
	e.balance.Sub(&e.balance, amount)
	p := domain.Payout{To: to}
	p.Amount.Set(amount)
	e.payouts = append(e.payouts, p)
	return nil
}

func (e *callEnv) EmitEvent(ev domain.MessageSent) {
	e.events = append(e.events, ev)
}
