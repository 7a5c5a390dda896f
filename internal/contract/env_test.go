package contract

import (
	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

type transfer struct {
	to     domain.AccountID
	amount *uint256.Int
}

// fakeEnv applies transfers to its own balance immediately, like a host would
// inside the call's transaction.
type fakeEnv struct {
	caller      domain.AccountID
	value       *uint256.Int
	balance     *uint256.Int
	transferErr error
	events      []domain.MessageSent
	transfers   []transfer
}

func newEnv(caller domain.AccountID, value uint64) *fakeEnv {
	return &fakeEnv{
		caller:  caller,
		value:   uint256.NewInt(value),
		balance: uint256.NewInt(value),
	}
}

func (f *fakeEnv) withBalance(b uint64) *fakeEnv {
	f.balance = uint256.NewInt(b)
	return f
}

func (f *fakeEnv) Caller() domain.AccountID { return f.caller }

func (f *fakeEnv) TransferredValue() *uint256.Int { return f.value.Clone() }

func (f *fakeEnv) Balance() *uint256.Int { return f.balance.Clone() }

func (f *fakeEnv) Transfer(to domain.AccountID, amount *uint256.Int) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.balance = new(uint256.Int).Sub(f.balance, amount)
	f.transfers = append(f.transfers, transfer{to: to, amount: amount.Clone()})
	return nil
}

func (f *fakeEnv) EmitEvent(ev domain.MessageSent) {
	f.events = append(f.events, ev)
}
