package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// LedgerState is the contract storage: the owner and the fee schedule.
// Bulk fees are zero and unused on flat variants.
type LedgerState struct {
	Owner       AccountID
	StandardFee uint256.Int
	BulkBaseFee uint256.Int
	BulkVarFee  uint256.Int
}

// Variant names the deployed fee model and its optional features.
type Variant struct {
	Name          string
	EncryptedFlag bool
	FeeCheck      string
}

// Ledger is the persisted record of one deployment. State is owned by the
// contract; Balance, EventCount and Version are kept by the host.
type Ledger struct {
	ID         string
	State      LedgerState
	Variant    Variant
	Balance    uint256.Int
	EventCount uint64
	Version    int64
	DeployedAt time.Time
}

// Payout is a value transfer from the contract account to another account.
type Payout struct {
	To     AccountID
	Amount uint256.Int
}

// CallCommit is everything a successful call writes, applied atomically.
type CallCommit struct {
	Ledger          Ledger
	ExpectedVersion int64
	Events          []EventRecord
	Payouts         []Payout
}
