package contract

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"messaging-ledger/internal/domain"
)

const (
	alice domain.AccountID = "5Alice"
	bob   domain.AccountID = "5Bob"
	carol domain.AccountID = "5Carol"
)

func tiered() Capabilities {
	return Capabilities{FeeModel: FeeModelTiered, Administrable: true, EncryptedFlag: true}
}

func deployed(t *testing.T, caps Capabilities) *Ledger {
	t.Helper()
	l, out := Deploy(newEnv(alice, 0), caps)
	require.True(t, out.OK(), out.String())
	return l
}

func boolPtr(b bool) *bool { return &b }

func TestConstruct_Defaults(t *testing.T) {
	l := deployed(t, tiered())
	require.Equal(t, alice, l.Owner())
	require.Equal(t, uint64(50_000_000_000), l.StandardFee().Uint64())
	require.Equal(t, uint64(5_000_000_000_000), l.BulkBaseFee().Uint64())
	require.Equal(t, uint64(10_000_000_000), l.BulkVarFee().Uint64())
}

func TestConstruct_FlatLeavesBulkFeesZero(t *testing.T) {
	l := deployed(t, Capabilities{FeeModel: FeeModelFlat, Administrable: true})
	require.Equal(t, uint64(DefaultStandardFee), l.StandardFee().Uint64())
	require.True(t, l.BulkBaseFee().IsZero())
	require.True(t, l.BulkVarFee().IsZero())
}

func TestDeploy_RejectsAttachedValue(t *testing.T) {
	l, out := Deploy(newEnv(alice, 1), tiered())
	require.Nil(t, l)
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgNotPayable, out.Message)
}

func TestSendMessage_BelowFee(t *testing.T) {
	for _, value := range []uint64{0, 1, DefaultStandardFee - 1} {
		l := deployed(t, tiered())
		env := newEnv(bob, value)
		err := l.SendMessage(env, carol, "hi", false)
		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		require.Equal(t, ErrInsufficientTransfer, cerr.Kind)
		require.Empty(t, env.events)
	}
}

func TestSendMessage_AtOrAboveFee(t *testing.T) {
	for _, value := range []uint64{DefaultStandardFee, DefaultStandardFee + 1, 60_000_000_000} {
		l := deployed(t, tiered())
		env := newEnv(bob, value)
		require.NoError(t, l.SendMessage(env, carol, "hello", true))
		require.Equal(t, []domain.MessageSent{{From: bob, To: carol, Text: "hello", Encrypted: boolPtr(true)}}, env.events)
		require.Empty(t, env.transfers)
	}
}

func TestSendMessage_WithoutEncryptedFlag(t *testing.T) {
	l := deployed(t, Capabilities{FeeModel: FeeModelFlat})
	env := newEnv(bob, DefaultStandardFee)
	require.NoError(t, l.SendMessage(env, carol, "plain", true))
	require.Len(t, env.events, 1)
	require.Nil(t, env.events[0].Encrypted)
}

func TestSendMessage_AbortPolicy(t *testing.T) {
	caps := tiered()
	caps.FeeCheck = FeeCheckAbort
	l := deployed(t, caps)
	env := newEnv(bob, 10)

	out := l.Invoke(env, Call{Method: MethodSendMessage, To: carol, Text: "hi"})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgInsufficientFee, out.Message)
	require.Empty(t, env.events)
}

func TestBulkSendMessage_OrderAndFlag(t *testing.T) {
	l := deployed(t, tiered())
	recipients := []domain.AccountID{carol, bob, alice, carol}
	required, ok := l.RequiredBulkAmount(len(recipients))
	require.True(t, ok)
	require.Equal(t, uint64(5_040_000_000_000), required.Uint64())

	env := newEnv(bob, required.Uint64())
	require.NoError(t, l.BulkSendMessage(env, recipients, "news"))
	require.Len(t, env.events, len(recipients))
	for i, ev := range env.events {
		require.Equal(t, bob, ev.From)
		require.Equal(t, recipients[i], ev.To)
		require.Equal(t, "news", ev.Text)
		require.NotNil(t, ev.Encrypted)
		require.False(t, *ev.Encrypted)
	}
}

func TestBulkSendMessage_Empty(t *testing.T) {
	l := deployed(t, tiered())
	env := newEnv(bob, DefaultBulkBaseFee)
	require.NoError(t, l.BulkSendMessage(env, nil, "nobody"))
	require.Empty(t, env.events)
}

func TestBulkSendMessage_Underpaid(t *testing.T) {
	l := deployed(t, tiered())
	env := newEnv(bob, DefaultBulkBaseFee+DefaultBulkVarFee-1)
	out := l.Invoke(env, Call{Method: MethodBulkSendMessage, Recipients: []domain.AccountID{carol, alice}, Text: "x"})
	require.Equal(t, Outcome{Kind: OutcomeRecoverable, Err: ErrInsufficientTransfer}, out)
	require.Empty(t, env.events)
}

func TestBulkSendMessage_OverflowAborts(t *testing.T) {
	l := deployed(t, tiered())
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	require.NoError(t, l.ModifyFee(newEnv(alice, 0), FeeBulkVar, huge))

	_, ok := l.RequiredBulkAmount(2)
	require.False(t, ok)

	env := newEnv(bob, 0)
	out := l.Invoke(env, Call{Method: MethodBulkSendMessage, Recipients: []domain.AccountID{carol, carol}, Text: "x"})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgBulkFeeOverflow, out.Message)
}

func TestBulkSendMessage_NotOfferedOnFlat(t *testing.T) {
	l := deployed(t, Capabilities{FeeModel: FeeModelFlat, Administrable: true})
	env := newEnv(bob, DefaultBulkBaseFee)
	out := l.Invoke(env, Call{Method: MethodBulkSendMessage, Recipients: []domain.AccountID{carol}})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgUnknownMethod, out.Message)
}

func TestCollectFees_AtOrBelowReserve(t *testing.T) {
	for _, balance := range []uint64{0, ReserveMinimum - 1, ReserveMinimum} {
		l := deployed(t, tiered())
		env := newEnv(bob, 0).withBalance(balance)
		out := l.Invoke(env, Call{Method: MethodCollectFees})
		require.Equal(t, OutcomeFatal, out.Kind)
		require.Equal(t, MsgBalanceTooLow, out.Message)
		require.Equal(t, balance, env.balance.Uint64())
		require.Empty(t, env.transfers)
	}
}

func TestCollectFees_AboveReserve(t *testing.T) {
	l := deployed(t, tiered())
	env := newEnv(bob, 0).withBalance(ReserveMinimum + 123_456)
	out := l.Invoke(env, Call{Method: MethodCollectFees})
	require.True(t, out.OK(), out.String())
	require.Len(t, env.transfers, 1)
	require.Equal(t, alice, env.transfers[0].to)
	require.Equal(t, uint64(123_456), env.transfers[0].amount.Uint64())
	require.Equal(t, ReserveMinimum, env.balance.Uint64())
}

func TestCollectFees_TransferRefused(t *testing.T) {
	l := deployed(t, tiered())
	env := newEnv(bob, 0).withBalance(ReserveMinimum * 2)
	env.transferErr = &TransferError{To: alice, Amount: "1", Reason: "frozen"}
	out := l.Invoke(env, Call{Method: MethodCollectFees})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Contains(t, out.Message, MsgTransferFailed)
}

func TestCollectFees_NotPayable(t *testing.T) {
	l := deployed(t, tiered())
	env := newEnv(bob, 1).withBalance(ReserveMinimum * 3)
	out := l.Invoke(env, Call{Method: MethodCollectFees})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgNotPayable, out.Message)
	require.Empty(t, env.transfers)
}

func TestModifyOwner_OnlyOwner(t *testing.T) {
	l := deployed(t, tiered())
	out := l.Invoke(newEnv(bob, 0), Call{Method: MethodModifyOwner, NewOwner: bob})
	require.Equal(t, Outcome{Kind: OutcomeRecoverable, Err: ErrOnlyOwner}, out)
	require.Equal(t, alice, l.Owner())

	out = l.Invoke(newEnv(alice, 0), Call{Method: MethodModifyOwner, NewOwner: bob})
	require.True(t, out.OK())
	require.Equal(t, bob, l.Owner())

	// the previous owner has no rights left
	out = l.Invoke(newEnv(alice, 0), Call{Method: MethodModifyFees, Fee: uint256.NewInt(1)})
	require.Equal(t, ErrOnlyOwner, out.Err)
}

func TestModifyFee_Family(t *testing.T) {
	cases := []struct {
		method Method
		read   func(*Ledger) *uint256.Int
	}{
		{MethodModifyFees, (*Ledger).StandardFee},
		{MethodModifyStandardFee, (*Ledger).StandardFee},
		{MethodModifyBulkBaseFee, (*Ledger).BulkBaseFee},
		{MethodModifyBulkVarFee, (*Ledger).BulkVarFee},
	}
	for _, tc := range cases {
		t.Run(string(tc.method), func(t *testing.T) {
			l := deployed(t, tiered())
			before := tc.read(l)

			out := l.Invoke(newEnv(carol, 0), Call{Method: tc.method, Fee: uint256.NewInt(7)})
			require.Equal(t, Outcome{Kind: OutcomeRecoverable, Err: ErrOnlyOwner}, out)
			require.Equal(t, before, tc.read(l))

			for _, v := range []uint64{0, 7, ^uint64(0)} {
				out = l.Invoke(newEnv(alice, 0), Call{Method: tc.method, Fee: uint256.NewInt(v)})
				require.True(t, out.OK())
				require.Equal(t, v, tc.read(l).Uint64())
			}
		})
	}
}

func TestModifyFee_NotOfferedOnPlainFlat(t *testing.T) {
	l := deployed(t, Capabilities{FeeModel: FeeModelFlat})
	out := l.Invoke(newEnv(alice, 0), Call{Method: MethodModifyFees, Fee: uint256.NewInt(1)})
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgUnknownMethod, out.Message)
	require.Equal(t, uint64(DefaultStandardFee), l.StandardFee().Uint64())
}

func TestRead_Accessors(t *testing.T) {
	l := deployed(t, tiered())

	owner, _, out := l.Read(MethodGetOwner)
	require.True(t, out.OK())
	require.Equal(t, alice, owner)

	for _, m := range []Method{MethodGetFees, MethodGetStandardFee} {
		_, v, out := l.Read(m)
		require.True(t, out.OK())
		require.Equal(t, uint64(DefaultStandardFee), v.Uint64())
	}

	_, v, out := l.Read(MethodGetBulkVarFee)
	require.True(t, out.OK())
	require.Equal(t, uint64(DefaultBulkVarFee), v.Uint64())

	_, _, out = l.Read(MethodSendMessage)
	require.Equal(t, OutcomeFatal, out.Kind)
}

func TestRead_Idempotent(t *testing.T) {
	l := deployed(t, tiered())
	o1, _, _ := l.Read(MethodGetOwner)
	o2, _, _ := l.Read(MethodGetOwner)
	require.Equal(t, o1, o2)
	_, f1, _ := l.Read(MethodGetStandardFee)
	_, f2, _ := l.Read(MethodGetStandardFee)
	require.Equal(t, f1, f2)
}

func TestRead_BulkOnFlat(t *testing.T) {
	l := deployed(t, Capabilities{FeeModel: FeeModelFlat, Administrable: true})
	_, _, out := l.Read(MethodGetBulkBaseFee)
	require.Equal(t, OutcomeFatal, out.Kind)
	require.Equal(t, MsgUnknownMethod, out.Message)
}

func TestInvoke_RejectsQueryMethods(t *testing.T) {
	l := deployed(t, tiered())
	out := l.Invoke(newEnv(alice, 0), Call{Method: MethodGetOwner})
	require.Equal(t, OutcomeFatal, out.Kind)
}

func TestScenario_EndToEnd(t *testing.T) {
	l := deployed(t, tiered())
	require.Equal(t, alice, l.Owner())
	require.Equal(t, uint64(50_000_000_000), l.StandardFee().Uint64())

	send := newEnv(bob, 60_000_000_000)
	out := l.Invoke(send, Call{Method: MethodSendMessage, To: carol, Text: "hi", Encrypted: true})
	require.True(t, out.OK())
	require.Equal(t, []domain.MessageSent{{From: bob, To: carol, Text: "hi", Encrypted: boolPtr(true)}}, send.events)

	out = l.Invoke(newEnv(bob, 0), Call{Method: MethodModifyOwner, NewOwner: carol})
	require.Equal(t, ErrOnlyOwner, out.Err)
	require.Equal(t, alice, l.Owner())

	out = l.Invoke(newEnv(alice, 0), Call{Method: MethodModifyOwner, NewOwner: carol})
	require.True(t, out.OK())
	require.Equal(t, carol, l.Owner())
}

func TestRun_PropagatesForeignPanics(t *testing.T) {
	require.PanicsWithValue(t, "boom", func() {
		run(func() error { panic("boom") })
	})
}

func TestRun_FoldsUnknownErrorsAsFatal(t *testing.T) {
	out := run(func() error { return errors.New("host gone") })
	require.Equal(t, Outcome{Kind: OutcomeFatal, Message: "host gone"}, out)
}
