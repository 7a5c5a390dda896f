package contract

import (
	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

// Method is a message selector of the call surface.
type Method string

const (
	MethodSendMessage       Method = "send_message"
	MethodBulkSendMessage   Method = "bulk_send_message"
	MethodCollectFees       Method = "collect_fees"
	MethodModifyOwner       Method = "modify_owner"
	MethodModifyFees        Method = "modify_fees"
	MethodModifyStandardFee Method = "modify_standard_fee"
	MethodModifyBulkBaseFee Method = "modify_bulk_base_fee"
	MethodModifyBulkVarFee  Method = "modify_bulk_var_fee"

	MethodGetOwner       Method = "get_owner"
	MethodGetFees        Method = "get_fees"
	MethodGetStandardFee Method = "get_standard_fee"
	MethodGetBulkBaseFee Method = "get_bulk_base_fee"
	MethodGetBulkVarFee  Method = "get_bulk_var_fee"
)

// Payable reports whether the method accepts attached value.
func (m Method) Payable() bool {
	return m == MethodSendMessage || m == MethodBulkSendMessage
}

// ReadOnly reports whether the method is a query accessor.
func (m Method) ReadOnly() bool {
	switch m {
	case MethodGetOwner, MethodGetFees, MethodGetStandardFee, MethodGetBulkBaseFee, MethodGetBulkVarFee:
		return true
	}
	return false
}

// Offers reports whether a deployment with c exposes m.
func (c Capabilities) Offers(m Method) bool {
	switch m {
	case MethodSendMessage, MethodCollectFees, MethodModifyOwner,
		MethodGetOwner, MethodGetFees, MethodGetStandardFee:
		return true
	case MethodModifyFees, MethodModifyStandardFee:
		return c.Administrable
	case MethodBulkSendMessage, MethodModifyBulkBaseFee, MethodModifyBulkVarFee,
		MethodGetBulkBaseFee, MethodGetBulkVarFee:
		return c.SupportsBulk()
	}
	return false
}

// Call carries the decoded arguments of one state-changing invocation.
// Fields a method does not take are ignored.
type Call struct {
	Method     Method
	To         domain.AccountID
	Recipients []domain.AccountID
	Text       string
	Encrypted  bool
	NewOwner   domain.AccountID
	Fee        *uint256.Int
}

// Deploy runs the constructor. The returned ledger is nil unless the outcome is OK.
func Deploy(env ExecutionContext, caps Capabilities) (*Ledger, Outcome) {
	var l *Ledger
	out := run(func() error {
		if !env.TransferredValue().IsZero() {
			abort(MsgNotPayable)
		}
		l = Construct(env, caps)
		return nil
	})
	if !out.OK() {
		return nil, out
	}
	return l, out
}

// Invoke dispatches one state-changing call. Storage is restored when the
// outcome is not OK; discarding emitted events and transfers is up to the host.
func (l *Ledger) Invoke(env ExecutionContext, call Call) Outcome {
	snapshot := l.state
	out := run(func() error {
		if !l.caps.Offers(call.Method) || call.Method.ReadOnly() {
			abort(MsgUnknownMethod)
		}
		if !call.Method.Payable() && !env.TransferredValue().IsZero() {
			abort(MsgNotPayable)
		}
		return l.dispatch(env, call)
	})
	if !out.OK() {
		l.state = snapshot
	}
	return out
}

func (l *Ledger) dispatch(env ExecutionContext, call Call) error {
	switch call.Method {
	case MethodSendMessage:
		return l.SendMessage(env, call.To, call.Text, call.Encrypted)
	case MethodBulkSendMessage:
		return l.BulkSendMessage(env, call.Recipients, call.Text)
	case MethodCollectFees:
		l.CollectFees(env)
		return nil
	case MethodModifyOwner:
		return l.ModifyOwner(env, call.NewOwner)
	case MethodModifyFees, MethodModifyStandardFee:
		return l.ModifyFee(env, FeeStandard, feeArg(call))
	case MethodModifyBulkBaseFee:
		return l.ModifyFee(env, FeeBulkBase, feeArg(call))
	case MethodModifyBulkVarFee:
		return l.ModifyFee(env, FeeBulkVar, feeArg(call))
	}
	abort(MsgUnknownMethod)
	return nil
}

// Read answers a query accessor. Value is the owner or the fee, depending on m.
func (l *Ledger) Read(m Method) (owner domain.AccountID, value *uint256.Int, out Outcome) {
	out = run(func() error {
		if !l.caps.Offers(m) || !m.ReadOnly() {
			abort(MsgUnknownMethod)
		}
		switch m {
		case MethodGetOwner:
			owner = l.Owner()
		case MethodGetFees, MethodGetStandardFee:
			value = l.StandardFee()
		case MethodGetBulkBaseFee:
			value = l.BulkBaseFee()
		case MethodGetBulkVarFee:
			value = l.BulkVarFee()
		}
		return nil
	})
	return owner, value, out
}

func feeArg(call Call) *uint256.Int {
	if call.Fee == nil {
		return new(uint256.Int)
	}
	return call.Fee
}

// Known reports whether m is a state-changing selector of any variant.
func (m Method) Known() bool {
	switch m {
	case MethodSendMessage, MethodBulkSendMessage, MethodCollectFees, MethodModifyOwner,
		MethodModifyFees, MethodModifyStandardFee, MethodModifyBulkBaseFee, MethodModifyBulkVarFee:
		return true
	}
	return false
}
