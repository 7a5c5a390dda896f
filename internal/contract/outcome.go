package contract

import (
	"errors"
	"fmt"
)

// OutcomeKind tags the result of one call.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRecoverable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is Ok, Recoverable(Err) or Fatal(Message).
type Outcome struct {
	Kind    OutcomeKind
	Err     ErrorKind
	Message string
}

func (o Outcome) OK() bool {
	return o.Kind == OutcomeOK
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeRecoverable:
		return "recoverable: " + string(o.Err)
	case OutcomeFatal:
		return "fatal: " + o.Message
	default:
		return o.Kind.String()
	}
}

// run executes fn and folds its error return or abort panic into an Outcome.
// Panics that are not aborts propagate unchanged.
func run(fn func() error) (out Outcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		a, ok := r.(*Abort)
		if !ok {
			panic(r)
		}
		out = Outcome{Kind: OutcomeFatal, Message: a.Message}
	}()

	err := fn()
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return Outcome{Kind: OutcomeRecoverable, Err: cerr.Kind}
	}
	return Outcome{Kind: OutcomeFatal, Message: err.Error()}
}
