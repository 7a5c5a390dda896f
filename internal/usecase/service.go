package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"messaging-ledger/internal/contract"
	"messaging-ledger/internal/domain"
)

const (
	defaultMaxRecipients = 64
	// A commit writes the ledger record plus one item per event and payout;
	// DynamoDB transactions hold at most 100 items.
	maxTransactRecipients = 98
	maxCommitAttempts     = 3
	defaultEventsLimit    = 50
	maxEventsLimit        = 500

	defaultMaxMessageBytes = 16 * 1024
	// Each event is one DynamoDB item (400 KB) and a commit is one
	// transaction (4 MB); the headroom covers keys and the ledger record.
	maxEventTextBytes  = 350 * 1024
	maxCommitTextBytes = 3 * 1024 * 1024
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type StateReadWriter interface {
	GetLedger(ctx context.Context, ledgerID string) (domain.Ledger, error)
	CreateLedger(ctx context.Context, ledger domain.Ledger) error
	CommitCall(ctx context.Context, commit domain.CallCommit) error
	ListEvents(ctx context.Context, ledgerID string, limit int) ([]domain.EventRecord, error)
	GetAccountBalance(ctx context.Context, account domain.AccountID) (*uint256.Int, error)
}

// EventPublisher delivers committed events to off-chain observers.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.EventRecord) error
}

type LedgerService struct {
	params          ParamGetter
	state           StateReadWriter
	publisher       EventPublisher
	ledgerID        string
	paramPrefix     string
	maxRecipients   int
	maxMessageBytes int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	caps        contract.Capabilities
}

type DeployInput struct {
	Caller string
	Value  string
}

type DeployOutput struct {
	LedgerID string
	Owner    domain.AccountID
	Variant  domain.Variant
	Outcome  contract.Outcome
}

type CallArgs struct {
	To         string
	Recipients []string
	Text       string
	Encrypted  bool
	NewOwner   string
	Fee        string
}

type CallInput struct {
	Caller string
	Method string
	Value  string
	Args   CallArgs
}

type CallOutput struct {
	CallID  string
	Outcome contract.Outcome
	Events  []domain.EventRecord
	Payouts []domain.Payout
}

type QueryOutput struct {
	Owner   domain.AccountID
	Amount  *uint256.Int
	Outcome contract.Outcome
}

func NewLedgerService(p ParamGetter, s StateReadWriter, pub EventPublisher, ledgerID, paramPrefix string, maxRecipients, maxMessageBytes int) (*LedgerService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if pub == nil {
		pub = discardPublisher{}
	}
	ledgerID = strings.TrimSpace(ledgerID)
	if ledgerID == "" {
		return nil, errors.New("usecase: ledger id must not be empty")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxRecipients <= 0 {
		maxRecipients = defaultMaxRecipients
	}
	if maxRecipients > maxTransactRecipients {
		maxRecipients = maxTransactRecipients
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	if maxMessageBytes > maxEventTextBytes {
		maxMessageBytes = maxEventTextBytes
	}
	return &LedgerService{
		params:          p,
		state:           s,
		publisher:       pub,
		ledgerID:        ledgerID,
		paramPrefix:     paramPrefix,
		maxRecipients:   maxRecipients,
		maxMessageBytes: maxMessageBytes,
	}, nil
}

// Deploy runs the constructor and creates the ledger record. A non-OK outcome
// creates nothing.
func (s *LedgerService) Deploy(ctx context.Context, in DeployInput) (DeployOutput, error) {
	caller := domain.AccountID(strings.TrimSpace(in.Caller))
	if !caller.Valid() {
		return DeployOutput{}, newError(ErrorUnauthenticated, "missing_caller", nil)
	}
	value, err := domain.ParseAmount(in.Value)
	if err != nil {
		return DeployOutput{}, newError(ErrorInvalidInput, "invalid_value", err)
	}
	caps, err := s.ensureConfig(ctx)
	if err != nil {
		return DeployOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	env, _ := newCallEnv(caller, value, new(uint256.Int))
	l, out := contract.Deploy(env, caps)
	if !out.OK() {
		logrus.WithFields(logrus.Fields{
			"function":  "Deploy",
			"ledger_id": s.ledgerID,
			"caller":    caller,
			"outcome":   out.String(),
		}).Warn("constructor did not complete")
		return DeployOutput{LedgerID: s.ledgerID, Outcome: out}, nil
	}

	ledger := domain.Ledger{
		ID:         s.ledgerID,
		State:      l.State(),
		Variant:    caps.Variant(),
		Version:    1,
		DeployedAt: now().UTC(),
	}
	if err := s.state.CreateLedger(ctx, ledger); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return DeployOutput{}, newError(ErrorAlreadyDeployed, "ledger_exists", err)
		}
		return DeployOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Deploy",
		"ledger_id": s.ledgerID,
		"owner":     caller,
		"variant":   ledger.Variant.Name,
	}).Info("ledger deployed")

	return DeployOutput{LedgerID: s.ledgerID, Owner: caller, Variant: ledger.Variant, Outcome: out}, nil
}

// Call runs one state-changing method against the current ledger and commits
// its effects atomically. Lost commit races re-run the call on fresh state.
func (s *LedgerService) Call(ctx context.Context, in CallInput) (CallOutput, error) {
	caller := domain.AccountID(strings.TrimSpace(in.Caller))
	if !caller.Valid() {
		return CallOutput{}, newError(ErrorUnauthenticated, "missing_caller", nil)
	}
	method := contract.Method(strings.TrimSpace(in.Method))
	if !method.Known() {
		return CallOutput{}, newError(ErrorInvalidInput, "unknown_method", nil)
	}
	value, err := domain.ParseAmount(in.Value)
	if err != nil {
		return CallOutput{}, newError(ErrorInvalidInput, "invalid_value", err)
	}
	call, err := s.buildCall(method, in.Args)
	if err != nil {
		return CallOutput{}, err
	}

	callID := newUUID()
	log := logrus.WithFields(logrus.Fields{
		"function":  "Call",
		"ledger_id": s.ledgerID,
		"call_id":   callID,
		"method":    method,
		"caller":    caller,
	})

	for attempt := 1; ; attempt++ {
		ledger, err := s.loadLedger(ctx)
		if err != nil {
			return CallOutput{}, err
		}
		caps, err := contract.FromVariant(ledger.Variant)
		if err != nil {
			return CallOutput{}, newError(ErrorInternal, "invalid_stored_variant", err)
		}
		env, ok := newCallEnv(caller, value, &ledger.Balance)
		if !ok {
			return CallOutput{}, newError(ErrorInvalidInput, "balance_overflow", nil)
		}

		l := contract.Load(ledger.State, caps)
		out := l.Invoke(env, call)
		if !out.OK() {
			log.WithField("outcome", out.String()).Info("call discarded")
			return CallOutput{CallID: callID, Outcome: out}, nil
		}

		commit := buildCommit(ledger, l, env, callID)
		err = s.state.CommitCall(ctx, commit)
		if err == nil {
			log.WithFields(logrus.Fields{
				"events":  len(commit.Events),
				"payouts": len(commit.Payouts),
				"version": commit.Ledger.Version,
			}).Info("call committed")
			s.publish(ctx, commit.Events)
			return CallOutput{CallID: callID, Outcome: out, Events: commit.Events, Payouts: commit.Payouts}, nil
		}
		if errors.Is(err, domain.ErrAmountOutOfRange) {
			return CallOutput{}, newError(ErrorInternal, "payout_balance_overflow", err)
		}
		if !errors.Is(err, domain.ErrConflict) {
			return CallOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
		}
		if attempt >= maxCommitAttempts {
			return CallOutput{}, newError(ErrorConflict, "commit_conflict", err)
		}
		log.WithField("attempt", attempt).Warn("commit lost a race, retrying")
	}
}

// Query answers a read-only accessor.
func (s *LedgerService) Query(ctx context.Context, method string) (QueryOutput, error) {
	m := contract.Method(strings.TrimSpace(method))
	if !m.ReadOnly() {
		return QueryOutput{}, newError(ErrorInvalidInput, "unknown_query", nil)
	}
	ledger, err := s.loadLedger(ctx)
	if err != nil {
		return QueryOutput{}, err
	}
	caps, err := contract.FromVariant(ledger.Variant)
	if err != nil {
		return QueryOutput{}, newError(ErrorInternal, "invalid_stored_variant", err)
	}
	owner, amount, out := contract.Load(ledger.State, caps).Read(m)
	return QueryOutput{Owner: owner, Amount: amount, Outcome: out}, nil
}

// Balance returns the host-held balance of the contract account.
func (s *LedgerService) Balance(ctx context.Context) (*uint256.Int, error) {
	ledger, err := s.loadLedger(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Balance.Clone(), nil
}

// Events returns up to limit of the most recent events, oldest first.
func (s *LedgerService) Events(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	records, err := s.state.ListEvents(ctx, s.ledgerID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_query_error", err)
	}
	return records, nil
}

// AccountBalance returns what payouts have credited to account.
func (s *LedgerService) AccountBalance(ctx context.Context, account string) (*uint256.Int, error) {
	id := domain.AccountID(strings.TrimSpace(account))
	if !id.Valid() {
		return nil, newError(ErrorInvalidInput, "invalid_account", nil)
	}
	balance, err := s.state.GetAccountBalance(ctx, id)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return balance, nil
}

func (s *LedgerService) loadLedger(ctx context.Context) (domain.Ledger, error) {
	ledger, err := s.state.GetLedger(ctx, s.ledgerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Ledger{}, newError(ErrorNotDeployed, "ledger_missing", err)
		}
		return domain.Ledger{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return ledger, nil
}

func (s *LedgerService) buildCall(method contract.Method, args CallArgs) (contract.Call, error) {
	call := contract.Call{Method: method, Text: args.Text, Encrypted: args.Encrypted}
	if (method == contract.MethodSendMessage || method == contract.MethodBulkSendMessage) && len(args.Text) > s.maxMessageBytes {
		return contract.Call{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}
	switch method {
	case contract.MethodSendMessage:
		call.To = domain.AccountID(strings.TrimSpace(args.To))
		if !call.To.Valid() {
			return contract.Call{}, newError(ErrorInvalidInput, "invalid_recipient", nil)
		}
	case contract.MethodBulkSendMessage:
		if len(args.Recipients) > s.maxRecipients {
			return contract.Call{}, newError(ErrorInvalidInput, "too_many_recipients", nil)
		}
		call.Recipients = make([]domain.AccountID, 0, len(args.Recipients))
		payload := 0
		for _, r := range args.Recipients {
			id := domain.AccountID(strings.TrimSpace(r))
			if !id.Valid() {
				return contract.Call{}, newError(ErrorInvalidInput, "invalid_recipient", nil)
			}
			call.Recipients = append(call.Recipients, id)
			payload += len(args.Text) + len(id)
		}
		if payload > maxCommitTextBytes {
			return contract.Call{}, newError(ErrorInvalidInput, "bulk_payload_too_large", nil)
		}
	case contract.MethodModifyOwner:
		call.NewOwner = domain.AccountID(strings.TrimSpace(args.NewOwner))
		if !call.NewOwner.Valid() {
			return contract.Call{}, newError(ErrorInvalidInput, "invalid_new_owner", nil)
		}
	case contract.MethodModifyFees, contract.MethodModifyStandardFee,
		contract.MethodModifyBulkBaseFee, contract.MethodModifyBulkVarFee:
		if strings.TrimSpace(args.Fee) == "" {
			return contract.Call{}, newError(ErrorInvalidInput, "missing_fee", nil)
		}
		fee, err := domain.ParseAmount(args.Fee)
		if err != nil {
			return contract.Call{}, newError(ErrorInvalidInput, "invalid_fee", err)
		}
		call.Fee = fee
	}
	return call, nil
}

func buildCommit(prev domain.Ledger, l *contract.Ledger, env *callEnv, callID string) domain.CallCommit {
	next := prev
	next.State = l.State()
	next.Balance.Set(&env.balance)
	next.Version = prev.Version + 1

	emittedAt := now().UTC()
	records := make([]domain.EventRecord, 0, len(env.events))
	for i, ev := range env.events {
		records = append(records, domain.EventRecord{
			ID:        newUUID(),
			LedgerID:  prev.ID,
			Seq:       prev.EventCount + uint64(i) + 1,
			CallID:    callID,
			EmittedAt: emittedAt,
			Event:     ev,
		})
	}
	next.EventCount = prev.EventCount + uint64(len(records))

	return domain.CallCommit{
		Ledger:          next,
		ExpectedVersion: prev.Version,
		Events:          records,
		Payouts:         env.payouts,
	}
}

func (s *LedgerService) publish(ctx context.Context, records []domain.EventRecord) {
	if len(records) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, records); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "publish",
			"ledger_id": s.ledgerID,
			"events":    len(records),
			"first_seq": records[0].Seq,
		}).WithError(err).Error("event delivery failed; events remain in the ledger log")
	}
}

func (s *LedgerService) ensureConfig(ctx context.Context) (contract.Capabilities, error) {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		caps := s.caps
		s.cacheMu.RUnlock()
		return caps, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.caps, nil
	}

	caps, err := s.loadSSMParams(ctx)
	if err != nil {
		return contract.Capabilities{}, err
	}
	s.caps = caps
	s.cacheLoaded = true
	return caps, nil
}

func (s *LedgerService) loadSSMParams(ctx context.Context) (contract.Capabilities, error) {
	variant, err := s.optionalParam(ctx, "/config/variant", contract.VariantTiered)
	if err != nil {
		return contract.Capabilities{}, fmt.Errorf("usecase: load variant: %w", err)
	}
	flagRaw, err := s.optionalParam(ctx, "/config/encrypted_flag", "true")
	if err != nil {
		return contract.Capabilities{}, fmt.Errorf("usecase: load encrypted flag: %w", err)
	}
	encryptedFlag, err := strconv.ParseBool(strings.TrimSpace(flagRaw))
	if err != nil {
		return contract.Capabilities{}, fmt.Errorf("usecase: parse encrypted flag: %w", err)
	}
	feeCheck, err := s.optionalParam(ctx, "/config/fee_check", "typed")
	if err != nil {
		return contract.Capabilities{}, fmt.Errorf("usecase: load fee check: %w", err)
	}
	return contract.CapabilitiesFor(variant, encryptedFlag, feeCheck)
}

func (s *LedgerService) optionalParam(ctx context.Context, suffix, def string) (string, error) {
	v, err := s.params.GetParameter(ctx, s.paramPrefix+suffix)
	if errors.Is(err, domain.ErrNotFound) {
		return def, nil
	}
	return v, err
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, []domain.EventRecord) error { return nil }

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
