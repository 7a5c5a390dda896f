package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"messaging-ledger/internal/contract"
	"messaging-ledger/internal/domain"
	"messaging-ledger/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

const (
	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
	errorContract         = "CONTRACT_ERROR"
	errorAborted          = "EXECUTION_ABORTED"
)

// LedgerUseCase is the service surface the handler routes to.
type LedgerUseCase interface {
	Deploy(ctx context.Context, in usecase.DeployInput) (usecase.DeployOutput, error)
	Call(ctx context.Context, in usecase.CallInput) (usecase.CallOutput, error)
	Query(ctx context.Context, method string) (usecase.QueryOutput, error)
	Balance(ctx context.Context) (*uint256.Int, error)
	Events(ctx context.Context, limit int) ([]domain.EventRecord, error)
	AccountBalance(ctx context.Context, account string) (*uint256.Int, error)
}

type Handler struct {
	uc LedgerUseCase
}

func NewHandler(uc LedgerUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// queryRoutes maps GET paths to read-only accessors.
var queryRoutes = map[string]contract.Method{
	"owner":         contract.MethodGetOwner,
	"fees":          contract.MethodGetFees,
	"standard_fee":  contract.MethodGetStandardFee,
	"bulk_base_fee": contract.MethodGetBulkBaseFee,
	"bulk_var_fee":  contract.MethodGetBulkVarFee,
}

type callRequest struct {
	Value      string   `json:"value"`
	To         string   `json:"to"`
	Recipients []string `json:"recipients"`
	Text       string   `json:"text"`
	Encrypted  bool     `json:"encrypted"`
	NewOwner   string   `json:"newOwner"`
	Fee        string   `json:"fee"`
}

type deployResponse struct {
	LedgerID      string `json:"ledgerId"`
	Owner         string `json:"owner"`
	Variant       string `json:"variant"`
	EncryptedFlag bool   `json:"encryptedFlag"`
	FeeCheck      string `json:"feeCheck"`
}

type eventResponse struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	CallID    string `json:"callId"`
	EmittedAt string `json:"emittedAt"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Encrypted *bool  `json:"encrypted,omitempty"`
}

type payoutResponse struct {
	To          string `json:"to"`
	Amount      string `json:"amount"`
	AmountUnits string `json:"amountUnits"`
}

type callResponse struct {
	CallID  string           `json:"callId"`
	Outcome string           `json:"outcome"`
	Events  []eventResponse  `json:"events"`
	Payouts []payoutResponse `json:"payouts"`
}

type queryResponse struct {
	Owner       string `json:"owner,omitempty"`
	Amount      string `json:"amount,omitempty"`
	AmountUnits string `json:"amountUnits,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handle routes an API Gateway proxy request to the ledger service.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := logrus.WithFields(logrus.Fields{
		"function":       "Handle",
		"correlation_id": correlationID,
		"method":         req.HTTPMethod,
		"path":           req.Path,
	})

	segments := splitPath(req.Path)
	if len(segments) == 0 {
		return respond(http.StatusNotFound, errorResponse{Error: errorNotFound}, correlationID), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		if len(segments) != 1 {
			return respond(http.StatusNotFound, errorResponse{Error: errorNotFound}, correlationID), nil
		}
		if segments[0] == "deploy" {
			return h.deploy(ctx, log, req, correlationID), nil
		}
		if !contract.Method(segments[0]).Known() {
			return respond(http.StatusNotFound, errorResponse{Error: errorNotFound}, correlationID), nil
		}
		return h.call(ctx, log, req, contract.Method(segments[0]), correlationID), nil
	case http.MethodGet:
		return h.get(ctx, log, req, segments, correlationID), nil
	default:
		return respond(http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed}, correlationID), nil
	}
}

func (h *Handler) deploy(ctx context.Context, log *logrus.Entry, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	var body callRequest
	if err := decodeBody(req.Body, &body); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}, correlationID)
	}
	out, err := h.uc.Deploy(ctx, usecase.DeployInput{Caller: callerOf(req), Value: body.Value})
	if err != nil {
		return errorResponseFor(log, err, correlationID)
	}
	if !out.Outcome.OK() {
		return outcomeResponse(out.Outcome, correlationID)
	}
	return respond(http.StatusCreated, deployResponse{
		LedgerID:      out.LedgerID,
		Owner:         string(out.Owner),
		Variant:       out.Variant.Name,
		EncryptedFlag: out.Variant.EncryptedFlag,
		FeeCheck:      out.Variant.FeeCheck,
	}, correlationID)
}

func (h *Handler) call(ctx context.Context, log *logrus.Entry, req events.APIGatewayProxyRequest, method contract.Method, correlationID string) events.APIGatewayProxyResponse {
	var body callRequest
	if err := decodeBody(req.Body, &body); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}, correlationID)
	}
	out, err := h.uc.Call(ctx, usecase.CallInput{
		Caller: callerOf(req),
		Method: string(method),
		Value:  body.Value,
		Args: usecase.CallArgs{
			To:         body.To,
			Recipients: body.Recipients,
			Text:       body.Text,
			Encrypted:  body.Encrypted,
			NewOwner:   body.NewOwner,
			Fee:        body.Fee,
		},
	})
	if err != nil {
		return errorResponseFor(log, err, correlationID)
	}
	if !out.Outcome.OK() {
		return outcomeResponse(out.Outcome, correlationID)
	}

	resp := callResponse{
		CallID:  out.CallID,
		Outcome: out.Outcome.String(),
		Events:  toEventResponses(out.Events),
		Payouts: make([]payoutResponse, 0, len(out.Payouts)),
	}
	for _, p := range out.Payouts {
		amount := p.Amount
		resp.Payouts = append(resp.Payouts, payoutResponse{
			To:          string(p.To),
			Amount:      amount.Dec(),
			AmountUnits: domain.FormatUnits(&amount),
		})
	}
	return respond(http.StatusOK, resp, correlationID)
}

func (h *Handler) get(ctx context.Context, log *logrus.Entry, req events.APIGatewayProxyRequest, segments []string, correlationID string) events.APIGatewayProxyResponse {
	if len(segments) == 3 && segments[0] == "accounts" && segments[2] == "balance" {
		balance, err := h.uc.AccountBalance(ctx, segments[1])
		if err != nil {
			return errorResponseFor(log, err, correlationID)
		}
		return respond(http.StatusOK, amountResponse(balance), correlationID)
	}
	if len(segments) != 1 {
		return respond(http.StatusNotFound, errorResponse{Error: errorNotFound}, correlationID)
	}

	switch segments[0] {
	case "balance":
		balance, err := h.uc.Balance(ctx)
		if err != nil {
			return errorResponseFor(log, err, correlationID)
		}
		return respond(http.StatusOK, amountResponse(balance), correlationID)
	case "events":
		limit := 0
		if raw := strings.TrimSpace(req.QueryStringParameters["limit"]); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_limit"}, correlationID)
			}
			limit = n
		}
		records, err := h.uc.Events(ctx, limit)
		if err != nil {
			return errorResponseFor(log, err, correlationID)
		}
		return respond(http.StatusOK, eventsResponse{Events: toEventResponses(records)}, correlationID)
	}

	method, ok := queryRoutes[segments[0]]
	if !ok {
		return respond(http.StatusNotFound, errorResponse{Error: errorNotFound}, correlationID)
	}
	out, err := h.uc.Query(ctx, string(method))
	if err != nil {
		return errorResponseFor(log, err, correlationID)
	}
	if !out.Outcome.OK() {
		return outcomeResponse(out.Outcome, correlationID)
	}
	if method == contract.MethodGetOwner {
		return respond(http.StatusOK, queryResponse{Owner: string(out.Owner)}, correlationID)
	}
	return respond(http.StatusOK, amountResponse(out.Amount), correlationID)
}

func amountResponse(v *uint256.Int) queryResponse {
	if v == nil {
		v = new(uint256.Int)
	}
	return queryResponse{Amount: v.Dec(), AmountUnits: domain.FormatUnits(v)}
}

func toEventResponses(records []domain.EventRecord) []eventResponse {
	out := make([]eventResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, eventResponse{
			ID:        rec.ID,
			Seq:       rec.Seq,
			CallID:    rec.CallID,
			EmittedAt: rec.EmittedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			From:      string(rec.Event.From),
			To:        string(rec.Event.To),
			Text:      rec.Event.Text,
			Encrypted: rec.Event.Encrypted,
		})
	}
	return out
}

// outcomeResponse reports a call that ran but did not complete.
func outcomeResponse(out contract.Outcome, correlationID string) events.APIGatewayProxyResponse {
	if out.Kind == contract.OutcomeRecoverable {
		return respond(http.StatusBadRequest, errorResponse{Error: errorContract, Kind: string(out.Err)}, correlationID)
	}
	return respond(http.StatusUnprocessableEntity, errorResponse{Error: errorAborted, Message: out.Message}, correlationID)
}

func errorResponseFor(log *logrus.Entry, err error, correlationID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.WithError(err).Error("unexpected error")
		return respond(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}, correlationID)
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnauthenticated:
		status = http.StatusUnauthorized
	case usecase.ErrorNotDeployed:
		status = http.StatusNotFound
	case usecase.ErrorAlreadyDeployed, usecase.ErrorConflict:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("reason", ucErr.Reason).Error("request failed")
	} else {
		log.WithField("reason", ucErr.Reason).Info("request rejected")
	}
	return respond(status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}, correlationID)
}

func respond(status int, body interface{}, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}

func decodeBody(body string, dst interface{}) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(body), dst)
}

// callerOf returns the principal resolved by the API Gateway authorizer.
func callerOf(req events.APIGatewayProxyRequest) string {
	principal, _ := req.RequestContext.Authorizer["principalId"].(string)
	return strings.TrimSpace(principal)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
