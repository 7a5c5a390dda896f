package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

const (
	skState         = "STATE"
	skBalance       = "BALANCE"
	skPrefixEvent   = "EVT#"
	conditionAbsent = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding ledger records, their event logs and
// account payout balances.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// ledgerPK returns the partition key shared by a ledger record and its events.
func ledgerPK(ledgerID string) string {
	return "LEDGER#" + ledgerID
}

// accountPK returns the partition key of an account's payout balance.
func accountPK(account domain.AccountID) string {
	return "ACCOUNT#" + string(account)
}

// eventSK zero-pads the sequence so lexical order is emission order.
func eventSK(seq uint64) string {
	return fmt.Sprintf("%s%020d", skPrefixEvent, seq)
}

// GetLedger reads the ledger record with a strongly consistent read.
func (c *Client) GetLedger(ctx context.Context, ledgerID string) (domain.Ledger, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ledgerPK(ledgerID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("repository: GetLedger get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Ledger{}, fmt.Errorf("repository: GetLedger %q: %w", ledgerID, domain.ErrNotFound)
	}
	ledger, err := itemToLedger(out.Item)
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("repository: GetLedger decode: %w", err)
	}
	return ledger, nil
}

// CreateLedger writes a new ledger record; it never overwrites an existing one.
func (c *Client) CreateLedger(ctx context.Context, ledger domain.Ledger) error {
	if strings.TrimSpace(ledger.ID) == "" {
		return errors.New("repository: CreateLedger: ledger ID is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                ledgerItem(ledger),
		ConditionExpression: aws.String(conditionAbsent),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: CreateLedger %q: %w", ledger.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("repository: CreateLedger: %w", err)
	}
	return nil
}

// CommitCall writes the new ledger record, the call's events and its payouts in
// one transaction. The ledger write is conditioned on the version the call read.
func (c *Client) CommitCall(ctx context.Context, commit domain.CallCommit) error {
	if strings.TrimSpace(commit.Ledger.ID) == "" {
		return errors.New("repository: CommitCall: ledger ID is required")
	}

	items := make([]types.TransactWriteItem, 0, 1+len(commit.Events)+len(commit.Payouts))
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                ledgerItem(commit.Ledger),
			ConditionExpression: aws.String("version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(commit.ExpectedVersion, 10)},
			},
		},
	})
	for _, rec := range commit.Events {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                eventItem(rec),
				ConditionExpression: aws.String(conditionAbsent),
			},
		})
	}
	payouts, err := c.payoutPuts(ctx, commit.Payouts)
	if err != nil {
		return err
	}
	items = append(items, payouts...)

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("repository: CommitCall: %w: %v", domain.ErrConflict, err)
		}
		return fmt.Errorf("repository: CommitCall: %w", err)
	}
	return nil
}

// ListEvents returns the newest limit events in emission order.
func (c *Client) ListEvents(ctx context.Context, ledgerID string, limit int) ([]domain.EventRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ledgerPK(ledgerID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEvent},
		},
		// Read newest first so LIMIT keeps the most recent events.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListEvents query: %w", err)
	}

	records := make([]domain.EventRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToEvent(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListEvents unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetAccountBalance returns the payouts credited to account; zero if none.
func (c *Client) GetAccountBalance(ctx context.Context, account domain.AccountID) (*uint256.Int, error) {
	balance, _, err := c.readAccountBalance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("repository: GetAccountBalance: %w", err)
	}
	return balance, nil
}

// payoutPuts turns payouts into conditional writes of the new account
// balances. Balances are decimal strings because u128 needs 39 digits and
// DynamoDB numbers keep 38. Each write is conditioned on the balance it was
// computed from, so a concurrent payout to the same account cancels the
// transaction as a conflict.
func (c *Client) payoutPuts(ctx context.Context, payouts []domain.Payout) ([]types.TransactWriteItem, error) {
	// A transaction may touch each item once.
	totals := make(map[domain.AccountID]*uint256.Int, len(payouts))
	order := make([]domain.AccountID, 0, len(payouts))
	for _, p := range payouts {
		sum, ok := totals[p.To]
		if !ok {
			sum = new(uint256.Int)
			totals[p.To] = sum
			order = append(order, p.To)
		}
		amount := p.Amount
		if _, overflow := sum.AddOverflow(sum, &amount); overflow || !domain.InRange(sum) {
			return nil, fmt.Errorf("repository: CommitCall payout to %s: %w", p.To, domain.ErrAmountOutOfRange)
		}
	}

	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, len(order))
	for _, account := range order {
		prev, prevAttr, err := c.readAccountBalance(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("repository: CommitCall read payout balance: %w", err)
		}
		next, overflow := new(uint256.Int).AddOverflow(prev, totals[account])
		if overflow || !domain.InRange(next) {
			return nil, fmt.Errorf("repository: CommitCall payout to %s: %w", account, domain.ErrAmountOutOfRange)
		}

		put := &types.Put{
			TableName: aws.String(c.tableName),
			Item: map[string]types.AttributeValue{
				"PK":        &types.AttributeValueMemberS{Value: accountPK(account)},
				"SK":        &types.AttributeValueMemberS{Value: skBalance},
				"account":   &types.AttributeValueMemberS{Value: string(account)},
				"balance":   &types.AttributeValueMemberS{Value: next.Dec()},
				"updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
			},
			ConditionExpression: aws.String(conditionAbsent),
		}
		if prevAttr != nil {
			put.ConditionExpression = aws.String("balance = :prev")
			put.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": prevAttr}
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}
	return items, nil
}

// readAccountBalance returns the balance and its stored attribute, which is
// nil when the account has never been paid.
func (c *Client) readAccountBalance(ctx context.Context, account domain.AccountID) (*uint256.Int, types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: accountPK(account)},
			"SK": &types.AttributeValueMemberS{Value: skBalance},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return new(uint256.Int), nil, nil
	}
	balance, err := amountAttr(out.Item, "balance")
	if err != nil {
		return nil, nil, fmt.Errorf("decode balance: %w", err)
	}
	return balance, out.Item["balance"], nil
}

func isConflict(err error) bool {
	var tce *types.TransactionConflictException
	if errors.As(err, &tce) {
		return true
	}
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		code := aws.ToString(reason.Code)
		if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
			return true
		}
	}
	return false
}
