package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/holiman/uint256"

	"messaging-ledger/internal/domain"
)

// Amounts are stored as decimal strings: u128 needs 39 digits and DynamoDB
// numbers keep 38.
func ledgerItem(l domain.Ledger) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: ledgerPK(l.ID)},
		"SK":            &types.AttributeValueMemberS{Value: skState},
		"ledgerId":      &types.AttributeValueMemberS{Value: l.ID},
		"owner":         &types.AttributeValueMemberS{Value: string(l.State.Owner)},
		"standardFee":   &types.AttributeValueMemberS{Value: l.State.StandardFee.Dec()},
		"bulkBaseFee":   &types.AttributeValueMemberS{Value: l.State.BulkBaseFee.Dec()},
		"bulkVarFee":    &types.AttributeValueMemberS{Value: l.State.BulkVarFee.Dec()},
		"balance":       &types.AttributeValueMemberS{Value: l.Balance.Dec()},
		"eventCount":    &types.AttributeValueMemberN{Value: strconv.FormatUint(l.EventCount, 10)},
		"version":       &types.AttributeValueMemberN{Value: strconv.FormatInt(l.Version, 10)},
		"variant":       &types.AttributeValueMemberS{Value: l.Variant.Name},
		"encryptedFlag": &types.AttributeValueMemberBOOL{Value: l.Variant.EncryptedFlag},
		"feeCheck":      &types.AttributeValueMemberS{Value: l.Variant.FeeCheck},
		"deployedAt":    &types.AttributeValueMemberS{Value: l.DeployedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToLedger(item map[string]types.AttributeValue) (domain.Ledger, error) {
	var l domain.Ledger
	var err error
	if l.ID, err = strAttr(item, "ledgerId"); err != nil {
		return domain.Ledger{}, err
	}
	owner, err := strAttr(item, "owner")
	if err != nil {
		return domain.Ledger{}, err
	}
	l.State.Owner = domain.AccountID(owner)

	amounts := []struct {
		key string
		dst *uint256.Int
	}{
		{"standardFee", &l.State.StandardFee},
		{"bulkBaseFee", &l.State.BulkBaseFee},
		{"bulkVarFee", &l.State.BulkVarFee},
		{"balance", &l.Balance},
	}
	for _, a := range amounts {
		v, err := amountAttr(item, a.key)
		if err != nil {
			return domain.Ledger{}, err
		}
		a.dst.Set(v)
	}

	count, err := numAttr(item, "eventCount")
	if err != nil {
		return domain.Ledger{}, err
	}
	if l.EventCount, err = strconv.ParseUint(count, 10, 64); err != nil {
		return domain.Ledger{}, fmt.Errorf("repository: parse attribute %q: %w", "eventCount", err)
	}
	version, err := numAttr(item, "version")
	if err != nil {
		return domain.Ledger{}, err
	}
	if l.Version, err = strconv.ParseInt(version, 10, 64); err != nil {
		return domain.Ledger{}, fmt.Errorf("repository: parse attribute %q: %w", "version", err)
	}

	if l.Variant.Name, err = strAttr(item, "variant"); err != nil {
		return domain.Ledger{}, err
	}
	l.Variant.EncryptedFlag, _ = boolAttr(item, "encryptedFlag") // absent on older records
	l.Variant.FeeCheck, _ = strAttr(item, "feeCheck")
	if deployed, err := strAttr(item, "deployedAt"); err == nil {
		l.DeployedAt, _ = time.Parse(time.RFC3339Nano, deployed)
	}
	return l, nil
}

func eventItem(rec domain.EventRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: ledgerPK(rec.LedgerID)},
		"SK":        &types.AttributeValueMemberS{Value: eventSK(rec.Seq)},
		"eventId":   &types.AttributeValueMemberS{Value: rec.ID},
		"ledgerId":  &types.AttributeValueMemberS{Value: rec.LedgerID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.FormatUint(rec.Seq, 10)},
		"callId":    &types.AttributeValueMemberS{Value: rec.CallID},
		"emittedAt": &types.AttributeValueMemberS{Value: rec.EmittedAt.UTC().Format(time.RFC3339Nano)},
		"from":      &types.AttributeValueMemberS{Value: string(rec.Event.From)},
		"to":        &types.AttributeValueMemberS{Value: string(rec.Event.To)},
		"text":      &types.AttributeValueMemberS{Value: rec.Event.Text},
	}
	if rec.Event.Encrypted != nil {
		item["encrypted"] = &types.AttributeValueMemberBOOL{Value: *rec.Event.Encrypted}
	}
	return item
}

func itemToEvent(item map[string]types.AttributeValue) (domain.EventRecord, error) {
	var rec domain.EventRecord
	var err error
	if rec.ID, err = strAttr(item, "eventId"); err != nil {
		return domain.EventRecord{}, err
	}
	seq, err := numAttr(item, "seq")
	if err != nil {
		return domain.EventRecord{}, err
	}
	if rec.Seq, err = strconv.ParseUint(seq, 10, 64); err != nil {
		return domain.EventRecord{}, fmt.Errorf("repository: parse attribute %q: %w", "seq", err)
	}
	from, err := strAttr(item, "from")
	if err != nil {
		return domain.EventRecord{}, err
	}
	to, err := strAttr(item, "to")
	if err != nil {
		return domain.EventRecord{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.EventRecord{}, err
	}
	rec.Event = domain.MessageSent{From: domain.AccountID(from), To: domain.AccountID(to), Text: text}
	if encrypted, err := boolAttr(item, "encrypted"); err == nil {
		rec.Event.Encrypted = &encrypted
	}
	rec.LedgerID, _ = strAttr(item, "ledgerId")
	rec.CallID, _ = strAttr(item, "callId")
	if emitted, err := strAttr(item, "emittedAt"); err == nil {
		rec.EmittedAt, _ = time.Parse(time.RFC3339Nano, emitted)
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

// amountAttr accepts both S and N encodings.
func amountAttr(item map[string]types.AttributeValue, key string) (*uint256.Int, error) {
	var raw string
	switch v := item[key].(type) {
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberN:
		raw = v.Value
	case nil:
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	default:
		return nil, fmt.Errorf("repository: attribute %q is not an amount", key)
	}
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return amount, nil
}
