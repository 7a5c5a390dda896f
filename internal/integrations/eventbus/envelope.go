// Package eventbus fans committed ledger events out to message brokers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"messaging-ledger/internal/domain"
)

// EventTypeMessageSent is the envelope type of every MessageSent event.
const EventTypeMessageSent = "message.sent"

const source = "messaging-ledger"

// Envelope is the wire form of a published event.
type Envelope struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	LedgerID  string             `json:"ledger_id"`
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	Data      domain.MessageSent `json:"data"`
	Metadata  Metadata           `json:"metadata"`
}

// Metadata links an event back to the call that emitted it.
type Metadata struct {
	CallID string `json:"call_id"`
	Source string `json:"source"`
}

// NewEnvelope wraps rec for publishing.
func NewEnvelope(rec domain.EventRecord) Envelope {
	return Envelope{
		ID:        rec.ID,
		Type:      EventTypeMessageSent,
		LedgerID:  rec.LedgerID,
		Seq:       rec.Seq,
		Timestamp: rec.EmittedAt.UTC(),
		Data:      rec.Event,
		Metadata:  Metadata{CallID: rec.CallID, Source: source},
	}
}

// Encode marshals rec as an Envelope.
func Encode(rec domain.EventRecord) ([]byte, error) {
	payload, err := json.Marshal(NewEnvelope(rec))
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal event %s: %w", rec.ID, err)
	}
	return payload, nil
}

// subjectTokens builds "<prefix> <ledger> message_sent", joined by the
// broker's separator.
func subjectTokens(prefix, ledgerID string) []string {
	return []string{strings.Trim(prefix, "./ "), ledgerID, "message_sent"}
}
