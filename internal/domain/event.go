package domain

import "time"

// MessageSent is emitted once per delivered message. Encrypted is nil when the
// deployed variant does not carry the flag.
type MessageSent struct {
	From      AccountID `json:"from"`
	To        AccountID `json:"to"`
	Text      string    `json:"text"`
	Encrypted *bool     `json:"encrypted,omitempty"`
}

// EventRecord is a MessageSent as appended to the host event log.
type EventRecord struct {
	ID        string      `json:"id"`
	LedgerID  string      `json:"ledgerId"`
	Seq       uint64      `json:"seq"`
	CallID    string      `json:"callId"`
	EmittedAt time.Time   `json:"emittedAt"`
	Event     MessageSent `json:"event"`
}
