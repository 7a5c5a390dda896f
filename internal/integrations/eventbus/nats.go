package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"messaging-ledger/internal/domain"
)

// natsConn is the subset of *nats.Conn used by NATSPublisher.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher publishes each event to <prefix>.<ledger>.message_sent.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

func NewNATSPublisher(conn natsConn, prefix string) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("eventbus: nats connection must not be nil")
	}
	if strings.Trim(prefix, "./ ") == "" {
		return nil, errors.New("eventbus: subject prefix must not be empty")
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject events of ledgerID are published on.
func (p *NATSPublisher) Subject(ledgerID string) string {
	return strings.Join(subjectTokens(p.prefix, ledgerID), ".")
}

// Publish sends every event then flushes so delivery failures surface before
// the Lambda invocation is frozen.
func (p *NATSPublisher) Publish(ctx context.Context, events []domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	for _, rec := range events {
		payload, err := Encode(rec)
		if err != nil {
			return err
		}
		subject := p.Subject(rec.LedgerID)
		if err := p.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("eventbus: nats publish %s: %w", subject, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("eventbus: nats flush: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NATSPublisher.Publish",
		"count":    len(events),
	}).Debug("events published")
	return nil
}
