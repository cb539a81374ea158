// Package nats publishes risk signals to a NATS subject tree so execution
// services can subscribe to auto-close and alert signals.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher is a domain.SignalSink that publishes each signal as JSON on
// "<prefix>.<kind>.<symbol>".
type Publisher struct {
	conn   Conn
	prefix string
	flush  bool
}

// Connect dials url and returns a Publisher.
func Connect(url, prefix, name string, flush bool) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return NewPublisher(conn, prefix, flush), nil
}

// NewPublisher wraps an existing connection. When flush is true every Emit
// waits for the server to acknowledge the publish.
func NewPublisher(conn Conn, prefix string, flush bool) *Publisher {
	if prefix == "" {
		prefix = "hedgerisk.risk"
	}
	return &Publisher{conn: conn, prefix: prefix, flush: flush}
}

// Subject returns the subject a signal is published on.
func (p *Publisher) Subject(sig domain.RiskSignal) string {
	subj := p.prefix + "." + string(sig.Kind)
	if sig.Snapshot.Symbol != "" {
		subj += "." + sig.Snapshot.Symbol
	}
	return subj
}

// Emit implements domain.SignalSink.
func (p *Publisher) Emit(ctx context.Context, sig domain.RiskSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("nats: marshal signal: %w", err)
	}
	subj := p.Subject(sig)
	if err := p.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subj, err)
	}
	if p.flush {
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("nats: flush: %w", err)
		}
	}
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}

var _ domain.SignalSink = (*Publisher)(nil)
