// Package notify delivers operator alerts for risk signals to chat channels
// (Telegram, Discord). Alerts can be filtered by signal kind. Repeated
// critical and auto-close alerts for the same position are suppressed for a
// TTL window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier is a domain.SignalSink that turns risk signals into chat alerts.
type Notifier struct {
	senders []Sender
	kinds   map[domain.SignalKind]bool // allowed kinds; empty allows all
	dedup   *dedup
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only signals whose kind appears in kinds are
// forwarded; an empty list forwards every kind. dedupTTL suppresses repeats
// of the same (position, kind) pair; zero disables suppression. Danger
// alerts are never suppressed: the monitor emits one per episode.
func NewNotifier(senders []Sender, kinds []string, dedupTTL time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.SignalKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.SignalKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		dedup:   newDedup(dedupTTL),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Emit formats sig and sends it to every sender.
func (n *Notifier) Emit(ctx context.Context, sig domain.RiskSignal) error {
	if len(n.kinds) > 0 && !n.kinds[sig.Kind] {
		return nil
	}

	key := sig.Snapshot.PositionID + "|" + string(sig.Kind)
	deduped := sig.Kind != domain.SignalPositionInDanger
	if deduped && !n.dedup.allow(key) {
		n.logger.DebugContext(ctx, "notifier: duplicate alert suppressed",
			slog.String("position_id", sig.Snapshot.PositionID),
			slog.String("kind", string(sig.Kind)),
		)
		return nil
	}

	title, body := Format(sig)
	if err := n.dispatch(ctx, title, body); err != nil {
		// Let the next tick retry instead of waiting out the TTL.
		if deduped {
			n.dedup.forget(key)
		}
		return err
	}
	return nil
}

// NotifyAll sends a free-form message to all senders, bypassing filters.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders a risk signal as an alert title and body.
func Format(sig domain.RiskSignal) (string, string) {
	s := sig.Snapshot
	var title string
	switch sig.Kind {
	case domain.SignalPositionInDanger:
		title = fmt.Sprintf("⚠️ %s position in danger", s.Symbol)
	case domain.SignalPositionCritical:
		title = fmt.Sprintf("🚨 %s position critical", s.Symbol)
	case domain.SignalAutoCloseTriggered:
		title = fmt.Sprintf("🛑 %s auto-close triggered", s.Symbol)
	default:
		title = fmt.Sprintf("%s risk update", s.Symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "position %s\n", s.PositionID)
	writeLeg(&b, "primary", s.Primary)
	writeLeg(&b, "hedge", s.Hedge)
	fmt.Fprintf(&b, "checked %s", s.CheckedAt.UTC().Format(time.RFC3339))
	return title, b.String()
}

func writeLeg(b *strings.Builder, role string, l domain.LegRisk) {
	fmt.Fprintf(b, "%s %s %s: price %g, liq %g, proximity %.1f%%\n",
		role, l.Exchange, l.Side, l.CurrentPrice, l.LiquidationPrice, l.ProximityRatio*100)
}

var _ domain.SignalSink = (*Notifier)(nil)
