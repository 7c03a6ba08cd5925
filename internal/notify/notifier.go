// Package notify sends operator alerts to one or more channels (Discord
// webhook, Telegram). Alerts are filtered by event type so operators receive
// only the ones they asked for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Event types.
const (
	EventDonationReceived = "donation_received"
	EventError            = "error"
)

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches to every Sender. Only events in the allowed set are
// forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding only events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// DonationReceived announces one credited donation.
func (n *Notifier) DonationReceived(ctx context.Context, c domain.Credit) error {
	msg := fmt.Sprintf("<@%s> donated %s € (total %s €)",
		c.DonorID, c.Amount.StringFixed(2), c.Total.StringFixed(2))
	return n.Notify(ctx, EventDonationReceived, "New donation", msg)
}

// CycleFailed reports a reconciliation cycle that did not complete.
func (n *Notifier) CycleFailed(ctx context.Context, err error) error {
	return n.Notify(ctx, EventError, "Donation sync failed", err.Error())
}

// dispatch delivers to every sender; one failing sender does not stop the
// others and all failures are returned together.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
