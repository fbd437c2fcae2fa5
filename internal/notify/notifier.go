// Package notify fans settlement events out to external alert channels.
// Operators subscribe a Telegram chat or a Discord webhook and receive a
// short message for each event type they opted into.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier formats engine events and dispatches them to every registered
// sender. An allow-list of event types filters the feed; an empty list lets
// everything through.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events are announced; an empty slice allows all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Announce formats the event and sends it through every channel, honoring the
// allow-list. A filtered event is not an error.
func (n *Notifier) Announce(ctx context.Context, ev domain.Event) error {
	if len(n.allowed) > 0 && !n.allowed[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("type", string(ev.Type)),
		)
		return nil
	}
	title, message := formatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// formatEvent renders an event as a one-line title plus a detail body.
func formatEvent(ev domain.Event) (title, message string) {
	title = strings.ReplaceAll(string(ev.Type), "_", " ")

	var b strings.Builder
	if (ev.Pool != common.Hash{}) {
		fmt.Fprintf(&b, "pool %s\n", shortHex(ev.Pool.Hex()))
	}
	if (ev.Bet != common.Hash{}) {
		fmt.Fprintf(&b, "bet %s\n", shortHex(ev.Bet.Hex()))
	}
	if (ev.Actor != common.Address{}) {
		fmt.Fprintf(&b, "actor %s\n", shortHex(ev.Actor.Hex()))
	}
	if ev.Amount > 0 {
		fmt.Fprintf(&b, "amount %d\n", ev.Amount)
	}
	if ev.Weight != "" {
		fmt.Fprintf(&b, "weight %s\n", ev.Weight)
	}
	fmt.Fprintf(&b, "at %s", ev.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	return title, b.String()
}

// shortHex abbreviates a 0x-prefixed identifier for chat display.
func shortHex(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}

// dispatch sends the rendered notification through every sender. A failing
// sender does not block the others; all failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
