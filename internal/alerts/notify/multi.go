package notify

import "context"

// AlertNotifier receives alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// MultiNotifier dispatches alert events to multiple notifiers.
type MultiNotifier struct {
	notifiers []AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
