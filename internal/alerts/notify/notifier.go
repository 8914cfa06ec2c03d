package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
	units "coldchain-cloud/internal/units/domain"
)

// AlertEvent represents one lifecycle update ready for delivery.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders and delivers alert notifications through a channel.
// Escalation is decided by the evaluation engine, so the notifier only
// formats, rate-limits and sends.
type Notifier struct {
	unitReader   units.Reader
	channel      Channel
	template     *Template
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
	minSeverity  int
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithMinSeverity drops notifications below the given severity.
func WithMinSeverity(severity string) Option {
	return func(n *Notifier) {
		n.minSeverity = severityRank(severity)
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(unitReader units.Reader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		unitReader: unitReader,
		channel:    channel,
		template:   template,
		clock:      systemClock{},
		sent:       make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	if severityRank(event.Alert.Severity) < n.minSeverity {
		return
	}
	unit := n.lookupUnit(ctx, event.Alert.UnitID)
	data := buildTemplateData(event.Type, event.Alert, unit)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(event.Alert.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotifySend("webhook", metrics.ResultError)
		return
	}
	metrics.IncNotifySend("webhook", metrics.ResultSuccess)
	n.markSent(event.Alert.ID, event.Type, content)
}

func (n *Notifier) lookupUnit(ctx context.Context, unitID string) *units.Unit {
	if n == nil || n.unitReader == nil || unitID == "" {
		return nil
	}
	unit, err := n.unitReader.Get(ctx, unitID)
	if err != nil {
		return nil
	}
	return unit
}

func buildTemplateData(eventType string, alert alerts.Alert, unit *units.Unit) TemplateData {
	unitName := alert.UnitID
	rangeText := ""
	if unit != nil {
		if unit.Name != "" {
			unitName = unit.Name
		}
		if unit.HasBaseline() {
			rangeText = fmt.Sprintf("%s .. %s", unit.BaselineTempMin.String(), unit.BaselineTempMax.String())
		}
	}
	triggeredAt := alert.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = alert.CreatedAt
	}

	return TemplateData{
		Unit:        unitName,
		UnitID:      alert.UnitID,
		AlertID:     alert.ID,
		Temperature: alert.LastTemperature.String(),
		Range:       rangeText,
		Violated:    violatedLabel(alert.ThresholdViolated),
		TriggeredAt: triggeredAt.UTC().Format(time.RFC3339),
		Status:      statusLabel(alert.Status),
		StatusCode:  alert.Status,
		Severity:    alert.Severity,
		Suggestion:  suggestionFor(alert),
		Event:       eventType,
		EventLabel:  eventLabel(eventType),
	}
}

func violatedLabel(violated alerts.Violation) string {
	switch violated {
	case alerts.ViolationMin:
		return "below minimum"
	case alerts.ViolationMax:
		return "above maximum"
	default:
		return "none"
	}
}

func statusLabel(status string) string {
	switch status {
	case alerts.StatusActive:
		return "active"
	case alerts.StatusAcknowledged:
		return "acknowledged"
	case alerts.StatusEscalated:
		return "escalated"
	case alerts.StatusResolved:
		return "resolved"
	default:
		return status
	}
}

func eventLabel(event string) string {
	switch event {
	case "raised":
		return "Raised"
	case "escalated":
		return "Escalated"
	case "acknowledged":
		return "Acknowledged"
	case "resolved":
		return "Resolved"
	default:
		return event
	}
}

func suggestionFor(alert alerts.Alert) string {
	switch alert.Severity {
	case alerts.SeverityCritical:
		return "Move product if the excursion persists and inspect the unit now."
	case alerts.SeverityWarning:
		return "Check the unit door and condenser before the excursion confirms."
	default:
		return "Monitor the unit temperature."
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	if n == nil {
		return
	}
	retention := n.retention()
	if retention <= 0 {
		return
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   now,
		hash: hashContent(content),
	}
	// Records outside every throttle window can never suppress again;
	// drop them so the map stays bounded by the active alert set.
	for k, record := range n.sent {
		if now.Sub(record.at) > retention {
			delete(n.sent, k)
		}
	}
	n.mu.Unlock()
}

// retention is how long a send record can still influence throttling.
func (n *Notifier) retention() time.Duration {
	if n.cooldown > n.dedupeWindow {
		return n.cooldown
	}
	return n.dedupeWindow
}

func severityRank(severity string) int {
	switch severity {
	case alerts.SeverityCritical:
		return 2
	case alerts.SeverityWarning:
		return 1
	default:
		return 0
	}
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
