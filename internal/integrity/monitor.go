// Package integrity implements the overlay that watches every episode. It
// holds references to active ledgers, subscribes to both buses, surfaces
// budget and timeout events as alert packets, revokes tokens, and walks
// ledgers down the safe-mode ladder. It is the only component allowed to
// mutate a ledger it does not own, and it does so exclusively through the
// ledger's serialized methods.
package integrity

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/bus"
	"github.com/Tpanarchist/omen/internal/config"
	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Event is one recorded integrity occurrence.
type Event struct {
	ID            string
	Type          string
	Severity      vocabulary.AlertSeverity
	Message       string
	CorrelationID string
	Action        string
	At            time.Time
}

// Monitor is the integrity overlay.
type Monitor struct {
	mu      sync.Mutex
	log     *zap.Logger
	cfg     config.Config
	clock   func() time.Time
	ledgers map[string]*ledger.Ledger
	events  []Event
	counter int
	north   *bus.Bus
}

// Option configures the monitor.
type Option func(*Monitor)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithConfig overrides runtime tunables.
func WithConfig(cfg config.Config) Option {
	return func(m *Monitor) { m.cfg = cfg }
}

// WithClock replaces the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// New returns a monitor with no registered ledgers.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		log:     zap.NewNop(),
		cfg:     config.Default(),
		clock:   time.Now,
		ledgers: make(map[string]*ledger.Ledger),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a ledger to the watch set.
func (m *Monitor) Register(l *ledger.Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[l.CorrelationID()] = l
}

// Unregister drops a ledger from the watch set.
func (m *Monitor) Unregister(correlationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ledgers, correlationID)
}

// SubscribeTo wires the monitor onto both buses.
func (m *Monitor) SubscribeTo(north, south *bus.Bus) {
	m.mu.Lock()
	m.north = north
	m.mu.Unlock()
	north.Subscribe(vocabulary.LayerIntegrity, m.handleNorthbound)
	south.Subscribe(vocabulary.LayerIntegrity, m.handleSouthbound)
}

// handleNorthbound watches telemetry: the Layer-1 constitutional veto, plus
// per-ledger budget state after every message.
func (m *Monitor) handleNorthbound(msg bus.Message) error {
	if msg.Signal == bus.SignalUserInput {
		m.mu.Lock()
		l, ok := m.ledgers[msg.CorrelationID]
		m.mu.Unlock()
		if ok && l.UserInput() {
			m.record("user_input", vocabulary.SeverityInfo,
				"human response re-entered deciding", msg.CorrelationID, "resumed")
		}
		return nil
	}
	if msg.Packet == nil {
		return nil
	}
	if alert, ok := msg.Packet.IntegrityAlert(); ok {
		if msg.SourceLayer == vocabulary.Layer1Aspirational &&
			alert.AlertType == packet.AlertConstitutionalVeto {
			m.ProcessVeto(msg.CorrelationID, alert.Message)
		}
		return nil
	}
	m.SweepLedger(msg.CorrelationID, msg.At)
	return nil
}

// handleSouthbound is an extension point; directives are currently only
// logged at debug level.
func (m *Monitor) handleSouthbound(msg bus.Message) error {
	if msg.Packet != nil {
		m.log.Debug("southbound directive observed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("kind", string(msg.Kind())))
	}
	return nil
}

// SweepLedger drains a single ledger's pending events and converts them into
// alert packets. Returns the alerts produced.
func (m *Monitor) SweepLedger(correlationID string, now time.Time) []*packet.Packet {
	m.mu.Lock()
	l, ok := m.ledgers[correlationID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if now.IsZero() {
		now = m.clock()
	}
	l.CheckTimeouts(now)

	var alerts []*packet.Packet
	for _, ev := range l.DrainEvents() {
		m.record(ev.Type, ev.Severity, ev.Message, correlationID, "")
		alert := packet.New(vocabulary.LayerIntegrity, correlationID, now, &packet.IntegrityAlertPayload{
			AlertType: ev.Type,
			Severity:  ev.Severity,
			Message:   ev.Message,
		})
		alerts = append(alerts, alert)
		m.publish(alert, correlationID, now)
	}
	return alerts
}

// Sweep runs SweepLedger over every registered ledger.
func (m *Monitor) Sweep(now time.Time) []*packet.Packet {
	m.mu.Lock()
	ids := make([]string, 0, len(m.ledgers))
	for id := range m.ledgers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var alerts []*packet.Packet
	for _, id := range ids {
		alerts = append(alerts, m.SweepLedger(id, now)...)
	}
	return alerts
}

func (m *Monitor) publish(alert *packet.Packet, correlationID string, now time.Time) {
	m.mu.Lock()
	north := m.north
	m.mu.Unlock()
	if north == nil {
		return
	}
	north.Publish(bus.Message{
		Packet:        alert,
		SourceLayer:   vocabulary.LayerIntegrity,
		CorrelationID: correlationID,
		At:            now,
	})
}

// RevokeToken revokes a token by id with a reason.
func (m *Monitor) RevokeToken(correlationID, tokenID, reason string) bool {
	m.mu.Lock()
	l, ok := m.ledgers[correlationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !l.RevokeToken(tokenID, reason) {
		return false
	}
	m.record(packet.AlertTokenRevoked, vocabulary.SeverityHigh,
		fmt.Sprintf("token %s revoked: %s", tokenID, reason), correlationID, "token_revoked")
	return true
}

// TransitionSafeMode walks a ledger to the given mode with a reason.
func (m *Monitor) TransitionSafeMode(correlationID string, mode ledger.SafeMode, reason string) bool {
	m.mu.Lock()
	l, ok := m.ledgers[correlationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	l.SetSafeMode(mode, reason)
	severity := vocabulary.SeverityWarning
	if mode == ledger.ModeRestricted || mode == ledger.ModeHalted {
		severity = vocabulary.SeverityHigh
	}
	m.record(packet.AlertSafeModeChange, severity,
		fmt.Sprintf("safe mode set to %s: %s", mode, reason), correlationID,
		fmt.Sprintf("safe_mode_%s", mode))
	return true
}

// ProcessVeto applies a Layer-1 constitutional veto: every active token is
// revoked and the ledger halts.
func (m *Monitor) ProcessVeto(correlationID, reason string) bool {
	m.mu.Lock()
	l, ok := m.ledgers[correlationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	revoked := l.RevokeAllTokens("constitutional veto")
	l.SetSafeMode(ledger.ModeHalted, reason)
	m.record(packet.AlertConstitutionalVeto, vocabulary.SeverityCritical,
		fmt.Sprintf("constitutional veto: %s (%d tokens revoked)", reason, revoked),
		correlationID, "halted")
	m.log.Warn("constitutional veto processed",
		zap.String("correlation_id", correlationID),
		zap.Int("tokens_revoked", revoked))
	return true
}

// FlagContradiction records a contradiction against a ledger; crossing the
// configured threshold drops the ledger into CAUTIOUS mode.
func (m *Monitor) FlagContradiction(correlationID, detail string) bool {
	m.mu.Lock()
	l, ok := m.ledgers[correlationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	unresolved := l.FlagContradiction(detail)
	m.record(packet.AlertContradiction, vocabulary.SeverityWarning,
		fmt.Sprintf("contradiction: %s", detail), correlationID, "")
	if unresolved >= m.cfg.ContradictionCautionThreshold && l.Mode() == ledger.ModeNormal {
		m.TransitionSafeMode(correlationID, ledger.ModeCautious,
			fmt.Sprintf("%d unresolved contradictions", unresolved))
	}
	return true
}

// Events returns recorded events, optionally filtered by correlation id.
func (m *Monitor) Events(correlationID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if correlationID == "" || ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears recorded state, for test isolation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.counter = 0
	m.ledgers = make(map[string]*ledger.Ledger)
}

func (m *Monitor) record(eventType string, severity vocabulary.AlertSeverity, message, correlationID, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	m.events = append(m.events, Event{
		ID:            fmt.Sprintf("evt_%06d", m.counter),
		Type:          eventType,
		Severity:      severity,
		Message:       message,
		CorrelationID: correlationID,
		Action:        action,
		At:            m.clock(),
	})
}
