// Package ledger implements the per-episode state object threaded through
// the validation pipeline. Apply runs the three gates (schema, sequencing,
// invariants) and mutates only when all of them pass, so a rejected packet
// never corrupts episode state. Each ledger is owned by exactly one episode
// worker; external parties read through Snapshot and enqueue mutations
// (revocation, safe-mode changes) through the locked methods.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/config"
	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/fsm"
	"github.com/Tpanarchist/omen/internal/invariant"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/protoerr"
	"github.com/Tpanarchist/omen/internal/schema"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// SafeMode is the integrity overlay's per-ledger posture ladder.
type SafeMode string

const (
	ModeNormal     SafeMode = "NORMAL"
	ModeCautious   SafeMode = "CAUTIOUS"
	ModeRestricted SafeMode = "RESTRICTED"
	ModeHalted     SafeMode = "HALTED"
)

// Usage is cumulative per-axis resource consumption. Axes only grow.
type Usage struct {
	Tokens      int     `json:"tokens"`
	ToolCalls   int     `json:"tool_calls"`
	TimeSeconds float64 `json:"time_seconds"`
	RiskSpent   float64 `json:"risk_spent"`
}

// OpenDirective tracks an admitted directive awaiting its result.
type OpenDirective struct {
	DirectivePacketID string    `json:"directive_packet_id"`
	CreatedAt         time.Time `json:"created_at"`
	TimeoutSeconds    int       `json:"timeout_seconds"`
}

// EvidenceEntry is one row of the ordered evidence index.
type EvidenceEntry struct {
	PacketID string             `json:"packet_id"`
	Ref      packet.EvidenceRef `json:"ref"`
}

// Assumption tracks an assumption and, when load-bearing, the packet that
// verified it.
type Assumption struct {
	Text                 string `json:"text"`
	LoadBearing          bool   `json:"load_bearing"`
	Verified             bool   `json:"verified"`
	VerificationPacketID string `json:"verification_packet_id,omitempty"`
}

// Contradiction is an unresolved-until-marked contradiction marker.
type Contradiction struct {
	Detail   string `json:"detail"`
	Resolved bool   `json:"resolved"`
}

// Event is an integrity-relevant occurrence the ledger surfaces to its
// overseers (budget thresholds, directive timeouts). Callers drain events
// after each mutation.
type Event struct {
	Type     string
	Severity vocabulary.AlertSeverity
	Message  string
	TaskID   string
	At       time.Time
}

// Ledger is the authoritative episode state.
type Ledger struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg config.Config

	correlationID string
	campaignID    string
	templateID    vocabulary.TemplateID
	stakesLevel   vocabulary.StakesLevel

	budgets         packet.Budgets
	usage           Usage
	overrunApproved bool
	warnedAxes      map[string]bool
	haltedAxes      map[string]bool

	tokens      map[string]*packet.ToolAuthorizationPayload
	directives  map[string]OpenDirective
	evidence    []EvidenceEntry
	assumptions []Assumption
	contras     []Contradiction

	packets   []*packet.Packet
	packetIDs map[string]bool

	episode  *fsm.Episode
	safeMode SafeMode
	frozen   bool

	events []Event

	schemaGate    *schema.Validator
	invariantGate *invariant.Validator
}

// Option configures a new ledger.
type Option func(*Ledger)

// WithBudgets sets the initial budget allocation.
func WithBudgets(b packet.Budgets) Option {
	return func(l *Ledger) { l.budgets = b }
}

// WithInitialState seeds the FSM state; templates entering mid-flow use this.
func WithInitialState(s vocabulary.FSMState) Option {
	return func(l *Ledger) { l.episode = fsm.NewEpisode(l.correlationID, s) }
}

// WithCampaign attaches the campaign id.
func WithCampaign(id string) Option {
	return func(l *Ledger) { l.campaignID = id }
}

// WithTemplate records which template produced the episode.
func WithTemplate(id vocabulary.TemplateID) Option {
	return func(l *Ledger) { l.templateID = id }
}

// WithStakes records the episode's declared stakes level, which is reported
// through StakesLevel and snapshots. Directive timeouts (CheckTimeouts) are
// handled the same at every stakes level; the ledger does not escalate them.
func WithStakes(s vocabulary.StakesLevel) Option {
	return func(l *Ledger) { l.stakesLevel = s }
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithConfig overrides the runtime tunables.
func WithConfig(cfg config.Config) Option {
	return func(l *Ledger) {
		l.cfg = cfg
		l.invariantGate = invariant.New(invariant.Options{
			FreshnessRealtime:    cfg.FreshnessRealtime(),
			FreshnessOperational: cfg.FreshnessOperational(),
		})
	}
}

// WithInvariantOptions overrides invariant evaluation directly, for replay
// without timestamp checks.
func WithInvariantOptions(opts invariant.Options) Option {
	return func(l *Ledger) { l.invariantGate = invariant.New(opts) }
}

// New creates a ledger for the given correlation id, idle and unfrozen.
func New(correlationID string, opts ...Option) *Ledger {
	l := &Ledger{
		log:           zap.NewNop(),
		cfg:           config.Default(),
		correlationID: correlationID,
		stakesLevel:   vocabulary.StakesLow,
		tokens:        make(map[string]*packet.ToolAuthorizationPayload),
		directives:    make(map[string]OpenDirective),
		packetIDs:     make(map[string]bool),
		warnedAxes:    make(map[string]bool),
		haltedAxes:    make(map[string]bool),
		safeMode:      ModeNormal,
		schemaGate:    schema.New(),
	}
	l.episode = fsm.NewEpisode(correlationID, vocabulary.StateIdle)
	l.invariantGate = invariant.New(invariant.Options{
		FreshnessRealtime:    l.cfg.FreshnessRealtime(),
		FreshnessOperational: l.cfg.FreshnessOperational(),
	})
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CorrelationID returns the episode identity.
func (l *Ledger) CorrelationID() string { return l.correlationID }

// State returns the current FSM state.
func (l *Ledger) State() vocabulary.FSMState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.episode.Current()
}

// Mode returns the current safe mode.
func (l *Ledger) Mode() SafeMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.safeMode
}

// Apply runs the full validation pipeline and, on success, commits the
// packet's effects. The returned result carries every diagnostic from all
// three gates; err is non-nil exactly when the packet was rejected.
func (l *Ledger) Apply(p *packet.Packet) (diag.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res diag.Result

	if l.frozen {
		res.Errorf("LEDGER-FROZEN", "", "episode %s is halted; no further packets admitted", l.correlationID)
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrEpisodeFatal)
	}
	if p.Header.CorrelationID != l.correlationID {
		res.Errorf("LEDGER-CORRELATION", "header.correlation_id",
			"packet belongs to %s, ledger is %s", p.Header.CorrelationID, l.correlationID)
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrSchemaViolation)
	}
	if l.packetIDs[p.Header.PacketID] {
		res.Errorf("LEDGER-DUPLICATE", "header.packet_id", "packet id %s already admitted", p.Header.PacketID)
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrSchemaViolation)
	}
	if prev := p.Header.PreviousPacketID; prev != "" && !l.packetIDs[prev] {
		res.Errorf("LEDGER-CHAIN", "header.previous_packet_id",
			"previous packet %s not found in episode", prev)
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrSchemaViolation)
	}

	// Gate 1: structure.
	res.Merge(l.schemaGate.Validate(p))
	if !res.OK() {
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrSchemaViolation)
	}

	// Gate 2: sequencing.
	next, fsmRes := l.episode.Validate(p)
	res.Merge(fsmRes)
	if !res.OK() {
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID, protoerr.ErrFSMViolation)
	}

	// Gate 3: cross-policy invariants.
	invRes := l.invariantGate.Validate(p, ledgerView{l})
	res.Merge(invRes)
	if !res.OK() {
		code := "INV"
		if errs := invRes.Errors(); len(errs) > 0 {
			code = errs[0].Code
		}
		return res, fmt.Errorf("apply %s: %w", p.Header.PacketID,
			protoerr.Invariant(code, "%s", invRes.Summary()))
	}

	l.commit(p, next)

	for _, w := range res.Warnings() {
		l.log.Warn("packet admitted with warning",
			zap.String("correlation_id", l.correlationID),
			zap.String("packet_id", p.Header.PacketID),
			zap.String("code", w.Code),
			zap.String("message", w.Message))
	}
	return res, nil
}

// commit applies side effects after all gates pass. Caller holds mu.
func (l *Ledger) commit(p *packet.Packet, next vocabulary.FSMState) {
	l.episode.Apply(p, next)
	l.packets = append(l.packets, p)
	l.packetIDs[p.Header.PacketID] = true

	switch p.Kind() {
	case vocabulary.KindToolAuthorization:
		tok, _ := p.ToolAuthorization()
		stored := *tok
		l.tokens[stored.TokenID] = &stored

	case vocabulary.KindTaskDirective:
		dir, _ := p.TaskDirective()
		l.directives[dir.TaskID] = OpenDirective{
			DirectivePacketID: p.Header.PacketID,
			CreatedAt:         p.Header.CreatedAt,
			TimeoutSeconds:    dir.TimeoutSeconds,
		}
		l.usage.ToolCalls++
		if dir.ToolSafetyClass.RequiresAuthorization() {
			// Atomic with the scope check the invariant gate just ran; both
			// happen under the same lock hold as admission.
			l.tokens[dir.AuthorizationTokenID].UsageCount++
		}

	case vocabulary.KindTaskResult:
		result, _ := p.TaskResult()
		delete(l.directives, result.TaskID)
		l.consumeFromMeta(result.ExecutionMeta)

	case vocabulary.KindBeliefUpdate:
		update, _ := p.BeliefUpdate()
		if update.UpdateType == packet.UpdateTypeContradictionResolved {
			l.resolveContradiction()
		}

	case vocabulary.KindDecision:
		dec, _ := p.Decision()
		for _, a := range dec.LoadBearingAssumptions {
			l.assumptions = append(l.assumptions, Assumption{
				Text:                 a.Assumption,
				LoadBearing:          true,
				Verified:             a.Verified,
				VerificationPacketID: a.VerificationPacketID,
			})
		}

	case vocabulary.KindEscalation:
		esc, _ := p.Escalation()
		if esc.EscalationTrigger == packet.TriggerBudgetInsufficient && l.overBudget() {
			l.overrunApproved = true
		}

	case vocabulary.KindIntegrityAlert:
		alert, _ := p.IntegrityAlert()
		if alert.BudgetOverride {
			l.overrunApproved = true
		}
	}

	// Evidence index: telemetry-bearing kinds contribute their refs in order.
	switch p.Kind() {
	case vocabulary.KindObservation, vocabulary.KindTaskResult, vocabulary.KindBeliefUpdate:
		if p.MCP != nil {
			for _, ref := range p.MCP.Evidence.EvidenceRefs {
				l.evidence = append(l.evidence, EvidenceEntry{PacketID: p.Header.PacketID, Ref: ref})
			}
		}
	}

	// Envelope-declared assumptions.
	if p.MCP != nil {
		for _, a := range p.MCP.Epistemics.Assumptions {
			l.assumptions = append(l.assumptions, Assumption{Text: a})
		}
	}

	l.checkBudgetThresholds(p.Header.CreatedAt)
}

// execution meta keys contributing budget deltas.
const (
	MetaTokensUsed      = "tokens_used"
	MetaTimeSecondsUsed = "time_seconds_used"
	MetaRiskSpent       = "risk_spent"
)

func (l *Ledger) consumeFromMeta(meta map[string]any) {
	if v, ok := metaNumber(meta, MetaTokensUsed); ok {
		l.usage.Tokens += int(v)
	}
	if v, ok := metaNumber(meta, MetaTimeSecondsUsed); ok {
		l.usage.TimeSeconds += v
	}
	if v, ok := metaNumber(meta, MetaRiskSpent); ok {
		l.usage.RiskSpent += v
	}
}

func metaNumber(meta map[string]any, key string) (float64, bool) {
	raw, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// AddUsage records consumption measured outside packet metadata (the
// runner's per-step timing, layer token counts).
func (l *Ledger) AddUsage(tokens int, toolCalls int, timeSeconds float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage.Tokens += tokens
	l.usage.ToolCalls += toolCalls
	l.usage.TimeSeconds += timeSeconds
	l.checkBudgetThresholds(at)
}

// axisRatios returns the consumed/allocated ratio for every budgeted axis.
func (l *Ledger) axisRatios() map[string]float64 {
	ratios := make(map[string]float64)
	if l.budgets.TokenBudget > 0 {
		ratios["tokens"] = float64(l.usage.Tokens) / float64(l.budgets.TokenBudget)
	}
	if l.budgets.ToolCallBudget > 0 {
		ratios["tool_calls"] = float64(l.usage.ToolCalls) / float64(l.budgets.ToolCallBudget)
	}
	if l.budgets.TimeBudgetSeconds > 0 {
		ratios["time"] = l.usage.TimeSeconds / float64(l.budgets.TimeBudgetSeconds)
	}
	return ratios
}

func (l *Ledger) overBudget() bool {
	for _, ratio := range l.axisRatios() {
		if ratio > l.cfg.BudgetHaltRatio {
			return true
		}
	}
	return false
}

// checkBudgetThresholds emits one WARNING event per axis at the warn ratio
// and one HIGH event at full consumption. Caller holds mu.
func (l *Ledger) checkBudgetThresholds(at time.Time) {
	for axis, ratio := range l.axisRatios() {
		if ratio >= l.cfg.BudgetHaltRatio && !l.haltedAxes[axis] {
			l.haltedAxes[axis] = true
			l.events = append(l.events, Event{
				Type:     packet.AlertBudgetExceeded,
				Severity: vocabulary.SeverityHigh,
				Message:  fmt.Sprintf("budget axis %s fully consumed (%.0f%%)", axis, ratio*100),
				At:       at,
			})
		} else if ratio >= l.cfg.BudgetWarnRatio && !l.warnedAxes[axis] {
			l.warnedAxes[axis] = true
			l.events = append(l.events, Event{
				Type:     packet.AlertBudgetWarning,
				Severity: vocabulary.SeverityWarning,
				Message:  fmt.Sprintf("budget axis %s at %.0f%%", axis, ratio*100),
				At:       at,
			})
		}
	}
}

// CheckTimeouts closes every open directive whose deadline has passed,
// emitting a timeout event per task. Returns the expired task ids.
func (l *Ledger) CheckTimeouts(now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []string
	for taskID, od := range l.directives {
		if od.TimeoutSeconds <= 0 {
			continue
		}
		deadline := od.CreatedAt.Add(time.Duration(od.TimeoutSeconds) * time.Second)
		if now.After(deadline) {
			expired = append(expired, taskID)
		}
	}
	for _, taskID := range expired {
		delete(l.directives, taskID)
		l.episode.CloseTask(taskID)
		l.events = append(l.events, Event{
			Type:     packet.AlertTaskTimeout,
			Severity: vocabulary.SeverityHigh,
			Message:  fmt.Sprintf("directive for task %s exceeded its timeout without a result", taskID),
			TaskID:   taskID,
			At:       now,
		})
		l.log.Warn("directive timed out",
			zap.String("correlation_id", l.correlationID),
			zap.String("task_id", taskID))
	}
	return expired
}

// DrainEvents returns and clears the pending event queue.
func (l *Ledger) DrainEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

// RevokeToken marks a token revoked. Safe to call from the integrity
// overlay; the mutation serializes with packet admission.
func (l *Ledger) RevokeToken(tokenID, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[tokenID]
	if !ok || tok.Revoked {
		return false
	}
	tok.Revoked = true
	l.log.Info("token revoked",
		zap.String("correlation_id", l.correlationID),
		zap.String("token_id", tokenID),
		zap.String("reason", reason))
	return true
}

// RevokeAllTokens revokes every active token, returning how many flipped.
func (l *Ledger) RevokeAllTokens(reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tok := range l.tokens {
		if !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	if n > 0 {
		l.log.Info("all tokens revoked",
			zap.String("correlation_id", l.correlationID),
			zap.String("reason", reason),
			zap.Int("count", n))
	}
	return n
}

// SetSafeMode moves the ledger along the posture ladder. HALTED freezes the
// ledger: no further packets admit.
func (l *Ledger) SetSafeMode(mode SafeMode, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.safeMode == mode {
		return
	}
	l.log.Info("safe mode transition",
		zap.String("correlation_id", l.correlationID),
		zap.String("from", string(l.safeMode)),
		zap.String("to", string(mode)),
		zap.String("reason", reason))
	l.safeMode = mode
	if mode == ModeHalted {
		l.frozen = true
	}
}

// FlagContradiction records an unresolved contradiction marker.
func (l *Ledger) FlagContradiction(detail string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contras = append(l.contras, Contradiction{Detail: detail})
	return l.unresolvedContradictions()
}

// resolveContradiction marks the oldest unresolved contradiction resolved.
// Caller holds mu.
func (l *Ledger) resolveContradiction() {
	for i := range l.contras {
		if !l.contras[i].Resolved {
			l.contras[i].Resolved = true
			return
		}
	}
}

func (l *Ledger) unresolvedContradictions() int {
	n := 0
	for _, c := range l.contras {
		if !c.Resolved {
			n++
		}
	}
	return n
}

// OverBudget reports whether any budget axis has exceeded its allocation
// (usage ratio above the configured halt ratio).
func (l *Ledger) OverBudget() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overBudget()
}

// OverrunApproved reports whether an overrun approval has landed.
func (l *Ledger) OverrunApproved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overrunApproved
}

// RouteEscalated forces the episode to the escalated state, for cooperative
// budget-exhaustion handling.
func (l *Ledger) RouteEscalated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.episode.ForceEscalated()
}

// UserInput forwards the northbound user-input signal to the FSM.
func (l *Ledger) UserInput() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.episode.UserInput()
}

// Close applies the episode-close marker and freezes the ledger when it
// lands in a terminal state.
func (l *Ledger) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.episode.Close() {
		return false
	}
	l.frozen = true
	return true
}

// Freeze marks the episode terminal without a close transition (exit step
// reached, safe-mode halt).
func (l *Ledger) Freeze() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = true
}

// Trace returns the FSM transition trace.
func (l *Ledger) Trace() []fsm.Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fsm.Transition(nil), l.episode.Trace()...)
}

// StakesLevel returns the episode's declared stakes.
func (l *Ledger) StakesLevel() vocabulary.StakesLevel { return l.stakesLevel }

// ledgerView adapts the (already locked) ledger to the invariant gate's view
// interface. Only used inside Apply, under mu.
type ledgerView struct{ l *Ledger }

func (v ledgerView) TokenState(tokenID string) (*packet.ToolAuthorizationPayload, bool) {
	tok, ok := v.l.tokens[tokenID]
	return tok, ok
}

func (v ledgerView) BudgetOverruns() []string {
	var out []string
	for axis, ratio := range v.l.axisRatios() {
		if ratio > v.l.cfg.BudgetHaltRatio {
			out = append(out, fmt.Sprintf("%s at %.0f%%", axis, ratio*100))
		}
	}
	return out
}

func (v ledgerView) OverrunApproved() bool { return v.l.overrunApproved }

func (v ledgerView) UnresolvedConflict() bool { return v.l.unresolvedContradictions() > 0 }
