package ledger

import (
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Snapshot is an immutable copy of ledger state for persistence and external
// readers. Two episodes that admitted the same packet stream produce equal
// snapshots.
type Snapshot struct {
	CorrelationID string                `json:"correlation_id"`
	CampaignID    string                `json:"campaign_id,omitempty"`
	TemplateID    vocabulary.TemplateID `json:"template_id,omitempty"`
	State         vocabulary.FSMState   `json:"state"`
	SafeMode      SafeMode              `json:"safe_mode"`
	StakesLevel   vocabulary.StakesLevel `json:"stakes_level"`

	Budgets         packet.Budgets `json:"budgets"`
	Usage           Usage          `json:"usage"`
	OverrunApproved bool           `json:"overrun_approved"`

	Tokens         map[string]packet.ToolAuthorizationPayload `json:"tokens,omitempty"`
	OpenDirectives map[string]OpenDirective                   `json:"open_directives,omitempty"`
	Evidence       []EvidenceEntry                            `json:"evidence,omitempty"`
	Assumptions    []Assumption                               `json:"assumptions,omitempty"`
	Contradictions []Contradiction                            `json:"contradictions,omitempty"`

	PacketIDs []string `json:"packet_ids,omitempty"`
}

// Snapshot returns a deep value copy of the current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		CorrelationID:   l.correlationID,
		CampaignID:      l.campaignID,
		TemplateID:      l.templateID,
		State:           l.episode.Current(),
		SafeMode:        l.safeMode,
		StakesLevel:     l.stakesLevel,
		Budgets:         l.budgets,
		Usage:           l.usage,
		OverrunApproved: l.overrunApproved,
	}

	if len(l.tokens) > 0 {
		snap.Tokens = make(map[string]packet.ToolAuthorizationPayload, len(l.tokens))
		for id, tok := range l.tokens {
			snap.Tokens[id] = *tok
		}
	}
	if len(l.directives) > 0 {
		snap.OpenDirectives = make(map[string]OpenDirective, len(l.directives))
		for id, od := range l.directives {
			snap.OpenDirectives[id] = od
		}
	}
	snap.Evidence = append([]EvidenceEntry(nil), l.evidence...)
	snap.Assumptions = append([]Assumption(nil), l.assumptions...)
	snap.Contradictions = append([]Contradiction(nil), l.contras...)
	for _, p := range l.packets {
		snap.PacketIDs = append(snap.PacketIDs, p.Header.PacketID)
	}
	return snap
}

// Packets returns the admitted packets in admission order.
func (l *Ledger) Packets() []*packet.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*packet.Packet(nil), l.packets...)
}
