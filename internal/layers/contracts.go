// Package layers defines the six cognitive layer contracts and the pool the
// runner invokes them through. Cognition itself is a plug-in: anything that
// satisfies the Cognition function type can occupy a layer slot; the pool
// only enforces the emission and reception contracts around it.
package layers

import (
	"context"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/template"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// kindSet is a fixed set of packet kinds.
type kindSet map[vocabulary.PacketKind]bool

func kinds(ks ...vocabulary.PacketKind) kindSet {
	s := make(kindSet, len(ks))
	for _, k := range ks {
		s[k] = true
	}
	return s
}

// Contract fixes what a layer may emit and receive.
type Contract struct {
	Layer       vocabulary.LayerID
	Description string
	canEmit     kindSet
	canReceive  kindSet
}

// AllowsEmit reports whether the layer may emit the kind.
func (c Contract) AllowsEmit(k vocabulary.PacketKind) bool { return c.canEmit[k] }

// AllowsReceive reports whether the layer may receive the kind.
func (c Contract) AllowsReceive(k vocabulary.PacketKind) bool { return c.canReceive[k] }

// The canonical contracts. Layer 1 holds the veto, layers 2-4 shape beliefs,
// layer 5 decides and directs, layer 6 touches the world.
var contracts = map[vocabulary.LayerID]Contract{
	vocabulary.Layer1Aspirational: {
		Layer:       vocabulary.Layer1Aspirational,
		Description: "Aspirational: law, posture, constitutional vetoes.",
		canEmit:     kinds(vocabulary.KindIntegrityAlert, vocabulary.KindBeliefUpdate),
		canReceive: kinds(
			vocabulary.KindObservation, vocabulary.KindBeliefUpdate, vocabulary.KindDecision,
			vocabulary.KindTaskResult, vocabulary.KindEscalation, vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.Layer2Strategy: {
		Layer:       vocabulary.Layer2Strategy,
		Description: "Global strategy: campaign framing and direction.",
		canEmit:     kinds(vocabulary.KindBeliefUpdate),
		canReceive: kinds(
			vocabulary.KindObservation, vocabulary.KindBeliefUpdate, vocabulary.KindDecision,
			vocabulary.KindTaskResult, vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.Layer3SelfModel: {
		Layer:       vocabulary.Layer3SelfModel,
		Description: "Self model: capability truth and tools-state assessment.",
		canEmit:     kinds(vocabulary.KindBeliefUpdate),
		canReceive: kinds(
			vocabulary.KindObservation, vocabulary.KindBeliefUpdate,
			vocabulary.KindTaskResult, vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.Layer4Executive: {
		Layer:       vocabulary.Layer4Executive,
		Description: "Executive: budgets, definition of done, feasibility.",
		canEmit:     kinds(vocabulary.KindBeliefUpdate),
		canReceive: kinds(
			vocabulary.KindObservation, vocabulary.KindBeliefUpdate, vocabulary.KindDecision,
			vocabulary.KindVerificationPlan, vocabulary.KindTaskResult, vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.Layer5CognitiveControl: {
		Layer:       vocabulary.Layer5CognitiveControl,
		Description: "Cognitive control: orchestration, decisions, token issuance.",
		canEmit: kinds(
			vocabulary.KindDecision, vocabulary.KindVerificationPlan,
			vocabulary.KindToolAuthorization, vocabulary.KindTaskDirective,
			vocabulary.KindEscalation, vocabulary.KindBeliefUpdate,
		),
		canReceive: kinds(
			vocabulary.KindObservation, vocabulary.KindBeliefUpdate,
			vocabulary.KindTaskResult, vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.Layer6TaskProsecution: {
		Layer:       vocabulary.Layer6TaskProsecution,
		Description: "Task prosecution: execution, grounding, observation.",
		canEmit: kinds(
			vocabulary.KindObservation, vocabulary.KindTaskResult, vocabulary.KindBeliefUpdate,
		),
		canReceive: kinds(
			vocabulary.KindDecision, vocabulary.KindVerificationPlan,
			vocabulary.KindToolAuthorization, vocabulary.KindTaskDirective,
			vocabulary.KindIntegrityAlert,
		),
	},
	vocabulary.LayerIntegrity: {
		Layer:       vocabulary.LayerIntegrity,
		Description: "Integrity overlay: health monitoring, budget enforcement, safe modes.",
		canEmit:     kinds(vocabulary.KindIntegrityAlert),
		canReceive:  kinds(vocabulary.AllPacketKinds...),
	},
}

// ContractFor returns the contract for a layer.
func ContractFor(layer vocabulary.LayerID) (Contract, bool) {
	c, ok := contracts[layer]
	return c, ok
}

// StepContext is the per-step context the runner hands a layer.
type StepContext struct {
	StepID     string
	TemplateID vocabulary.TemplateID
	EmitKind   vocabulary.PacketKind
	Bindings   map[string]string
	Envelope   packet.MCP
}

// Input is what a layer invocation receives.
type Input struct {
	Layer         vocabulary.LayerID
	Packets       []*packet.Packet
	CorrelationID string
	CampaignID    string
	Step          StepContext
}

// Output is what a layer invocation returns: candidate packets for the
// validation pipeline.
type Output struct {
	Packets []*packet.Packet
}

// Cognition is the external layer contract: given received packets plus
// static per-layer configuration, produce candidate packets. Implementations
// must honor ctx cancellation; the runner treats the call as its only
// blocking suspension point.
type Cognition func(ctx context.Context, in Input) (Output, error)

// Binding keys are shared with the template compiler.
const (
	BindDecisionOutcome    = template.BindDecisionOutcome
	BindToolSafety         = template.BindToolSafety
	BindEpistemicStatus    = template.BindEpistemicStatus
	BindReferencesEvidence = template.BindReferencesEvidence
	BindComplete           = template.BindComplete
	BindTrigger            = template.BindTrigger
)
