package episode

import (
	"fmt"

	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/invariant"
	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// ReplayOptions tune log replay.
type ReplayOptions struct {
	// SkipTimestampChecks disables evidence freshness windows, for
	// validating historical logs long after capture.
	SkipTimestampChecks bool
	// InitialState overrides the inferred entry state for logs that begin
	// mid-flow.
	InitialState vocabulary.FSMState
}

// ReplayReport summarizes a replayed episode log.
type ReplayReport struct {
	CorrelationID string
	Admitted      int
	FinalState    vocabulary.FSMState
	Snapshot      ledger.Snapshot
	// Diagnostics holds per-packet findings, indexed in stream order; only
	// the failing packet (if any) carries errors.
	Diagnostics []diag.Result
	// FailedAt is the zero-based index of the rejected packet, or -1.
	FailedAt int
	Err      error
}

// OK reports whether the whole stream was admitted.
func (r ReplayReport) OK() bool { return r.Err == nil }

// Replay validates an ordered packet stream against a fresh ledger: schema,
// sequencing, and invariants, exactly as live admission would. The stream
// must share one correlation id.
func Replay(packets []*packet.Packet, opts ReplayOptions) ReplayReport {
	report := ReplayReport{FailedAt: -1}
	if len(packets) == 0 {
		report.Err = fmt.Errorf("empty episode log")
		return report
	}
	report.CorrelationID = packets[0].Header.CorrelationID

	initial := opts.InitialState
	if initial == "" {
		initial = inferInitialState(packets[0])
	}

	invOpts := invariant.DefaultOptions()
	invOpts.SkipTimestampChecks = opts.SkipTimestampChecks

	led := ledger.New(report.CorrelationID,
		ledger.WithInitialState(initial),
		ledger.WithInvariantOptions(invOpts),
	)

	for i, p := range packets {
		res, err := led.Apply(p)
		report.Diagnostics = append(report.Diagnostics, res)
		if err != nil {
			report.FailedAt = i
			report.Err = fmt.Errorf("packet %d (%s): %w", i, p.Header.PacketID, err)
			break
		}
		report.Admitted++
	}

	report.FinalState = led.State()
	report.Snapshot = led.Snapshot()
	return report
}

// inferInitialState guesses the entry state for a log that starts mid-flow.
// A log beginning with an observation starts idle; one beginning with a
// decision was compiled into the deciding state.
func inferInitialState(first *packet.Packet) vocabulary.FSMState {
	switch first.Kind() {
	case vocabulary.KindObservation:
		return vocabulary.StateIdle
	case vocabulary.KindBeliefUpdate:
		return vocabulary.StateSense
	case vocabulary.KindDecision:
		return vocabulary.StateDecide
	default:
		return vocabulary.StateIdle
	}
}
