// Package episode defines the persisted episode record, the key-value store
// that holds records by correlation id, and the line-delimited packet log
// format episodes travel in at rest.
package episode

import (
	"encoding/json"
	"time"

	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// StepRecord is the persisted outcome of one executed step.
type StepRecord struct {
	StepID          string             `json:"step_id"`
	Layer           vocabulary.LayerID `json:"layer"`
	Success         bool               `json:"success"`
	PacketsEmitted  int                `json:"packets_emitted"`
	Error           string             `json:"error,omitempty"`
	DurationSeconds float64            `json:"duration_seconds"`
}

// Record is the snapshot written when an episode completes: the final
// ledger view, the per-step outcomes, and the admitted packet stream.
type Record struct {
	CorrelationID string                `json:"correlation_id"`
	TemplateID    vocabulary.TemplateID `json:"template_id,omitempty"`
	Success       bool                  `json:"success"`
	FinalState    vocabulary.FSMState   `json:"final_state"`
	Errors        []string              `json:"errors,omitempty"`
	Steps         []StepRecord          `json:"steps,omitempty"`
	Snapshot      ledger.Snapshot       `json:"snapshot"`
	Packets       []json.RawMessage     `json:"packets,omitempty"`
	CompletedAt   time.Time             `json:"completed_at"`
}

// EncodePackets serializes admitted packets into the record.
func (r *Record) EncodePackets(packets []*packet.Packet) error {
	r.Packets = r.Packets[:0]
	for _, p := range packets {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		r.Packets = append(r.Packets, json.RawMessage(data))
	}
	return nil
}

// DecodePackets parses the record's packet stream back into typed packets.
func (r *Record) DecodePackets() ([]*packet.Packet, error) {
	out := make([]*packet.Packet, 0, len(r.Packets))
	for _, raw := range r.Packets {
		p, err := packet.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
