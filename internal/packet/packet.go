package packet

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Packet is the wire unit: a header, an optional MCP envelope, and a payload
// whose concrete type is selected by the header kind. The envelope is
// mandatory for consequential kinds; the schema validator enforces that.
type Packet struct {
	Header  Header
	MCP     *MCP
	Payload Payload
}

// Kind returns the header kind.
func (p *Packet) Kind() vocabulary.PacketKind { return p.Header.PacketKind }

// Consequential reports whether this packet requires a full MCP envelope.
func (p *Packet) Consequential() bool { return p.Header.PacketKind.Consequential() }

// wirePacket is the three-field JSON shape.
type wirePacket struct {
	Header  Header          `json:"header"`
	MCP     *MCP            `json:"mcp,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the packet in the {header, mcp, payload} wire shape.
func (p *Packet) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Header.PacketKind, err)
	}
	return json.Marshal(wirePacket{Header: p.Header, MCP: p.MCP, Payload: raw})
}

// UnmarshalJSON decodes the wire shape, selecting the payload type from the
// header kind. Packets with a missing or unknown kind are rejected; the
// runtime never infers a kind from payload keys.
func (p *Packet) UnmarshalJSON(data []byte) error {
	var wire wirePacket
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("decode packet: %w", err)
	}
	if wire.Header.PacketKind == "" {
		return fmt.Errorf("decode packet: header.packet_kind is required")
	}
	if !wire.Header.PacketKind.Valid() {
		return fmt.Errorf("decode packet: unknown packet kind %q", wire.Header.PacketKind)
	}

	payload, err := decodePayload(wire.Header.PacketKind, wire.Payload)
	if err != nil {
		return err
	}

	p.Header = wire.Header
	p.MCP = wire.MCP
	p.Payload = payload
	return nil
}

func decodePayload(kind vocabulary.PacketKind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	unmarshal := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	}

	switch kind {
	case vocabulary.KindObservation:
		return unmarshal(&ObservationPayload{})
	case vocabulary.KindBeliefUpdate:
		return unmarshal(&BeliefUpdatePayload{})
	case vocabulary.KindDecision:
		return unmarshal(&DecisionPayload{})
	case vocabulary.KindVerificationPlan:
		return unmarshal(&VerificationPlanPayload{})
	case vocabulary.KindToolAuthorization:
		return unmarshal(&ToolAuthorizationPayload{})
	case vocabulary.KindTaskDirective:
		return unmarshal(&TaskDirectivePayload{})
	case vocabulary.KindTaskResult:
		return unmarshal(&TaskResultPayload{})
	case vocabulary.KindEscalation:
		return unmarshal(&EscalationPayload{})
	case vocabulary.KindIntegrityAlert:
		return unmarshal(&IntegrityAlertPayload{})
	}
	return nil, fmt.Errorf("decode packet: unknown packet kind %q", kind)
}

// Decode parses a single packet from JSON bytes.
func Decode(data []byte) (*Packet, error) {
	var p Packet
	if err := p.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// Typed payload accessors. Each returns (payload, true) when the packet's
// payload has the matching concrete type.

// Observation returns the observation payload, if any.
func (p *Packet) Observation() (*ObservationPayload, bool) {
	v, ok := p.Payload.(*ObservationPayload)
	return v, ok
}

// BeliefUpdate returns the belief-update payload, if any.
func (p *Packet) BeliefUpdate() (*BeliefUpdatePayload, bool) {
	v, ok := p.Payload.(*BeliefUpdatePayload)
	return v, ok
}

// Decision returns the decision payload, if any.
func (p *Packet) Decision() (*DecisionPayload, bool) {
	v, ok := p.Payload.(*DecisionPayload)
	return v, ok
}

// VerificationPlan returns the verification-plan payload, if any.
func (p *Packet) VerificationPlan() (*VerificationPlanPayload, bool) {
	v, ok := p.Payload.(*VerificationPlanPayload)
	return v, ok
}

// ToolAuthorization returns the token payload, if any.
func (p *Packet) ToolAuthorization() (*ToolAuthorizationPayload, bool) {
	v, ok := p.Payload.(*ToolAuthorizationPayload)
	return v, ok
}

// TaskDirective returns the directive payload, if any.
func (p *Packet) TaskDirective() (*TaskDirectivePayload, bool) {
	v, ok := p.Payload.(*TaskDirectivePayload)
	return v, ok
}

// TaskResult returns the result payload, if any.
func (p *Packet) TaskResult() (*TaskResultPayload, bool) {
	v, ok := p.Payload.(*TaskResultPayload)
	return v, ok
}

// Escalation returns the escalation payload, if any.
func (p *Packet) Escalation() (*EscalationPayload, bool) {
	v, ok := p.Payload.(*EscalationPayload)
	return v, ok
}

// IntegrityAlert returns the alert payload, if any.
func (p *Packet) IntegrityAlert() (*IntegrityAlertPayload, bool) {
	v, ok := p.Payload.(*IntegrityAlertPayload)
	return v, ok
}
