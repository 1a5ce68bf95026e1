// Package packet defines the typed packet model: the common header, the MCP
// envelope carried by consequential packets, the nine payload variants, and
// the JSON wire codec. Packets are immutable once admitted to a ledger; the
// one sanctioned exception is the usage counter on an authorization token,
// which only the ledger mutates.
package packet

import (
	"time"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Header carries identity and routing for every packet.
type Header struct {
	PacketID         string                `json:"packet_id"`
	PacketKind       vocabulary.PacketKind `json:"packet_kind"`
	CreatedAt        time.Time             `json:"created_at"`
	SourceLayer      vocabulary.LayerID    `json:"source_layer"`
	CorrelationID    string                `json:"correlation_id"`
	CampaignID       string                `json:"campaign_id,omitempty"`
	PreviousPacketID string                `json:"previous_packet_id,omitempty"`
}
