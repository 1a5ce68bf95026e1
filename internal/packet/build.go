package packet

import (
	"time"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// New assembles a packet with a fresh packet id and the given creation time.
// The payload's kind becomes the header kind.
func New(source vocabulary.LayerID, correlationID string, createdAt time.Time, payload Payload) *Packet {
	return &Packet{
		Header: Header{
			PacketID:      NewPacketID(),
			PacketKind:    payload.Kind(),
			CreatedAt:     createdAt,
			SourceLayer:   source,
			CorrelationID: correlationID,
		},
		Payload: payload,
	}
}

// WithMCP attaches an envelope and returns the packet for chaining.
func (p *Packet) WithMCP(mcp MCP) *Packet {
	p.MCP = &mcp
	return p
}

// WithCampaign sets the campaign id and returns the packet for chaining.
func (p *Packet) WithCampaign(campaignID string) *Packet {
	p.Header.CampaignID = campaignID
	return p
}

// WithPrevious chains the packet to its predecessor.
func (p *Packet) WithPrevious(packetID string) *Packet {
	p.Header.PreviousPacketID = packetID
	return p
}
