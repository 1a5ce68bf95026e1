package layers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/protoerr"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Pool holds the cognition functions occupying the six layer slots and
// enforces contracts around every invocation: inbound packets are filtered
// to the layer's reception set, and an emission outside the layer's set
// fails the invocation.
type Pool struct {
	log       *zap.Logger
	cognition map[vocabulary.LayerID]Cognition
}

// NewPool returns an empty pool.
func NewPool(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		log:       log,
		cognition: make(map[vocabulary.LayerID]Cognition),
	}
}

// Register installs a cognition function for a layer, replacing any prior
// occupant.
func (p *Pool) Register(layer vocabulary.LayerID, fn Cognition) error {
	if _, ok := ContractFor(layer); !ok {
		return fmt.Errorf("register layer %s: no contract defined", layer)
	}
	p.cognition[layer] = fn
	return nil
}

// Has reports whether a layer slot is occupied.
func (p *Pool) Has(layer vocabulary.LayerID) bool {
	_, ok := p.cognition[layer]
	return ok
}

// Invoke calls the layer's cognition with the reception-filtered input and
// returns its emissions after the emission check. A packet outside the
// layer's emission contract fails the whole invocation with
// ErrLayerContract; nothing from that invocation is forwarded.
func (p *Pool) Invoke(ctx context.Context, layer vocabulary.LayerID, in Input) ([]*packet.Packet, error) {
	contract, ok := ContractFor(layer)
	if !ok {
		return nil, fmt.Errorf("invoke layer %s: no contract defined", layer)
	}
	fn, ok := p.cognition[layer]
	if !ok {
		return nil, fmt.Errorf("invoke layer %s: no cognition registered", layer)
	}

	// Pre-filter: the layer only sees what it may receive.
	received := make([]*packet.Packet, 0, len(in.Packets))
	for _, pk := range in.Packets {
		if contract.AllowsReceive(pk.Kind()) {
			received = append(received, pk)
		}
	}
	in.Packets = received
	in.Layer = layer

	out, err := fn(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("invoke layer %s: %w", layer, err)
	}

	// Post-filter: an out-of-contract emission drops the packet and fails
	// the step.
	for _, pk := range out.Packets {
		if !contract.AllowsEmit(pk.Kind()) {
			p.log.Warn("layer emitted packet outside its contract",
				zap.String("layer", string(layer)),
				zap.String("kind", string(pk.Kind())),
				zap.String("packet_id", pk.Header.PacketID))
			return nil, fmt.Errorf("layer %s emitted %s: %w",
				layer, pk.Kind(), protoerr.ErrLayerContract)
		}
	}
	return out.Packets, nil
}
