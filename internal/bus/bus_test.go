package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/packettest"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func northMessage(corr string) Message {
	return Message{
		Packet:        packettest.Observation(corr, t0),
		SourceLayer:   vocabulary.Layer6TaskProsecution,
		CorrelationID: corr,
		At:            t0,
	}
}

func TestNorthboundRoutesUpOnly(t *testing.T) {
	b := NewNorthbound(nil, 16)
	var gotL5, gotL6, gotIntegrity int
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error { gotL5++; return nil })
	b.Subscribe(vocabulary.Layer6TaskProsecution, func(Message) error { gotL6++; return nil })
	b.Subscribe(vocabulary.LayerIntegrity, func(Message) error { gotIntegrity++; return nil })

	delivered, failures := b.Publish(northMessage("corr_bus_1"))
	assert.Empty(t, failures)
	// Telemetry from L6 reaches L5 and integrity, never back to L6.
	assert.ElementsMatch(t,
		[]vocabulary.LayerID{vocabulary.Layer5CognitiveControl, vocabulary.LayerIntegrity},
		delivered)
	assert.Equal(t, 1, gotL5)
	assert.Equal(t, 0, gotL6)
	assert.Equal(t, 1, gotIntegrity)
}

func TestSouthboundRoutesDownOnly(t *testing.T) {
	b := NewSouthbound(nil, 16)
	var gotL6, gotL4 int
	b.Subscribe(vocabulary.Layer6TaskProsecution, func(Message) error { gotL6++; return nil })
	b.Subscribe(vocabulary.Layer4Executive, func(Message) error { gotL4++; return nil })

	msg := Message{
		Packet:        packettest.Decision("corr_bus_2", t0, vocabulary.OutcomeAct),
		SourceLayer:   vocabulary.Layer5CognitiveControl,
		CorrelationID: "corr_bus_2",
		At:            t0,
	}
	delivered, _ := b.Publish(msg)
	assert.Equal(t, []vocabulary.LayerID{vocabulary.Layer6TaskProsecution}, delivered)
	assert.Equal(t, 1, gotL6)
	assert.Equal(t, 0, gotL4, "directives never travel upward")
}

func TestPointToPointDelivery(t *testing.T) {
	b := NewNorthbound(nil, 16)
	var gotL4, gotL5 int
	b.Subscribe(vocabulary.Layer4Executive, func(Message) error { gotL4++; return nil })
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error { gotL5++; return nil })

	msg := northMessage("corr_bus_3")
	msg.TargetLayer = vocabulary.Layer4Executive
	delivered, _ := b.Publish(msg)
	assert.Equal(t, []vocabulary.LayerID{vocabulary.Layer4Executive}, delivered)
	assert.Equal(t, 0, gotL5)
	assert.Equal(t, 1, gotL4)
}

func TestHandlerFailureDoesNotAbortDelivery(t *testing.T) {
	b := NewNorthbound(nil, 16)
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error {
		return errors.New("subscriber down")
	})
	var gotL1 int
	b.Subscribe(vocabulary.Layer1Aspirational, func(Message) error { gotL1++; return nil })

	delivered, failures := b.Publish(northMessage("corr_bus_4"))
	require.Len(t, failures, 1)
	assert.Equal(t, vocabulary.Layer5CognitiveControl, failures[0].Layer)
	assert.Contains(t, delivered, vocabulary.Layer1Aspirational)
	assert.Equal(t, 1, gotL1)
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := NewNorthbound(nil, 16)
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error { panic("boom") })

	_, failures := b.Publish(northMessage("corr_bus_5"))
	require.Len(t, failures, 1)
}

func TestWrongKindNotCarried(t *testing.T) {
	north := NewNorthbound(nil, 16)
	var got int
	north.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error { got++; return nil })

	msg := Message{
		Packet:        packettest.Decision("corr_bus_6", t0, vocabulary.OutcomeAct),
		SourceLayer:   vocabulary.Layer6TaskProsecution,
		CorrelationID: "corr_bus_6",
	}
	delivered, _ := north.Publish(msg)
	assert.Empty(t, delivered)
	assert.Equal(t, 0, got)
	// Rejected messages do not enter the recent log.
	assert.Empty(t, north.Recent("corr_bus_6", 0))
}

func TestRecentLogBounded(t *testing.T) {
	b := NewNorthbound(nil, 3)
	for i := 0; i < 5; i++ {
		b.Publish(northMessage("corr_bus_log"))
	}
	assert.Len(t, b.Recent("", 0), 3)
	assert.Len(t, b.Recent("corr_bus_log", 2), 2)
	assert.Empty(t, b.Recent("corr_other", 0))
}

func TestSignalReachesSubscribers(t *testing.T) {
	b := NewNorthbound(nil, 16)
	var got Signal
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(m Message) error {
		got = m.Signal
		return nil
	})
	b.Publish(Message{Signal: SignalUserInput, CorrelationID: "corr_bus_sig"})
	assert.Equal(t, SignalUserInput, got)
}

func TestUnsubscribe(t *testing.T) {
	b := NewNorthbound(nil, 16)
	var got int
	b.Subscribe(vocabulary.Layer5CognitiveControl, func(Message) error { got++; return nil })
	b.Unsubscribe(vocabulary.Layer5CognitiveControl)
	b.Publish(northMessage("corr_bus_7"))
	assert.Equal(t, 0, got)
}
