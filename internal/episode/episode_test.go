package episode

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/packettest"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func sampleRecord(t *testing.T, corr string) *Record {
	t.Helper()
	rec := &Record{
		CorrelationID: corr,
		TemplateID:    vocabulary.TemplateGrounding,
		Success:       true,
		FinalState:    vocabulary.StateIdle,
		Steps: []StepRecord{
			{StepID: "sense", Layer: vocabulary.Layer6TaskProsecution, Success: true, PacketsEmitted: 1},
		},
		Snapshot:    ledger.Snapshot{CorrelationID: corr, State: vocabulary.StateIdle, SafeMode: ledger.ModeNormal},
		CompletedAt: t0,
	}
	require.NoError(t, rec.EncodePackets([]*packet.Packet{
		packettest.Observation(corr, t0),
		packettest.BeliefUpdate(corr, t0.Add(time.Second)),
	}))
	return rec
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := sampleRecord(t, "corr_store_1")
	require.NoError(t, store.Put(ctx, rec))

	loaded, err := store.Get(ctx, "corr_store_1")
	require.NoError(t, err)
	assert.Equal(t, rec.CorrelationID, loaded.CorrelationID)
	assert.Equal(t, rec.TemplateID, loaded.TemplateID)
	assert.True(t, loaded.Success)
	require.Len(t, loaded.Packets, 2)

	packets, err := loaded.DecodePackets()
	require.NoError(t, err)
	assert.Equal(t, vocabulary.KindObservation, packets[0].Kind())
	assert.Equal(t, vocabulary.KindBeliefUpdate, packets[1].Kind())
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := sampleRecord(t, "corr_store_2")
	require.NoError(t, store.Put(ctx, rec))

	rec.Success = false
	rec.FinalState = vocabulary.StateSafeMode
	require.NoError(t, store.Put(ctx, rec))

	loaded, err := store.Get(ctx, "corr_store_2")
	require.NoError(t, err)
	assert.False(t, loaded.Success)
	assert.Equal(t, vocabulary.StateSafeMode, loaded.FinalState)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"corr_store_2"}, ids)
}

func TestSQLiteStoreMissing(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "corr_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONLRoundTripPreservesOrder(t *testing.T) {
	corr := "corr_jsonl"
	stream := []*packet.Packet{
		packettest.Observation(corr, t0),
		packettest.BeliefUpdate(corr, t0.Add(time.Second)),
		packettest.Decision(corr, t0.Add(2*time.Second), vocabulary.OutcomeDefer),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, stream))

	parsed, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	for i := range stream {
		assert.Equal(t, stream[i].Header.PacketID, parsed[i].Header.PacketID)
		assert.Equal(t, stream[i].Kind(), parsed[i].Kind())
	}
}

func TestJSONLRejectsMalformedLine(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"header":{"packet_kind":"NopePacket"},"payload":{}}` + "\n")
	_, err := ReadJSONL(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestJSONLFileHelpers(t *testing.T) {
	corr := "corr_jsonl_file"
	path := filepath.Join(t.TempDir(), "episode.jsonl")
	stream := []*packet.Packet{packettest.Observation(corr, t0)}

	require.NoError(t, WriteJSONLFile(path, stream))
	parsed, err := ReadJSONLFile(path)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, stream[0].Header.PacketID, parsed[0].Header.PacketID)
}
