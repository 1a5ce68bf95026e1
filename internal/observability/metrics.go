// Package observability provides lightweight process metrics for the
// runtime: packet admission counters per kind, invariant hit counters per
// rule code, and episode totals. A process-wide default instance exists for
// convenience; prefer injecting a dedicated instance and use Reset for test
// isolation.
package observability

import (
	"sync"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Metrics is a set of monotonic counters.
type Metrics struct {
	mu              sync.Mutex
	packetsAdmitted map[vocabulary.PacketKind]int
	packetsRejected map[vocabulary.PacketKind]int
	invariantHits   map[string]int
	episodesRun     int
	episodesFailed  int
}

// New returns an empty metrics instance.
func New() *Metrics {
	m := &Metrics{}
	m.reset()
	return m
}

// Default is the process-wide instance.
var Default = New()

func (m *Metrics) reset() {
	m.packetsAdmitted = make(map[vocabulary.PacketKind]int)
	m.packetsRejected = make(map[vocabulary.PacketKind]int)
	m.invariantHits = make(map[string]int)
	m.episodesRun = 0
	m.episodesFailed = 0
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// PacketAdmitted counts a packet that passed all gates.
func (m *Metrics) PacketAdmitted(kind vocabulary.PacketKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsAdmitted[kind]++
}

// PacketRejected counts a packet that failed a gate.
func (m *Metrics) PacketRejected(kind vocabulary.PacketKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsRejected[kind]++
}

// InvariantHit counts a rule firing (error or warning) by code.
func (m *Metrics) InvariantHit(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invariantHits[code]++
}

// EpisodeFinished counts a completed episode.
func (m *Metrics) EpisodeFinished(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodesRun++
	if !success {
		m.episodesFailed++
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	PacketsAdmitted map[vocabulary.PacketKind]int
	PacketsRejected map[vocabulary.PacketKind]int
	InvariantHits   map[string]int
	EpisodesRun     int
	EpisodesFailed  int
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		PacketsAdmitted: make(map[vocabulary.PacketKind]int, len(m.packetsAdmitted)),
		PacketsRejected: make(map[vocabulary.PacketKind]int, len(m.packetsRejected)),
		InvariantHits:   make(map[string]int, len(m.invariantHits)),
		EpisodesRun:     m.episodesRun,
		EpisodesFailed:  m.episodesFailed,
	}
	for k, v := range m.packetsAdmitted {
		snap.PacketsAdmitted[k] = v
	}
	for k, v := range m.packetsRejected {
		snap.PacketsRejected[k] = v
	}
	for k, v := range m.invariantHits {
		snap.InvariantHits[k] = v
	}
	return snap
}
