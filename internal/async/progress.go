// Package async runs index builds in the background: one build at a
// time, serialized across processes by a lock file, bounded by the
// configured timeout, with queryable progress.
package async

import (
	"sync"
	"time"
)

// Build states.
const (
	StateIdle     = "idle"
	StateBuilding = "building"
	StateReady    = "ready"
	StateError    = "error"
	StateTimeout  = "timeout"
)

// Progress tracks the state of the current (or last) build.
type Progress struct {
	mu sync.Mutex

	state       string
	message     string
	chunksTotal int
	chunksDone  int
	startedAt   time.Time
	finishedAt  time.Time
}

// ProgressSnapshot is a point-in-time copy safe to serialize.
type ProgressSnapshot struct {
	State       string        `json:"state"`
	Message     string        `json:"message,omitempty"`
	ChunksTotal int           `json:"chunks_total"`
	ChunksDone  int           `json:"chunks_done"`
	Elapsed     time.Duration `json:"elapsed"`
}

// NewProgress starts in the idle state.
func NewProgress() *Progress {
	return &Progress{state: StateIdle}
}

// SetBuilding marks the build as started.
func (p *Progress) SetBuilding(chunksTotal int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateBuilding
	p.message = ""
	p.chunksTotal = chunksTotal
	p.chunksDone = 0
	p.startedAt = time.Now()
	p.finishedAt = time.Time{}
}

// Advance records completed chunks.
func (p *Progress) Advance(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksDone = done
}

// SetReady marks the build as completed.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateReady
	p.finishedAt = time.Now()
}

// SetError records a failed build.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateError
	p.message = message
	p.finishedAt = time.Now()
}

// SetTimeout records a build abandoned at its deadline. Partial index
// state is kept, so timeout is reported distinctly from error.
func (p *Progress) SetTimeout(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateTimeout
	p.message = message
	p.finishedAt = time.Now()
}

// State returns the current state string.
func (p *Progress) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Duration(0)
	if !p.startedAt.IsZero() {
		end := p.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(p.startedAt)
	}
	return ProgressSnapshot{
		State:       p.state,
		Message:     p.message,
		ChunksTotal: p.chunksTotal,
		ChunksDone:  p.chunksDone,
		Elapsed:     elapsed,
	}
}
