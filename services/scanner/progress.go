package scanner

import (
	"sync"
	"sync/atomic"
	"time"
)

// progressRetention is how long a finished scan's progress entry stays
// readable so a polling client can observe the final state.
const progressRetention = 30 * time.Second

// ProgressSnapshot is the read-only view of a running scan's progress
type ProgressSnapshot struct {
	ScanID        uint    `json:"scan_id"`
	Total         int     `json:"total"`
	ToProcess     int     `json:"to_process"`
	Skipped       int     `json:"skipped"`
	Completed     int     `json:"completed"`
	CurrentSymbol *string `json:"current_symbol"`
	Errors        int     `json:"errors"`
}

// scanProgress tracks one scan's live counters. Completed and error
// counts are incremented atomically because symbol pipelines finish
// concurrently.
type scanProgress struct {
	scanID    uint
	total     int
	toProcess int
	skipped   int

	completed atomic.Int64
	errors    atomic.Int64

	mu            sync.Mutex
	currentSymbol *string
}

func (p *scanProgress) setCurrent(symbol string) {
	p.mu.Lock()
	p.currentSymbol = &symbol
	p.mu.Unlock()
}

func (p *scanProgress) clearCurrent() {
	p.mu.Lock()
	p.currentSymbol = nil
	p.mu.Unlock()
}

func (p *scanProgress) snapshot() ProgressSnapshot {
	p.mu.Lock()
	current := p.currentSymbol
	p.mu.Unlock()

	return ProgressSnapshot{
		ScanID:        p.scanID,
		Total:         p.total,
		ToProcess:     p.toProcess,
		Skipped:       p.skipped,
		Completed:     int(p.completed.Load()),
		CurrentSymbol: current,
		Errors:        int(p.errors.Load()),
	}
}

// progressRegistry holds live progress per scan ID
type progressRegistry struct {
	mu      sync.RWMutex
	entries map[uint]*scanProgress
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{entries: make(map[uint]*scanProgress)}
}

func (r *progressRegistry) create(scanID uint, total, toProcess, skipped int) *scanProgress {
	p := &scanProgress{
		scanID:    scanID,
		total:     total,
		toProcess: toProcess,
		skipped:   skipped,
	}
	r.mu.Lock()
	r.entries[scanID] = p
	r.mu.Unlock()
	return p
}

func (r *progressRegistry) get(scanID uint) (ProgressSnapshot, bool) {
	r.mu.RLock()
	p, ok := r.entries[scanID]
	r.mu.RUnlock()
	if !ok {
		return ProgressSnapshot{}, false
	}
	return p.snapshot(), true
}

// retire keeps the entry readable for the retention period, then drops it
func (r *progressRegistry) retire(scanID uint) {
	time.AfterFunc(progressRetention, func() {
		r.mu.Lock()
		delete(r.entries, scanID)
		r.mu.Unlock()
	})
}
