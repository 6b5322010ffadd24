package drives

import (
	"sync"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/mft"
	"github.com/ntfind/ntfind/monitor"
	"github.com/ntfind/ntfind/search"
)

// State of one volume pipeline.
type State int

const (
	// StateScanning: the initial bulk load is running; not searchable yet.
	StateScanning State = iota + 1
	// StateReady: index built, queries served, monitor applying changes.
	StateReady
	// StateRescanning: the index is being rebuilt; queries are served from
	// the outgoing build until the new one replaces it.
	StateRescanning
	// StateUnavailable: the volume could not be opened or scanned. Other
	// volumes are unaffected.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateReady:
		return "ready"
	case StateRescanning:
		return "rescanning"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// pipeline owns one volume end to end: its index, its engine and the
// monitor keeping the index current.
type pipeline struct {
	volume string
	ix     *index.FileIndex
	engine *search.Engine

	mu      sync.Mutex
	state   State
	mon     *monitor.Monitor
	running bool
	lastErr error
	lastBm  ntfind.Bookmark
	scan    mft.Stats
}

func (p *pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *pipeline) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// fail marks the pipeline unusable and records why.
func (p *pipeline) fail(err error) {
	p.mu.Lock()
	p.state = StateUnavailable
	p.lastErr = err
	p.mu.Unlock()
}

func (p *pipeline) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *pipeline) lastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *pipeline) setMonitor(m *monitor.Monitor) {
	p.mu.Lock()
	p.mon = m
	p.mu.Unlock()
}

func (p *pipeline) monitor() *monitor.Monitor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mon
}

// setLastBookmark records where updates stopped when a monitor exits, so
// a later save can still pair the index with that position.
func (p *pipeline) setLastBookmark(b ntfind.Bookmark) {
	p.mu.Lock()
	p.lastBm = b
	p.mu.Unlock()
}

func (p *pipeline) lastBookmark() ntfind.Bookmark {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBm
}

func (p *pipeline) setScanStats(s mft.Stats) {
	p.mu.Lock()
	p.scan = s
	p.mu.Unlock()
}

func (p *pipeline) scanStats() mft.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scan
}

// searchable reports whether queries should fan out to this pipeline.
// Rescanning still serves the outgoing index.
func (p *pipeline) searchable() bool {
	s := p.getState()
	return s == StateReady || s == StateRescanning
}

// tryStartRun claims the single monitor-goroutine slot.
func (p *pipeline) tryStartRun() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *pipeline) endRun() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}
