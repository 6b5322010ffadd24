// Package search ranks index snapshots against fuzzy queries.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
)

// chunkSize is how many entries are scanned between cancellation checks.
const chunkSize = 8192

// Result is one scored hit.
type Result struct {
	Entry ntfind.FileEntry
	Score int
}

// Response carries a query's outcome. Results holds at most the requested
// limit; TotalMatches counts every entry that matched across the whole
// snapshot.
type Response struct {
	Results      []Result
	TotalMatches int
	Elapsed      time.Duration
}

// Engine runs ranked queries against index snapshots.
//
// One query is live per engine at a time: issuing a new query cancels the
// previous one, which returns ErrCancelled with no partial results. A
// stale keystroke's query therefore never competes with the current one
// for scan time.
type Engine struct {
	weight       int
	defaultLimit int

	qmu    sync.Mutex
	qseq   uint64
	cancel context.CancelFunc

	metrics metrics
	log     util.Logger
}

// NewEngine builds an engine. filenameWeight scales name-match scores over
// path-match scores; defaultLimit applies when Query gets limit <= 0.
func NewEngine(filenameWeight, defaultLimit int) *Engine {
	if filenameWeight < 1 {
		filenameWeight = 1
	}
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	return &Engine{
		weight:       filenameWeight,
		defaultLimit: defaultLimit,
		log:          util.GetLogger("search"),
	}
}

// nameSource and pathSource expose one entry slice to the matcher under
// its two searchable strings.
type nameSource []ntfind.FileEntry

func (s nameSource) String(i int) string { return s[i].Name }
func (s nameSource) Len() int            { return len(s) }

type pathSource []ntfind.FileEntry

func (s pathSource) String(i int) string { return s[i].Path }
func (s pathSource) Len() int            { return len(s) }

// Query scans snap for entries passing every predicate and fuzzy-matching
// text. Ranking: score = max(nameScore x filenameWeight, pathScore);
// ties break to the shorter path, then lexicographically, so equal inputs
// give identical output ordering. Empty text with predicates returns all
// predicate matches at score zero; empty text without predicates returns
// an empty response.
func (e *Engine) Query(ctx context.Context, snap *index.Snapshot, text string, preds []ntfind.Predicate, limit int) (*Response, error) {
	if limit <= 0 {
		limit = e.defaultLimit
	}
	start := time.Now()
	e.metrics.queries.Add(1)

	qctx, seq := e.supersede(ctx)
	defer e.finish(seq)

	if text == "" && len(preds) == 0 {
		return &Response{Results: []Result{}, Elapsed: time.Since(start)}, nil
	}

	top := newTopK(limit)
	total := 0
	entries := snap.Entries()

	filtered := make([]ntfind.FileEntry, 0, chunkSize)
	for off := 0; off < len(entries); off += chunkSize {
		if qctx.Err() != nil {
			return nil, fmt.Errorf("query %q: %w", text, ntfind.ErrCancelled)
		}
		end := off + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[off:end]
		e.metrics.scanned.Add(uint64(len(chunk)))

		filtered = filtered[:0]
		for i := range chunk {
			if ntfind.MatchAll(preds, &chunk[i]) {
				filtered = append(filtered, chunk[i])
			}
		}
		if len(filtered) == 0 {
			continue
		}

		if text == "" {
			// Pure filter query: everything that passed matches.
			for _, en := range filtered {
				total++
				top.offer(Result{Entry: en})
			}
			continue
		}

		total += e.scoreChunk(top, filtered, text)
	}

	// The last chunk may have been scanned while a newer query took over.
	if qctx.Err() != nil {
		return nil, fmt.Errorf("query %q: %w", text, ntfind.ErrCancelled)
	}

	elapsed := time.Since(start)
	e.metrics.record(uint64(total), elapsed)
	e.log.Debug().
		Str("query", text).
		Int("matches", total).
		Int("returned", top.Len()).
		Dur("elapsed", elapsed).
		Msg("query complete")

	return &Response{Results: top.sorted(), TotalMatches: total, Elapsed: elapsed}, nil
}

// Metrics returns a point-in-time view of the engine's counters.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.snapshot() }

// scoreChunk matches text against names and paths and offers the better
// score per entry.
func (e *Engine) scoreChunk(top *topK, chunk []ntfind.FileEntry, text string) int {
	matched := make([]bool, len(chunk))
	scores := make([]int, len(chunk))

	for _, m := range fuzzy.FindFrom(text, nameSource(chunk)) {
		s := m.Score * e.weight
		if !matched[m.Index] || s > scores[m.Index] {
			matched[m.Index] = true
			scores[m.Index] = s
		}
	}
	for _, m := range fuzzy.FindFrom(text, pathSource(chunk)) {
		if !matched[m.Index] || m.Score > scores[m.Index] {
			matched[m.Index] = true
			scores[m.Index] = m.Score
		}
	}

	n := 0
	for i, ok := range matched {
		if !ok {
			continue
		}
		n++
		top.offer(Result{Entry: chunk[i], Score: scores[i]})
	}
	return n
}

// supersede cancels the engine's previous query and registers this one.
func (e *Engine) supersede(ctx context.Context) (context.Context, uint64) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	qctx, cancel := context.WithCancel(ctx)
	e.qseq++
	e.cancel = cancel
	return qctx, e.qseq
}

// finish releases this query's slot unless a newer query owns it.
func (e *Engine) finish(seq uint64) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.qseq == seq && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
