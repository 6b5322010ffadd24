package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/index"
	"github.com/ntfind/ntfind/internal/util"
)

func snapOf(t *testing.T, paths ...string) *index.Snapshot {
	t.Helper()
	entries := make([]ntfind.FileEntry, len(paths))
	for i, p := range paths {
		entries[i] = ntfind.FileEntry{
			ID:   ntfind.NewFileID(uint64(i+100), 1),
			Name: util.LastSegment(p),
			Path: p,
			Size: uint64(i),
		}
	}
	ix := index.New()
	ix.BulkLoad(entries)
	return ix.Snapshot()
}

func resultPaths(r *Response) []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Entry.Path
	}
	return out
}

func TestQuery_SubsequenceMatch(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\Users\docs\readme.txt`,
		`C:\Users\docs\budget.xlsx`,
		`C:\Windows\system32\kernel32.dll`,
	)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "rdme", nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, `C:\Users\docs\readme.txt`, resp.Results[0].Entry.Path)
}

func TestQuery_CaseInsensitive(t *testing.T) {
	t.Parallel()

	snap := snapOf(t, `C:\projects\README.md`)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "readme", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestQuery_NameOutranksPath(t *testing.T) {
	t.Parallel()

	// One entry matches in its name, the other only in its directory.
	snap := snapOf(t,
		`C:\archive\report.pdf`,
		`C:\reports\data.csv`,
	)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "report", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, `C:\archive\report.pdf`, resp.Results[0].Entry.Path)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestQuery_LimitAndTotalMatches(t *testing.T) {
	t.Parallel()

	paths := make([]string, 40)
	for i := range paths {
		paths[i] = `C:\logs\app` + string(rune('a'+i%26)) + `\trace.log`
	}
	// Distinct paths are required; suffix with the index.
	for i := range paths {
		paths[i] = paths[i] + "." + string(rune('0'+i%10)) + string(rune('0'+i/10))
	}
	snap := snapOf(t, paths...)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "trace", nil, 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
	assert.Equal(t, 40, resp.TotalMatches)
}

func TestQuery_DeterministicAcrossIndexOrder(t *testing.T) {
	t.Parallel()

	paths := []string{
		`C:\a\main.go`,
		`C:\b\main.go`,
		`C:\code\main_test.go`,
		`C:\code\domain.go`,
		`C:\etc\remains.txt`,
	}
	reversed := make([]string, len(paths))
	for i, p := range paths {
		reversed[len(paths)-1-i] = p
	}

	e := NewEngine(2, 50)
	r1, err := e.Query(context.Background(), snapOf(t, paths...), "main", nil, 0)
	require.NoError(t, err)
	r2, err := e.Query(context.Background(), snapOf(t, reversed...), "main", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, resultPaths(r1), resultPaths(r2))
	assert.Equal(t, r1.TotalMatches, r2.TotalMatches)
}

func TestQuery_TieBreakShorterThenLexicographic(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\bb\log.txt`,
		`C:\b\log.txt`,
		`C:\a\log.txt`,
	)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "log.txt", nil, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{
		`C:\a\log.txt`,
		`C:\b\log.txt`,
		`C:\bb\log.txt`,
	}, resultPaths(resp))
}

func TestQuery_PredicatesFilterBeforeScoring(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\notes\todo.md`,
		`C:\notes\todo.txt`,
	)
	e := NewEngine(2, 50)
	onlyMd := ntfind.PredicateFunc(func(en *ntfind.FileEntry) bool { return en.Ext() == "md" })

	resp, err := e.Query(context.Background(), snap, "todo", []ntfind.Predicate{onlyMd}, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, `C:\notes\todo.md`, resp.Results[0].Entry.Path)
	assert.Equal(t, 1, resp.TotalMatches)
}

func TestQuery_EmptyTextWithPredicates(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\a\big.bin`,
		`C:\a\small.bin`,
		`C:\a\other.txt`,
	)
	e := NewEngine(2, 50)
	onlyBin := ntfind.PredicateFunc(func(en *ntfind.FileEntry) bool { return en.Ext() == "bin" })

	resp, err := e.Query(context.Background(), snap, "", []ntfind.Predicate{onlyBin}, 0)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.TotalMatches)
	for _, r := range resp.Results {
		assert.Zero(t, r.Score, "pure filter matches carry no rank")
	}
}

func TestQuery_EmptyTextNoPredicates(t *testing.T) {
	t.Parallel()

	snap := snapOf(t, `C:\a\x.txt`)
	e := NewEngine(2, 50)

	resp, err := e.Query(context.Background(), snap, "", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalMatches)
}

func TestQuery_CancelledContext(t *testing.T) {
	t.Parallel()

	snap := snapOf(t, `C:\a\x.txt`)
	e := NewEngine(2, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Query(ctx, snap, "x", nil, 0)
	assert.ErrorIs(t, err, ntfind.ErrCancelled)
}

func TestQuery_SupersededQueryReturnsCancelled(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\a\one.txt`,
		`C:\a\two.txt`,
	)
	e := NewEngine(2, 50)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocker := ntfind.PredicateFunc(func(*ntfind.FileEntry) bool {
		once.Do(func() {
			close(entered)
			<-release
		})
		return true
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Query(context.Background(), snap, "one", []ntfind.Predicate{blocker}, 0)
		firstErr <- err
	}()

	<-entered // the first query is mid-scan

	resp, err := e.Query(context.Background(), snap, "two", nil, 0)
	require.NoError(t, err, "the superseding query runs to completion")
	require.Len(t, resp.Results, 1)

	close(release)
	assert.ErrorIs(t, <-firstErr, ntfind.ErrCancelled,
		"the superseded query must not return partial results")
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	snap := snapOf(t,
		`C:\a\one.txt`,
		`C:\a\two.txt`,
		`C:\a\three.txt`,
	)
	e := NewEngine(2, 50)

	_, err := e.Query(context.Background(), snap, "one", nil, 0)
	require.NoError(t, err)
	_, err = e.Query(context.Background(), snap, "two", nil, 0)
	require.NoError(t, err)

	m := e.Metrics()
	assert.Equal(t, uint64(2), m.Queries)
	assert.Equal(t, uint64(6), m.EntriesScanned)
	assert.GreaterOrEqual(t, m.Matches, uint64(2))
}
