package filters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, query string) (string, *Filters) {
	t.Helper()
	text, f, err := parseAt(query, testNow)
	require.NoError(t, err)
	return text, f
}

func TestParse_PlainTextOnly(t *testing.T) {
	t.Parallel()

	text, f := parse(t, "annual report draft")
	assert.Equal(t, "annual report draft", text)
	assert.True(t, f.Empty())
	assert.Empty(t, f.Predicates())
}

func TestParse_SizeForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query   string
		min, max *uint64
	}{
		{"size:>100mb", util.Pointer(uint64(100 << 20)), nil},
		{"size:<1gb", nil, util.Pointer(uint64(1 << 30))},
		{"size:100kb-500kb", util.Pointer(uint64(100 << 10)), util.Pointer(uint64(500 << 10))},
		{"size:4096", util.Pointer(uint64(4096)), util.Pointer(uint64(4096))},
		{"size:>1.5mb", util.Pointer(uint64(1572864)), nil},
		{"size:>2tb", util.Pointer(uint64(2 << 40)), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			_, f := parse(t, tt.query)
			assert.Equal(t, tt.min, f.MinSize)
			assert.Equal(t, tt.max, f.MaxSize)
		})
	}
}

func TestParse_SizeErrors(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"size:>x", "size:abc", "size:-5", "size:5mb-1mb", "size:"} {
		q := q
		t.Run(q, func(t *testing.T) {
			t.Parallel()
			_, _, err := parseAt(q, testNow)
			assert.Error(t, err)
		})
	}
}

func TestParse_Extensions(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "ext:rs,.MD, txt,,")
	assert.Equal(t, []string{"rs", "md", "txt"}, f.Extensions)

	_, f = parse(t, "extension:go")
	assert.Equal(t, []string{"go"}, f.Extensions)
}

func TestParse_DateForms(t *testing.T) {
	t.Parallel()

	day := func(y int, m time.Month, d int) *time.Time {
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &t
	}

	tests := []struct {
		query         string
		after, before *time.Time
	}{
		{"modified:<2024-01-01", nil, day(2024, 1, 1)},
		{"modified:>2023-06-30", day(2023, 6, 30), nil},
		{"modified:2024-01-01", day(2024, 1, 1), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			_, f := parse(t, tt.query)
			assert.Equal(t, tt.after, f.ModifiedAfter)
			assert.Equal(t, tt.before, f.ModifiedBefore)
		})
	}

	_, f := parse(t, "created:<2024-03-01 accessed:>2024-04-01")
	assert.Equal(t, day(2024, 3, 1), f.CreatedBefore)
	assert.Equal(t, day(2024, 4, 1), f.AccessedAfter)
}

func TestParse_RelativeAges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  time.Time
	}{
		{"modified:6h", testNow.Add(-6 * time.Hour)},
		{"modified:7d", testNow.AddDate(0, 0, -7)},
		{"modified:2w", testNow.AddDate(0, 0, -14)},
		{"modified:3m", testNow.AddDate(0, -3, 0)},
		{"modified:1y", testNow.AddDate(-1, 0, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			_, f := parse(t, tt.query)
			require.NotNil(t, f.ModifiedAfter)
			assert.Equal(t, tt.want, *f.ModifiedAfter)
			assert.Nil(t, f.ModifiedBefore)
		})
	}
}

func TestParse_BadDates(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"modified:yesterday", "modified:>7d", "created:2024-13-40", "modified:"} {
		q := q
		t.Run(q, func(t *testing.T) {
			t.Parallel()
			_, _, err := parseAt(q, testNow)
			assert.Error(t, err)
		})
	}
}

func TestParse_Type(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "type:file")
	require.NotNil(t, f.DirsOnly)
	assert.False(t, *f.DirsOnly)

	for _, q := range []string{"type:dir", "type:directory", "type:folder"} {
		_, f := parse(t, q)
		require.NotNil(t, f.DirsOnly)
		assert.True(t, *f.DirsOnly)
	}

	_, _, err := parseAt("type:link", testNow)
	assert.Error(t, err)
}

func TestParse_UnknownKeysStayText(t *testing.T) {
	t.Parallel()

	text, f := parse(t, `c:\temp report size:>1kb owner:bob`)
	assert.Equal(t, `c:\temp report owner:bob`, text)
	assert.NotNil(t, f.MinSize)
	assert.Nil(t, f.MaxSize)
}

func TestParse_MixedTextAndFilters(t *testing.T) {
	t.Parallel()

	text, f := parse(t, "report  size:>100mb ext:pdf  draft")
	assert.Equal(t, "report draft", text)
	assert.Len(t, f.Predicates(), 2)
}

func entryWith(name string, dir bool, size uint64, modified time.Time) *ntfind.FileEntry {
	return &ntfind.FileEntry{
		Name:     name,
		Path:     `C:\x\` + name,
		IsDir:    dir,
		Size:     size,
		Modified: modified,
	}
}

func TestPredicates_SizeWindowInclusive(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "size:100-200")
	preds := f.Predicates()
	require.Len(t, preds, 1)

	assert.True(t, ntfind.MatchAll(preds, entryWith("a", false, 100, time.Time{})))
	assert.True(t, ntfind.MatchAll(preds, entryWith("b", false, 200, time.Time{})))
	assert.False(t, ntfind.MatchAll(preds, entryWith("c", false, 99, time.Time{})))
	assert.False(t, ntfind.MatchAll(preds, entryWith("d", false, 201, time.Time{})))
}

func TestPredicates_ExtensionsExcludeDirs(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "ext:md,txt")
	preds := f.Predicates()

	assert.True(t, ntfind.MatchAll(preds, entryWith("notes.md", false, 0, time.Time{})))
	assert.True(t, ntfind.MatchAll(preds, entryWith("NOTES.TXT", false, 0, time.Time{})))
	assert.False(t, ntfind.MatchAll(preds, entryWith("notes.pdf", false, 0, time.Time{})))
	assert.False(t, ntfind.MatchAll(preds, entryWith("notes.md", true, 0, time.Time{})))
}

func TestPredicates_DateWindow(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "modified:>2024-01-01 modified:<2024-02-01")
	preds := f.Predicates()

	in := time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)
	assert.True(t, ntfind.MatchAll(preds, entryWith("a", false, 0, in)))
	assert.False(t, ntfind.MatchAll(preds, entryWith("b", false, 0, in.AddDate(0, 2, 0))))
	assert.False(t, ntfind.MatchAll(preds, entryWith("c", false, 0, in.AddDate(-1, 0, 0))))
}

func TestPredicates_UnknownTimestampNeverMatchesDates(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "modified:7d")
	assert.False(t, ntfind.MatchAll(f.Predicates(), entryWith("a", false, 0, time.Time{})))
}

func TestPredicates_Type(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "type:dir")
	preds := f.Predicates()
	assert.True(t, ntfind.MatchAll(preds, entryWith("bin", true, 0, time.Time{})))
	assert.False(t, ntfind.MatchAll(preds, entryWith("bin", false, 0, time.Time{})))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	_, f := parse(t, "size:>1mb ext:rs,md type:file modified:<2024-01-01")
	desc := f.Describe()
	assert.Contains(t, desc, "size >= 1.0 MB")
	assert.Contains(t, desc, "modified before 2024-01-01")
	assert.Contains(t, desc, "ext: rs, md")
	assert.Contains(t, desc, "files only")

	_, empty := parse(t, "plain")
	assert.Equal(t, "no filters", empty.Describe())
}
