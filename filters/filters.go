// Package filters parses the search-box syntax into free text plus
// predicates for the engine.
//
// Filter tokens are key:value pairs separated by whitespace; anything
// else, including unknown keys, stays in the free text. Supported keys:
//
//	size:>100mb  size:<1gb  size:100kb-500kb  size:4096
//	ext:rs,md,txt            (dot optional, case-insensitive)
//	modified:7d  modified:<2024-01-01  modified:>2023-06-30
//	created: / accessed:     (same forms as modified:)
//	type:file  type:dir      (dir aliases: directory, folder)
//
// Relative ages are Nh/Nd/Nw/Nm/Ny. A bare date or age means on-or-after.
package filters

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
)

// Filters is the parsed form of every filter token in a query. Nil fields
// are absent; Predicates turns the present ones into engine predicates.
type Filters struct {
	MinSize *uint64
	MaxSize *uint64

	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	AccessedAfter  *time.Time
	AccessedBefore *time.Time

	// Extensions is lower-cased and dot-stripped; empty means no
	// extension filter.
	Extensions []string

	// DirsOnly: nil means both kinds, true directories only, false
	// files only.
	DirsOnly *bool
}

// Parse splits query into free search text and parsed filters. A malformed
// value for a known key is an error; unknown key:value tokens are kept as
// search text so drive-letter paths like `c:\temp` still search.
func Parse(query string) (string, *Filters, error) {
	return parseAt(query, time.Now().UTC())
}

func parseAt(query string, now time.Time) (string, *Filters, error) {
	f := &Filters{}
	var text []string

	for _, tok := range strings.Fields(query) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok {
			text = append(text, tok)
			continue
		}
		var err error
		switch strings.ToLower(key) {
		case "size":
			err = f.parseSize(value)
		case "ext", "extension":
			f.parseExtensions(value)
		case "modified", "mod":
			f.ModifiedAfter, f.ModifiedBefore, err = parseDate(value, now)
		case "created", "cr":
			f.CreatedAfter, f.CreatedBefore, err = parseDate(value, now)
		case "accessed":
			f.AccessedAfter, f.AccessedBefore, err = parseDate(value, now)
		case "type":
			err = f.parseType(value)
		default:
			text = append(text, tok)
		}
		if err != nil {
			return "", nil, fmt.Errorf("filter %q: %w", tok, err)
		}
	}
	return strings.Join(text, " "), f, nil
}

// Empty reports whether no filter is set.
func (f *Filters) Empty() bool {
	return f.MinSize == nil && f.MaxSize == nil &&
		f.ModifiedAfter == nil && f.ModifiedBefore == nil &&
		f.CreatedAfter == nil && f.CreatedBefore == nil &&
		f.AccessedAfter == nil && f.AccessedBefore == nil &&
		len(f.Extensions) == 0 && f.DirsOnly == nil
}

// Predicates compiles the set into engine predicates. All of them must
// hold for an entry to be scored.
func (f *Filters) Predicates() []ntfind.Predicate {
	var preds []ntfind.Predicate

	if f.MinSize != nil || f.MaxSize != nil {
		min, max := f.MinSize, f.MaxSize
		preds = append(preds, ntfind.PredicateFunc(func(e *ntfind.FileEntry) bool {
			if min != nil && e.Size < *min {
				return false
			}
			return max == nil || e.Size <= *max
		}))
	}
	if p := timeRange(f.ModifiedAfter, f.ModifiedBefore, func(e *ntfind.FileEntry) time.Time { return e.Modified }); p != nil {
		preds = append(preds, p)
	}
	if p := timeRange(f.CreatedAfter, f.CreatedBefore, func(e *ntfind.FileEntry) time.Time { return e.Created }); p != nil {
		preds = append(preds, p)
	}
	if p := timeRange(f.AccessedAfter, f.AccessedBefore, func(e *ntfind.FileEntry) time.Time { return e.Accessed }); p != nil {
		preds = append(preds, p)
	}
	if len(f.Extensions) > 0 {
		want := make(map[string]bool, len(f.Extensions))
		for _, ext := range f.Extensions {
			want[ext] = true
		}
		preds = append(preds, ntfind.PredicateFunc(func(e *ntfind.FileEntry) bool {
			return want[e.Ext()]
		}))
	}
	if f.DirsOnly != nil {
		dirs := *f.DirsOnly
		preds = append(preds, ntfind.PredicateFunc(func(e *ntfind.FileEntry) bool {
			return e.IsDir == dirs
		}))
	}
	return preds
}

// timeRange builds a window predicate over one timestamp field. Entries
// with an unknown (zero) timestamp never match a dated filter.
func timeRange(after, before *time.Time, get func(*ntfind.FileEntry) time.Time) ntfind.Predicate {
	if after == nil && before == nil {
		return nil
	}
	return ntfind.PredicateFunc(func(e *ntfind.FileEntry) bool {
		t := get(e)
		if t.IsZero() {
			return false
		}
		if after != nil && t.Before(*after) {
			return false
		}
		return before == nil || !t.After(*before)
	})
}

// Describe renders the active filters for display, one clause per filter.
func (f *Filters) Describe() string {
	var parts []string
	if f.MinSize != nil {
		parts = append(parts, "size >= "+util.FormatFileSize(*f.MinSize))
	}
	if f.MaxSize != nil {
		parts = append(parts, "size <= "+util.FormatFileSize(*f.MaxSize))
	}
	parts = appendDateClause(parts, "modified", f.ModifiedAfter, f.ModifiedBefore)
	parts = appendDateClause(parts, "created", f.CreatedAfter, f.CreatedBefore)
	parts = appendDateClause(parts, "accessed", f.AccessedAfter, f.AccessedBefore)
	if len(f.Extensions) > 0 {
		parts = append(parts, "ext: "+strings.Join(f.Extensions, ", "))
	}
	if f.DirsOnly != nil {
		if *f.DirsOnly {
			parts = append(parts, "directories only")
		} else {
			parts = append(parts, "files only")
		}
	}
	if len(parts) == 0 {
		return "no filters"
	}
	return strings.Join(parts, ", ")
}

func appendDateClause(parts []string, field string, after, before *time.Time) []string {
	if after != nil {
		parts = append(parts, field+" after "+after.Format("2006-01-02"))
	}
	if before != nil {
		parts = append(parts, field+" before "+before.Format("2006-01-02"))
	}
	return parts
}

// parseSize handles ">100mb", "<1gb", "100kb-500kb" and exact "4096".
func (f *Filters) parseSize(value string) error {
	switch {
	case strings.Contains(value, "-"):
		lo, hi, _ := strings.Cut(value, "-")
		min, err := parseSizeValue(lo)
		if err != nil {
			return err
		}
		max, err := parseSizeValue(hi)
		if err != nil {
			return err
		}
		if min > max {
			return fmt.Errorf("range is inverted")
		}
		f.MinSize, f.MaxSize = &min, &max
	case strings.HasPrefix(value, ">"):
		min, err := parseSizeValue(value[1:])
		if err != nil {
			return err
		}
		f.MinSize = &min
	case strings.HasPrefix(value, "<"):
		max, err := parseSizeValue(value[1:])
		if err != nil {
			return err
		}
		f.MaxSize = &max
	default:
		n, err := parseSizeValue(value)
		if err != nil {
			return err
		}
		f.MinSize, f.MaxSize = &n, &n
	}
	return nil
}

// parseSizeValue reads "1.5gb" style values. Units are powers of 1024;
// a bare number is bytes.
func parseSizeValue(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		s, mult = s[:len(s)-2], 1<<10
	case strings.HasSuffix(s, "mb"):
		s, mult = s[:len(s)-2], 1<<20
	case strings.HasSuffix(s, "gb"):
		s, mult = s[:len(s)-2], 1<<30
	case strings.HasSuffix(s, "tb"):
		s, mult = s[:len(s)-2], 1<<40
	case strings.HasSuffix(s, "b"):
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad size %q", s)
	}
	return uint64(n * float64(mult)), nil
}

func (f *Filters) parseExtensions(value string) {
	for _, part := range strings.Split(value, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		ext = strings.TrimPrefix(ext, ".")
		if ext != "" {
			f.Extensions = append(f.Extensions, ext)
		}
	}
}

// parseDate returns the after/before bounds one date value contributes.
// "7d" and ">2024-01-01" bound from below, "<2024-01-01" from above; a
// bare date means on-or-after that day.
func parseDate(value string, now time.Time) (after, before *time.Time, err error) {
	if t, ok, rerr := parseRelative(value, now); rerr != nil {
		return nil, nil, rerr
	} else if ok {
		return &t, nil, nil
	}

	switch {
	case strings.HasPrefix(value, ">"):
		t, err := parseDay(value[1:])
		if err != nil {
			return nil, nil, err
		}
		return &t, nil, nil
	case strings.HasPrefix(value, "<"):
		t, err := parseDay(value[1:])
		if err != nil {
			return nil, nil, err
		}
		return nil, &t, nil
	default:
		t, err := parseDay(value)
		if err != nil {
			return nil, nil, err
		}
		return &t, nil, nil
	}
}

// parseRelative reads Nh/Nd/Nw/Nm/Ny ages. ok is false when the value is
// not shaped like an age at all, so dates fall through.
func parseRelative(value string, now time.Time) (t time.Time, ok bool, err error) {
	if len(value) < 2 {
		return time.Time{}, false, nil
	}
	unit := value[len(value)-1]
	numStr := value[:len(value)-1]
	if !strings.ContainsRune("hdwmy", rune(unit)) {
		return time.Time{}, false, nil
	}
	n, perr := strconv.Atoi(numStr)
	if perr != nil {
		// Shapes like "2024-01-01d" are not ages and not dates either.
		return time.Time{}, false, nil
	}
	if n < 0 {
		return time.Time{}, false, fmt.Errorf("bad age %q", value)
	}
	switch unit {
	case 'h':
		t = now.Add(-time.Duration(n) * time.Hour)
	case 'd':
		t = now.AddDate(0, 0, -n)
	case 'w':
		t = now.AddDate(0, 0, -7*n)
	case 'm':
		t = now.AddDate(0, -n, 0)
	case 'y':
		t = now.AddDate(-n, 0, 0)
	}
	return t, true, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func (f *Filters) parseType(value string) error {
	switch strings.ToLower(value) {
	case "dir", "directory", "folder":
		f.DirsOnly = util.Pointer(true)
	case "file":
		f.DirsOnly = util.Pointer(false)
	default:
		return fmt.Errorf("bad type %q, want file or dir", value)
	}
	return nil
}
