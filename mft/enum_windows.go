//go:build windows

package mft

import (
	"context"
	"fmt"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/usn"
	"github.com/ntfind/ntfind/internal/util"
)

// ScanFast enumerates the MFT through the change journal driver instead of
// raw record parsing. It is faster and needs no geometry knowledge, but
// yields no sizes or timestamps; those arrive lazily via journal updates.
// label is the mount name used as the root segment, e.g. "C:".
//
// The same ordering rule as ScanFull applies: all records are collected
// and every directory registered before any path is resolved.
func ScanFast(ctx context.Context, label string, progress ProgressFunc) ([]ntfind.FileEntry, *Stats, error) {
	log := util.GetLogger("mft")
	start := time.Now()
	stats := &Stats{}

	h, err := usn.OpenVolume(label)
	if err != nil {
		return nil, nil, err
	}
	defer usn.CloseVolume(h)

	res := NewResolver(label)
	var entries []ntfind.FileEntry
	var parents []ntfind.FileID

	var frn uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", label, err)
		}
		next, recs, err := usn.EnumData(h, frn)
		if err != nil {
			return nil, nil, err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			stats.Records++
			id := ntfind.FileID(rec.FRN)
			parent := ntfind.FileID(rec.ParentFRN)
			if rec.IsDir() && rec.Name != "" {
				res.AddDir(id, rec.Name, parent)
			}
			if !usableName(rec.Name, id.RecordNumber()) {
				stats.Skipped++
				continue
			}
			entries = append(entries, ntfind.FileEntry{
				ID:       id,
				ParentID: parent,
				Name:     rec.Name,
				IsDir:    rec.IsDir(),
			})
			parents = append(parents, parent)
		}
		if progress != nil {
			progress(stats.Records, 0)
		}
		frn = next
	}

	for i := range entries {
		path, orphan := res.PathFor(parents[i], entries[i].Name)
		entries[i].Path = path
		if orphan {
			stats.Orphans++
		}
	}

	stats.Indexed = uint64(len(entries))
	stats.Elapsed = time.Since(start)
	log.Info().
		Uint64("records", stats.Records).
		Uint64("indexed", stats.Indexed).
		Uint64("orphans", stats.Orphans).
		Dur("elapsed", stats.Elapsed).
		Msg("fast scan complete")
	return entries, stats, nil
}
