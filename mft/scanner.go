package mft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
	"github.com/ntfind/ntfind/volume"
)

// ProgressFunc receives (processed, total) record counts at a fixed cadence
// during a scan. It runs on the scan path and must not block on I/O.
type ProgressFunc func(done, total uint64)

// progressInterval is the record-count cadence for progress callbacks.
const progressInterval = 100_000

// ctxCheckInterval is how often the scan loop polls for cancellation.
const ctxCheckInterval = 4096

// Stats summarizes one scan.
type Stats struct {
	Records     uint64 // record slots visited
	Indexed     uint64 // entries produced
	Skipped     uint64 // in-use records excluded by name policy
	ParseErrors uint64 // records that failed to parse
	Orphans     uint64 // entries filed under the synthetic root
	Elapsed     time.Duration
}

// Scanner walks a volume's MFT through a raw reader and produces fully
// resolved index entries.
type Scanner struct {
	r     *volume.Reader
	boot  *BootSector
	label string
	log   util.Logger
}

// NewScanner reads and validates the boot sector. label is the mount name
// used as the root path segment, e.g. "C:".
func NewScanner(r *volume.Reader, label string) (*Scanner, error) {
	buf := make([]byte, BootSectorSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	boot, err := ParseBootSector(buf)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		r:     r,
		boot:  boot,
		label: label,
		log:   util.GetLogger("mft"),
	}, nil
}

// Boot returns the parsed volume geometry.
func (s *Scanner) Boot() *BootSector { return s.boot }

// ScanFull enumerates every MFT record and resolves full paths, sizes and
// timestamps.
//
// Two passes over the records, one pass over the disk: records are read and
// parsed once, every directory is registered with the resolver, and only
// then is any entry's path resolved. Resolving against a partial directory
// map is what collapses files to the volume root, so the ordering is not
// negotiable.
func (s *Scanner) ScanFull(ctx context.Context, progress ProgressFunc) ([]ntfind.FileEntry, *Stats, error) {
	start := time.Now()
	stats := &Stats{}

	extents, total, err := s.mftLayout()
	if err != nil {
		return nil, nil, err
	}
	s.log.Debug().
		Uint64("records", total).
		Int("extents", len(extents)).
		Uint32("record_size", s.boot.RecordSize).
		Msg("MFT layout decoded")

	res := NewResolver(s.label)
	entries := make([]ntfind.FileEntry, 0, total)
	parents := make([]ntfind.FileID, 0, total)

	// Pass one: parse every record, register every directory.
	recordSize := int(s.boot.RecordSize)
	buf := make([]byte, recordSize)
	var recordNum uint64

	for _, ext := range extents {
		extOff := int64(ext.LCN) * int64(s.boot.ClusterSize)
		for i := uint64(0); i < ext.records && recordNum < total; i, recordNum = i+1, recordNum+1 {
			if recordNum%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, nil, fmt.Errorf("scan %s: %w", s.label, err)
				}
			}
			if progress != nil && recordNum%progressInterval == 0 && recordNum > 0 {
				progress(recordNum, total)
			}
			stats.Records++

			off := extOff + int64(i)*int64(recordSize)
			if _, err := s.r.ReadAt(buf, off); err != nil {
				stats.ParseErrors++
				s.log.Debug().Uint64("record", recordNum).Err(err).Msg("record read failed")
				continue
			}
			rec, err := ParseRecord(buf, recordNum)
			if err != nil {
				stats.ParseErrors++
				continue
			}
			if !rec.InUse || !rec.Base {
				continue
			}
			// Directories are registered even when excluded from the index:
			// the root and system directories still anchor their children.
			if rec.IsDir && rec.Name != "" {
				res.AddDir(rec.ID, rec.Name, rec.ParentID)
			}
			if !usableName(rec.Name, recordNum) {
				stats.Skipped++
				continue
			}
			entries = append(entries, ntfind.FileEntry{
				ID:       rec.ID,
				ParentID: rec.ParentID,
				Name:     rec.Name,
				IsDir:    rec.IsDir,
				Size:     rec.Size,
				Created:  rec.Created,
				Modified: rec.Modified,
				Accessed: rec.Accessed,
			})
			parents = append(parents, rec.ParentID)
		}
	}

	// Pass two: the directory map is complete, resolve every path.
	for i := range entries {
		path, orphan := res.PathFor(parents[i], entries[i].Name)
		entries[i].Path = path
		if orphan {
			stats.Orphans++
		}
	}

	stats.Indexed = uint64(len(entries))
	stats.Elapsed = time.Since(start)
	s.log.Info().
		Uint64("records", stats.Records).
		Uint64("indexed", stats.Indexed).
		Uint64("skipped", stats.Skipped).
		Uint64("errors", stats.ParseErrors).
		Uint64("orphans", stats.Orphans).
		Dur("elapsed", stats.Elapsed).
		Msg("full scan complete")
	return entries, stats, nil
}

type extent struct {
	LCN     int64
	records uint64
}

// mftLayout reads $MFT's own record and decodes where every file record
// lives on the volume.
func (s *Scanner) mftLayout() ([]extent, uint64, error) {
	buf := make([]byte, s.boot.RecordSize)
	if _, err := s.r.ReadAt(buf, int64(s.boot.MftOffset)); err != nil {
		return nil, 0, fmt.Errorf("read $MFT record: %w", err)
	}
	runs, realSize, err := MftExtents(buf)
	if err != nil {
		return nil, 0, err
	}

	recordsPerCluster := uint64(s.boot.ClusterSize) / uint64(s.boot.RecordSize)
	total := realSize / uint64(s.boot.RecordSize)

	var extents []extent
	var covered uint64
	for _, run := range runs {
		if run.Sparse {
			continue
		}
		n := run.Length * recordsPerCluster
		if covered+n > total {
			n = total - covered
		}
		if n == 0 {
			continue
		}
		extents = append(extents, extent{LCN: run.LCN, records: n})
		covered += n
	}
	if len(extents) == 0 {
		return nil, 0, fmt.Errorf("$MFT: %w: no usable extents", ntfind.ErrParse)
	}
	return extents, covered, nil
}

// usableName reports whether a record's name should appear in the index.
// System metafiles ($MFT, $LogFile, ...) and dot entries are bookkeeping,
// not user files. Record 5 is the volume root and is handled by the
// resolver directly.
func usableName(name string, recordNum uint64) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if recordNum == RootRecordNumber {
		return false
	}
	if strings.HasPrefix(name, "$") {
		return false
	}
	return true
}
