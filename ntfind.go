// Package ntfind contains the core domain types shared by every component:
// stable file identifiers, index entries, change events, search predicates
// and the error taxonomy
package ntfind

import (
	"strings"
	"time"
)

// PathSeparator joins segments in resolved entry paths.
const PathSeparator = `\`

// OrphanSegment is the synthetic root segment entries are filed under when
// their parent chain cannot be resolved to a real root.
const OrphanSegment = `$Orphan`

const recordNumberMask = (1 << 48) - 1

// FileID identifies one MFT record. The low 48 bits carry the record number
// and the high 16 bits the reuse sequence number. The filesystem recycles
// record numbers after deletion, so identity comparisons must use the whole
// value, never the record number alone.
type FileID uint64

// NewFileID builds a FileID from a record number and its reuse sequence.
func NewFileID(recordNum uint64, seq uint16) FileID {
	return FileID(recordNum&recordNumberMask | uint64(seq)<<48)
}

// RecordNumber returns the MFT record number part of the id.
func (id FileID) RecordNumber() uint64 { return uint64(id) & recordNumberMask }

// Sequence returns the reuse sequence part of the id.
func (id FileID) Sequence() uint16 { return uint16(uint64(id) >> 48) }

// FileEntry is one indexed file or directory.
//
// Path is always the concatenation of ancestor names from the resolvable
// root down to Name, separated by PathSeparator. Entries whose parent chain
// could not be resolved are filed under OrphanSegment instead of appearing
// as false top-level entries.
type FileEntry struct {
	ID       FileID
	ParentID FileID
	Name     string
	Path     string
	IsDir    bool

	// Size is 0 when unknown; fast scans report no sizes at all.
	Size uint64

	// Zero time values mean the timestamp is unknown.
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// Ext returns the entry's lower-cased filename extension without the dot,
// or "" for directories and extension-less names.
func (e *FileEntry) Ext() string {
	if e.IsDir {
		return ""
	}
	i := strings.LastIndexByte(e.Name, '.')
	if i < 0 || i == len(e.Name)-1 {
		return ""
	}
	return strings.ToLower(e.Name[i+1:])
}

// Equal reports whether two entries carry identical data. Change delivery is
// at-least-once, so index mutations use this to recognize replays.
func (e *FileEntry) Equal(o *FileEntry) bool {
	return e.ID == o.ID &&
		e.ParentID == o.ParentID &&
		e.Name == o.Name &&
		e.Path == o.Path &&
		e.IsDir == o.IsDir &&
		e.Size == o.Size &&
		e.Created.Equal(o.Created) &&
		e.Modified.Equal(o.Modified) &&
		e.Accessed.Equal(o.Accessed)
}
