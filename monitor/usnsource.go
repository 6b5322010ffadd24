package monitor

import (
	"context"
	"fmt"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/usn"
	"github.com/ntfind/ntfind/internal/util"
)

// readReasonMask selects the journal reasons the index cares about:
// lifecycle, renames, content growth and attribute changes.
const readReasonMask = usn.ReasonFileCreate |
	usn.ReasonFileDelete |
	usn.ReasonRenameOldName |
	usn.ReasonRenameNewName |
	usn.ReasonDataOverwrite |
	usn.ReasonDataExtend |
	usn.ReasonDataTruncation |
	usn.ReasonBasicInfoChange |
	usn.ReasonClose

// UsnSource reads a volume's change journal as a ChangeSource. The
// journal is queried each batch so a swapped or truncated journal is
// detected on the next read, not at the next restart.
type UsnSource struct {
	mount string
	h     uintptr
	log   util.Logger
}

// NewUsnSource opens the volume's journal handle.
func NewUsnSource(mount string) (*UsnSource, error) {
	h, err := usn.OpenVolume(mount)
	if err != nil {
		return nil, err
	}
	return &UsnSource{
		mount: mount,
		h:     h,
		log:   util.GetLogger("usnsource").With().Str("volume", mount).Logger(),
	}, nil
}

// Close releases the volume handle.
func (s *UsnSource) Close() error { return usn.CloseVolume(s.h) }

// Latest returns a bookmark at the journal's current end.
func (s *UsnSource) Latest(ctx context.Context) (ntfind.Bookmark, error) {
	jd, err := usn.QueryJournal(s.h)
	if err != nil {
		return ntfind.Bookmark{}, err
	}
	return ntfind.Bookmark{JournalID: jd.JournalID, USN: jd.NextUsn}, nil
}

// ReadBatch reads events after `from`. The bookmark is validated against
// the live journal first: a different journal id or a resume position
// older than the journal's first retained record means changes were lost
// and only a rescan restores correctness.
func (s *UsnSource) ReadBatch(ctx context.Context, from ntfind.Bookmark, max int) ([]ntfind.ChangeEvent, ntfind.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, from, err
	}
	jd, err := usn.QueryJournal(s.h)
	if err != nil {
		return nil, from, err
	}
	if from.JournalID != jd.JournalID || from.USN < jd.FirstUsn {
		return nil, from, fmt.Errorf("volume %s journal: %w", s.mount, ntfind.ErrStaleBookmark)
	}

	nextUsn, recs, err := usn.ReadJournal(s.h, jd.JournalID, from.USN, readReasonMask)
	if err != nil {
		return nil, from, err
	}

	next := ntfind.Bookmark{JournalID: jd.JournalID, USN: nextUsn}
	events := make([]ntfind.ChangeEvent, 0, len(recs))
	for _, rec := range recs {
		if max > 0 && len(events) >= max {
			// Resume exactly at the first unconsumed record.
			next.USN = rec.Usn
			break
		}
		kind, ok := kindForReason(rec.Reason)
		if !ok {
			continue
		}
		events = append(events, ntfind.ChangeEvent{
			Kind:      kind,
			ID:        ntfind.FileID(rec.FRN),
			ParentID:  ntfind.FileID(rec.ParentFRN),
			Name:      rec.Name,
			IsDir:     rec.IsDir(),
			Timestamp: util.FiletimeToTime(uint64(rec.Timestamp)),
		})
	}
	return events, next, nil
}

// kindForReason collapses a record's accumulated reason bits into one
// change kind. A record can carry several phases of a file's life; the
// terminal operation wins.
func kindForReason(reason uint32) (ntfind.ChangeKind, bool) {
	switch {
	case reason&usn.ReasonFileDelete != 0:
		return ntfind.ChangeRemove, true
	case reason&usn.ReasonRenameNewName != 0:
		return ntfind.ChangeRenameTo, true
	case reason&usn.ReasonRenameOldName != 0:
		return ntfind.ChangeRenameFrom, true
	case reason&usn.ReasonFileCreate != 0:
		return ntfind.ChangeCreate, true
	case reason&(usn.ReasonDataOverwrite|usn.ReasonDataExtend|usn.ReasonDataTruncation|usn.ReasonBasicInfoChange) != 0:
		return ntfind.ChangeModify, true
	}
	return 0, false
}
