package ntfind

import "time"

// ChangeKind enumerates live filesystem change event types.
type ChangeKind uint8

const (
	ChangeCreate ChangeKind = iota + 1
	ChangeRemove
	ChangeModify
	ChangeRenameFrom
	ChangeRenameTo
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeRemove:
		return "remove"
	case ChangeModify:
		return "modify"
	case ChangeRenameFrom:
		return "rename_from"
	case ChangeRenameTo:
		return "rename_to"
	}
	return "unknown"
}

// ChangeEvent is one live filesystem change, delivered by a volume's change
// journal or a directory watch. Journal events carry ID and ParentID; watch
// events are keyed by Path only and leave the ids zero.
type ChangeEvent struct {
	Kind      ChangeKind
	ID        FileID
	ParentID  FileID
	Name      string
	Path      string
	IsDir     bool
	Timestamp time.Time
}

// Bookmark is a resumable position in one volume's change journal. The
// journal id pins the bookmark to a journal instance: a recreated journal
// invalidates every bookmark taken against the old one.
type Bookmark struct {
	JournalID uint64 `json:"journal_id"`
	USN       int64  `json:"usn"`
}

// IsZero reports whether the bookmark has never been set.
func (b Bookmark) IsZero() bool { return b.JournalID == 0 && b.USN == 0 }
