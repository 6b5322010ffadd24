package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/usn"
)

func TestKindForReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason uint32
		want   ntfind.ChangeKind
		ok     bool
	}{
		{"plain create", usn.ReasonFileCreate, ntfind.ChangeCreate, true},
		{"create with close", usn.ReasonFileCreate | usn.ReasonClose, ntfind.ChangeCreate, true},
		{"delete wins over create", usn.ReasonFileCreate | usn.ReasonFileDelete, ntfind.ChangeRemove, true},
		{"rename new name", usn.ReasonRenameNewName, ntfind.ChangeRenameTo, true},
		{"rename old name", usn.ReasonRenameOldName, ntfind.ChangeRenameFrom, true},
		{"rename beats accumulated create", usn.ReasonFileCreate | usn.ReasonRenameNewName, ntfind.ChangeRenameTo, true},
		{"data extend", usn.ReasonDataExtend, ntfind.ChangeModify, true},
		{"truncation", usn.ReasonDataTruncation, ntfind.ChangeModify, true},
		{"basic info", usn.ReasonBasicInfoChange, ntfind.ChangeModify, true},
		{"bare close carries nothing", usn.ReasonClose, 0, false},
		{"empty", 0, 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, ok := kindForReason(tt.reason)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}
