// Package usn decodes NTFS change journal structures and wraps the device
// ioctls that produce them. The wire layouts are fixed by the filesystem,
// so parsing is portable; only the ioctl plumbing is Windows-specific.
package usn

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ntfind/ntfind"
)

// Journal reason flags, as reported in USN_RECORD_V2.Reason.
const (
	ReasonDataOverwrite   = 0x00000001
	ReasonDataExtend      = 0x00000002
	ReasonDataTruncation  = 0x00000004
	ReasonFileCreate      = 0x00000100
	ReasonFileDelete      = 0x00000200
	ReasonRenameOldName   = 0x00001000
	ReasonRenameNewName   = 0x00002000
	ReasonBasicInfoChange = 0x00008000
	ReasonClose           = 0x80000000
)

// fileAttributeDirectory mirrors FILE_ATTRIBUTE_DIRECTORY.
const fileAttributeDirectory = 0x10

// journalDataSize is the wire size of USN_JOURNAL_DATA_V0.
const journalDataSize = 56

// recordHeaderSize is the fixed prefix of USN_RECORD_V2 before the name.
const recordHeaderSize = 60

// JournalData is the journal's self-description, from
// FSCTL_QUERY_USN_JOURNAL.
type JournalData struct {
	JournalID      uint64
	FirstUsn       int64
	NextUsn        int64
	LowestValidUsn int64
	MaxUsn         int64
	MaximumSize    uint64
}

// ParseJournalData decodes a USN_JOURNAL_DATA_V0 buffer.
func ParseJournalData(buf []byte) (*JournalData, error) {
	if len(buf) < journalDataSize {
		return nil, fmt.Errorf("journal data: %w: %d bytes", ntfind.ErrParse, len(buf))
	}
	return &JournalData{
		JournalID:      binary.LittleEndian.Uint64(buf[0:]),
		FirstUsn:       int64(binary.LittleEndian.Uint64(buf[8:])),
		NextUsn:        int64(binary.LittleEndian.Uint64(buf[16:])),
		LowestValidUsn: int64(binary.LittleEndian.Uint64(buf[24:])),
		MaxUsn:         int64(binary.LittleEndian.Uint64(buf[32:])),
		MaximumSize:    binary.LittleEndian.Uint64(buf[40:]),
	}, nil
}

// Record is one decoded USN_RECORD_V2.
type Record struct {
	FRN       uint64
	ParentFRN uint64
	Usn       int64
	Timestamp int64 // FILETIME ticks
	Reason    uint32
	Attrs     uint32
	Name      string
}

// IsDir reports whether the record describes a directory.
func (r *Record) IsDir() bool { return r.Attrs&fileAttributeDirectory != 0 }

// ParseOutput decodes an ioctl output buffer: an 8-byte continuation value
// followed by packed records. Records of an unexpected major version are
// skipped, never fatal. Returns the continuation value (next USN for
// journal reads, next FRN for MFT enumeration) and the decoded records.
func ParseOutput(buf []byte) (next uint64, recs []Record, err error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("usn output: %w: %d bytes", ntfind.ErrParse, len(buf))
	}
	next = binary.LittleEndian.Uint64(buf[0:])
	off := 8
	for off+recordHeaderSize <= len(buf) {
		rl := int(binary.LittleEndian.Uint32(buf[off:]))
		if rl < recordHeaderSize || off+rl > len(buf) {
			break
		}
		major := binary.LittleEndian.Uint16(buf[off+4:])
		if major != 2 {
			off += rl
			continue
		}
		rec := Record{
			FRN:       binary.LittleEndian.Uint64(buf[off+8:]),
			ParentFRN: binary.LittleEndian.Uint64(buf[off+16:]),
			Usn:       int64(binary.LittleEndian.Uint64(buf[off+24:])),
			Timestamp: int64(binary.LittleEndian.Uint64(buf[off+32:])),
			Reason:    binary.LittleEndian.Uint32(buf[off+40:]),
			Attrs:     binary.LittleEndian.Uint32(buf[off+52:]),
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[off+56:]))
		nameOff := int(binary.LittleEndian.Uint16(buf[off+58:]))
		if nameOff+nameLen <= rl && nameLen%2 == 0 {
			rec.Name = decodeName(buf[off+nameOff : off+nameOff+nameLen])
		}
		recs = append(recs, rec)
		off += rl
	}
	return next, recs, nil
}

func decodeName(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}
