//go:build windows

package usn

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/ntfind/ntfind"
)

const (
	fsctlQueryUsnJournal = 0x000900f4
	fsctlReadUsnJournal  = 0x000900bb
	fsctlEnumUsnData     = 0x000900b3
)

// outputBufSize is the per-ioctl output buffer. 64 KiB holds a few hundred
// records per call.
const outputBufSize = 64 << 10

// OpenVolume opens a volume handle suitable for journal ioctls.
// mount is the drive designator, e.g. "C:".
func OpenVolume(mount string) (uintptr, error) {
	path, err := windows.UTF16PtrFromString(`\\.\` + mount)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(
		path,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return 0, fmt.Errorf("open %s: %w (run elevated)", mount, ntfind.ErrAccessDenied)
		}
		return 0, fmt.Errorf("open %s: %w: %v", mount, ntfind.ErrDevice, err)
	}
	return uintptr(h), nil
}

// CloseVolume releases a handle from OpenVolume.
func CloseVolume(h uintptr) error {
	return windows.CloseHandle(windows.Handle(h))
}

// QueryJournal returns the journal's current state for a volume handle.
func QueryJournal(h uintptr) (*JournalData, error) {
	out := make([]byte, journalDataSize)
	var returned uint32
	err := windows.DeviceIoControl(
		windows.Handle(h), fsctlQueryUsnJournal,
		nil, 0,
		&out[0], uint32(len(out)),
		&returned, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w: %v", ntfind.ErrDevice, err)
	}
	return ParseJournalData(out[:returned])
}

// ReadJournal reads records starting at startUsn. reasonMask selects which
// changes are reported. Returns the next USN to read from and the records;
// an empty batch with next == startUsn means the journal has no new data.
func ReadJournal(h uintptr, journalID uint64, startUsn int64, reasonMask uint32) (int64, []Record, error) {
	// READ_USN_JOURNAL_DATA_V0.
	in := make([]byte, 40)
	binary.LittleEndian.PutUint64(in[0:], uint64(startUsn))
	binary.LittleEndian.PutUint32(in[8:], reasonMask)
	// ReturnOnlyOnClose 0, Timeout 0, BytesToWaitFor 0: return immediately.
	binary.LittleEndian.PutUint64(in[32:], journalID)

	out := make([]byte, outputBufSize)
	var returned uint32
	err := windows.DeviceIoControl(
		windows.Handle(h), fsctlReadUsnJournal,
		&in[0], uint32(len(in)),
		&out[0], uint32(len(out)),
		&returned, nil,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_JOURNAL_ENTRY_DELETED) {
			return 0, nil, fmt.Errorf("read journal: %w", ntfind.ErrStaleBookmark)
		}
		return 0, nil, fmt.Errorf("read journal: %w: %v", ntfind.ErrDevice, err)
	}
	next, recs, perr := ParseOutput(out[:returned])
	if perr != nil {
		return 0, nil, perr
	}
	return int64(next), recs, nil
}

// EnumData enumerates MFT records through the journal interface, starting
// at startFRN. Returns the continuation FRN and a batch of records; an
// ERROR_HANDLE_EOF from the driver means enumeration is complete and is
// reported as (0, nil, nil).
func EnumData(h uintptr, startFRN uint64) (uint64, []Record, error) {
	// MFT_ENUM_DATA_V0: StartFileReferenceNumber, LowUsn, HighUsn.
	in := make([]byte, 24)
	binary.LittleEndian.PutUint64(in[0:], startFRN)
	binary.LittleEndian.PutUint64(in[16:], uint64(int64(^uint64(0)>>1))) // HighUsn = MaxInt64

	out := make([]byte, outputBufSize)
	var returned uint32
	err := windows.DeviceIoControl(
		windows.Handle(h), fsctlEnumUsnData,
		&in[0], uint32(len(in)),
		&out[0], uint32(len(out)),
		&returned, nil,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_HANDLE_EOF) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("enum mft: %w: %v", ntfind.ErrDevice, err)
	}
	return ParseOutput(out[:returned])
}
