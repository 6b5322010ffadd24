//go:build !windows

package usn

import (
	"errors"
	"fmt"
)

// The change journal only exists on NTFS under Windows. These stubs keep
// the package compiling elsewhere so the parsing layer stays testable.

func OpenVolume(mount string) (uintptr, error) {
	return 0, fmt.Errorf("open %s: usn journal: %w", mount, errors.ErrUnsupported)
}

func CloseVolume(h uintptr) error { return nil }

func QueryJournal(h uintptr) (*JournalData, error) {
	return nil, fmt.Errorf("query journal: %w", errors.ErrUnsupported)
}

func ReadJournal(h uintptr, journalID uint64, startUsn int64, reasonMask uint32) (int64, []Record, error) {
	return 0, nil, fmt.Errorf("read journal: %w", errors.ErrUnsupported)
}

func EnumData(h uintptr, startFRN uint64) (uint64, []Record, error) {
	return 0, nil, fmt.Errorf("enum mft: %w", errors.ErrUnsupported)
}
