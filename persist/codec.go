package persist

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"

	"github.com/ntfind/ntfind"
)

// Entry records are fixed-layout little-endian followed by name and path
// bytes:
//
//	id u64 | parent u64 | flags u8 | size u64 |
//	created i64 | modified i64 | accessed i64 (unix nanos, 0 unknown) |
//	nameLen u16 | pathLen u32 | name | path
const entryFixedSize = 8 + 8 + 1 + 8 + 8 + 8 + 8 + 2 + 4

const (
	flagDir = 1 << 0

	maxNameBytes = 1 << 15
	maxPathBytes = 1 << 20
)

// entrySource is the part of a snapshot the codec needs.
type entrySource interface {
	Entries() []ntfind.FileEntry
	Files() int
	Dirs() int
}

// writeIndexStream emits the plain header, then the s2-compressed
// generation, counts and entry records.
func writeIndexStream(w io.Writer, snap entrySource, gen uuid.UUID) error {
	var hdr [8]byte
	copy(hdr[:4], indexMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], indexVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	zw := s2.NewWriter(w)
	if _, err := zw.Write(gen[:]); err != nil {
		return err
	}

	entries := snap.Entries()
	var counts [24]byte
	binary.LittleEndian.PutUint64(counts[0:8], uint64(len(entries)))
	binary.LittleEndian.PutUint64(counts[8:16], uint64(snap.Files()))
	binary.LittleEndian.PutUint64(counts[16:24], uint64(snap.Dirs()))
	if _, err := zw.Write(counts[:]); err != nil {
		return err
	}

	scratch := make([]byte, 0, entryFixedSize+256)
	for i := range entries {
		var err error
		scratch, err = appendEntry(scratch[:0], &entries[i])
		if err != nil {
			return err
		}
		if _, err := zw.Write(scratch); err != nil {
			return err
		}
	}
	return zw.Close()
}

func appendEntry(b []byte, e *ntfind.FileEntry) ([]byte, error) {
	if len(e.Name) >= maxNameBytes {
		return nil, fmt.Errorf("name of %d bytes does not fit the record layout", len(e.Name))
	}
	if len(e.Path) >= maxPathBytes {
		return nil, fmt.Errorf("path of %d bytes does not fit the record layout", len(e.Path))
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(e.ID))
	b = binary.LittleEndian.AppendUint64(b, uint64(e.ParentID))
	var flags byte
	if e.IsDir {
		flags |= flagDir
	}
	b = append(b, flags)
	b = binary.LittleEndian.AppendUint64(b, e.Size)
	b = binary.LittleEndian.AppendUint64(b, uint64(tsTicks(e.Created)))
	b = binary.LittleEndian.AppendUint64(b, uint64(tsTicks(e.Modified)))
	b = binary.LittleEndian.AppendUint64(b, uint64(tsTicks(e.Accessed)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(e.Name)))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(e.Path)))
	b = append(b, e.Name...)
	b = append(b, e.Path...)
	return b, nil
}

// readIndexStream is the inverse of writeIndexStream. Any malformed or
// truncated content maps to ErrParse; the caller falls back to a scan.
func readIndexStream(r io.Reader) ([]ntfind.FileEntry, string, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, "", parseErr(err)
	}
	if [4]byte(hdr[:4]) != indexMagic {
		return nil, "", fmt.Errorf("%w: not an index file", ntfind.ErrParse)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != indexVersion {
		return nil, "", fmt.Errorf("%w: unsupported index version %d", ntfind.ErrParse, v)
	}

	br := bufio.NewReaderSize(s2.NewReader(r), 64<<10)

	var gen [16]byte
	if _, err := io.ReadFull(br, gen[:]); err != nil {
		return nil, "", parseErr(err)
	}
	var counts [24]byte
	if _, err := io.ReadFull(br, counts[:]); err != nil {
		return nil, "", parseErr(err)
	}
	total := binary.LittleEndian.Uint64(counts[0:8])
	files := binary.LittleEndian.Uint64(counts[8:16])
	dirs := binary.LittleEndian.Uint64(counts[16:24])
	if files+dirs != total {
		return nil, "", fmt.Errorf("%w: entry count %d does not match %d files + %d dirs",
			ntfind.ErrParse, total, files, dirs)
	}

	// The count is attacker-ignorant but corruption-prone; grow instead
	// of trusting it for one huge allocation.
	capHint := total
	if capHint > 1<<20 {
		capHint = 1 << 20
	}
	entries := make([]ntfind.FileEntry, 0, capHint)

	var fixed [entryFixedSize]byte
	gotFiles, gotDirs := uint64(0), uint64(0)
	for i := uint64(0); i < total; i++ {
		if _, err := io.ReadFull(br, fixed[:]); err != nil {
			return nil, "", parseErr(err)
		}
		e := ntfind.FileEntry{
			ID:       ntfind.FileID(binary.LittleEndian.Uint64(fixed[0:8])),
			ParentID: ntfind.FileID(binary.LittleEndian.Uint64(fixed[8:16])),
			IsDir:    fixed[16]&flagDir != 0,
			Size:     binary.LittleEndian.Uint64(fixed[17:25]),
			Created:  ticksTime(int64(binary.LittleEndian.Uint64(fixed[25:33]))),
			Modified: ticksTime(int64(binary.LittleEndian.Uint64(fixed[33:41]))),
			Accessed: ticksTime(int64(binary.LittleEndian.Uint64(fixed[41:49]))),
		}
		nameLen := binary.LittleEndian.Uint16(fixed[49:51])
		pathLen := binary.LittleEndian.Uint32(fixed[51:55])
		if nameLen >= maxNameBytes || pathLen >= maxPathBytes {
			return nil, "", fmt.Errorf("%w: oversized name or path in entry %d", ntfind.ErrParse, i)
		}
		buf := make([]byte, int(nameLen)+int(pathLen))
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, "", parseErr(err)
		}
		e.Name = string(buf[:nameLen])
		e.Path = string(buf[nameLen:])
		if e.IsDir {
			gotDirs++
		} else {
			gotFiles++
		}
		entries = append(entries, e)
	}
	if gotFiles != files || gotDirs != dirs {
		return nil, "", fmt.Errorf("%w: stored counts %d/%d, entries carry %d/%d",
			ntfind.ErrParse, files, dirs, gotFiles, gotDirs)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, "", fmt.Errorf("%w: trailing data after %d entries", ntfind.ErrParse, total)
	}
	return entries, uuid.UUID(gen).String(), nil
}

func parseErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated index file", ntfind.ErrParse)
	}
	return fmt.Errorf("%w: %v", ntfind.ErrParse, err)
}

// tsTicks maps a timestamp to unix nanos with zero meaning unknown.
func tsTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func ticksTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
