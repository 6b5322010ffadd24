package mft

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/ntfind/ntfind"
	"github.com/ntfind/ntfind/internal/util"
)

// FILE record header flags.
const (
	recordFlagInUse     = 0x0001
	recordFlagDirectory = 0x0002
)

// Attribute type codes.
const (
	attrStandardInformation = 0x10
	attrFileName            = 0x30
	attrData                = 0x80
	attrEndMarker           = 0xFFFFFFFF
)

// $FILE_NAME namespaces.
const (
	nsPosix       = 0
	nsWin32       = 1
	nsDos         = 2
	nsWin32AndDos = 3
)

const recordHeaderLen = 48

// Record is the parsed form of one MFT FILE record segment.
type Record struct {
	ID       ntfind.FileID
	ParentID ntfind.FileID
	Name     string
	IsDir    bool
	InUse    bool
	// Base is false for extension segments that continue another record's
	// attribute list; those carry no identity of their own.
	Base bool
	Size uint64

	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// ParseRecord parses one FILE record segment. Records not in use or not
// base records come back with the matching flag cleared and no attribute
// data; callers skip them without treating that as an error.
func ParseRecord(buf []byte, recordNum uint64) (*Record, error) {
	if len(buf) < recordHeaderLen {
		return nil, fmt.Errorf("record %d: %w: truncated header", recordNum, ntfind.ErrParse)
	}
	if string(buf[0:4]) != "FILE" {
		return nil, fmt.Errorf("record %d: %w: bad magic %q", recordNum, ntfind.ErrParse, buf[0:4])
	}
	if err := applyFixups(buf); err != nil {
		return nil, fmt.Errorf("record %d: %w", recordNum, err)
	}

	seq := binary.LittleEndian.Uint16(buf[16:18])
	flags := binary.LittleEndian.Uint16(buf[22:24])
	rec := &Record{
		ID:    ntfind.NewFileID(recordNum, seq),
		InUse: flags&recordFlagInUse != 0,
		IsDir: flags&recordFlagDirectory != 0,
		Base:  binary.LittleEndian.Uint64(buf[32:40]) == 0,
	}
	if !rec.InUse || !rec.Base {
		return rec, nil
	}

	attrsOff := int(binary.LittleEndian.Uint16(buf[20:22]))
	if attrsOff < recordHeaderLen || attrsOff >= len(buf) {
		return nil, fmt.Errorf("record %d: %w: attribute offset %d", recordNum, ntfind.ErrParse, attrsOff)
	}

	bestRank := -1
	for _, a := range walkAttributes(buf, attrsOff) {
		switch a.typ {
		case attrStandardInformation:
			// Size and timestamp failures degrade single fields, never the record.
			if a.resident && len(a.value) >= 32 {
				rec.Created = util.FiletimeToTime(binary.LittleEndian.Uint64(a.value[0:8]))
				rec.Modified = util.FiletimeToTime(binary.LittleEndian.Uint64(a.value[8:16]))
				rec.Accessed = util.FiletimeToTime(binary.LittleEndian.Uint64(a.value[24:32]))
			}

		case attrFileName:
			if !a.resident || len(a.value) < 66 {
				continue
			}
			nameLen := int(a.value[64])
			ns := a.value[65]
			if len(a.value) < 66+nameLen*2 {
				continue
			}
			if r := namespaceRank(ns); r > bestRank {
				bestRank = r
				rec.Name = decodeUTF16(a.value[66 : 66+nameLen*2])
				rec.ParentID = ntfind.FileID(binary.LittleEndian.Uint64(a.value[0:8]))
			}

		case attrData:
			// The unnamed stream carries the file's size.
			if a.nameLen != 0 {
				continue
			}
			if a.resident {
				rec.Size = uint64(len(a.value))
			} else if len(a.raw) >= 56 {
				rec.Size = binary.LittleEndian.Uint64(a.raw[48:56])
			}
		}
	}

	return rec, nil
}

// MftExtents returns the cluster runs and real byte size of the $MFT file
// itself, parsed from MFT record 0. The runs locate every region of the
// volume holding file records.
func MftExtents(buf []byte) ([]Run, uint64, error) {
	if len(buf) < recordHeaderLen || string(buf[0:4]) != "FILE" {
		return nil, 0, fmt.Errorf("$MFT record: %w: bad magic", ntfind.ErrParse)
	}
	if err := applyFixups(buf); err != nil {
		return nil, 0, fmt.Errorf("$MFT record: %w", err)
	}
	attrsOff := int(binary.LittleEndian.Uint16(buf[20:22]))
	if attrsOff < recordHeaderLen || attrsOff >= len(buf) {
		return nil, 0, fmt.Errorf("$MFT record: %w: attribute offset %d", ntfind.ErrParse, attrsOff)
	}

	for _, a := range walkAttributes(buf, attrsOff) {
		if a.typ != attrData || a.nameLen != 0 {
			continue
		}
		if a.resident {
			return nil, 0, fmt.Errorf("$MFT record: %w: resident $DATA", ntfind.ErrParse)
		}
		if len(a.raw) < 56 {
			return nil, 0, fmt.Errorf("$MFT record: %w: short $DATA header", ntfind.ErrParse)
		}
		realSize := binary.LittleEndian.Uint64(a.raw[48:56])
		runOff := int(binary.LittleEndian.Uint16(a.raw[32:34]))
		if runOff <= 0 || runOff >= len(a.raw) {
			return nil, 0, fmt.Errorf("$MFT record: %w: run list offset %d", ntfind.ErrParse, runOff)
		}
		runs, err := DecodeRunList(a.raw[runOff:])
		if err != nil {
			return nil, 0, fmt.Errorf("$MFT record: %w", err)
		}
		return runs, realSize, nil
	}
	return nil, 0, fmt.Errorf("$MFT record: %w: no unnamed $DATA attribute", ntfind.ErrParse)
}

// applyFixups replaces each sector's trailing update-sequence check bytes
// with the saved originals. A check mismatch means the record was torn
// mid-write and cannot be trusted.
func applyFixups(buf []byte) error {
	usaOff := int(binary.LittleEndian.Uint16(buf[4:6]))
	usaCount := int(binary.LittleEndian.Uint16(buf[6:8]))
	if usaCount < 2 {
		return nil // no protected sectors
	}
	if usaOff < 0 || usaOff+usaCount*2 > len(buf) {
		return fmt.Errorf("%w: update sequence array out of range", ntfind.ErrParse)
	}
	stride := len(buf) / (usaCount - 1)
	if stride == 0 {
		return fmt.Errorf("%w: bad update sequence stride", ntfind.ErrParse)
	}
	usn := buf[usaOff : usaOff+2]
	for i := 1; i < usaCount; i++ {
		end := i * stride
		if end > len(buf) {
			return fmt.Errorf("%w: update sequence past record end", ntfind.ErrParse)
		}
		if buf[end-2] != usn[0] || buf[end-1] != usn[1] {
			return fmt.Errorf("%w: update sequence mismatch in sector %d", ntfind.ErrParse, i-1)
		}
		buf[end-2] = buf[usaOff+i*2]
		buf[end-1] = buf[usaOff+i*2+1]
	}
	return nil
}

type attribute struct {
	typ      uint32
	resident bool
	nameLen  int
	value    []byte // resident value, nil otherwise
	raw      []byte // whole attribute record
}

// walkAttributes collects the record's attributes, stopping at the end
// marker or the first structurally impossible header. Attributes before a
// corrupt one are still returned so single-field damage degrades gracefully.
func walkAttributes(buf []byte, attrsOff int) []attribute {
	var attrs []attribute
	off := attrsOff
	for off+8 <= len(buf) {
		typ := binary.LittleEndian.Uint32(buf[off : off+4])
		if typ == attrEndMarker {
			break
		}
		alen := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		if alen < 16 || off+alen > len(buf) {
			break
		}
		a := attribute{
			typ:     typ,
			nameLen: int(buf[off+9]),
			raw:     buf[off : off+alen],
		}
		if buf[off+8] == 0 {
			a.resident = true
			if alen >= 24 {
				vlen := int(binary.LittleEndian.Uint32(buf[off+16 : off+20]))
				voff := int(binary.LittleEndian.Uint16(buf[off+20 : off+22]))
				if voff >= 0 && voff+vlen <= alen {
					a.value = buf[off+voff : off+voff+vlen]
				}
			}
		}
		attrs = append(attrs, a)
		off += alen
	}
	return attrs
}

// namespaceRank orders $FILE_NAME attributes by desirability: Win32 names
// first, DOS 8.3 short names last.
func namespaceRank(ns byte) int {
	switch ns {
	case nsWin32:
		return 3
	case nsWin32AndDos:
		return 2
	case nsPosix:
		return 1
	case nsDos:
		return 0
	}
	return -1
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(u))
}
