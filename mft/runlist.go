package mft

import (
	"fmt"

	"github.com/ntfind/ntfind"
)

// Run is one cluster extent of a non-resident attribute.
type Run struct {
	LCN    int64  // starting volume cluster; meaningless when Sparse
	Length uint64 // clusters
	Sparse bool
}

// DecodeRunList unpacks the variable-length run descriptors of a
// non-resident attribute. Each descriptor's header nibble pair sizes the
// length and offset fields that follow; offsets are signed deltas from the
// previous run's start.
func DecodeRunList(b []byte) ([]Run, error) {
	var runs []Run
	var lcn int64

	i := 0
	for i < len(b) {
		hdr := b[i]
		if hdr == 0 {
			break
		}
		lenSize := int(hdr & 0x0F)
		offSize := int(hdr >> 4)
		i++
		if lenSize == 0 || lenSize > 8 || offSize > 8 || i+lenSize+offSize > len(b) {
			return nil, fmt.Errorf("run list: %w: bad descriptor header 0x%02x at %d",
				ntfind.ErrParse, hdr, i-1)
		}

		length := readUintLE(b[i : i+lenSize])
		i += lenSize

		if offSize == 0 {
			// No offset field: a sparse hole with no clusters on disk.
			runs = append(runs, Run{Length: length, Sparse: true})
			continue
		}

		lcn += readIntLE(b[i : i+offSize])
		i += offSize
		if lcn < 0 {
			return nil, fmt.Errorf("run list: %w: negative cluster %d", ntfind.ErrParse, lcn)
		}
		runs = append(runs, Run{LCN: lcn, Length: length})
	}

	if len(runs) == 0 {
		return nil, fmt.Errorf("run list: %w: empty", ntfind.ErrParse)
	}
	return runs, nil
}

func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// readIntLE sign-extends the little-endian bytes.
func readIntLE(b []byte) int64 {
	v := readUintLE(b)
	bits := uint(len(b) * 8)
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return int64(v)
}
