package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Layout of the WAV stream ffmpeg writes to a pipe: a 12 byte RIFF header,
// a 24 byte fmt chunk, a 34 byte LIST/INFO chunk and the 8 byte data chunk
// header. ffmpeg cannot seek back on a pipe, so the two size fields are left
// as placeholders.
const (
	// RIFFSizeOffset holds the RIFF chunk size: everything after the first 8 bytes.
	RIFFSizeOffset = 4
	RIFFSizeBias   = 8

	// DataSizeOffset holds the data chunk size: everything after the header.
	DataSizeOffset = 0x4a

	// MinHeaderSize is where the PCM samples start.
	MinHeaderSize = 78
)

var ErrMalformedOutput = errors.New("malformed wav output")

// Patch is one little-endian uint32 write into a header.
type Patch struct {
	Offset int
	Value  uint32
}

// HeaderPatches returns the size fields a container of total bytes must carry.
func HeaderPatches(total int) ([]Patch, error) {
	if total < MinHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedOutput, total, MinHeaderSize)
	}
	if uint64(total-RIFFSizeBias) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes does not fit a RIFF size field", ErrMalformedOutput, total)
	}

	return []Patch{
		{Offset: RIFFSizeOffset, Value: uint32(total - RIFFSizeBias)},
		{Offset: DataSizeOffset, Value: uint32(total - MinHeaderSize)},
	}, nil
}

// Apply writes the patches into buf in place.
func Apply(buf []byte, patches []Patch) {
	for _, p := range patches {
		binary.LittleEndian.PutUint32(buf[p.Offset:p.Offset+4], p.Value)
	}
}

// FixHeader rewrites the RIFF and data size fields of buf in place and returns it.
// Nothing else in the header is checked; see Inspect for that.
func FixHeader(buf []byte) ([]byte, error) {
	patches, err := HeaderPatches(len(buf))
	if err != nil {
		return buf, err
	}

	Apply(buf, patches)
	return buf, nil
}
