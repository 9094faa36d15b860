package wav

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

const dataTagOffset = DataSizeOffset - 4

// Format is what a repaired container declares about its samples.
type Format struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	AudioFormat int
	Duration    time.Duration
}

// Inspect checks that buf is a well formed WAV whose data chunk sits where
// FixHeader expects it, and reports its format.
func Inspect(buf []byte) (Format, error) {
	if len(buf) < MinHeaderSize {
		return Format{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedOutput, len(buf), MinHeaderSize)
	}
	if tag := string(buf[dataTagOffset:DataSizeOffset]); tag != "data" {
		return Format{}, fmt.Errorf("%w: expected data chunk at offset %d, found %q", ErrMalformedOutput, dataTagOffset, tag)
	}

	d := wav.NewDecoder(bytes.NewReader(buf))
	if !d.IsValidFile() {
		return Format{}, fmt.Errorf("%w: not a valid wav file: %v", ErrMalformedOutput, d.Err())
	}

	duration, err := d.Duration()
	if err != nil {
		return Format{}, fmt.Errorf("%w: computing duration: %v", ErrMalformedOutput, err)
	}

	return Format{
		SampleRate:  int(d.SampleRate),
		Channels:    int(d.NumChans),
		BitDepth:    int(d.BitDepth),
		AudioFormat: int(d.WavAudioFormat),
		Duration:    duration,
	}, nil
}
