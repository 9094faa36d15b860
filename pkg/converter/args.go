package converter

import "strconv"

// Format is the PCM container ffmpeg is asked to produce.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	Container  string
}

// SpeechFormat is mono 16 bit 16 kHz WAV, what speech recognizers expect.
var SpeechFormat = Format{
	Codec:      "pcm_s16le",
	SampleRate: 16000,
	Channels:   1,
	Container:  "wav",
}

// Args builds an ffmpeg command line that decodes stdin and writes f to stdout.
// Progress and diagnostics go to stderr.
//
//	ffmpeg -hide_banner [inputArgs...] -i - -c:a pcm_s16le -ar 16000 -ac 1 -f wav -
func Args(f Format, inputArgs ...string) []string {
	args := []string{"-hide_banner"}
	args = append(args, inputArgs...)
	args = append(args,
		"-i", "-",
		"-c:a", f.Codec,
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-f", f.Container,
		"-",
	)
	return args
}
