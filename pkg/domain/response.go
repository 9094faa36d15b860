package domain

import "time"

// Outcome is everything one transcription produced, including diagnostics.
type Outcome struct {
	Source       string
	Text         string
	Reason       ResultReason
	Cancellation *Cancellation
	ExitCode     int
	Stderr       string
	AudioBytes   int
	Elapsed      time.Duration
}
