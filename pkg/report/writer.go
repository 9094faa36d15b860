package report

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/dskvich/ogg-to-text/pkg/domain"
	"github.com/dskvich/ogg-to-text/pkg/logger"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Entry is one processed input, in the order it finished.
type Entry struct {
	Outcome domain.Outcome
	Err     error
}

type Writer interface {
	Write(e Entry)
}

// NewWriter returns a writer for format, falling back to text for unknown formats.
func NewWriter(format string, w io.Writer) Writer {
	if strings.EqualFold(format, FormatJSON) {
		return &JSONLinesWriter{w: w}
	}
	return &TextWriter{w: w}
}

type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *TextWriter) Write(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("%s: %s", sourceName(e.Outcome.Source), e.Outcome.Text)
	if e.Err != nil {
		line = fmt.Sprintf("%s: error: %v", sourceName(e.Outcome.Source), e.Err)
	}
	if _, err := fmt.Fprintln(t.w, line); err != nil {
		slog.Error("writing text report", logger.Err(err))
	}
}

type JSONLinesWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (j *JSONLinesWriter) Write(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := json.NewEncoder(j.w).Encode(newLine(e)); err != nil {
		slog.Error("encoding json report", logger.Err(err))
	}
}

type Line struct {
	Path         string               `json:"path"`
	Text         string               `json:"text"`
	Reason       string               `json:"reason,omitempty"`
	ExitCode     int                  `json:"exit_code"`
	Cancellation *domain.Cancellation `json:"cancellation,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func newLine(e Entry) Line {
	return Line{
		Path:         sourceName(e.Outcome.Source),
		Text:         e.Outcome.Text,
		Reason:       string(e.Outcome.Reason),
		ExitCode:     e.Outcome.ExitCode,
		Cancellation: e.Outcome.Cancellation,
		Error:        lo.TernaryF(e.Err != nil, func() string { return e.Err.Error() }, func() string { return "" }),
	}
}

func sourceName(source string) string {
	return lo.Ternary(source == "", "-", source)
}
