package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/dskvich/ogg-to-text/pkg/logger"
	"github.com/dskvich/ogg-to-text/pkg/pump"
)

const defaultBinary = "ffmpeg"

var ErrSpawn = errors.New("starting transcoder")

// SpawnError means the transcoder never ran, so there is no partial result.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting `%s`: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// Result is what one transcoder run produced.
type Result struct {
	Output   []byte
	Stderr   []byte
	ExitCode int
	Pumps    []pump.Result
	Duration time.Duration
}

// Faults combines the faults of every pump, or returns nil.
func (r Result) Faults() error {
	var err error
	for _, p := range r.Pumps {
		if p.Err != nil {
			err = multierror.Append(err, p.Err)
		}
	}
	return err
}

// StderrTail returns the last n non-blank lines the transcoder printed.
func (r Result) StderrTail(n int) []string {
	lines := lo.Filter(strings.Split(string(r.Stderr), "\n"), func(line string, _ int) bool {
		return strings.TrimSpace(line) != ""
	})
	if n >= 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

type Option func(*OggToWAV)

func WithBinary(path string) Option {
	return func(o *OggToWAV) {
		if path != "" {
			o.binary = path
		}
	}
}

// WithArgs replaces the whole ffmpeg command line.
func WithArgs(args ...string) Option {
	return func(o *OggToWAV) {
		o.args = args
	}
}

func WithEnv(env ...string) Option {
	return func(o *OggToWAV) {
		o.env = append(o.env, env...)
	}
}

func WithBufferSize(size int) Option {
	return func(o *OggToWAV) {
		o.bufSize = size
	}
}

// OggToWAV runs ffmpeg as a filter: compressed audio in on stdin, WAV out on stdout.
type OggToWAV struct {
	binary  string
	args    []string
	env     []string
	bufSize int
}

func NewOggToWAV(opts ...Option) *OggToWAV {
	o := &OggToWAV{
		binary:  defaultBinary,
		args:    Args(SpeechFormat),
		bufSize: pump.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcode feeds input to the transcoder and collects its stdout and stderr.
//
// The three streams are pumped concurrently. The stdin pump is joined first,
// then the process is reaped, then the two capture pumps are joined so that
// output still buffered in the pipes is not lost. A nonzero exit code is
// reported in Result, not as an error.
//
// Without a deadline on ctx a transcoder that never exits blocks forever.
func (o *OggToWAV) Transcode(ctx context.Context, input []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("transcoding interrupted: %w", err)
	}

	binPath, err := exec.LookPath(o.binary)
	if err != nil {
		return Result{}, &SpawnError{Binary: o.binary, Err: err}
	}

	p, err := openPipes()
	if err != nil {
		return Result{}, &SpawnError{Binary: o.binary, Err: err}
	}
	defer p.closeParentEnds()

	cmd := exec.CommandContext(ctx, binPath, o.args...)
	cmd.Stdin = p.stdinR
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}

	slog.DebugContext(ctx, "Starting transcoder", "binary", binPath, "args", strings.Join(o.args, " "), "input_bytes", len(input))

	started := time.Now()
	if err := cmd.Start(); err != nil {
		p.closeChildEnds()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("transcoding interrupted: %w", ctxErr)
		}
		return Result{}, &SpawnError{Binary: o.binary, Err: err}
	}
	// The child holds its own copies now; ours would keep the pipes from reporting EOF.
	p.closeChildEnds()

	var stdout, stderr bytes.Buffer
	opt := pump.WithBufferSize(o.bufSize)
	feed := pump.Start("stdin", bytes.NewReader(input), p.stdinW, opt)
	capture := pump.Start("stdout", p.stdoutR, pump.NopCloser(&stdout), opt)
	diagnostics := pump.Start("stderr", p.stderrR, pump.NopCloser(&stderr), opt)

	feedRes := feed.Join()
	waitErr := cmd.Wait()
	captureRes := capture.Join()
	diagRes := diagnostics.Join()

	res := Result{
		Output:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Pumps:    []pump.Result{feedRes, captureRes, diagRes},
		Duration: time.Since(started),
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		slog.WarnContext(ctx, "Waiting for transcoder", "binary", binPath, logger.Err(waitErr))
	}

	if err := interrupted(ctx, waitErr); err != nil {
		return res, err
	}

	slog.DebugContext(ctx, "Transcoder finished",
		"exit_code", res.ExitCode,
		"output_bytes", len(res.Output),
		"stderr_bytes", len(res.Stderr),
		"duration", res.Duration,
	)

	return res, nil
}

// interrupted reports ctx ending only when it actually cut the run short.
// A transcoder that exited cleanly keeps its result even if ctx expired later.
func interrupted(ctx context.Context, waitErr error) error {
	if waitErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("transcoding interrupted: %w", ctxErr)
	}
	return nil
}

// pipes are created here rather than with cmd.StdoutPipe so that Wait does
// not close the read ends while a pump may still be draining them.
type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipes, error) {
	var p pipes
	var err error

	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	return &p, nil
}

func (p *pipes) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

// closeParentEnds runs after every pump has been joined. The stdin writer
// has already been closed by its pump, closing it again is harmless.
func (p *pipes) closeParentEnds() {
	closeFiles(p.stdinW, p.stdoutR, p.stderrR)
}

func (p *pipes) closeAll() {
	p.closeChildEnds()
	p.closeParentEnds()
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
