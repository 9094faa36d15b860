package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dskvich/ogg-to-text/pkg/converter"
	"github.com/dskvich/ogg-to-text/pkg/domain"
	"github.com/dskvich/ogg-to-text/pkg/logger"
	"github.com/dskvich/ogg-to-text/pkg/pump"
	"github.com/dskvich/ogg-to-text/pkg/wav"
)

const stderrTailLines = 5

type Transcoder interface {
	Transcode(ctx context.Context, input []byte) (converter.Result, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, req domain.RecognitionRequest) (domain.Recognition, error)
}

type Metrics interface {
	ObserveTranscode(seconds float64, exitCode int, pumps []pump.Result)
	ObserveRecognition(seconds float64, audioBytes int, reason domain.ResultReason)
	ObserveFatal(stage string)
}

type TranscriptionOptions struct {
	Language           string
	StrictHeader       bool
	TranscodeTimeout   time.Duration
	RecognitionTimeout time.Duration
	// MaxAudioBytes only triggers a warning; zero disables it.
	MaxAudioBytes int
}

type transcriptionService struct {
	transcoder Transcoder
	recognizer Recognizer
	metrics    Metrics
	opts       TranscriptionOptions
}

func NewTranscriptionService(
	transcoder Transcoder,
	recognizer Recognizer,
	metrics Metrics,
	opts TranscriptionOptions,
) *transcriptionService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &transcriptionService{
		transcoder: transcoder,
		recognizer: recognizer,
		metrics:    metrics,
		opts:       opts,
	}
}

func (s *transcriptionService) TranscribeFile(ctx context.Context, path string) (string, error) {
	outcome, err := s.ProcessFile(ctx, path)
	return outcome.Text, err
}

func (s *transcriptionService) TranscribeBytes(ctx context.Context, compressed []byte) (string, error) {
	outcome, err := s.Process(ctx, compressed)
	return outcome.Text, err
}

func (s *transcriptionService) ProcessFile(ctx context.Context, path string) (domain.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.metrics.ObserveFatal("read")
		return domain.Outcome{Source: path}, fmt.Errorf("reading audio file: %w", err)
	}

	outcome, err := s.Process(ctx, data)
	outcome.Source = path
	return outcome, err
}

// Process transcodes compressed audio to WAV, repairs the header and asks the
// recognizer for text. Only a transcoder that cannot start, a transcoder
// output that is not a WAV, or ctx ending abort with an error; anything the
// recognizer reports ends up in the Outcome.
func (s *transcriptionService) Process(ctx context.Context, compressed []byte) (domain.Outcome, error) {
	started := time.Now()
	var outcome domain.Outcome

	res, err := s.transcode(ctx, compressed)
	outcome.ExitCode = res.ExitCode
	outcome.Stderr = string(res.Stderr)
	if err != nil {
		s.metrics.ObserveFatal("transcode")
		return outcome, fmt.Errorf("transcoding audio: %w", err)
	}

	audio, err := s.repair(ctx, res.Output)
	if err != nil {
		s.metrics.ObserveFatal("header")
		slog.ErrorContext(ctx, "Transcoder output is not usable", "exit_code", res.ExitCode, "stderr_tail", res.StderrTail(stderrTailLines))
		return outcome, fmt.Errorf("repairing wav header: %w", err)
	}
	outcome.AudioBytes = len(audio)

	rec := s.recognize(ctx, audio)
	outcome.Reason = rec.Reason
	outcome.Text = rec.Text
	outcome.Cancellation = rec.Cancellation
	outcome.Elapsed = time.Since(started)

	return outcome, nil
}

func (s *transcriptionService) transcode(ctx context.Context, compressed []byte) (converter.Result, error) {
	if s.opts.TranscodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TranscodeTimeout)
		defer cancel()
	}

	res, err := s.transcoder.Transcode(ctx, compressed)
	if err != nil {
		return res, err
	}

	s.metrics.ObserveTranscode(res.Duration.Seconds(), res.ExitCode, res.Pumps)

	slog.InfoContext(ctx, "Transcoder exited",
		"exit_code", res.ExitCode,
		"wav_bytes", len(res.Output),
		"duration", res.Duration,
		"stderr_tail", res.StderrTail(stderrTailLines),
	)
	slog.DebugContext(ctx, "Transcoder diagnostics", "stderr", string(res.Stderr))
	if res.ExitCode != 0 {
		slog.WarnContext(ctx, "Transcoder reported failure", "exit_code", res.ExitCode)
	}
	if faults := res.Faults(); faults != nil {
		slog.WarnContext(ctx, "Transcoder streams were not fully copied", logger.Err(faults))
	}

	return res, nil
}

func (s *transcriptionService) repair(ctx context.Context, output []byte) ([]byte, error) {
	audio, err := wav.FixHeader(output)
	if err != nil {
		return nil, err
	}

	if !s.opts.StrictHeader {
		return audio, nil
	}

	format, err := wav.Inspect(audio)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "WAV header verified",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"bit_depth", format.BitDepth,
		"duration", format.Duration,
	)

	return audio, nil
}

func (s *transcriptionService) recognize(ctx context.Context, audio []byte) domain.Recognition {
	if s.opts.MaxAudioBytes > 0 && len(audio) > s.opts.MaxAudioBytes {
		slog.WarnContext(ctx, "Audio exceeds the single request limit, recognition may fail", "wav_bytes", len(audio), "limit", s.opts.MaxAudioBytes)
	}

	if s.opts.RecognitionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RecognitionTimeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "Sending audio for transcription", "language", s.opts.Language, "wav_bytes", len(audio))

	started := time.Now()
	rec, err := s.recognizer.Recognize(ctx, domain.RecognitionRequest{
		Audio:    audio,
		Language: s.opts.Language,
	})
	if err != nil {
		rec = domain.Canceled(domain.Cancellation{
			Reason:  domain.CancellationError,
			Details: fmt.Sprintf("recognizing speech: %v", err),
		})
	}
	s.metrics.ObserveRecognition(time.Since(started).Seconds(), len(audio), rec.Reason)

	logRecognition(ctx, rec)

	return rec
}

func logRecognition(ctx context.Context, rec domain.Recognition) {
	switch rec.Reason {
	case domain.ReasonRecognized:
		slog.InfoContext(ctx, "Recognized speech: transcription was successful", "chars", len(rec.Text))
	case domain.ReasonNoMatch:
		slog.InfoContext(ctx, "No match: speech could not be recognized")
	case domain.ReasonCanceled:
		c := rec.Cancellation
		if c == nil {
			slog.WarnContext(ctx, "Canceled")
			return
		}
		slog.WarnContext(ctx, "Canceled", "reason", c.Reason)
		if c.Reason == domain.CancellationError {
			slog.WarnContext(ctx, "Canceled", "error_code", c.ErrorCode, "error_details", c.Details)
			if c.AuthFailure {
				slog.WarnContext(ctx, domain.SubscriptionHint)
			}
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveTranscode(float64, int, []pump.Result) {}

func (nopMetrics) ObserveRecognition(float64, int, domain.ResultReason) {}

func (nopMetrics) ObserveFatal(string) {}
