package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskvich/ogg-to-text/pkg/converter"
	"github.com/dskvich/ogg-to-text/pkg/domain"
	"github.com/dskvich/ogg-to-text/pkg/metrics"
	"github.com/dskvich/ogg-to-text/pkg/pump"
	"github.com/dskvich/ogg-to-text/pkg/wav"
)

type fakeTranscoder struct {
	result      converter.Result
	err         error
	input       []byte
	hadDeadline bool
}

func (f *fakeTranscoder) Transcode(ctx context.Context, input []byte) (converter.Result, error) {
	f.input = input
	_, f.hadDeadline = ctx.Deadline()
	return f.result, f.err
}

type fakeRecognizer struct {
	recognition domain.Recognition
	err         error
	calls       []domain.RecognitionRequest
}

func (f *fakeRecognizer) Recognize(_ context.Context, req domain.RecognitionRequest) (domain.Recognition, error) {
	f.calls = append(f.calls, req)
	return f.recognition, f.err
}

// streamedOutput looks like ffmpeg's pipe output: right layout, sizes unknown.
func streamedOutput(total int) []byte {
	out := make([]byte, total)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], 0xFFFFFFFF)
	copy(out[8:], "WAVE")
	copy(out[70:], "data")
	binary.LittleEndian.PutUint32(out[74:], 0xFFFFFFFF)
	return out
}

func okResult(total int) converter.Result {
	return converter.Result{
		Output:   streamedOutput(total),
		Stderr:   []byte("size=      31kB time=00:00:01.00\n"),
		Duration: 40 * time.Millisecond,
		Pumps: []pump.Result{
			{Name: "stdin", Bytes: 4000},
			{Name: "stdout", Bytes: int64(total)},
			{Name: "stderr", Bytes: 33},
		},
	}
}

func TestProcess_Recognized(t *testing.T) {
	transcoder := &fakeTranscoder{result: okResult(1000)}
	recognizer := &fakeRecognizer{recognition: domain.Recognized("hallo welt")}
	m := metrics.NewMetrics()
	svc := NewTranscriptionService(transcoder, recognizer, m, TranscriptionOptions{Language: "de-de"})

	outcome, err := svc.Process(context.Background(), []byte("OggS..."))

	require.NoError(t, err)
	assert.Equal(t, "hallo welt", outcome.Text)
	assert.Equal(t, domain.ReasonRecognized, outcome.Reason)
	assert.Equal(t, 1000, outcome.AudioBytes)
	assert.Equal(t, []byte("OggS..."), transcoder.input)

	require.Len(t, recognizer.calls, 1)
	req := recognizer.calls[0]
	assert.Equal(t, "de-de", req.Language)
	assert.Equal(t, uint32(992), binary.LittleEndian.Uint32(req.Audio[4:8]))
	assert.Equal(t, uint32(922), binary.LittleEndian.Uint32(req.Audio[74:78]))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognitionResults.WithLabelValues("recognized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscodeExits.WithLabelValues("0")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.PumpBytes.WithLabelValues("stdout")))
}

func TestProcess_NoMatchAndCanceledGiveEmptyText(t *testing.T) {
	tests := []struct {
		name        string
		recognition domain.Recognition
		recErr      error
		wantReason  domain.ResultReason
		wantCancel  *domain.Cancellation
	}{
		{
			name:        "no match",
			recognition: domain.NoMatch(),
			wantReason:  domain.ReasonNoMatch,
		},
		{
			name: "canceled by service",
			recognition: domain.Canceled(domain.Cancellation{
				Reason:      domain.CancellationError,
				ErrorCode:   "invalid_api_key",
				Details:     "Incorrect API key provided",
				AuthFailure: true,
			}),
			wantReason: domain.ReasonCanceled,
			wantCancel: &domain.Cancellation{
				Reason:      domain.CancellationError,
				ErrorCode:   "invalid_api_key",
				Details:     "Incorrect API key provided",
				AuthFailure: true,
			},
		},
		{
			name:       "recognizer error",
			recErr:     errors.New("connection reset"),
			wantReason: domain.ReasonCanceled,
			wantCancel: &domain.Cancellation{
				Reason:  domain.CancellationError,
				Details: "recognizing speech: connection reset",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTranscriptionService(
				&fakeTranscoder{result: okResult(500)},
				&fakeRecognizer{recognition: tt.recognition, err: tt.recErr},
				nil,
				TranscriptionOptions{},
			)

			outcome, err := svc.Process(context.Background(), []byte("ogg"))

			require.NoError(t, err)
			assert.Empty(t, outcome.Text)
			assert.Equal(t, tt.wantReason, outcome.Reason)
			assert.Equal(t, tt.wantCancel, outcome.Cancellation)
		})
	}
}

func TestProcess_SpawnFailureAborts(t *testing.T) {
	spawnErr := &converter.SpawnError{Binary: "ffmpeg", Err: errors.New("executable file not found in $PATH")}
	recognizer := &fakeRecognizer{}
	m := metrics.NewMetrics()
	svc := NewTranscriptionService(&fakeTranscoder{err: spawnErr}, recognizer, m, TranscriptionOptions{})

	text, err := svc.TranscribeBytes(context.Background(), []byte("ogg"))

	require.ErrorIs(t, err, converter.ErrSpawn)
	assert.Empty(t, text)
	assert.Empty(t, recognizer.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FatalErrors.WithLabelValues("transcode")))
}

func TestProcess_ShortOutputIsMalformed(t *testing.T) {
	result := converter.Result{
		Output:   []byte("RIFF"),
		Stderr:   []byte("pipe:0: Invalid data found when processing input\n"),
		ExitCode: 183,
	}
	recognizer := &fakeRecognizer{}
	svc := NewTranscriptionService(&fakeTranscoder{result: result}, recognizer, nil, TranscriptionOptions{})

	outcome, err := svc.Process(context.Background(), []byte("garbage"))

	require.ErrorIs(t, err, wav.ErrMalformedOutput)
	assert.Equal(t, 183, outcome.ExitCode)
	assert.Contains(t, outcome.Stderr, "Invalid data")
	assert.Empty(t, recognizer.calls)
}

func TestProcess_LogsTranscoderDiagnosticsAtInfo(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	svc := NewTranscriptionService(
		&fakeTranscoder{result: okResult(1000)},
		&fakeRecognizer{recognition: domain.Recognized("hallo")},
		nil,
		TranscriptionOptions{},
	)

	_, err := svc.Process(context.Background(), []byte("ogg"))

	require.NoError(t, err)
	assert.Contains(t, logs.String(), "exit_code=0")
	assert.Contains(t, logs.String(), "time=00:00:01.00")
}

func TestProcess_NonzeroExitWithValidOutputStillRecognizes(t *testing.T) {
	result := okResult(2000)
	result.ExitCode = 1
	svc := NewTranscriptionService(
		&fakeTranscoder{result: result},
		&fakeRecognizer{recognition: domain.Recognized("partial")},
		nil,
		TranscriptionOptions{},
	)

	outcome, err := svc.Process(context.Background(), []byte("ogg"))

	require.NoError(t, err)
	assert.Equal(t, "partial", outcome.Text)
	assert.Equal(t, 1, outcome.ExitCode)
}

func TestProcess_PumpFaultsAreNotFatal(t *testing.T) {
	result := okResult(300)
	result.Pumps[0].Err = &pump.Fault{Pump: "stdin", Op: "write", Err: errors.New("broken pipe")}
	m := metrics.NewMetrics()
	svc := NewTranscriptionService(
		&fakeTranscoder{result: result},
		&fakeRecognizer{recognition: domain.Recognized("ok")},
		m,
		TranscriptionOptions{},
	)

	text, err := svc.TranscribeBytes(context.Background(), []byte("ogg"))

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PumpFaults.WithLabelValues("stdin")))
}

func TestProcess_StrictHeaderRejectsGarbage(t *testing.T) {
	recognizer := &fakeRecognizer{}
	svc := NewTranscriptionService(
		&fakeTranscoder{result: converter.Result{Output: make([]byte, 500)}},
		recognizer,
		nil,
		TranscriptionOptions{StrictHeader: true},
	)

	_, err := svc.Process(context.Background(), []byte("ogg"))

	require.ErrorIs(t, err, wav.ErrMalformedOutput)
	assert.Empty(t, recognizer.calls)
}

func TestProcess_TranscodeTimeoutSetsDeadline(t *testing.T) {
	transcoder := &fakeTranscoder{result: okResult(100)}
	svc := NewTranscriptionService(transcoder, &fakeRecognizer{recognition: domain.NoMatch()}, nil, TranscriptionOptions{
		TranscodeTimeout: time.Minute,
	})

	_, err := svc.Process(context.Background(), []byte("ogg"))

	require.NoError(t, err)
	assert.True(t, transcoder.hadDeadline)
}

func TestProcess_NoTimeoutByDefault(t *testing.T) {
	transcoder := &fakeTranscoder{result: okResult(100)}
	svc := NewTranscriptionService(transcoder, &fakeRecognizer{recognition: domain.NoMatch()}, nil, TranscriptionOptions{})

	_, err := svc.Process(context.Background(), []byte("ogg"))

	require.NoError(t, err)
	assert.False(t, transcoder.hadDeadline)
}

func TestTranscribeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS voice"), 0o644))

	transcoder := &fakeTranscoder{result: okResult(1000)}
	svc := NewTranscriptionService(transcoder, &fakeRecognizer{recognition: domain.Recognized("guten tag")}, nil, TranscriptionOptions{})

	text, err := svc.TranscribeFile(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "guten tag", text)
	assert.Equal(t, []byte("OggS voice"), transcoder.input)

	outcome, err := svc.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, outcome.Source)
}

func TestTranscribeFile_Missing(t *testing.T) {
	transcoder := &fakeTranscoder{}
	svc := NewTranscriptionService(transcoder, &fakeRecognizer{}, nil, TranscriptionOptions{})

	_, err := svc.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "nope.ogg"))

	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, transcoder.input)
}
