package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dskvich/ogg-to-text/pkg/chatgpt"
	"github.com/dskvich/ogg-to-text/pkg/converter"
	"github.com/dskvich/ogg-to-text/pkg/domain"
	"github.com/dskvich/ogg-to-text/pkg/logger"
	"github.com/dskvich/ogg-to-text/pkg/metrics"
	"github.com/dskvich/ogg-to-text/pkg/report"
	"github.com/dskvich/ogg-to-text/pkg/service"
	"github.com/dskvich/ogg-to-text/pkg/services"
)

const stdinSource = "-"

type Config struct {
	OpenAIToken         string        `env:"OPEN_AI_TOKEN,required,notEmpty"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	TranscriptionModel  string        `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	RecognitionLanguage string        `env:"RECOGNITION_LANGUAGE" envDefault:"de-de"`
	FFmpegPath          string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFmpegInputArgs     []string      `env:"FFMPEG_INPUT_ARGS" envSeparator:" "`
	TranscodeTimeout    time.Duration `env:"TRANSCODE_TIMEOUT" envDefault:"0s"`
	RecognitionTimeout  time.Duration `env:"RECOGNITION_TIMEOUT" envDefault:"2m"`
	StrictHeader        bool          `env:"STRICT_HEADER" envDefault:"false"`
	BatchConcurrency    int           `env:"BATCH_CONCURRENCY" envDefault:"2"`
	OutputFormat        string        `env:"OUTPUT_FORMAT" envDefault:"text"`
	MetricsTextfile     string        `env:"METRICS_TEXTFILE"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	NoColor             bool          `env:"NO_COLOR"`
}

// Transcriber is the part of the transcription service the CLI drives.
type Transcriber interface {
	ProcessFile(ctx context.Context, path string) (domain.Outcome, error)
	Process(ctx context.Context, compressed []byte) (domain.Outcome, error)
}

func main() {
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, logger.DefaultOptions)))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("loading config", logger.Err(err))
		os.Exit(1)
	}
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, loggerOptions(cfg))))

	if err := runMain(cfg, os.Args[1:]); err != nil {
		slog.Error("finished with errors", logger.Err(err))
		os.Exit(1)
	}
}

func runMain(cfg Config, args []string) error {
	m := metrics.NewMetrics()
	if cfg.MetricsTextfile != "" {
		defer func() {
			if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
				slog.Error("exporting metrics", logger.Err(err))
			}
		}()
	}

	svc, err := setupService(cfg, m)
	if err != nil {
		return err
	}

	group := service.Group{
		service.NewSignalWatcher(),
		&batchRunner{
			svc:     svc,
			sources: inputs(args),
			stdin:   os.Stdin,
			limit:   cfg.BatchConcurrency,
			writer:  report.NewWriter(cfg.OutputFormat, os.Stdout),
		},
	}
	return group.Run(context.Background())
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env config: %w", err)
	}
	return cfg, nil
}

func loggerOptions(cfg Config) *logger.Options {
	opts := *logger.DefaultOptions
	opts.Level = logger.ParseLevel(cfg.LogLevel)
	opts.NoColor = cfg.NoColor
	return &opts
}

func setupService(cfg Config, m *metrics.Metrics) (Transcriber, error) {
	transcoder := converter.NewOggToWAV(
		converter.WithBinary(cfg.FFmpegPath),
		converter.WithArgs(converter.Args(converter.SpeechFormat, cfg.FFmpegInputArgs...)...),
	)

	recognizer, err := chatgpt.NewAudioClient(
		cfg.OpenAIToken,
		chatgpt.WithBaseURL(cfg.OpenAIBaseURL),
		chatgpt.WithModel(cfg.TranscriptionModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating open ai audio client: %w", err)
	}

	return services.NewTranscriptionService(transcoder, recognizer, m, services.TranscriptionOptions{
		Language:           cfg.RecognitionLanguage,
		StrictHeader:       cfg.StrictHeader,
		TranscodeTimeout:   cfg.TranscodeTimeout,
		RecognitionTimeout: cfg.RecognitionTimeout,
		MaxAudioBytes:      chatgpt.MaxUploadBytes,
	}), nil
}

// inputs reads stdin when no files are given. Stdin can be read only once, so
// a repeated "-" is dropped.
func inputs(args []string) []string {
	if len(args) == 0 {
		return []string{stdinSource}
	}

	seenStdin := false
	return lo.Filter(args, func(arg string, _ int) bool {
		if arg != stdinSource {
			return true
		}
		if seenStdin {
			slog.Warn("Ignoring repeated stdin input", "source", arg)
			return false
		}
		seenStdin = true
		return true
	})
}

type batchRunner struct {
	svc     Transcriber
	sources []string
	stdin   io.Reader
	limit   int
	writer  report.Writer
}

func (b *batchRunner) Name() string {
	return "batch"
}

func (b *batchRunner) Run(ctx context.Context) error {
	return runBatch(ctx, b.svc, b.sources, b.stdin, b.limit, b.writer)
}

// runBatch processes every source with at most limit running at once. Each
// failed source is reported and collected; the others keep going.
func runBatch(ctx context.Context, svc Transcriber, sources []string, stdin io.Reader, limit int, w report.Writer) error {
	var (
		mu     sync.Mutex
		result error
	)

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, source := range sources {
		source := source
		g.Go(func() error {
			jobCtx := logger.ContextWithJobID(ctx, uuid.NewString())
			slog.InfoContext(jobCtx, "Processing input", "source", source)

			outcome, err := process(jobCtx, svc, source, stdin)
			w.Write(report.Entry{Outcome: outcome, Err: err})

			if err != nil {
				slog.ErrorContext(jobCtx, "Input failed", "source", source, logger.Err(err))
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", source, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}

func process(ctx context.Context, svc Transcriber, source string, stdin io.Reader) (domain.Outcome, error) {
	if source != stdinSource {
		return svc.ProcessFile(ctx, source)
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return domain.Outcome{Source: source}, fmt.Errorf("reading stdin: %w", err)
	}
	outcome, err := svc.Process(ctx, data)
	outcome.Source = source
	return outcome, err
}
