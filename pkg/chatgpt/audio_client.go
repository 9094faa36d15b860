package chatgpt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"

	"github.com/dskvich/ogg-to-text/pkg/domain"
)

// MaxUploadBytes is the largest file the transcription endpoint accepts.
const MaxUploadBytes = 25 << 20

const uploadFileName = "audio.wav"

type AudioOption func(*openai.ClientConfig, *audioClient)

// WithBaseURL points the client at an OpenAI compatible endpoint.
func WithBaseURL(url string) AudioOption {
	return func(cfg *openai.ClientConfig, _ *audioClient) {
		if url != "" {
			cfg.BaseURL = strings.TrimSuffix(url, "/")
		}
	}
}

func WithModel(model string) AudioOption {
	return func(_ *openai.ClientConfig, c *audioClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) AudioOption {
	return func(cfg *openai.ClientConfig, _ *audioClient) {
		cfg.HTTPClient = hc
	}
}

type audioClient struct {
	api   *openai.Client
	model string
}

func NewAudioClient(token string, opts ...AudioOption) (*audioClient, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	cfg := openai.DefaultConfig(token)
	c := &audioClient{model: openai.Whisper1}
	for _, opt := range opts {
		opt(&cfg, c)
	}
	c.api = openai.NewClientWithConfig(cfg)

	return c, nil
}

// Recognize sends one complete WAV for a single shot transcription.
// Service failures are reported as a canceled recognition, not as an error.
func (c *audioClient) Recognize(ctx context.Context, req domain.RecognitionRequest) (domain.Recognition, error) {
	if len(req.Audio) == 0 {
		return domain.Recognition{}, domain.ErrEmptyInput
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: uploadFileName,
		Reader:   bytes.NewReader(req.Audio),
		Language: isoLanguage(req.Language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return domain.Canceled(cancellationFor(ctx, err)), nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return domain.NoMatch(), nil
	}
	return domain.Recognized(text), nil
}

func cancellationFor(ctx context.Context, err error) domain.Cancellation {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Cancellation{
			Reason:  domain.CancellationTimeout,
			Details: fmt.Sprintf("creating transcription: %v", err),
		}
	}

	c := domain.Cancellation{
		Reason:  domain.CancellationError,
		Details: err.Error(),
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		c.ErrorCode = strconv.Itoa(apiErr.HTTPStatusCode)
		if apiErr.Code != nil {
			c.ErrorCode = fmt.Sprint(apiErr.Code)
		}
		c.Details = apiErr.Message
		c.AuthFailure = isAuthStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		c.ErrorCode = strconv.Itoa(reqErr.HTTPStatusCode)
		c.AuthFailure = isAuthStatus(reqErr.HTTPStatusCode)
	default:
		c.ErrorCode = "transport"
	}

	return c
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// isoLanguage turns a locale like de-de into the ISO 639-1 code the
// transcription endpoint expects. An unparseable locale means auto detect.
func isoLanguage(locale string) string {
	if locale == "" {
		return ""
	}

	tag, err := language.Parse(locale)
	if err != nil {
		slog.Warn("Unknown recognition language, falling back to auto detection", "language", locale)
		return ""
	}

	base, _ := tag.Base()
	return base.String()
}
