// Package embedding turns story text into vectors through an
// OpenAI-compatible embeddings endpoint (Together AI by default).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/upstream"
)

var (
	// ErrEmptyText is returned for text that is empty after trimming.
	ErrEmptyText = errors.New("embedding: empty text")

	// ErrDimensionMismatch is returned when the provider answers with a
	// vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Result is one embedded text.
type Result struct {
	Vector    []float32
	Dimension int
	Model     string
	Truncated bool
}

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	MaxChars   int
	Timeout    time.Duration // per attempt
	Retry      upstream.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client embeds text with a single configured model.
type Client struct {
	api      openai.Client
	model    string
	dim      int
	maxChars int
	timeout  time.Duration
	retry    upstream.Policy
	log      *slog.Logger
}

// New creates a Client. The SDK's own retries are disabled; Embed applies
// opts.Retry instead.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Client{
		api:      openai.NewClient(clientOpts...),
		model:    opts.Model,
		dim:      opts.Dimension,
		maxChars: opts.MaxChars,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		log:      opts.Logger,
	}
}

// NewFromConfig builds a Client from the Embedding config section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		MaxChars:  cfg.Embedding.MaxChars,
		Timeout:   cfg.Embedding.Timeout,
		Retry: upstream.Policy{
			Base:        cfg.Embedding.RetryBase,
			Max:         cfg.Embedding.Timeout,
			MaxAttempts: cfg.Embedding.MaxAttempts,
		},
		Logger: logger,
	})
}

// Model returns the model identifier vectors are produced with.
func (c *Client) Model() string { return c.model }

// Dimension returns the expected vector length.
func (c *Client) Dimension() int { return c.dim }

// Embed returns the vector for text. Language is only used for logging:
// the configured model decides how text is tokenised.
//
// Errors wrap upstream.ErrUnavailable (transient failures exhausted the
// retry budget) or upstream.ErrTerminal (auth, bad request, wrong dimension).
func (c *Client) Embed(ctx context.Context, text, language string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyText
	}
	input, truncated := Truncate(text, c.maxChars)
	if truncated {
		c.log.Debug("story text truncated for embedding",
			slog.String("language", language),
			slog.Int("chars", utf8.RuneCountInString(text)),
			slog.Int("max_chars", c.maxChars),
		)
	}

	var vec []float32
	err := upstream.Do(ctx, c.retry, "embed", func(ctx context.Context) error {
		v, err := c.call(ctx, input)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if errors.Is(err, upstream.ErrTerminal) {
			c.log.Error("embedding provider rejected request",
				slog.String("model", c.model),
				slog.Any("err", err),
			)
		}
		return Result{}, err
	}
	return Result{Vector: vec, Dimension: len(vec), Model: c.model, Truncated: truncated}, nil
}

// call performs one attempt under the per-attempt timeout and classifies
// the outcome for upstream.Do.
func (c *Client) call(ctx context.Context, input string) ([]float32, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.Embeddings.New(attemptCtx, openai.EmbeddingNewParams{
		Model:          c.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{input}},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Data) == 0 {
		return nil, upstream.Retryable(errors.New("embedding: empty response"))
	}

	raw := resp.Data[0].Embedding
	if c.dim > 0 && len(raw) != c.dim {
		return nil, upstream.Terminal(fmt.Errorf("%w: model %s returned %d, want %d",
			ErrDimensionMismatch, c.model, len(raw), c.dim))
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

// classify marks provider errors: timeouts, 408, 429 and 5xx are
// retryable, other API errors are terminal.
func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
			return upstream.Retryable(err)
		default:
			return upstream.Terminal(err)
		}
	}
	// per-attempt deadline or transport failure
	return upstream.Retryable(err)
}

// Truncate cuts text to at most maxChars runes, preferring the last
// whitespace boundary before the limit. maxChars <= 0 disables truncation.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	runes := []rune(text)[:maxChars]
	cut := len(runes)
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace), true
}
