package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/integrations/paramstore"
	"gpt3bot/internal/settings"
)

const defaultBaseURL = "https://api.openai.com/v1"

// TokenSource reads a stored secret by key, as *paramstore.Client does.
type TokenSource interface {
	Token(ctx context.Context, key string) (string, error)
}

// UsageRecorder receives the tokens consumed by each completion.
type UsageRecorder interface {
	Record(ctx context.Context, model string, tokens int) error
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text-completion requests using the shared model settings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	staticKey  string
	settings   *settings.Settings
	usage      UsageRecorder
	logger     *slog.Logger

	keyOnce sync.Once
	api     *goopenai.Client
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey uses key directly instead of reading it from the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Client) {
		c.usage = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new Client. Unless WithAPIKey is given, the API key is
// read from tokens on the first request and reused for the lifetime of the
// process.
func NewClient(tokens TokenSource, s *settings.Settings, opts ...Option) (*Client, error) {
	if s == nil {
		return nil, errors.New("openai: settings must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		settings:   s,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" && c.tokens == nil {
		return nil, errors.New("openai: token source must not be nil without an API key")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// resolveAPI builds the API client on the first call and returns the cached
// result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.keyOnce.Do(func() {
		key := c.staticKey
		if key == "" {
			key, c.keyErr = c.tokens.Token(ctx, paramstore.OpenAITokenKey)
			if c.keyErr != nil {
				c.keyErr = fmt.Errorf("openai: read API key: %w", c.keyErr)
				return
			}
		}
		cfg := goopenai.DefaultConfig(key)
		cfg.BaseURL = apiBaseURL(c.baseURL)
		cfg.HTTPClient = c.resolvedHTTPClient()
		c.api = goopenai.NewClientWithConfig(cfg)
	})
	return c.api, c.keyErr
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 60s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// estimateTokens approximates the tokenizer at four bytes per token.
func estimateTokens(prompt string) int {
	return (len(prompt) + 3) / 4
}

// Complete sends prompt to the completion endpoint. Rejected input, locally
// or by the API, is reported as *settings.ValidationError.
func (c *Client) Complete(ctx context.Context, prompt string) (domain.Completion, error) {
	v := c.settings.Snapshot()

	if len(prompt) < v.PromptMinLength {
		return domain.Completion{}, &settings.ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("Prompt must be greater than %d characters, it is currently %d", v.PromptMinLength, len(prompt)),
		}
	}
	maxTokens := v.MaxTokens - estimateTokens(prompt)
	if maxTokens < 1 {
		return domain.Completion{}, &settings.ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("Prompt is too long, it uses about %d of the %d available tokens", estimateTokens(prompt), v.MaxTokens),
		}
	}

	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Completion{}, err
	}

	resp, err := api.CreateCompletion(ctx, goopenai.CompletionRequest{
		Model:            v.Model,
		Prompt:           prompt,
		MaxTokens:        maxTokens,
		Temperature:      float32(v.Temp),
		TopP:             float32(v.TopP),
		PresencePenalty:  float32(v.PresencePenalty),
		FrequencyPenalty: float32(v.FrequencyPenalty),
		BestOf:           v.BestOf,
	})
	if err != nil {
		return domain.Completion{}, classifyError(err)
	}
	out, err := toCompletion(resp)
	if err != nil {
		return domain.Completion{}, err
	}
	if len(out.Choices) == 0 {
		return domain.Completion{}, errors.New("openai: no choices in response")
	}

	if c.usage != nil {
		if err := c.usage.Record(ctx, v.Model, out.Usage.TotalTokens); err != nil {
			c.logger.Warn("usage_record_failed", "model", v.Model, "tokens", out.Usage.TotalTokens, "error", err.Error())
		}
	}
	return out, nil
}

// toCompletion re-decodes the SDK response through its wire form, which the
// domain type mirrors.
func toCompletion(resp goopenai.CompletionResponse) (domain.Completion, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openai: encode response: %w", err)
	}
	var out domain.Completion
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Completion{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return out, nil
}

// classifyError maps go-openai errors onto the bot's taxonomy: invalid
// requests become validation errors, other statuses an *HTTPStatusError.
func classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusBadRequest {
			field := ""
			if apiErr.Param != nil {
				field = *apiErr.Param
			}
			return &settings.ValidationError{Field: field, Message: apiErr.Message}
		}
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai: request failed: %w", err)
}
