package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gnemet/PoemWeaver/internal/config"
	"github.com/gnemet/PoemWeaver/internal/database"
	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	ErrEmptyResponse = errors.New("model returned no text")
	ErrUnknownDriver = errors.New("unknown AI driver")
	ErrClosed        = errors.New("AI client is closed")
)

// UsageRecorder stores token usage of successful calls.
type UsageRecorder interface {
	LogAIUsage(ctx context.Context, u *database.AIUsage) error
}

type usage struct {
	promptTokens     int
	completionTokens int
	totalTokens      int
}

type backend interface {
	generate(ctx context.Context, prompt string) (string, usage, error)
	close() error
}

// Client sends prompts to the active provider.
type Client struct {
	logger *zap.Logger
	usage  UsageRecorder

	mu       sync.RWMutex
	provider string
	settings config.ProviderSettings
	timeout  time.Duration
	active   *trackedBackend

	// newBackend is replaced in tests.
	newBackend func(ctx context.Context, s config.ProviderSettings) (backend, error)
}

type trackedBackend struct {
	backend
	inflight sync.WaitGroup
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Client) { c.usage = r }
}

func NewClient(ctx context.Context, cfg config.AIConfig, opts ...Option) (*Client, error) {
	c := &Client{
		logger:     zap.NewNop(),
		newBackend: newBackend,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reconfigure(ctx, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func newBackend(ctx context.Context, s config.ProviderSettings) (backend, error) {
	switch s.Driver {
	case "gemini":
		return newGeminiBackend(ctx, s)
	case "mock":
		return mockBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.Driver)
	}
}

// Reconfigure switches to the provider settings in cfg. The previous
// backend is closed once its in-flight calls have returned.
func (c *Client) Reconfigure(ctx context.Context, cfg config.AIConfig) error {
	settings := cfg.Active()
	if settings.Driver == "gemini" && settings.Model == "" {
		settings.Model = config.DefaultGeminiModel
	}

	c.mu.RLock()
	unchanged := c.active != nil && c.provider == cfg.ActiveProvider && c.settings.Equal(settings)
	c.mu.RUnlock()
	if unchanged {
		c.mu.Lock()
		c.timeout = cfg.Timeout
		c.mu.Unlock()
		return nil
	}

	b, err := c.newBackend(ctx, settings)
	if err != nil {
		return fmt.Errorf("configure provider %q: %w", cfg.ActiveProvider, err)
	}

	c.mu.Lock()
	old := c.active
	c.active = &trackedBackend{backend: b}
	c.provider = cfg.ActiveProvider
	c.settings = settings
	c.timeout = cfg.Timeout
	c.mu.Unlock()

	c.logger.Info("AI provider configured",
		zap.String("provider", cfg.ActiveProvider),
		zap.String("driver", settings.Driver),
		zap.String("model", settings.Model))

	if old != nil {
		old.inflight.Wait()
		if err := old.close(); err != nil {
			c.logger.Warn("Failed to close previous AI backend", zap.Error(err))
		}
	}
	return nil
}

// Generate sends one prompt and returns the model's text. There is no retry.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	b := c.active
	if b == nil {
		c.mu.RUnlock()
		return "", ErrClosed
	}
	provider, settings, timeout := c.provider, c.settings, c.timeout
	b.inflight.Add(1)
	c.mu.RUnlock()
	defer b.inflight.Done()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	text, u, err := b.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", provider, err)
	}

	c.logger.Debug("AI response received",
		zap.String("provider", provider),
		zap.String("model", settings.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("total_tokens", u.totalTokens))

	if c.usage != nil {
		rec := &database.AIUsage{
			Provider:         provider,
			Model:            settings.Model,
			PromptTokens:     u.promptTokens,
			CompletionTokens: u.completionTokens,
			TotalTokens:      u.totalTokens,
		}
		if err := c.usage.LogAIUsage(ctx, rec); err != nil {
			c.logger.Warn("Failed to log AI usage", zap.Error(err))
		}
	}
	return text, nil
}

// Settings returns the active provider name and its settings.
func (c *Client) Settings() (string, config.ProviderSettings) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider, c.settings
}

func (c *Client) Close() error {
	c.mu.Lock()
	b := c.active
	c.active = nil
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	b.inflight.Wait()
	return b.close()
}

// contentGenerator is the part of *genai.GenerativeModel used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type geminiBackend struct {
	client *genai.Client
	model  contentGenerator
}

func newGeminiBackend(ctx context.Context, s config.ProviderSettings) (*geminiBackend, error) {
	if s.Key == "" {
		return nil, config.ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.Key))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.GenerativeModel(s.Model)
	applySettings(model, s)
	return &geminiBackend{client: client, model: model}, nil
}

// applySettings copies generation parameters onto model. An unset
// temperature leaves the model default in place; zero is a valid value.
func applySettings(model *genai.GenerativeModel, s config.ProviderSettings) {
	if s.Temperature != nil {
		model.SetTemperature(float32(*s.Temperature))
	}
	if s.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(s.MaxTokens))
	}
}

func (g *geminiBackend) generate(ctx context.Context, prompt string) (string, usage, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", usage{}, err
	}
	text, err := responseText(resp)
	if err != nil {
		return "", usage{}, err
	}
	var u usage
	if resp.UsageMetadata != nil {
		u = usage{
			promptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			completionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			totalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return text, u, nil
}

func (g *geminiBackend) close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, cand.FinishReason)
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// mockBackend answers without network access.
type mockBackend struct{}

func (mockBackend) generate(ctx context.Context, prompt string) (string, usage, error) {
	if err := ctx.Err(); err != nil {
		return "", usage{}, err
	}
	text := "Ink waits on the quiet page,\nand every line remembers: " + prompt + "."
	words := len(strings.Fields(prompt))
	return text, usage{promptTokens: words, completionTokens: len(strings.Fields(text)), totalTokens: words + len(strings.Fields(text))}, nil
}

func (mockBackend) close() error { return nil }
