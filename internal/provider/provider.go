package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/ignore"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/retry"
	"github.com/fyrsmithlabs/vizloop/internal/secrets"
)

// Backend names.
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
)

const (
	defaultTimeout           = 120 * time.Second
	defaultMaxTokens         = 8192
	defaultMaxRetries        = 3
	defaultBaseBackoff       = 1 * time.Second
	defaultMaxBackoff        = 20 * time.Second
	defaultRequestsPerMinute = 50.0
	defaultBurst             = 5
)

// Config selects and configures a backend.
type Config struct {
	Name              string        `koanf:"name"`
	Model             string        `koanf:"model"`
	APIKey            string        `koanf:"api_key" json:"-"`
	BaseURL           string        `koanf:"base_url"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerMinute float64       `koanf:"requests_per_minute"`
	MaxRetries        int           `koanf:"max_retries"`
	MaxTokens         int           `koanf:"max_tokens"`
}

// Image is an inline image attached to a request.
type Image struct {
	MediaType string
	Data      []byte
}

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Images      []Image
	MaxTokens   int
	Temperature float64
}

// Usage counts tokens consumed by calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the text a model returned.
type Response struct {
	Text  string
	Usage Usage
}

// Capability is everything the loop asks of a model backend.
type Capability interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	AnalyzeSnapshot(ctx context.Context, in pipeline.AnalysisInput) (*pipeline.ImprovementSpec, error)
	ImplementChanges(ctx context.Context, spec *pipeline.ImprovementSpec, projectRoot string) (*changeset.ChangeSet, error)
	Evaluate(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.Evaluation, error)
	Reflect(ctx context.Context, ic pipeline.IterationContext) (*pipeline.Reflection, error)
	SupportsVision() bool
	CostModel() CostModel
}

// backend shapes one HTTP exchange for a specific API.
type backend interface {
	name() string
	defaultModel() string
	defaultBaseURL() string
	send(ctx context.Context, hc *http.Client, baseURL, apiKey, model string, req Request) (*Response, error)
	supportsVision(model string) bool
}

// Client implements Capability over one backend.
type Client struct {
	backend    backend
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
	cost       CostModel
	scrubber   *secrets.Scrubber
	ignore     *ignore.Parser
	logger     *zap.Logger

	mu    sync.Mutex
	usage Usage
}

// New builds the client for cfg.Name. A nil scrubber sends prompts as-is.
func New(cfg Config, scrubber *secrets.Scrubber, logger *zap.Logger) (*Client, error) {
	var b backend
	switch cfg.Name {
	case Anthropic, "":
		b = anthropicBackend{}
	case OpenAI:
		b = openAIBackend{}
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", b.name())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = b.defaultModel()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = b.defaultBaseURL()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		backend:    b,
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rpm/60.0), defaultBurst),
		retry: retry.Config{
			MaxAttempts:    maxRetries + 1,
			InitialBackoff: defaultBaseBackoff,
			MaxBackoff:     defaultMaxBackoff,
			Multiplier:     2,
		},
		cost:     LookupPricing(b.name(), model),
		scrubber: scrubber,
		ignore:   ignore.DefaultParser(),
		logger:   logger.With(zap.String("provider", b.name()), zap.String("model", model)),
	}, nil
}

// Name returns the backend name.
func (c *Client) Name() string { return c.backend.name() }

// Model returns the model in use.
func (c *Client) Model() string { return c.model }

// SupportsVision reports whether the model accepts images.
func (c *Client) SupportsVision() bool { return c.backend.supportsVision(c.model) }

// CostModel returns the model's pricing.
func (c *Client) CostModel() CostModel { return c.cost }

// Usage returns tokens consumed so far.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Spent returns the estimated dollar cost of calls so far.
func (c *Client) Spent() float64 {
	u := c.Usage()
	return c.cost.EstimateCost(u.InputTokens, u.OutputTokens)
}

// Complete sends one request, waiting on the rate limiter and retrying
// rate-limit, server and transport errors with exponential backoff.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	if len(req.Images) > 0 && !c.SupportsVision() {
		return nil, fmt.Errorf("model %s does not accept images", c.model)
	}
	if c.scrubber != nil {
		req.System = c.scrubber.Scrub(req.System).Scrubbed
		req.Prompt = c.scrubber.Scrub(req.Prompt).Scrubbed
	}

	start := time.Now()
	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter error: %w", err))
		}
		resp, err := c.backend.send(ctx, c.httpClient, c.baseURL, c.apiKey, c.model, req)
		if err != nil && !isRetryableError(err) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	}, func(err error, wait time.Duration) {
		c.logger.Warn("provider request failed, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.backend.name(), err)
	}

	c.mu.Lock()
	c.usage.InputTokens += resp.Usage.InputTokens
	c.usage.OutputTokens += resp.Usage.OutputTokens
	c.mu.Unlock()

	c.logger.Debug("provider request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var _ Capability = (*Client)(nil)
