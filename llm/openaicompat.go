package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/membench/types"
)

// OpenAICompatConfig configures an OpenAI-compatible chat completion client.
// Answering models, judges, and rerankers all speak this dialect.
type OpenAICompatConfig struct {
	// ProviderName is the unique identifier for this client (e.g., "openai").
	ProviderName string `yaml:"provider_name"`

	// APIKey authenticates against the upstream API.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL is the API base (e.g., "https://api.openai.com").
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// DefaultModel is used when the request does not name a model.
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond caps client-side QPS. Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `yaml:"endpoint_path"`
}

// OpenAICompatClient implements Provider over the OpenAI chat completions
// wire format.
type OpenAICompatClient struct {
	cfg     OpenAICompatConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAICompatClient creates a rate-limited OpenAI-compatible client.
func NewOpenAICompatClient(cfg OpenAICompatConfig, logger *zap.Logger) *OpenAICompatClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &OpenAICompatClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (c *OpenAICompatClient) Name() string { return c.cfg.ProviderName }

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage ChatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion performs a synchronous chat request.
func (c *OpenAICompatClient) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	body, err := json.Marshal(wireRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewErrorf(types.ErrUpstreamError, "%s completion", c.cfg.ProviderName).
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "read completion body").WithCause(err)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, types.NewErrorf(types.ErrUpstreamError, "decode completion (status %d)", resp.StatusCode).
			WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if wire.Error != nil {
			msg = wire.Error.Message
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.NewErrorf(types.ErrUpstreamError, "%s returned %d: %s", c.cfg.ProviderName, resp.StatusCode, msg).
			WithRetryable(retryable)
	}

	out := &ChatResponse{
		ID:        wire.ID,
		Provider:  c.cfg.ProviderName,
		Model:     wire.Model,
		Usage:     wire.Usage,
		CreatedAt: time.Now(),
	}
	for _, ch := range wire.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			FinishReason: ch.FinishReason,
			Message:      ch.Message,
		})
	}

	c.logger.Debug("completion finished",
		zap.String("model", model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", wire.Usage.TotalTokens),
	)

	return out, nil
}
