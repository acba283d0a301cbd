package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"educube/internal/config"
	"educube/internal/logging"
	"educube/internal/persona"
	"educube/internal/types"
)

// MoonshotClient implements Client against the Moonshot chat-completions
// API (OpenAI-compatible). Outbound concurrency is bounded by a weighted
// semaphore so parallel fan-out cannot overwhelm the upstream service.
type MoonshotClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	timeout      time.Duration
	maxRetries   int
	backoffBase  time.Duration
	sem          *semaphore.Weighted
	log          *zap.Logger
}

// MoonshotConfig holds client construction parameters.
type MoonshotConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxConcurrent int64
}

// DefaultMoonshotConfig returns sensible defaults.
func DefaultMoonshotConfig(apiKey string) MoonshotConfig {
	return MoonshotConfig{
		APIKey:        apiKey,
		BaseURL:       "https://api.moonshot.cn/v1",
		Model:         "kimi-k2-0711-preview",
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		RetryBackoff:  500 * time.Millisecond,
		MaxConcurrent: 4,
	}
}

// NewMoonshotClient creates a client with custom config.
func NewMoonshotClient(cfg MoonshotConfig) *MoonshotClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.moonshot.cn/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 4
	}
	return &MoonshotClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		backoffBase:  cfg.RetryBackoff,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		log:          logging.Named("llm"),
	}
}

// NewMoonshotClientFromConfig builds the production client from the
// validated startup configuration.
func NewMoonshotClientFromConfig(cfg *config.Config) *MoonshotClient {
	return NewMoonshotClient(MoonshotConfig{
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		Timeout:       cfg.LLM.Timeout.Std(),
		MaxRetries:    cfg.LLM.MaxRetries,
		RetryBackoff:  cfg.LLM.RetryBackoff.Std(),
		MaxConcurrent: int64(cfg.LLM.MaxConcurrent),
	})
}

// chatMessage is one entry in the wire-format conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat enforces structured output.
type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatResponse is the chat-completions response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// strictJSONInstruction is appended on the single invalid-response
// retry when the first structured reply violated its schema.
const strictJSONInstruction = "Return ONLY a single JSON object that conforms to the requested schema. No prose, no code fences, no text before or after the object."

// Generate sends one persona-configured completion call. All failures
// come back as *GenerationError so callers can record the kind.
func (c *MoonshotClient) Generate(ctx context.Context, profile persona.Profile, transcript []types.Message, opts Options) (*types.Reply, error) {
	if c.apiKey == "" {
		return nil, failure(types.FailureAuth, "API key not configured")
	}

	req := c.buildRequest(profile, transcript, opts, "")
	reply, err := c.completeWithRetry(ctx, req, profile.ID)
	if err != nil {
		return nil, err
	}

	if opts.Schema == nil {
		return reply, nil
	}

	// Structured mode: validate against the schema, retrying once with
	// a stricter instruction before surfacing invalid_response.
	if _, derr := DecodeStructured(reply.Text, opts.Schema); derr == nil {
		return reply, nil
	} else {
		c.log.Warn("structured response violated schema, retrying once",
			zap.String("persona", string(profile.ID)),
			zap.Error(derr))
	}

	strictReq := c.buildRequest(profile, transcript, opts, strictJSONInstruction)
	reply, err = c.completeWithRetry(ctx, strictReq, profile.ID)
	if err != nil {
		return nil, err
	}
	if _, derr := DecodeStructured(reply.Text, opts.Schema); derr != nil {
		return nil, failure(types.FailureInvalidResponse, "structured output contract violated after retry: %v", derr)
	}
	return reply, nil
}

func (c *MoonshotClient) buildRequest(profile persona.Profile, transcript []types.Message, opts Options, extraInstruction string) chatRequest {
	system := profile.SystemPrompt
	if extraInstruction != "" {
		system += "\n\n" + extraInstruction
	}

	messages := make([]chatMessage, 0, len(transcript)+1)
	messages = append(messages, chatMessage{Role: "system", Content: system})
	for _, m := range transcript {
		if m.Content == "" {
			continue
		}
		if m.Role == types.RoleUser {
			messages = append(messages, chatMessage{Role: "user", Content: m.Content})
			continue
		}
		// Persona turns become labeled assistant messages so later
		// speakers can attribute earlier ones.
		messages = append(messages, chatMessage{
			Role:    "assistant",
			Content: fmt.Sprintf("[%s] %s", m.Role, m.Content),
		})
	}

	model := profile.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := profile.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := profile.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	req := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if opts.Schema != nil {
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   name,
				Strict: true,
				Schema: opts.Schema,
			},
		}
	}
	return req
}

// completeWithRetry issues the call, retrying retryable kinds with
// exponential backoff. Non-retryable kinds fail fast.
func (c *MoonshotClient) completeWithRetry(ctx context.Context, req chatRequest, id types.PersonaID) (*types.Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, failure(types.FailureNetwork, "failed to marshal request: %w", err)
	}

	var lastErr *GenerationError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<uint(attempt-1))
			c.log.Debug("retrying generation call",
				zap.String("persona", string(id)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, failure(types.FailureTimeout, "request deadline exceeded during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		reply, gerr := c.completeOnce(ctx, body)
		if gerr == nil {
			return reply, nil
		}
		if !gerr.Retryable() {
			return nil, gerr
		}
		lastErr = gerr
	}

	return nil, &GenerationError{
		Kind: lastErr.Kind,
		Err:  fmt.Errorf("retries exhausted: %w", lastErr.Err),
	}
}

func (c *MoonshotClient) completeOnce(ctx context.Context, body []byte) (*types.Reply, *GenerationError) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, failure(types.FailureTimeout, "cancelled while waiting for outbound slot: %w", err)
	}
	defer c.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, failure(types.FailureNetwork, "failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, failure(types.FailureTimeout, "call timed out after %s", time.Since(start).Round(time.Millisecond))
		}
		return nil, failure(types.FailureNetwork, "request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure(types.FailureNetwork, "failed to read response: %w", err)
	}

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		// Raw upstream bodies stay out of the error chain; status code
		// is enough for operators and the kind is what callers see.
		return nil, failure(kind, "upstream returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, failure(types.FailureNetwork, "failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, failure(types.FailureNetwork, "upstream error: %s", parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return nil, failure(types.FailureNetwork, "no completion returned")
	}

	c.log.Debug("generation call complete",
		zap.String("model", parsed.Model),
		zap.Int("total_tokens", parsed.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	return &types.Reply{
		Text: strings.TrimSpace(parsed.Choices[0].Message.Content),
		Usage: types.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// classifyStatus maps an HTTP status to a failure kind. ok is false
// for success statuses.
func classifyStatus(code int) (types.FailureKind, bool) {
	switch {
	case code == http.StatusOK:
		return "", false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.FailureAuth, true
	case code == http.StatusTooManyRequests:
		return types.FailureRateLimited, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return types.FailureTimeout, true
	default:
		return types.FailureNetwork, true
	}
}
