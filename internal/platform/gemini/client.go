package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/agentrun/internal/config"
	"github.com/phrazzld/agentrun/internal/llm"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// contentGenerator is the subset of *genai.Models used by Client.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Client using Google's Gemini API.
type Client struct {
	logger     *slog.Logger
	models     contentGenerator
	model      string
	maxRetries int
	baseDelay  time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a Gemini-backed llm.Client from the LLM configuration.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", llm.ErrInvalidConfig, err)
	}

	return newClient(logger, client.Models, cfg), nil
}

func newClient(logger *slog.Logger, models contentGenerator, cfg config.LLMConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		logger.Warn("invalid max retries value, using default", "max_retries", defaultMaxRetries)
		maxRetries = defaultMaxRetries
	}

	baseDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if baseDelay <= 0 {
		logger.Warn("invalid retry delay value, using default", "base_delay", defaultRetryDelay)
		baseDelay = defaultRetryDelay
	}

	return &Client{
		logger:     logger.With("component", "gemini", "model", cfg.ModelName),
		models:     models,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Infer sends the prompt, any OCR text and the image at imageURL in a single
// user turn. Local paths are read and sent inline; http(s) and gs:// URLs
// are passed by reference.
func (c *Client) Infer(ctx context.Context, prompt, imageURL, ocrText string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", llm.ErrEmptyPrompt
	}

	text := prompt
	if ocrText != "" {
		text += "\n\nOCR text:\n" + ocrText
	}
	parts := []*genai.Part{{Text: text}}

	if imageURL != "" {
		imagePart, err := imagePart(imageURL)
		if err != nil {
			return "", err
		}
		parts = append(parts, imagePart)
	}

	return c.generateWithRetry(ctx, parts)
}

// Generate sends a text-only prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", llm.ErrEmptyPrompt
	}
	return c.generateWithRetry(ctx, []*genai.Part{{Text: prompt}})
}

// generateWithRetry calls the model with exponential backoff retry logic.
//
// Transient errors are retried up to maxRetries times with jittered
// exponential delays; blocked or empty responses and client errors are
// returned immediately.
func (c *Client) generateWithRetry(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		c.logger.DebugContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", c.maxRetries+1)

		resp, err := c.models.GenerateContent(ctx, c.model, contents, nil)
		var text string
		if err == nil {
			text, err = extractText(resp)
		}
		if err == nil {
			c.logger.DebugContext(ctx, "Gemini API call successful", "attempt", attemptNum)
			return text, nil
		}

		c.logger.WarnContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if !isTransient(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", llm.ErrTransientFailure, context.Cause(ctx))
		}
		if attempt >= c.maxRetries {
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				llm.ErrTransientFailure, c.maxRetries, err)
		}

		delay := c.backoff(attempt)
		c.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("%w: %w", llm.ErrTransientFailure, context.Cause(ctx))
		}
	}
}

// backoff returns baseDelay * 2^attempt scaled by a jitter factor in [0.5, 1.0).
func (c *Client) backoff(attempt int) time.Duration {
	c.rngMu.Lock()
	jitter := 0.5 + c.rng.Float64()*0.5
	c.rngMu.Unlock()
	return time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)) * jitter)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", llm.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", llm.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", llm.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", llm.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// isTransient reports whether err is worth retrying. Blocked content, bad
// responses and 4xx API errors other than 429 are permanent.
func isTransient(err error) bool {
	if errors.Is(err, llm.ErrContentBlocked) ||
		errors.Is(err, llm.ErrInvalidResponse) ||
		errors.Is(err, llm.ErrEmptyPrompt) {
		return false
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && code != 429 {
		return false
	}
	return true
}
