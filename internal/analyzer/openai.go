package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	defaultTimeout = 120 * time.Second

	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// ErrAPIKeyNotSet is returned when no OpenAI API key is configured.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

const systemPrompt = `You are a code optimization assistant. You are given the
full text of one source file. Rewrite it so that it is simpler, more readable
and faster where possible, without changing its observable behavior.

Respond with a JSON object with exactly these fields:
  "optimized_code": string, the full optimized file, usable as a drop-in
    replacement for the original;
  "score": number between 0 and 1, how much impact the optimization had;
  "metrics": object with optional string fields "complexity_improvement",
    "readability_score" and "performance_gain";
  "integration_considerations": array of strings noting anything the caller
    must do to adopt the optimized code (added or removed imports, changed
    signatures).`

// OpenAIAnalyzer implements Analyzer on the OpenAI chat completions API.
type OpenAIAnalyzer struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIAnalyzer creates an analyzer backed by the OpenAI API.
func NewOpenAIAnalyzer(apiKey, model string, logger *zap.Logger) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIAnalyzer{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: defaultTimeout,
		logger:  logger,
	}, nil
}

// llmResponse mirrors the JSON object the model is instructed to produce.
type llmResponse struct {
	OptimizedCode string  `json:"optimized_code"`
	Score         float64 `json:"score"`
	Metrics       struct {
		ComplexityImprovement string `json:"complexity_improvement"`
		ReadabilityScore      string `json:"readability_score"`
		PerformanceGain       string `json:"performance_gain"`
	} `json:"metrics"`
	IntegrationConsiderations []string `json:"integration_considerations"`
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, sourceCode string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	content, err := a.completeWithRetry(ctx, sourceCode)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(content)
}

func (a *OpenAIAnalyzer) completeWithRetry(ctx context.Context, sourceCode string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(a.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(sourceCode),
			},
			Temperature: openai.Float(0.3),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			},
		})
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				a.logger.Warn("OpenAI rate limited, retrying",
					zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}
			return "", fmt.Errorf("openai: completion: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("openai: no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("openai: retries exhausted: %w", lastErr)
}

func parseAnalysis(content string) (*Analysis, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}
	if resp.OptimizedCode == "" {
		return nil, fmt.Errorf("openai: response missing optimized_code")
	}

	metrics := make(map[string]any)
	if resp.Metrics.ComplexityImprovement != "" {
		metrics["complexity_improvement"] = resp.Metrics.ComplexityImprovement
	}
	if resp.Metrics.ReadabilityScore != "" {
		metrics["readability_score"] = resp.Metrics.ReadabilityScore
	}
	if resp.Metrics.PerformanceGain != "" {
		metrics["performance_gain"] = resp.Metrics.PerformanceGain
	}

	return &Analysis{
		OptimizedCode:    resp.OptimizedCode,
		Score:            resp.Score,
		Metrics:          metrics,
		IntegrationNotes: resp.IntegrationConsiderations,
	}, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
