package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseanalysis-backend/logger"

	"github.com/google/generative-ai-go/genai"
)

const defaultGeminiModel = "gemini-2.5-pro"

// GeminiInvoker runs agents against the Gemini API
type GeminiInvoker struct {
	client      *genai.Client
	model       string
	temperature float32
	retry       retryPolicy
	logger      logger.Logger
}

// GeminiInvokerOption is a functional option for GeminiInvoker
type GeminiInvokerOption func(*GeminiInvoker)

// GeminiWithModel sets the model name
func GeminiWithModel(model string) GeminiInvokerOption {
	return func(g *GeminiInvoker) {
		if model != "" {
			g.model = model
		}
	}
}

// GeminiWithTemperature sets the sampling temperature
func GeminiWithTemperature(t float32) GeminiInvokerOption {
	return func(g *GeminiInvoker) {
		g.temperature = t
	}
}

// GeminiWithRetries sets the retry budget for transient errors
func GeminiWithRetries(attempts int, backoff time.Duration) GeminiInvokerOption {
	return func(g *GeminiInvoker) {
		if attempts > 0 {
			g.retry.attempts = attempts
		}
		if backoff > 0 {
			g.retry.initialBackoff = backoff
		}
	}
}

// GeminiWithLogger sets the logger
func GeminiWithLogger(l logger.Logger) GeminiInvokerOption {
	return func(g *GeminiInvoker) {
		g.logger = l
	}
}

// NewGeminiInvoker creates an invoker backed by an existing genai client
func NewGeminiInvoker(client *genai.Client, opts ...GeminiInvokerOption) *GeminiInvoker {
	g := &GeminiInvoker{
		client:      client,
		model:       defaultGeminiModel,
		temperature: 0.2,
		retry:       defaultRetryPolicy(),
		logger:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke sends the agent prompt and interprets the reply
func (g *GeminiInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvocationResult, error) {
	if g.client == nil {
		return nil, errors.New("gemini client not set")
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(req.Agent.Instructions))

	prompt := BuildPrompt(req)

	retry := g.retry
	retry.notify = func(err error, next time.Duration) {
		g.logger.Warn("gemini_invoker", "generate content failed, retrying", map[string]interface{}{
			"agent":    string(req.Agent.ID),
			"case":     req.CaseID.String(),
			"error":    err.Error(),
			"retry_ms": next.Milliseconds(),
		})
	}

	var resp *genai.GenerateContentResponse
	err := retry.do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = model.GenerateContent(ctx, genai.Text(prompt))
		var blocked *genai.BlockedError
		if errors.As(callErr, &blocked) {
			return fmt.Errorf("%w: %v", errPermanent, callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", req.Agent.ID, err)
	}

	text, err := g.responseText(resp, req)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", req.Agent.ID, err)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return NewInvocationResult(text, tokens), nil
}

func (g *GeminiInvoker) responseText(resp *genai.GenerateContentResponse, req InvokeRequest) (string, error) {
	if resp == nil {
		return "", errors.New("empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}

	var b strings.Builder
	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			g.logger.Warn("gemini_invoker", "candidate finished early", map[string]interface{}{
				"agent":     string(req.Agent.ID),
				"candidate": i,
				"reason":    cand.FinishReason.String(),
			})
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		// Only the first candidate with content is used
		if b.Len() > 0 {
			break
		}
	}

	if b.Len() == 0 {
		return "", errors.New("model returned empty content")
	}
	return b.String(), nil
}
