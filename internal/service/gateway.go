package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Gateway produces one assistant reply for an ordered history.
type Gateway interface {
	Complete(ctx context.Context, history []domain.Message) (domain.Message, error)
}

var errEmptyReply = errors.New("empty completion")

// ModelChecker is implemented by gateways that can confirm their model is
// served upstream.
type ModelChecker interface {
	CheckModel(ctx context.Context) error
}

// ModelGateway is a Gateway backed by an OpenAI-compatible LLMClient.
type ModelGateway struct {
	client  llm.LLMClient
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewModelGateway creates a ModelGateway. A zero timeout means no per-call limit.
func NewModelGateway(client llm.LLMClient, model string, timeout time.Duration, logger *slog.Logger) *ModelGateway {
	return &ModelGateway{client: client, model: model, timeout: timeout, logger: logger}
}

// Complete sends history to the model. Every failure is a *domain.GatewayError.
func (g *ModelGateway) Complete(ctx context.Context, history []domain.Message) (domain.Message, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := &llm.ChatCompletionRequest{
		Model:    g.model,
		Messages: make([]llm.ChatMessage, 0, len(history)),
	}
	for _, m := range history {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.logger.ErrorContext(ctx, "model call failed", "model", g.model, "latency_ms", time.Since(start).Milliseconds(), "error", err)
		return domain.Message{}, &domain.GatewayError{Err: err}
	}

	content, ok := resp.FirstContent()
	if !ok || content == "" {
		g.logger.ErrorContext(ctx, "model returned no content", "model", g.model, "response_id", resp.ID)
		return domain.Message{}, &domain.GatewayError{Err: errEmptyReply}
	}

	attrs := []any{"model", resp.Model, "latency_ms", time.Since(start).Milliseconds()}
	if resp.Usage != nil {
		attrs = append(attrs, "total_tokens", resp.Usage.TotalTokens)
	}
	g.logger.DebugContext(ctx, "model call done", attrs...)

	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}, nil
}

// CheckModel reports an error unless the endpoint lists the configured model.
func (g *ModelGateway) CheckModel(ctx context.Context) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	models, err := g.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if m.ID == g.model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not offered by the endpoint", g.model)
}
