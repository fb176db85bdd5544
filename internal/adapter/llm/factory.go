package llm

import (
	"log/slog"

	"github.com/xiaot623/gogo/chatrelay/internal/config"
)

// NewLLMClient returns a MockClient when cfg selects mock mode and a real
// Client otherwise.
func NewLLMClient(cfg *config.Config, logger *slog.Logger) LLMClient {
	if cfg.MockLLM() {
		logger.Info("using mock LLM client", "llm_mode", cfg.LLMMode)
		return NewMockClient(cfg.LLMModel)
	}
	logger.Info("using LLM endpoint", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModel)
	return NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
}
