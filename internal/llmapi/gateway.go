// Package llmapi is the LLM Gateway: a provider-agnostic facade over
// graph/model's ChatModel interface plus the domain-specific prompt/parse
// pairs each workflow needs.
package llmapi

import (
	"fmt"

	"github.com/tsingsx/algotest/graph/model"
	"github.com/tsingsx/algotest/graph/model/anthropic"
	"github.com/tsingsx/algotest/graph/model/google"
	"github.com/tsingsx/algotest/graph/model/openai"
	"github.com/tsingsx/algotest/internal/config"
)

// Gateway wraps a single model.ChatModel selected at startup by
// config.LLMConfig.Provider and exposes one method per distinct call site
// the workflows need, keeping prompt construction and response parsing out
// of the workflow node code.
type Gateway struct {
	Model model.ChatModel
}

// NewGateway selects a concrete provider implementation per cfg.Provider.
// "hmac" is the default, matching the original service's sole provider;
// the others reuse the teacher's adapters so any of the example pack's LLM
// SDKs can be swapped in without touching workflow code.
func NewGateway(cfg config.LLMConfig) (*Gateway, error) {
	var m model.ChatModel
	switch cfg.Provider {
	case "", "hmac":
		m = NewHMACProvider(cfg.APIKey, cfg.ChatModel, cfg.Temperature, cfg.MaxTokens)
	case "anthropic":
		m = anthropic.NewChatModel(cfg.APIKey, cfg.ChatModel)
	case "openai":
		m = openai.NewChatModel(cfg.APIKey, cfg.ChatModel)
	case "google":
		m = google.NewChatModel(cfg.APIKey, cfg.ChatModel)
	default:
		return nil, fmt.Errorf("llmapi: unrecognized provider %q", cfg.Provider)
	}
	return &Gateway{Model: m}, nil
}
