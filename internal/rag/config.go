package rag

import "github.com/onir-world/legal-chat-backend/internal/config"

// FromConfig builds the provider chain: the retrieval service first, then
// each configured chat-completion model.
func FromConfig(cfg *config.Config) *Fallback {
	var pipelines []Pipeline
	if cfg.RAGAPIURL != "" {
		pipelines = append(pipelines, NewHTTPPipeline(cfg.RAGAPIURL, cfg.RAGAPIKey, cfg.RAGTimeout))
	}
	if cfg.GroqAPIKey != "" {
		pipelines = append(pipelines, NewChatCompletionPipeline("groq", cfg.GroqAPIURL, cfg.GroqAPIKey, cfg.GroqModel, cfg.RAGTimeout))
	}
	if cfg.DeepSeekAPIKey != "" {
		pipelines = append(pipelines, NewChatCompletionPipeline("deepseek", cfg.DeepSeekAPIURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.RAGTimeout))
	}
	return NewFallback(pipelines...)
}
