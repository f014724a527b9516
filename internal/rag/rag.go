// Package rag talks to the services that turn a legal question into an
// answer: the hosted retrieval service and plain chat-completion models.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	CollectionEnglish = "law_chunks"
	CollectionItalian = "law_chunks_italian_language"
)

var ErrNoProvider = errors.New("no answer provider configured")

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Query struct {
	Question   string
	Language   string
	Country    string
	Collection string
	History    []Turn
}

type Source struct {
	Title     string  `json:"title"`
	Reference string  `json:"reference"`
	Score     float64 `json:"score"`
}

type Answer struct {
	Text     string
	Sources  []Source
	Provider string
}

// Pipeline answers one question. Implementations must honour ctx.
type Pipeline interface {
	Ask(ctx context.Context, q Query) (*Answer, error)
	Name() string
}

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Provider, e.Code)
}

// CollectionFor picks the vector collection indexed for language.
func CollectionFor(language string) string {
	if language == "italian" {
		return CollectionItalian
	}
	return CollectionEnglish
}

// Fallback tries each pipeline in order and returns the first answer.
type Fallback struct {
	pipelines []Pipeline
}

func NewFallback(pipelines ...Pipeline) *Fallback {
	return &Fallback{pipelines: pipelines}
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Ask(ctx context.Context, q Query) (*Answer, error) {
	if q.Collection == "" {
		q.Collection = CollectionFor(q.Language)
	}

	lastErr := ErrNoProvider
	for _, p := range f.pipelines {
		answer, err := p.Ask(ctx, q)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("answer provider failed", "provider", p.Name(), "error", err)
	}
	return nil, lastErr
}

// Len reports how many providers are configured.
func (f *Fallback) Len() int {
	return len(f.pipelines)
}

// Names lists the providers in the order they are tried.
func (f *Fallback) Names() []string {
	names := make([]string, 0, len(f.pipelines))
	for _, p := range f.pipelines {
		names = append(names, p.Name())
	}
	return names
}
