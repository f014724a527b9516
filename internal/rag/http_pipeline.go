package rag

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
)

// HTTPPipeline calls the hosted retrieval service, which embeds the question,
// searches the law collection and generates the answer.
type HTTPPipeline struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

type ragRequest struct {
	Question   string `json:"question"`
	Collection string `json:"collection"`
	Language   string `json:"language"`
	Country    string `json:"country"`
	History    []Turn `json:"history,omitempty"`
}

type ragResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

func NewHTTPPipeline(url, apiKey string, timeout time.Duration) *HTTPPipeline {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPPipeline{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPipeline) Name() string { return "rag" }

func (p *HTTPPipeline) Ask(ctx context.Context, q Query) (*Answer, error) {
	collection := q.Collection
	if collection == "" {
		collection = CollectionFor(q.Language)
	}

	payload, err := json.Marshal(ragRequest{
		Question:   q.Question,
		Collection: collection,
		Language:   q.Language,
		Country:    q.Country,
		History:    q.History,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: p.Name(), Code: resp.StatusCode}
	}

	var out ragResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode rag response: %w", err)
	}
	text := strings.TrimSpace(out.Answer)
	if text == "" {
		return nil, errors.New("rag: empty answer")
	}
	return &Answer{Text: text, Sources: out.Sources, Provider: p.Name()}, nil
}
