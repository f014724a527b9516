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

const systemPromptTemplate = `You are a legal information assistant specialised in the law of %s.
Answer the user's question clearly and accurately in %s.
Cite the relevant statutes or articles when you know them, say so when you are unsure,
and remind the user that this is general information and not legal advice.`

// ChatCompletionPipeline answers with an OpenAI-compatible chat completions
// endpoint and no retrieval step.
type ChatCompletionPipeline struct {
	name       string
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewChatCompletionPipeline(name, url, apiKey, model string, timeout time.Duration) *ChatCompletionPipeline {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatCompletionPipeline{
		name:       name,
		url:        url,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *ChatCompletionPipeline) Name() string { return p.name }

func (p *ChatCompletionPipeline) Ask(ctx context.Context, q Query) (*Answer, error) {
	messages := []chatMessage{{Role: "system", Content: systemPrompt(q)}}
	for _, t := range q.History {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: q.Question})

	payload, err := json.Marshal(chatRequest{Model: p.model, Messages: messages, Temperature: 0.2})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		return nil, &StatusError{Provider: p.name, Code: resp.StatusCode}
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no response from model")
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("empty response from model")
	}
	return &Answer{Text: text, Provider: p.name}, nil
}

func systemPrompt(q Query) string {
	country := q.Country
	if country == "" {
		country = "italy"
	}
	language := q.Language
	if language == "" {
		language = "english"
	}
	return fmt.Sprintf(systemPromptTemplate, capitalize(country), capitalize(language))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
