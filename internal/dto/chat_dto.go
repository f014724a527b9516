package dto

import "time"

type ChatRequest struct {
	Message        string `json:"message" validate:"required,max=4000"`
	Country        string `json:"country" validate:"omitempty,max=64"`
	Language       string `json:"language" validate:"omitempty,oneof=english italian"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
	MessageID      string `json:"message_id" validate:"omitempty,max=90"`
}

type ChatResponse struct {
	Response           string `json:"response"`
	ConversationID     string `json:"conversation_id"`
	MessageID          string `json:"message_id,omitempty"`
	QuestionsUsed      int    `json:"questions_used"`
	TrialLimit         int    `json:"trial_limit"`
	QuestionsRemaining int    `json:"questions_remaining"`
}

type ClearHistoryRequest struct {
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
}

type ClearHistoryResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
}

type NewConversationRequest struct {
	Language string `json:"language" validate:"omitempty,oneof=english italian"`
	Country  string `json:"country" validate:"omitempty,max=64"`
}

type NewConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
	Country        string `json:"country"`
}

type HistoryMessage struct {
	ID        string    `json:"id" validate:"max=100"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryConversation carries the sidebar fields the web client stores
// locally (id, title, lastMessage, timestamp) next to the snake_case ones.
type HistoryConversation struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Title          string           `json:"title"`
	LastMessage    string           `json:"lastMessage"`
	Timestamp      time.Time        `json:"timestamp"`
	Language       string           `json:"language"`
	Country        string           `json:"country"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	Messages       []HistoryMessage `json:"messages"`
}

type SaveHistoryRequest struct {
	Conversations []SaveHistoryConversation `json:"conversations" validate:"required,max=200,dive"`
}

type SaveHistoryConversation struct {
	ConversationID string           `json:"conversation_id" validate:"omitempty,max=64"`
	ID             string           `json:"id" validate:"omitempty,max=64"`
	Title          string           `json:"title" validate:"max=255"`
	Language       string           `json:"language" validate:"omitempty,oneof=english italian"`
	Country        string           `json:"country" validate:"omitempty,max=64"`
	Messages       []HistoryMessage `json:"messages" validate:"max=2000,dive"`
}

// Key prefers conversation_id and falls back to the client's id field.
func (c *SaveHistoryConversation) Key() string {
	if c.ConversationID != "" {
		return c.ConversationID
	}
	return c.ID
}

type SaveHistoryResponse struct {
	Status        string `json:"status"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
}
