package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onir-world/legal-chat-backend/internal/metrics"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/rag"
	"gorm.io/gorm"
)

const maxQuestionRunes = 4000

type ChatInput struct {
	Message        string
	Language       string
	Country        string
	ConversationID string
	MessageID      string
}

type ChatResult struct {
	Response           string
	ConversationID     string
	MessageID          string
	QuestionsUsed      int
	TrialLimit         int
	QuestionsRemaining int
	Replayed           bool
}

// ChatService runs one send: gate, pipeline call, then the atomic commit of
// the exchange and its charge. Nothing is recorded when the pipeline fails.
type ChatService struct {
	gate          *EntitlementGate
	conversations *ConversationService
	pipeline      rag.Pipeline
	timeout       time.Duration
	historyTurns  int
}

func NewChatService(gate *EntitlementGate, conversations *ConversationService, pipeline rag.Pipeline, timeout time.Duration, historyTurns int) *ChatService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatService{
		gate:          gate,
		conversations: conversations,
		pipeline:      pipeline,
		timeout:       timeout,
		historyTurns:  historyTurns,
	}
}

func (s *ChatService) Send(ctx context.Context, user *models.User, in ChatInput) (*ChatResult, error) {
	question := strings.TrimSpace(in.Message)
	if question == "" {
		return nil, invalidInput("message is required")
	}
	if len([]rune(question)) > maxQuestionRunes {
		return nil, invalidInput(fmt.Sprintf("message must be at most %d characters", maxQuestionRunes))
	}
	language, err := NormalizeLanguage(in.Language)
	if err != nil {
		return nil, err
	}

	// A retry of an answered send gets its stored reply whatever the gate
	// would now say; replays charge nothing.
	if in.MessageID != "" && in.ConversationID != "" {
		if result, err := s.replayStored(ctx, user, in); result != nil || err != nil {
			return result, err
		}
	}

	decision, err := s.gate.Authorize(ctx, user)
	if err != nil {
		var denied *EntitlementError
		if errors.As(err, &denied) {
			metrics.EntitlementDenials.WithLabelValues(denied.Reason).Inc()
			metrics.ChatRequests.WithLabelValues("denied").Inc()
			slog.Info("chat send denied", "user_id", user.ID.String(), "reason", denied.Reason, "questions_used", denied.QuestionsUsed)
		}
		return nil, err
	}

	conv, err := s.conversations.GetOrCreate(ctx, user.ID, in.ConversationID, language, in.Country)
	if err != nil {
		return nil, err
	}

	history, err := s.conversations.RecentMessages(ctx, conv.ID, s.historyTurns*2)
	if err != nil {
		return nil, err
	}

	answer, err := s.ask(ctx, rag.Query{
		Question:   question,
		Language:   conv.Language,
		Country:    conv.Country,
		Collection: rag.CollectionFor(conv.Language),
		History:    toTurns(history),
	})
	if err != nil {
		slog.Error("answer pipeline failed",
			"user_id", user.ID.String(),
			"conversation_id", conv.Key,
			"action", "chat.ask",
			"error", err.Error(),
		)
		return nil, err
	}

	used := decision.QuestionsUsed
	_, err = s.conversations.AppendExchange(ctx, user.ID, conv.Key, Exchange{
		MessageID: in.MessageID,
		Question:  question,
		Answer:    answer.Text,
	}, func(tx *gorm.DB) error {
		n, err := s.gate.RecordUsage(tx, user.ID, decision)
		if err != nil {
			return err
		}
		used = n
		return nil
	})
	if errors.Is(err, errExchangeExists) {
		if result, err := s.replay(ctx, user, conv, in.MessageID, decision); result != nil || err != nil {
			return result, err
		}
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrEntitlementExceeded) {
			outcome = "denied"
		}
		metrics.ChatRequests.WithLabelValues(outcome).Inc()
		return nil, err
	}

	metrics.ChatRequests.WithLabelValues("answered").Inc()
	slog.Info("chat answered",
		"user_id", user.ID.String(),
		"conversation_id", conv.Key,
		"provider", answer.Provider,
		"basis", string(decision.Basis),
		"questions_used", used,
	)

	return s.result(answer.Text, conv.Key, in.MessageID, used, decision, false), nil
}

// replay answers a retried send from history without calling the pipeline or
// charging again.
func (s *ChatService) replay(ctx context.Context, user *models.User, conv *models.Conversation, messageID string, decision *EntitlementDecision) (*ChatResult, error) {
	answer, err := s.conversations.FindReply(ctx, conv.ID, messageID)
	if err != nil || answer == nil {
		return nil, err
	}
	metrics.ChatRequests.WithLabelValues("replayed").Inc()
	return s.result(answer.Content, conv.Key, messageID, user.QuestionsUsed, decision, true), nil
}

// replayStored looks for a stored answer before the gate runs. A user the
// gate would now deny sees their trial as used up.
func (s *ChatService) replayStored(ctx context.Context, user *models.User, in ChatInput) (*ChatResult, error) {
	conv, err := s.conversations.Lookup(ctx, user.ID, in.ConversationID)
	if err != nil || conv == nil {
		return nil, err
	}
	answer, err := s.conversations.FindReply(ctx, conv.ID, in.MessageID)
	if err != nil || answer == nil {
		return nil, err
	}

	decision, err := s.gate.Authorize(ctx, user)
	var denied *EntitlementError
	switch {
	case errors.As(err, &denied):
		decision = &EntitlementDecision{
			Basis:         BasisTrial,
			QuestionsUsed: denied.QuestionsUsed,
			TrialLimit:    denied.TrialLimit,
		}
	case err != nil:
		return nil, err
	}

	metrics.ChatRequests.WithLabelValues("replayed").Inc()
	return s.result(answer.Content, conv.Key, in.MessageID, user.QuestionsUsed, decision, true), nil
}

func (s *ChatService) ask(ctx context.Context, q rag.Query) (*rag.Answer, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	answer, err := s.pipeline.Ask(callCtx, q)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		metrics.PipelineLatency.WithLabelValues("ok").Observe(elapsed)
		return answer, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		metrics.PipelineLatency.WithLabelValues("timeout").Observe(elapsed)
		metrics.ChatRequests.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %v", ErrDownstreamTimeout, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		metrics.PipelineLatency.WithLabelValues("error").Observe(elapsed)
		metrics.ChatRequests.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}
}

func (s *ChatService) result(text, key, messageID string, used int, decision *EntitlementDecision, replayed bool) *ChatResult {
	remaining := -1
	if decision.Basis == BasisTrial {
		remaining = decision.TrialLimit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	return &ChatResult{
		Response:           text,
		ConversationID:     key,
		MessageID:          messageID,
		QuestionsUsed:      used,
		TrialLimit:         decision.TrialLimit,
		QuestionsRemaining: remaining,
		Replayed:           replayed,
	}
}

func toTurns(msgs []models.Message) []rag.Turn {
	turns := make([]rag.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, rag.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
