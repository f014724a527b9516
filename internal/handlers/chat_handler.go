package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/identity"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/services"
)

type ChatHandler struct {
	chatService         *services.ChatService
	conversationService *services.ConversationService
}

func NewChatHandler(chatService *services.ChatService, conversationService *services.ConversationService) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
	}
}

// Send answers one legal question inside a conversation.
func (h *ChatHandler) Send(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	var req dto.ChatRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	result, err := h.chatService.Send(c.UserContext(), user, services.ChatInput{
		Message:        req.Message,
		Language:       req.Language,
		Country:        req.Country,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(dto.ChatResponse{
		Response:           result.Response,
		ConversationID:     result.ConversationID,
		MessageID:          result.MessageID,
		QuestionsUsed:      result.QuestionsUsed,
		TrialLimit:         result.TrialLimit,
		QuestionsRemaining: result.QuestionsRemaining,
	})
}

func (h *ChatHandler) New(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	var req dto.NewConversationRequest
	if len(c.Body()) > 0 {
		if msg := parseBody(c, &req); msg != "" {
			return badRequest(c, msg)
		}
	}

	conv, err := h.conversationService.GetOrCreate(c.UserContext(), user.ID, "", req.Language, req.Country)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewConversationResponse{
		ConversationID: conv.Key,
		Language:       conv.Language,
		Country:        conv.Country,
	})
}

// Clear empties a conversation and hands back its new id.
func (h *ChatHandler) Clear(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	var req dto.ClearHistoryRequest
	if len(c.Body()) > 0 {
		if msg := parseBody(c, &req); msg != "" {
			return badRequest(c, msg)
		}
	}

	key, err := h.conversationService.Clear(c.UserContext(), user.ID, req.ConversationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ClearHistoryResponse{Status: "cleared", ConversationID: key})
}

func (h *ChatHandler) History(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	convs, err := h.conversationService.ListHistory(c.UserContext(), user.ID, c.Query("language"))
	if err != nil {
		return respondError(c, err)
	}

	out := make([]dto.HistoryConversation, 0, len(convs))
	for i := range convs {
		out = append(out, toHistoryConversation(&convs[i]))
	}
	return c.JSON(out)
}

func (h *ChatHandler) SaveHistory(c *fiber.Ctx) error {
	user := identity.User(c)
	if user == nil {
		return respondError(c, services.ErrUnauthenticated)
	}

	var req dto.SaveHistoryRequest
	if msg := parseBody(c, &req); msg != "" {
		return badRequest(c, msg)
	}

	convs := make([]services.SavedConversation, 0, len(req.Conversations))
	for _, in := range req.Conversations {
		msgs := make([]services.SavedMessage, 0, len(in.Messages))
		for _, m := range in.Messages {
			msgs = append(msgs, services.SavedMessage{
				ID:        m.ID,
				Content:   m.Content,
				IsUser:    m.IsUser,
				Timestamp: m.Timestamp,
			})
		}
		convs = append(convs, services.SavedConversation{
			ConversationID: in.Key(),
			Title:          in.Title,
			Language:       in.Language,
			Country:        in.Country,
			Messages:       msgs,
		})
	}

	result, err := h.conversationService.SaveHistory(c.UserContext(), user.ID, convs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SaveHistoryResponse{
		Status:        "saved",
		Conversations: result.Conversations,
		Messages:      result.Messages,
	})
}

func toHistoryConversation(conv *models.Conversation) dto.HistoryConversation {
	msgs := make([]dto.HistoryMessage, 0, len(conv.Messages))
	// lastMessage is the latest answer, or the question while none exists
	lastMessage := ""
	for _, m := range conv.Messages {
		if m.Role != models.RoleUser || lastMessage == "" {
			lastMessage = m.Content
		}
		msgs = append(msgs, dto.HistoryMessage{
			ID:        m.ClientID,
			Content:   m.Content,
			IsUser:    m.Role == models.RoleUser,
			Timestamp: m.CreatedAt,
		})
	}
	return dto.HistoryConversation{
		ID:             conv.Key,
		ConversationID: conv.Key,
		Title:          conv.Title,
		LastMessage:    services.Excerpt(lastMessage),
		Timestamp:      conv.LastActivityAt,
		Language:       conv.Language,
		Country:        conv.Country,
		LastActivityAt: conv.LastActivityAt,
		Messages:       msgs,
	}
}
