package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/keylock"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultCountry = "italy"

	titleMaxRunes = 50
)

var errExchangeExists = errors.New("exchange already recorded")

// Exchange is one answered question.
type Exchange struct {
	MessageID string
	Question  string
	Answer    string
}

// ChargeFunc runs inside the append transaction; an error rolls the append back.
type ChargeFunc func(tx *gorm.DB) error

// SavedConversation is client-held history submitted for reconciliation.
type SavedConversation struct {
	ConversationID string
	Title          string
	Language       string
	Country        string
	Messages       []SavedMessage
}

type SavedMessage struct {
	ID        string
	Content   string
	IsUser    bool
	Timestamp time.Time
}

type SaveResult struct {
	Conversations int
	Messages      int
}

// ConversationService owns conversation identity and message history. All
// lookups are scoped by the owning user.
type ConversationService struct {
	db    *gorm.DB
	locks *keylock.Table
	now   func() time.Time
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db, locks: keylock.New(), now: time.Now}
}

// NormalizeLanguage maps user input onto a supported conversation language.
func NormalizeLanguage(language string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", models.LanguageEnglish:
		return models.LanguageEnglish, nil
	case models.LanguageItalian:
		return models.LanguageItalian, nil
	default:
		return "", invalidInput("language must be english or italian")
	}
}

// GetOrCreate returns the caller's conversation for key. An empty or unknown
// key gets a freshly minted conversation.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID uuid.UUID, key, language, country string) (*models.Conversation, error) {
	if key != "" {
		conv, err := s.find(s.db.WithContext(ctx), userID, key)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
	}

	lang, err := NormalizeLanguage(language)
	if err != nil {
		return nil, err
	}
	if country == "" {
		country = DefaultCountry
	}

	conv := &models.Conversation{
		UserID:         userID,
		Key:            newConversationKey(),
		Language:       lang,
		Country:        country,
		LastActivityAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// AppendExchange stores the question and its answer as consecutive messages.
// Both rows, the activity bump and charge commit together or not at all.
func (s *ConversationService) AppendExchange(ctx context.Context, userID uuid.UUID, key string, ex Exchange, charge ChargeFunc) ([]models.Message, error) {
	unlock := s.locks.Lock(lockKey(userID, key))
	defer unlock()

	var written []models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.find(tx, userID, key)
		if err != nil {
			return err
		}

		userClientID := ex.MessageID
		if userClientID == "" {
			userClientID = uuid.NewString()
		} else {
			var count int64
			if err := tx.Model(&models.Message{}).
				Where("conversation_id = ? AND client_id = ?", conv.ID, userClientID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("check message id: %w", err)
			}
			if count > 0 {
				return errExchangeExists
			}
		}

		lastSeq, lastAt, err := tail(tx, conv.ID)
		if err != nil {
			return err
		}

		at := s.now()
		if at.Before(lastAt) {
			at = lastAt
		}

		written = []models.Message{
			{
				ConversationID: conv.ID,
				ClientID:       userClientID,
				Seq:            lastSeq + 1,
				Role:           models.RoleUser,
				Content:        ex.Question,
				CreatedAt:      at,
			},
			{
				ConversationID: conv.ID,
				ClientID:       userClientID + "-reply",
				Seq:            lastSeq + 2,
				Role:           models.RoleAssistant,
				Content:        ex.Answer,
				CreatedAt:      at,
			},
		}
		if err := tx.Create(&written).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}

		updates := map[string]interface{}{"last_activity_at": at}
		if conv.Title == "" {
			updates["title"] = Excerpt(ex.Question)
		}
		if err := tx.Model(conv).Updates(updates).Error; err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		if charge != nil {
			return charge(tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// Lookup returns the user's conversation with key, or nil when there is none.
func (s *ConversationService) Lookup(ctx context.Context, userID uuid.UUID, key string) (*models.Conversation, error) {
	conv, err := s.find(s.db.WithContext(ctx), userID, key)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	return conv, err
}

// FindReply returns the stored answer to the user message clientID, if the
// exchange was already recorded.
func (s *ConversationService) FindReply(ctx context.Context, conversationID uuid.UUID, clientID string) (*models.Message, error) {
	var question models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND client_id = ? AND role = ?", conversationID, clientID, models.RoleUser).
		First(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}

	var answer models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ? AND seq = ? AND role = ?", conversationID, question.Seq+1, models.RoleAssistant).
		First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reply: %w", err)
	}
	return &answer, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *ConversationService) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Clear wipes a conversation and re-keys it, so the caller always gets a new
// conversation id back, including for a conversation with no messages. With
// no key the caller's most recently active conversation is cleared, or a new
// one is created when there is none.
func (s *ConversationService) Clear(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	if key == "" {
		var latest models.Conversation
		err := s.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("last_activity_at DESC").
			First(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conv, err := s.GetOrCreate(ctx, userID, "", models.LanguageEnglish, DefaultCountry)
			if err != nil {
				return "", err
			}
			return conv.Key, nil
		}
		if err != nil {
			return "", fmt.Errorf("find latest conversation: %w", err)
		}
		key = latest.Key
	}

	unlock := s.locks.Lock(lockKey(userID, key))
	defer unlock()

	newKey := newConversationKey()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.find(tx, userID, key)
		if err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return tx.Model(conv).Updates(map[string]interface{}{
			"conversation_key": newKey,
			"title":            "",
			"last_activity_at": s.now(),
		}).Error
	})
	if err != nil {
		return "", err
	}
	return newKey, nil
}

// ListHistory returns the caller's non-empty conversations with their ordered
// messages, most recently active first. An empty language matches all.
func (s *ConversationService) ListHistory(ctx context.Context, userID uuid.UUID, language string) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if language != "" {
		lang, err := NormalizeLanguage(language)
		if err != nil {
			return nil, err
		}
		q = q.Where("language = ?", lang)
	}

	var convs []models.Conversation
	if err := q.
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("last_activity_at DESC").
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := convs[:0]
	for _, c := range convs {
		if len(c.Messages) > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// SaveHistory merges client-held conversations into the store. Messages whose
// id is already stored are skipped, so repeating a payload changes nothing.
func (s *ConversationService) SaveHistory(ctx context.Context, userID uuid.UUID, convs []SavedConversation) (*SaveResult, error) {
	result := &SaveResult{}
	for _, in := range convs {
		if strings.TrimSpace(in.ConversationID) == "" {
			return result, invalidInput("conversation id is required")
		}
		n, err := s.saveOne(ctx, userID, in)
		if err != nil {
			return result, err
		}
		result.Conversations++
		result.Messages += n
	}
	return result, nil
}

func (s *ConversationService) saveOne(ctx context.Context, userID uuid.UUID, in SavedConversation) (int, error) {
	lang, err := NormalizeLanguage(in.Language)
	if err != nil {
		return 0, err
	}
	country := in.Country
	if country == "" {
		country = DefaultCountry
	}

	unlock := s.locks.Lock(lockKey(userID, in.ConversationID))
	defer unlock()

	inserted := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.find(tx, userID, in.ConversationID)
		if errors.Is(err, ErrConversationNotFound) {
			conv = &models.Conversation{
				UserID:         userID,
				Key:            in.ConversationID,
				Language:       lang,
				Country:        country,
				LastActivityAt: s.now(),
			}
			if err := tx.Create(conv).Error; err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
		} else if err != nil {
			return err
		}

		var existing []string
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", conv.ID).
			Pluck("client_id", &existing).Error; err != nil {
			return fmt.Errorf("load message ids: %w", err)
		}
		seen := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			seen[id] = struct{}{}
		}

		lastSeq, lastAt, err := tail(tx, conv.ID)
		if err != nil {
			return err
		}

		var batch []models.Message
		firstQuestion := ""
		for pos, m := range in.Messages {
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			id := m.ID
			if id == "" {
				id = derivedMessageID(m, pos)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			at := m.Timestamp
			if at.IsZero() {
				at = s.now()
			}
			if at.Before(lastAt) {
				at = lastAt
			}
			lastAt = at
			lastSeq++

			role := models.RoleAssistant
			if m.IsUser {
				role = models.RoleUser
				if firstQuestion == "" {
					firstQuestion = m.Content
				}
			}
			batch = append(batch, models.Message{
				ConversationID: conv.ID,
				ClientID:       id,
				Seq:            lastSeq,
				Role:           role,
				Content:        m.Content,
				CreatedAt:      at,
			})
		}
		if len(batch) == 0 {
			return nil
		}
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		inserted = len(batch)

		updates := map[string]interface{}{}
		if lastAt.After(conv.LastActivityAt) {
			updates["last_activity_at"] = lastAt
		}
		if conv.Title == "" {
			title := strings.TrimSpace(in.Title)
			if title == "" {
				title = Excerpt(firstQuestion)
			}
			updates["title"] = truncateRunes(title, 80)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(conv).Updates(updates).Error
	})
	return inserted, err
}

func (s *ConversationService) find(db *gorm.DB, userID uuid.UUID, key string) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.Where("user_id = ? AND conversation_key = ?", userID, key).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

// tail returns the highest seq and newest timestamp of a conversation.
func tail(tx *gorm.DB, conversationID uuid.UUID) (int, time.Time, error) {
	var last []models.Message
	if err := tx.Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(1).
		Find(&last).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("load last message: %w", err)
	}
	if len(last) == 0 {
		return 0, time.Time{}, nil
	}
	return last[0].Seq, last[0].CreatedAt, nil
}

func lockKey(userID uuid.UUID, key string) string {
	return userID.String() + ":" + key
}

func newConversationKey() string {
	return uuid.NewString()
}

// Excerpt trims text to the length shown in conversation titles and
// sidebar previews.
func Excerpt(text string) string {
	q := strings.TrimSpace(text)
	if len([]rune(q)) > titleMaxRunes {
		return string([]rune(q)[:titleMaxRunes]) + "..."
	}
	return q
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// derivedMessageID names a message the client sent without an id. pos keeps
// identical repeats within one payload apart; re-sending the same payload
// yields the same ids.
func derivedMessageID(m SavedMessage, pos int) string {
	role := "assistant"
	if m.IsUser {
		role = "user"
	}
	sum := sha256.Sum256([]byte(role + "\x00" + m.Content + "\x00" + m.Timestamp.UTC().Format(time.RFC3339Nano) + "\x00" + strconv.Itoa(pos)))
	return "m-" + hex.EncodeToString(sum[:12])
}
