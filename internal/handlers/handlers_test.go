package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/onir-world/legal-chat-backend/internal/cache"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/handlers"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/rag"
	"github.com/onir-world/legal-chat-backend/internal/routes"
	"github.com/onir-world/legal-chat-backend/internal/services"
	"github.com/onir-world/legal-chat-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubPipeline struct {
	err   error
	delay time.Duration
}

func (p *stubPipeline) Name() string { return "stub" }

func (p *stubPipeline) Ask(ctx context.Context, q rag.Query) (*rag.Answer, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &rag.Answer{Text: "[" + q.Collection + "] " + q.Question, Provider: "stub"}, nil
}

type testServer struct {
	app      *fiber.App
	db       *gorm.DB
	pipeline *stubPipeline
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{
		JWTSecret:        "handler-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
		FrontendURL:      "https://onir.world",
		TrialLimit:       20,
		AdminToken:       "admin-token",
		AdminEmails:      "boss@example.com",
	}

	pipeline := &stubPipeline{}
	flags := services.NewFeatureFlagService(db, false)
	require.NoError(t, flags.SeedDefaults(context.Background()))
	authService := services.NewAuthService(db, cfg, nil)
	gate := services.NewEntitlementGate(db, cfg.TrialLimit, flags)
	convs := services.NewConversationService(db)
	chat := services.NewChatService(gate, convs, pipeline, 100*time.Millisecond, 10)
	subs := services.NewSubscriptionService(db, nil, cache.NewMemoryStore(), flags, cfg)

	app := fiber.New()
	routes.Setup(app, cfg, authService, routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService),
		Chat:         handlers.NewChatHandler(chat, convs),
		Subscription: handlers.NewSubscriptionHandler(subs),
		Webhook:      handlers.NewWebhookHandler(subs),
		Flags:        handlers.NewFeatureFlagHandler(flags),
		Health:       handlers.NewHealthHandler(db, cache.NewMemoryStore(), flags, handlers.SystemInfo{TrialLimit: 20}),
	})
	return &testServer{app: app, db: db, pipeline: pipeline}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	status, raw := s.raw(t, method, path, token, body, headers...)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return status, out
}

func (s *testServer) raw(t *testing.T, method, path, token string, body interface{}, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *testServer) register(t *testing.T, email string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["access_token"].(string)
}

func (s *testServer) setUsage(t *testing.T, email string, used int) {
	t.Helper()
	require.NoError(t, s.db.Model(&models.User{}).Where("email = ?", email).Update("questions_used", used).Error)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/chat"},
		{http.MethodPost, "/api/clear-history"},
		{http.MethodGet, "/api/chat/history"},
		{http.MethodPost, "/api/chat/save-history"},
		{http.MethodGet, "/api/subscription/status"},
		{http.MethodGet, "/api/auth/me"},
	} {
		status, body := s.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, tc.path)
		assert.Equal(t, "unauthenticated", body["code"], tc.path)
	}

	status, _ := s.do(t, http.MethodPost, "/api/chat", "not-a-jwt", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDeletedUserTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "gone@example.com")
	require.NoError(t, s.db.Where("email = ?", "gone@example.com").Delete(&models.User{}).Error)

	status, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", body["code"])
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "me@example.com")

	status, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "me@example.com", body["email"])
	assert.EqualValues(t, 0, body["questions_used"])
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "asker@example.com")

	status, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{
		"message": "Can my landlord keep the deposit?", "language": "italian", "country": "Italy",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "[law_chunks_italian_language] Can my landlord keep the deposit?", body["response"])
	assert.EqualValues(t, 1, body["questions_used"])
	assert.EqualValues(t, 19, body["questions_remaining"])
	convID := body["conversation_id"].(string)
	require.NotEmpty(t, convID)

	status, body = s.do(t, http.MethodPost, "/api/chat", token, map[string]string{
		"message": "And if the lease is verbal?", "conversation_id": convID,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, convID, body["conversation_id"])
	assert.EqualValues(t, 2, body["questions_used"])

	status, raw := s.raw(t, http.MethodGet, "/api/chat/history", token, nil)
	require.Equal(t, http.StatusOK, status)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)
	assert.Equal(t, convID, history[0]["conversation_id"])
	assert.Equal(t, convID, history[0]["id"])
	assert.Equal(t, "[law_chunks_italian_language] And if the lease is ...", history[0]["lastMessage"])
	assert.NotEmpty(t, history[0]["timestamp"])
	assert.Equal(t, "italian", history[0]["language"])
	msgs := history[0]["messages"].([]interface{})
	require.Len(t, msgs, 4)
	assert.Equal(t, true, msgs[0].(map[string]interface{})["isUser"])
	assert.Equal(t, false, msgs[1].(map[string]interface{})["isUser"])

	status, raw = s.raw(t, http.MethodGet, "/api/chat/history?language=english", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(raw))
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "v@example.com")

	status, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	status, body = s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hi", "language": "klingon"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["message"], "english, italian")
}

func TestChatTrialExhausted(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "broke@example.com")
	s.setUsage(t, "broke@example.com", 20)

	status, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "one more?"})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.ReasonTrialExhausted, body["reason"])
	assert.EqualValues(t, 20, body["questions_used"])
	assert.EqualValues(t, 20, body["trial_limit"])
	assert.Equal(t, services.UpgradePath, body["upgrade_path"])
}

func TestChatSubscriptionExpired(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "lapsed@example.com")
	s.setUsage(t, "lapsed@example.com", 25)

	var user models.User
	require.NoError(t, s.db.Where("email = ?", "lapsed@example.com").First(&user).Error)
	ended := time.Now().Add(-time.Hour)
	testutil.CreateSubscription(t, s.db, &user, models.SubscriptionCanceled, &ended)

	status, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "still there?"})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.ReasonSubscriptionExpired, body["reason"])
}

func TestChatDownstreamFailures(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "down@example.com")

	s.pipeline.err = errors.New("connection refused")
	status, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hello?"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "answer_unavailable", body["code"])

	s.pipeline.err = nil
	s.pipeline.delay = time.Second
	status, body = s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hello?"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "answer_timeout", body["code"])

	// neither attempt was charged
	status, body = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["questions_used"])
}

func TestClearHistory(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "clear@example.com")

	_, body := s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "first"})
	oldID := body["conversation_id"].(string)

	status, body := s.do(t, http.MethodPost, "/api/clear-history", token, map[string]string{"conversation_id": oldID})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cleared", body["status"])
	assert.NotEqual(t, oldID, body["conversation_id"])

	status, body = s.do(t, http.MethodPost, "/api/clear-history", token, map[string]string{"conversation_id": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "conversation_not_found", body["code"])

	status, body = s.do(t, http.MethodPost, "/api/clear-history", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["conversation_id"])

	// another user cannot clear this user's conversation
	other := s.register(t, "other@example.com")
	_, body = s.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "mine"})
	status, _ = s.do(t, http.MethodPost, "/api/clear-history", other, map[string]string{"conversation_id": body["conversation_id"].(string)})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSaveHistory(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "sync@example.com")
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	payload := map[string]interface{}{
		"conversations": []map[string]interface{}{{
			"conversation_id": "device-conv-1",
			"title":           "Deposit question",
			"language":        "english",
			"messages": []map[string]interface{}{
				{"id": "m1", "content": "Can they keep it?", "isUser": true, "timestamp": ts},
				{"id": "m2", "content": "Usually not.", "isUser": false, "timestamp": ts.Add(time.Second)},
			},
		}},
	}
	status, body := s.do(t, http.MethodPost, "/api/chat/save-history", token, payload)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "saved", body["status"])
	assert.EqualValues(t, 2, body["messages"])

	status, body = s.do(t, http.MethodPost, "/api/chat/save-history", token, payload)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["messages"])

	_, raw := s.raw(t, http.MethodGet, "/api/chat/history", token, nil)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "Deposit question", history[0]["title"])
	assert.Len(t, history[0]["messages"], 2)

	status, _ = s.do(t, http.MethodPost, "/api/chat/save-history", token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSaveHistoryAcceptsClientShape(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "browser@example.com")
	ts := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

	// the shape the web client keeps in local storage
	payload := map[string]interface{}{
		"conversations": []map[string]interface{}{{
			"id":          "c-local",
			"title":       "Notice period",
			"lastMessage": "Thirty days.",
			"timestamp":   ts,
			"messages": []map[string]interface{}{
				{"id": "c-local-1", "content": "How much notice?", "isUser": true, "timestamp": ts},
				{"id": "c-local-2", "content": "Thirty days.", "isUser": false, "timestamp": ts.Add(time.Second)},
			},
		}},
	}
	status, body := s.do(t, http.MethodPost, "/api/chat/save-history", token, payload)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, body["messages"])

	_, raw := s.raw(t, http.MethodGet, "/api/chat/history", token, nil)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "c-local", history[0]["id"])
	assert.Equal(t, "c-local", history[0]["conversation_id"])
	assert.Equal(t, "Thirty days.", history[0]["lastMessage"])
}

func TestSubscriptionStatusAndPlans(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "plan@example.com")

	status, body := s.do(t, http.MethodGet, "/api/subscription/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["has_subscription"])

	status, body = s.do(t, http.MethodGet, "/api/subscription/plans", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["plans"], 2)

	status, body = s.do(t, http.MethodPost, "/api/subscription/create-checkout-session", token, map[string]string{"plan_type": "monthly"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not_configured", body["code"])
}

func TestStripeWebhookWithoutSignature(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodPost, "/api/webhook/stripe", "", map[string]string{"id": "evt_1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/webhook/stripe", "", map[string]string{"id": "evt_1"}, "Stripe-Signature", "t=1,v1=abc")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestFeatureFlagsAdmin(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/feature-flags", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["subscription_disabled"])

	status, _ = s.do(t, http.MethodPut, "/api/admin/flags/subscription_disabled", "", map[string]string{"value": "true", "type": "bool"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPut, "/api/admin/flags/subscription_disabled", "", map[string]string{"value": "true", "type": "bool"}, "X-Admin-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	userToken := s.register(t, "pleb@example.com")
	status, _ = s.do(t, http.MethodPut, "/api/admin/flags/subscription_disabled", userToken, map[string]string{"value": "true", "type": "bool"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.do(t, http.MethodPut, "/api/admin/flags/subscription_disabled", "", map[string]string{"value": "true", "type": "bool"}, "X-Admin-Token", "admin-token")
	require.Equal(t, http.StatusOK, status, body)

	// with subscriptions disabled an exhausted trial no longer blocks
	s.setUsage(t, "pleb@example.com", 20)
	status, body = s.do(t, http.MethodPost, "/api/chat", userToken, map[string]string{"message": "free now?"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 21, body["questions_used"])

	bossToken := s.register(t, "boss@example.com")
	status, _ = s.do(t, http.MethodDelete, "/api/admin/flags/announcement_message", bossToken, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = s.do(t, http.MethodDelete, "/api/admin/flags/announcement_message", bossToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndSystemInfo(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["cache"])

	status, body = s.do(t, http.MethodGet, "/api/system-info", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sqlite", body["database"])
	assert.EqualValues(t, 20, body["trial_limit"])
}
