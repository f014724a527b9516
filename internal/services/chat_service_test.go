package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/rag"
	"github.com/onir-world/legal-chat-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePipeline struct {
	mu      sync.Mutex
	calls   int32
	queries []rag.Query
	answer  string
	err     error
	delay   time.Duration
}

func (p *fakePipeline) Name() string { return "fake" }

func (p *fakePipeline) Ask(ctx context.Context, q rag.Query) (*rag.Answer, error) {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	p.queries = append(p.queries, q)
	p.mu.Unlock()

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
	answer := p.answer
	if answer == "" {
		answer = "answer to " + q.Question
	}
	return &rag.Answer{Text: answer, Provider: "fake"}, nil
}

type chatFixture struct {
	db       *gorm.DB
	svc      *ChatService
	convs    *ConversationService
	pipeline *fakePipeline
}

func newChatFixture(t *testing.T, trialLimit int) *chatFixture {
	t.Helper()
	db := testutil.NewDB(t)
	pipeline := &fakePipeline{}
	convs := NewConversationService(db)
	gate := NewEntitlementGate(db, trialLimit, staticFlags(false))
	return &chatFixture{
		db:       db,
		svc:      NewChatService(gate, convs, pipeline, time.Second, 10),
		convs:    convs,
		pipeline: pipeline,
	}
}

func (f *chatFixture) usage(t *testing.T, user *models.User) int {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, "id = ?", user.ID).Error)
	return u.QuestionsUsed
}

func (f *chatFixture) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&n).Error)
	return n
}

func TestChat_SendChargesAndRecords(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "chat@example.com", 0)

	res, err := f.svc.Send(context.Background(), user, ChatInput{Message: "Can my landlord keep the deposit?", Language: "english"})
	require.NoError(t, err)
	assert.Equal(t, "answer to Can my landlord keep the deposit?", res.Response)
	assert.NotEmpty(t, res.ConversationID)
	assert.Equal(t, 1, res.QuestionsUsed)
	assert.Equal(t, 20, res.TrialLimit)
	assert.Equal(t, 19, res.QuestionsRemaining)
	assert.Equal(t, 1, f.usage(t, user))
	assert.EqualValues(t, 2, f.messageCount(t))

	q := f.pipeline.queries[0]
	assert.Equal(t, rag.CollectionEnglish, q.Collection)
	assert.Equal(t, DefaultCountry, q.Country)
	assert.Empty(t, q.History)

	// the follow-up carries the first exchange as history
	user.QuestionsUsed = 1
	_, err = f.svc.Send(context.Background(), user, ChatInput{Message: "And in Italy?", ConversationID: res.ConversationID})
	require.NoError(t, err)
	assert.Len(t, f.pipeline.queries[1].History, 2)
}

func TestChat_ItalianUsesItalianCollection(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "it@example.com", 0)

	_, err := f.svc.Send(context.Background(), user, ChatInput{Message: "Ciao", Language: "italian"})
	require.NoError(t, err)
	assert.Equal(t, rag.CollectionItalian, f.pipeline.queries[0].Collection)
}

func TestChat_ValidationFailsBeforeAnything(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "invalid@example.com", 0)

	_, err := f.svc.Send(context.Background(), user, ChatInput{Message: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Send(context.Background(), user, ChatInput{Message: "hi", Language: "german"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, atomic.LoadInt32(&f.pipeline.calls))
}

func TestChat_TrialExhaustedNeverCallsPipeline(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "done@example.com", 20)

	_, err := f.svc.Send(context.Background(), user, ChatInput{Message: "one more?"})
	var denied *EntitlementError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, ReasonTrialExhausted, denied.Reason)
	assert.Zero(t, atomic.LoadInt32(&f.pipeline.calls))
	assert.Zero(t, f.messageCount(t))
	assert.Equal(t, 20, f.usage(t, user))
}

func TestChat_PipelineFailureChargesNothing(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "fail@example.com", 5)
	f.pipeline.err = errors.New("connection refused")

	_, err := f.svc.Send(context.Background(), user, ChatInput{Message: "hello"})
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, 5, f.usage(t, user))
	assert.Zero(t, f.messageCount(t))
}

func TestChat_PipelineTimeout(t *testing.T) {
	f := newChatFixture(t, 20)
	f.svc.timeout = 20 * time.Millisecond
	f.pipeline.delay = time.Second
	user := testutil.CreateUser(t, f.db, "slow@example.com", 0)

	_, err := f.svc.Send(context.Background(), user, ChatInput{Message: "hello"})
	assert.ErrorIs(t, err, ErrDownstreamTimeout)
	assert.Zero(t, f.usage(t, user))
	assert.Zero(t, f.messageCount(t))
}

func TestChat_RetryWithSameMessageIDReplays(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "retry@example.com", 0)

	first, err := f.svc.Send(context.Background(), user, ChatInput{Message: "hello", MessageID: "msg-1"})
	require.NoError(t, err)

	user.QuestionsUsed = 1
	second, err := f.svc.Send(context.Background(), user, ChatInput{
		Message:        "hello",
		MessageID:      "msg-1",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.pipeline.calls))
	assert.Equal(t, 1, f.usage(t, user))
	assert.EqualValues(t, 2, f.messageCount(t))
}

func TestChat_RetryOfLastTrialQuestionReplays(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "last@example.com", 19)

	first, err := f.svc.Send(context.Background(), user, ChatInput{Message: "final question", MessageID: "m-20"})
	require.NoError(t, err)
	assert.Equal(t, 20, first.QuestionsUsed)
	assert.Zero(t, first.QuestionsRemaining)

	user.QuestionsUsed = 20
	second, err := f.svc.Send(context.Background(), user, ChatInput{
		Message:        "final question",
		MessageID:      "m-20",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)
	assert.Zero(t, second.QuestionsRemaining)
	assert.Equal(t, 20, f.usage(t, user))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.pipeline.calls))

	// a new question is still refused
	_, err = f.svc.Send(context.Background(), user, ChatInput{
		Message:        "one more",
		MessageID:      "m-21",
		ConversationID: first.ConversationID,
	})
	var denied *EntitlementError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonTrialExhausted, denied.Reason)
}

func TestChat_ParallelSendsAtTrialEdge(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "edge@example.com", 19)
	conv, err := f.convs.GetOrCreate(context.Background(), user.ID, "", "", "")
	require.NoError(t, err)

	const senders = 5
	var wg sync.WaitGroup
	var ok, denied int32
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot := *user
			_, err := f.svc.Send(context.Background(), &snapshot, ChatInput{Message: "last one", ConversationID: conv.Key})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrEntitlementExceeded):
				atomic.AddInt32(&denied, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, senders-1, denied)
	assert.Equal(t, 20, f.usage(t, user))
	assert.EqualValues(t, 2, f.messageCount(t))
}

func TestChat_SubscriberBeyondTrial(t *testing.T) {
	f := newChatFixture(t, 20)
	user := testutil.CreateUser(t, f.db, "paid@example.com", 42)
	testutil.CreateSubscription(t, f.db, user, models.SubscriptionActive, nil)

	res, err := f.svc.Send(context.Background(), user, ChatInput{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 43, res.QuestionsUsed)
	assert.Equal(t, -1, res.QuestionsRemaining)
}
