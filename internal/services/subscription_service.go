package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/billing"
	"github.com/onir-world/legal-chat-backend/internal/cache"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/metrics"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrNoSubscription     = errors.New("no subscription found")
	ErrUnknownPlan        = errors.New("unknown plan type")
	ErrBillingUnavailable = errors.New("billing is not configured")
	ErrBillingProvider    = errors.New("billing provider request failed")
	ErrInvalidWebhook     = errors.New("invalid webhook")
)

// SubscriptionStatus is the snapshot served to clients.
type SubscriptionStatus struct {
	HasSubscription bool       `json:"has_subscription"`
	PlanType        string     `json:"plan_type,omitempty"`
	Status          string     `json:"status"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

type Plan struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Currency string   `json:"currency"`
	Interval string   `json:"interval"`
	PriceID  string   `json:"price_id,omitempty"`
	Features []string `json:"features"`
}

var planFeatures = []string{
	"Unlimited legal questions",
	"English and Italian answers",
	"Conversation history across devices",
}

var defaultPlans = map[string]Plan{
	"monthly": {ID: "monthly", Name: "Monthly", Price: 1.89, Currency: "usd", Interval: "month"},
	"yearly":  {ID: "yearly", Name: "Yearly", Price: 9.79, Currency: "usd", Interval: "year"},
}

// SubscriptionService keeps the local subscription snapshot in step with the
// billing provider and serves status, plans, checkout and portal links.
type SubscriptionService struct {
	db       *gorm.DB
	provider billing.Provider
	store    cache.Store
	flags    FlagSource
	cfg      *config.Config
	group    singleflight.Group
	now      func() time.Time
}

func NewSubscriptionService(db *gorm.DB, provider billing.Provider, store cache.Store, flags FlagSource, cfg *config.Config) *SubscriptionService {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	return &SubscriptionService{
		db:       db,
		provider: provider,
		store:    store,
		flags:    flags,
		cfg:      cfg,
		now:      time.Now,
	}
}

func statusCacheKey(userID uuid.UUID) string {
	return "subscription:status:" + userID.String()
}

// InvalidateStatus drops the cached snapshot so the next Status call reads
// the database again.
func (s *SubscriptionService) InvalidateStatus(ctx context.Context, userID uuid.UUID) error {
	return s.store.Invalidate(ctx, statusCacheKey(userID))
}

// Status returns the user's subscription snapshot. refresh skips the cache
// and re-reads the newest subscription from the provider first.
func (s *SubscriptionService) Status(ctx context.Context, userID uuid.UUID, refresh bool) (*SubscriptionStatus, error) {
	if s.flags != nil && s.flags.SubscriptionDisabled(ctx) {
		return &SubscriptionStatus{HasSubscription: true, PlanType: "unlimited", Status: models.SubscriptionActive}, nil
	}

	key := statusCacheKey(userID)
	if !refresh {
		var cached SubscriptionStatus
		found, err := s.store.Get(ctx, key, &cached)
		if err != nil {
			slog.Warn("subscription cache read failed", "user_id", userID.String(), "error", err)
		}
		if found {
			return &cached, nil
		}
	}

	flightKey := key
	if refresh {
		flightKey += ":refresh"
	}
	v, err, _ := s.group.Do(flightKey, func() (interface{}, error) {
		if refresh {
			s.syncFromProvider(ctx, userID)
		}
		status, err := s.loadStatus(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.store.Set(ctx, key, status, s.cacheTTL()); err != nil {
			slog.Warn("subscription cache write failed", "user_id", userID.String(), "error", err)
		}
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SubscriptionStatus), nil
}

func (s *SubscriptionService) loadStatus(ctx context.Context, userID uuid.UUID) (*SubscriptionStatus, error) {
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	sub := SelectSubscription(subs, s.now())
	if sub == nil {
		return &SubscriptionStatus{Status: "none"}, nil
	}
	start := sub.StartDate
	return &SubscriptionStatus{
		HasSubscription: SubscriptionIsValid(sub, s.now()),
		PlanType:        sub.PlanType,
		Status:          sub.Status,
		StartDate:       &start,
		EndDate:         sub.EndDate,
	}, nil
}

// SelectSubscription picks the row that best describes the user's access: an
// active one, then a canceled one still inside its paid period, then the
// most recently started.
func SelectSubscription(subs []models.Subscription, now time.Time) *models.Subscription {
	if len(subs) == 0 {
		return nil
	}
	sorted := make([]models.Subscription, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.After(sorted[j].StartDate)
	})

	for i := range sorted {
		if sorted[i].Status == models.SubscriptionActive {
			return &sorted[i]
		}
	}
	for i := range sorted {
		if SubscriptionIsValid(&sorted[i], now) {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

func (s *SubscriptionService) syncFromProvider(ctx context.Context, userID uuid.UUID) {
	if s.provider == nil {
		return
	}
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		slog.Warn("subscription refresh skipped", "user_id", userID.String(), "error", err)
		return
	}
	sub := SelectSubscription(subs, s.now())
	if sub == nil {
		return
	}

	info, err := s.provider.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		slog.Warn("subscription refresh from provider failed", "user_id", userID.String(), "error", err)
		return
	}
	status, end := lifecycleFromProvider(info)
	if err := s.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
		"status":   status,
		"end_date": end,
	}).Error; err != nil {
		slog.Warn("subscription refresh write failed", "user_id", userID.String(), "error", err)
	}
}

func (s *SubscriptionService) cacheTTL() time.Duration {
	if s.cfg != nil && s.cfg.SubscriptionCacheTTL > 0 {
		return s.cfg.SubscriptionCacheTTL
	}
	return 5 * time.Minute
}

// Plans lists purchasable plans with live prices where the provider has them.
func (s *SubscriptionService) Plans(ctx context.Context) []Plan {
	priceIDs := map[string]string{}
	if s.cfg != nil {
		priceIDs = s.cfg.StripePriceIDs
	}

	ids := make([]string, 0, len(defaultPlans)+len(priceIDs))
	seen := map[string]bool{}
	for _, id := range []string{"monthly", "yearly"} {
		ids = append(ids, id)
		seen[id] = true
	}
	extra := make([]string, 0, len(priceIDs))
	for id := range priceIDs {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	plans := make([]Plan, 0, len(ids))
	for _, id := range ids {
		plan, ok := defaultPlans[id]
		if !ok {
			plan = Plan{ID: id, Name: id}
		}
		plan.Features = planFeatures
		plan.PriceID = priceIDs[id]

		if plan.PriceID != "" && s.provider != nil {
			price, err := s.provider.GetPrice(ctx, plan.PriceID)
			if err != nil {
				slog.Warn("price lookup failed, using default", "plan", id, "error", err)
			} else {
				plan.Price = price.Amount
				plan.Currency = price.Currency
				if price.Interval != "" {
					plan.Interval = price.Interval
				}
			}
		}
		if plan.Price == 0 && !ok {
			continue
		}
		plans = append(plans, plan)
	}
	return plans
}

// CreateCheckout returns the hosted checkout URL for plan, creating the
// provider customer on first use.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, user *models.User, planType string) (string, error) {
	if s.provider == nil {
		return "", ErrBillingUnavailable
	}
	priceID := s.cfg.StripePriceIDs[planType]
	if priceID == "" {
		return "", ErrUnknownPlan
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	url, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		PlanType:   planType,
		UserID:     user.ID.String(),
		SuccessURL: s.cfg.FrontendURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.FrontendURL + "/subscription/cancel",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBillingProvider, err)
	}
	slog.Info("checkout session created", "user_id", user.ID.String(), "plan_type", planType)
	return url, nil
}

// BillingPortal returns the self-service portal URL. Only users with a
// subscription on record get one.
func (s *SubscriptionService) BillingPortal(ctx context.Context, user *models.User) (string, error) {
	if s.provider == nil {
		return "", ErrBillingUnavailable
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		return "", fmt.Errorf("count subscriptions: %w", err)
	}
	if count == 0 || user.StripeCustomerID == nil {
		return "", ErrNoSubscription
	}
	url, err := s.provider.CreatePortalSession(ctx, *user.StripeCustomerID, s.cfg.FrontendURL+"/account")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBillingProvider, err)
	}
	return url, nil
}

func (s *SubscriptionService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	customerID, err := s.provider.CreateCustomer(ctx, user.Email, user.ID.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBillingProvider, err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("stripe_customer_id", customerID).Error; err != nil {
		return "", fmt.Errorf("store customer id: %w", err)
	}
	user.StripeCustomerID = &customerID
	return customerID, nil
}

// HandleWebhook verifies and applies one billing event. Events already
// applied are acknowledged without effect.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return ErrBillingUnavailable
	}
	evt, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return s.ApplyEvent(ctx, evt)
}

func (s *SubscriptionService) ApplyEvent(ctx context.Context, evt *billing.Event) error {
	var seen int64
	if err := s.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).Where("event_id = ?", evt.ID).Count(&seen).Error; err != nil {
		return fmt.Errorf("check processed event: %w", err)
	}
	if seen > 0 {
		metrics.WebhookEvents.WithLabelValues(evt.Type, "duplicate").Inc()
		slog.Info("webhook event already processed", "event_id", evt.ID, "event_type", evt.Type)
		return nil
	}

	// Provider reads happen before the transaction opens.
	info := evt.Subscription
	if evt.Type == billing.EventInvoicePaid && evt.SubscriptionID != "" {
		if s.provider == nil {
			return ErrBillingUnavailable
		}
		fetched, err := s.provider.GetSubscription(ctx, evt.SubscriptionID)
		if err != nil {
			metrics.WebhookEvents.WithLabelValues(evt.Type, "error").Inc()
			return err
		}
		info = fetched
	}
	return s.commitEvent(ctx, evt, info)
}

func (s *SubscriptionService) commitEvent(ctx context.Context, evt *billing.Event, info *billing.SubscriptionInfo) error {
	var affected uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if info == nil && evt.Type != billing.EventCheckoutCompleted {
			slog.Warn("webhook event without subscription ignored", "event_id", evt.ID, "event_type", evt.Type)
			return s.markProcessed(tx, evt)
		}

		switch evt.Type {
		case billing.EventInvoicePaid:
			userID, err := s.upsertSubscription(tx, info, models.SubscriptionActive, nil, evt.Metadata)
			if err != nil {
				return err
			}
			affected = userID

		case billing.EventSubscriptionDeleted:
			end := info.CancelAt
			if end == nil && !info.CurrentPeriodEnd.IsZero() {
				t := info.CurrentPeriodEnd
				end = &t
			}
			userID, err := s.upsertSubscription(tx, info, models.SubscriptionCanceled, end, evt.Metadata)
			if err != nil {
				return err
			}
			affected = userID

		case billing.EventSubscriptionUpdated:
			status, end := lifecycleFromProvider(info)
			userID, err := s.upsertSubscription(tx, info, status, end, evt.Metadata)
			if err != nil {
				return err
			}
			affected = userID

		case billing.EventCheckoutCompleted:
			slog.Info("checkout completed", "event_id", evt.ID, "customer", evt.CustomerID, "subscription", evt.SubscriptionID)

		default:
			slog.Info("webhook event ignored", "event_id", evt.ID, "event_type", evt.Type)
		}

		return s.markProcessed(tx, evt)
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(evt.Type, "error").Inc()
		return err
	}

	if affected != uuid.Nil {
		if err := s.store.Invalidate(ctx, statusCacheKey(affected)); err != nil {
			slog.Warn("subscription cache invalidate failed", "user_id", affected.String(), "error", err)
		}
	}
	metrics.WebhookEvents.WithLabelValues(evt.Type, "applied").Inc()
	slog.Info("webhook event applied", "event_id", evt.ID, "event_type", evt.Type)
	return nil
}

func (s *SubscriptionService) markProcessed(tx *gorm.DB, evt *billing.Event) error {
	return tx.Create(&models.ProcessedWebhookEvent{
		EventID:     evt.ID,
		EventType:   evt.Type,
		ProcessedAt: s.now(),
	}).Error
}

// lifecycleFromProvider maps a provider subscription onto the local status.
// A scheduled cancellation counts as canceled with access until the end date.
func lifecycleFromProvider(info *billing.SubscriptionInfo) (string, *time.Time) {
	if info.CancelAt != nil || info.CancelAtPeriodEnd {
		end := info.CancelAt
		if end == nil && !info.CurrentPeriodEnd.IsZero() {
			t := info.CurrentPeriodEnd
			end = &t
		}
		return models.SubscriptionCanceled, end
	}
	switch info.Status {
	case "active", "trialing":
		return models.SubscriptionActive, nil
	case "canceled":
		var end *time.Time
		if !info.CurrentPeriodEnd.IsZero() {
			t := info.CurrentPeriodEnd
			end = &t
		}
		return models.SubscriptionCanceled, end
	case "incomplete_expired", "unpaid":
		return models.SubscriptionExpired, nil
	default:
		var end *time.Time
		if !info.CurrentPeriodEnd.IsZero() {
			t := info.CurrentPeriodEnd
			end = &t
		}
		return info.Status, end
	}
}

func (s *SubscriptionService) upsertSubscription(tx *gorm.DB, info *billing.SubscriptionInfo, status string, end *time.Time, eventMeta map[string]string) (uuid.UUID, error) {
	meta := mergeMetadata(info.Metadata, eventMeta)

	var sub models.Subscription
	err := tx.Where("stripe_subscription_id = ?", info.ID).First(&sub).Error
	if err == nil {
		updates := map[string]interface{}{"status": status, "end_date": end}
		if plan := meta["plan_type"]; plan != "" {
			updates["plan_type"] = plan
		}
		if err := tx.Model(&sub).Updates(updates).Error; err != nil {
			return uuid.Nil, fmt.Errorf("update subscription: %w", err)
		}
		return sub.UserID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("find subscription: %w", err)
	}

	user, err := s.resolveUser(tx, info.CustomerID, meta)
	if err != nil {
		slog.Warn("webhook subscription has no matching user", "subscription", info.ID, "customer", info.CustomerID)
		return uuid.Nil, nil
	}

	start := info.StartDate
	if start.IsZero() {
		start = s.now()
	}
	sub = models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: info.ID,
		PlanType:             s.planType(info, meta),
		Status:               status,
		StartDate:            start,
		EndDate:              end,
	}
	if err := tx.Create(&sub).Error; err != nil {
		return uuid.Nil, fmt.Errorf("create subscription: %w", err)
	}

	if user.StripeCustomerID == nil && info.CustomerID != "" {
		if err := tx.Model(user).Update("stripe_customer_id", info.CustomerID).Error; err != nil {
			return uuid.Nil, fmt.Errorf("link customer: %w", err)
		}
	}
	return user.ID, nil
}

func (s *SubscriptionService) resolveUser(tx *gorm.DB, customerID string, meta map[string]string) (*models.User, error) {
	for _, key := range []string{"created_by_user_id", "user_id"} {
		if id, err := uuid.Parse(meta[key]); err == nil {
			var user models.User
			if err := tx.First(&user, "id = ?", id).Error; err == nil {
				return &user, nil
			}
		}
	}
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := tx.Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SubscriptionService) planType(info *billing.SubscriptionInfo, meta map[string]string) string {
	if plan := meta["plan_type"]; plan != "" {
		return plan
	}
	if s.cfg != nil && info.PriceID != "" {
		for plan, priceID := range s.cfg.StripePriceIDs {
			if priceID == info.PriceID {
				return plan
			}
		}
	}
	return "monthly"
}

func mergeMetadata(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}
