package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"gorm.io/gorm"
)

// EntitlementBasis says what allowed a send.
type EntitlementBasis string

const (
	BasisTrial        EntitlementBasis = "trial"
	BasisSubscription EntitlementBasis = "subscription"
	BasisBypass       EntitlementBasis = "bypass"
)

type EntitlementDecision struct {
	Basis           EntitlementBasis
	QuestionsUsed   int
	TrialLimit      int
	HadSubscription bool
}

// Remaining is the number of trial questions left, or -1 when the user is
// not bound by the trial.
func (d *EntitlementDecision) Remaining() int {
	if d.Basis != BasisTrial {
		return -1
	}
	if n := d.TrialLimit - d.QuestionsUsed; n > 0 {
		return n
	}
	return 0
}

type FlagSource interface {
	SubscriptionDisabled(ctx context.Context) bool
}

type EntitlementGate struct {
	db         *gorm.DB
	trialLimit int
	flags      FlagSource
	now        func() time.Time
}

func NewEntitlementGate(db *gorm.DB, trialLimit int, flags FlagSource) *EntitlementGate {
	return &EntitlementGate{db: db, trialLimit: trialLimit, flags: flags, now: time.Now}
}

func (g *EntitlementGate) TrialLimit() int {
	return g.trialLimit
}

// SubscriptionIsValid: an active subscription grants access; a canceled one
// only until its end date, exclusive. Every other status grants nothing.
func SubscriptionIsValid(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case models.SubscriptionActive:
		return true
	case models.SubscriptionCanceled:
		return sub.EndDate != nil && sub.EndDate.After(now)
	default:
		return false
	}
}

// wasPaid reports whether a row ever granted access. Checkouts that never
// completed stay incomplete or expire without it.
func wasPaid(sub *models.Subscription) bool {
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionCanceled, "past_due":
		return true
	default:
		return false
	}
}

// EvaluateEntitlement decides from an already loaded user and subscription
// history. It has no side effects.
func EvaluateEntitlement(user *models.User, subs []models.Subscription, trialLimit int, now time.Time) (*EntitlementDecision, error) {
	decision := &EntitlementDecision{
		QuestionsUsed:   user.QuestionsUsed,
		TrialLimit:      trialLimit,
	}
	for i := range subs {
		if wasPaid(&subs[i]) {
			decision.HadSubscription = true
			break
		}
	}

	for i := range subs {
		if SubscriptionIsValid(&subs[i], now) {
			decision.Basis = BasisSubscription
			return decision, nil
		}
	}

	if user.QuestionsUsed < trialLimit {
		decision.Basis = BasisTrial
		return decision, nil
	}

	return nil, decision.denial()
}

// Authorize checks whether user may send one more question. Denials are
// *EntitlementError values.
func (g *EntitlementGate) Authorize(ctx context.Context, user *models.User) (*EntitlementDecision, error) {
	if g.flags != nil && g.flags.SubscriptionDisabled(ctx) {
		return &EntitlementDecision{
			Basis:         BasisBypass,
			QuestionsUsed: user.QuestionsUsed,
			TrialLimit:    g.trialLimit,
		}, nil
	}

	var subs []models.Subscription
	if err := g.db.WithContext(ctx).Where("user_id = ?", user.ID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	return EvaluateEntitlement(user, subs, g.trialLimit, g.now())
}

// RecordUsage charges one answered question inside tx and returns the new
// counter. Trial sends are charged with a compare-and-increment so parallel
// sends cannot push the counter past the limit.
func (g *EntitlementGate) RecordUsage(tx *gorm.DB, userID uuid.UUID, decision *EntitlementDecision) (int, error) {
	q := tx.Model(&models.User{}).Where("id = ?", userID)
	if decision.Basis == BasisTrial {
		q = q.Where("questions_used < ?", decision.TrialLimit)
	}

	result := q.UpdateColumn("questions_used", gorm.Expr("questions_used + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("increment usage: %w", result.Error)
	}

	var counts []int
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Pluck("questions_used", &counts).Error; err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	if len(counts) == 0 {
		return 0, fmt.Errorf("read usage: %w", gorm.ErrRecordNotFound)
	}
	used := counts[0]

	if result.RowsAffected == 0 {
		if decision.Basis != BasisTrial {
			return 0, fmt.Errorf("increment usage: %w", gorm.ErrRecordNotFound)
		}
		exhausted := *decision
		exhausted.QuestionsUsed = used
		return 0, exhausted.denial()
	}
	return used, nil
}

func (d *EntitlementDecision) denial() error {
	reason := ReasonTrialExhausted
	if d.HadSubscription {
		reason = ReasonSubscriptionExpired
	}
	return &EntitlementError{
		Reason:        reason,
		QuestionsUsed: d.QuestionsUsed,
		TrialLimit:    d.TrialLimit,
	}
}
