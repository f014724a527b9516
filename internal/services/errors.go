package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated       = errors.New("authentication required")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEntitlementExceeded   = errors.New("question limit reached")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrDownstreamUnavailable = errors.New("answer service unavailable")
	ErrDownstreamTimeout     = errors.New("answer service timed out")
)

const (
	ReasonTrialExhausted      = "trial_exhausted"
	ReasonSubscriptionExpired = "subscription_expired"

	UpgradePath = "/api/subscription/plans"
)

// EntitlementError describes why a send was refused. It matches
// ErrEntitlementExceeded under errors.Is.
type EntitlementError struct {
	Reason        string
	QuestionsUsed int
	TrialLimit    int
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("%s: %s (%d/%d)", ErrEntitlementExceeded, e.Reason, e.QuestionsUsed, e.TrialLimit)
}

func (e *EntitlementError) Unwrap() error {
	return ErrEntitlementExceeded
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
