package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/onir-world/legal-chat-backend/internal/models"
	"gorm.io/gorm"
)

const FlagSubscriptionDisabled = "subscription_disabled"

var ErrFlagNotFound = errors.New("feature flag not found")

// FeatureFlagService serves typed flags from the feature_flags table with a
// short in-process cache. A flag forced on by the environment stays on
// whatever the table says.
type FeatureFlagService struct {
	db     *gorm.DB
	ttl    time.Duration
	forced map[string]bool

	mu       sync.RWMutex
	values   map[string]interface{}
	loadedAt time.Time
}

func NewFeatureFlagService(db *gorm.DB, subscriptionDisabled bool) *FeatureFlagService {
	return &FeatureFlagService{
		db:     db,
		ttl:    30 * time.Second,
		forced: map[string]bool{FlagSubscriptionDisabled: subscriptionDisabled},
	}
}

// SeedDefaults creates missing flags without touching existing rows.
func (s *FeatureFlagService) SeedDefaults(ctx context.Context) error {
	defaults := []models.FeatureFlag{
		{Key: FlagSubscriptionDisabled, Value: strconv.FormatBool(s.forced[FlagSubscriptionDisabled]), Type: "bool"},
		{Key: "maintenance_mode", Value: "false", Type: "bool"},
		{Key: "announcement_message", Value: "", Type: "string"},
	}

	for _, flag := range defaults {
		var existing models.FeatureFlag
		err := s.db.WithContext(ctx).Where("flag_key = ?", flag.Key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.db.WithContext(ctx).Create(&flag).Error; err != nil {
				return fmt.Errorf("seed flag %s: %w", flag.Key, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("seed flag %s: %w", flag.Key, err)
		}
	}
	s.invalidate()
	return nil
}

// All returns every flag decoded to its declared type.
func (s *FeatureFlagService) All(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	if s.values != nil && time.Since(s.loadedAt) < s.ttl {
		out := copyValues(s.values)
		s.mu.RUnlock()
		return s.applyForced(out), nil
	}
	s.mu.RUnlock()

	var flags []models.FeatureFlag
	if err := s.db.WithContext(ctx).Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("load feature flags: %w", err)
	}

	values := make(map[string]interface{}, len(flags))
	for _, f := range flags {
		values[f.Key] = decodeFlag(f)
	}

	s.mu.Lock()
	s.values = values
	s.loadedAt = time.Now()
	s.mu.Unlock()

	return s.applyForced(copyValues(values)), nil
}

// Bool reports a boolean flag; unknown or unreadable flags are false.
func (s *FeatureFlagService) Bool(ctx context.Context, key string) bool {
	if s.forced[key] {
		return true
	}
	values, err := s.All(ctx)
	if err != nil {
		slog.Error("feature flag lookup failed", "flag", key, "error", err)
		return false
	}
	b, _ := values[key].(bool)
	return b
}

func (s *FeatureFlagService) SubscriptionDisabled(ctx context.Context) bool {
	return s.Bool(ctx, FlagSubscriptionDisabled)
}

// Set creates or updates a flag.
func (s *FeatureFlagService) Set(ctx context.Context, key, value, typ string) (*models.FeatureFlag, error) {
	if key == "" {
		return nil, invalidInput("key is required")
	}
	if typ == "" {
		typ = "string"
	}
	if err := validateFlagValue(value, typ); err != nil {
		return nil, err
	}

	var flag models.FeatureFlag
	err := s.db.WithContext(ctx).Where("flag_key = ?", key).First(&flag).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		flag = models.FeatureFlag{Key: key, Value: value, Type: typ}
		if err := s.db.WithContext(ctx).Create(&flag).Error; err != nil {
			return nil, fmt.Errorf("create flag: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("query flag: %w", err)
	default:
		flag.Value = value
		flag.Type = typ
		if err := s.db.WithContext(ctx).Save(&flag).Error; err != nil {
			return nil, fmt.Errorf("update flag: %w", err)
		}
	}

	s.invalidate()
	slog.Info("feature flag updated", "flag", key, "value", value)
	return &flag, nil
}

func (s *FeatureFlagService) Delete(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Where("flag_key = ?", key).Delete(&models.FeatureFlag{})
	if result.Error != nil {
		return fmt.Errorf("delete flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFlagNotFound
	}
	s.invalidate()
	return nil
}

func (s *FeatureFlagService) invalidate() {
	s.mu.Lock()
	s.values = nil
	s.mu.Unlock()
}

func (s *FeatureFlagService) applyForced(values map[string]interface{}) map[string]interface{} {
	for key, on := range s.forced {
		if on {
			values[key] = true
		}
	}
	return values
}

func decodeFlag(f models.FeatureFlag) interface{} {
	var value interface{}
	switch f.Type {
	case "bool":
		value, _ = strconv.ParseBool(f.Value)
	case "int":
		value, _ = strconv.Atoi(f.Value)
	case "json":
		json.Unmarshal([]byte(f.Value), &value)
	default:
		value = f.Value
	}
	return value
}

func validateFlagValue(value, typ string) error {
	switch typ {
	case "bool":
		if _, err := strconv.ParseBool(value); err != nil {
			return invalidInput("value is not a bool")
		}
	case "int":
		if _, err := strconv.Atoi(value); err != nil {
			return invalidInput("value is not an int")
		}
	case "json":
		if !json.Valid([]byte(value)) {
			return invalidInput("value is not valid JSON")
		}
	case "string":
	default:
		return invalidInput("type must be one of string, bool, int, json")
	}
	return nil
}

func copyValues(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
