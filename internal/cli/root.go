// Package cli implements legalchat-admin, the operator command line for the
// chat backend's database: migrations, feature flags, user access, subscription
// corrections and log retention.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onir-world/legal-chat-backend/internal/cache"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/database"
	"github.com/onir-world/legal-chat-backend/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Opener connects to the database named by cfg.
type Opener func(cfg *config.Config) (*gorm.DB, error)

type app struct {
	cfg   *config.Config
	open  Opener
	db    *gorm.DB
	flags *services.FeatureFlagService
	// store holds the server's subscription snapshots; nil outside Redis
	// deployments, where each server keeps its own in-process cache.
	store cache.Store
	subs  *services.SubscriptionService
}

func Execute() error {
	return NewRootCmd(config.Load(), connect).Execute()
}

func connect(cfg *config.Config) (*gorm.DB, error) {
	if err := database.Connect(cfg); err != nil {
		return nil, err
	}
	return database.DB, nil
}

func NewRootCmd(cfg *config.Config, open Opener) *cobra.Command {
	return newRootCmd(cfg, open, nil)
}

func newRootCmd(cfg *config.Config, open Opener, store cache.Store) *cobra.Command {
	a := &app{cfg: cfg, open: open, store: store}

	root := &cobra.Command{
		Use:           "legalchat-admin",
		Short:         "Operate the legal chat backend database",
		Long:          "legalchat-admin runs migrations, manages feature flags, inspects and toggles user access, corrects subscription end dates and purges old error logs. It reads the same environment as the server.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.connect(cmd.Context())
		},
	}

	root.AddCommand(
		newMigrateCmd(a),
		newFlagsCmd(a),
		newUsersCmd(a),
		newSubscriptionsCmd(a),
		newLogsCmd(a),
	)
	return root
}

func (a *app) connect(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	db, err := a.open(a.cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.flags = services.NewFeatureFlagService(db, a.cfg.SubscriptionDisabled)

	if a.store == nil && a.cfg.RedisAddr != "" {
		if ctx == nil {
			ctx = context.Background()
		}
		rs, err := cache.NewRedisStore(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			slog.Warn("redis unavailable, cached subscription status will expire on its own", "addr", a.cfg.RedisAddr, "error", err)
		} else {
			a.store = rs
		}
	}
	a.subs = services.NewSubscriptionService(db, nil, a.store, a.flags, a.cfg)
	return nil
}
