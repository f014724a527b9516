package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newSubscriptionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Inspect and correct stored subscriptions",
	}
	cmd.AddCommand(newSubscriptionsSetEndCmd(a))
	return cmd
}

func newSubscriptionsSetEndCmd(a *app) *cobra.Command {
	var (
		id       string
		stripeID string
		end      string
	)

	cmd := &cobra.Command{
		Use:   "set-end",
		Short: "Set a subscription's end date, by local id or Stripe subscription id",
		Example: "  legalchat-admin subscriptions set-end --stripe sub_123 --end 2026-12-31T23:59:59Z\n" +
			"  legalchat-admin subscriptions set-end --id 0b6f... --end none",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var endDate *time.Time
			if end != "none" {
				t, err := time.Parse(time.RFC3339, end)
				if err != nil {
					return fmt.Errorf("--end must be RFC3339 or \"none\": %w", err)
				}
				t = t.UTC()
				endDate = &t
			}

			ctx := cmd.Context()
			query := a.db.WithContext(ctx)
			if id != "" {
				query = query.Where("id = ?", id)
			} else {
				query = query.Where("stripe_subscription_id = ?", stripeID)
			}

			var sub models.Subscription
			err := query.First(&sub).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no subscription matches id=%q stripe=%q", id, stripeID)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSubscription(out, "before", &sub)

			if err := a.db.WithContext(ctx).Model(&sub).Update("end_date", endDate).Error; err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			if err := a.db.WithContext(ctx).First(&sub, "id = ?", sub.ID).Error; err != nil {
				return err
			}
			printSubscription(out, "after", &sub)

			if err := a.subs.InvalidateStatus(ctx, sub.UserID); err != nil {
				slog.Warn("subscription cache invalidate failed", "user_id", sub.UserID.String(), "error", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "local subscription id")
	cmd.Flags().StringVar(&stripeID, "stripe", "", "Stripe subscription id (sub_...)")
	cmd.Flags().StringVar(&end, "end", "", `new end date in RFC3339, or "none" to clear it`)
	cmd.MarkFlagsOneRequired("id", "stripe")
	cmd.MarkFlagsMutuallyExclusive("id", "stripe")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func printSubscription(w io.Writer, label string, sub *models.Subscription) {
	end := "none"
	if sub.EndDate != nil {
		end = sub.EndDate.UTC().Format(time.RFC3339)
	}
	_, _ = fmt.Fprintf(w, "%s: id=%s stripe=%s user=%s plan=%s status=%s end_date=%s\n",
		label, sub.ID, sub.StripeSubscriptionID, sub.UserID, sub.PlanType, sub.Status, end)
}
