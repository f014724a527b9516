package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect and change user access",
	}

	cmd.AddCommand(
		newUsersShowCmd(a),
		newUsersActiveCmd(a, "activate", true),
		newUsersActiveCmd(a, "deactivate", false),
	)
	return cmd
}

func (a *app) findUser(cmd *cobra.Command, email string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(cmd.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func newUsersShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Show a user's usage and what currently lets them ask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.findUser(cmd, args[0])
			if err != nil {
				return err
			}

			gate := services.NewEntitlementGate(a.db, a.cfg.TrialLimit, a.flags)
			access := ""
			decision, err := gate.Authorize(cmd.Context(), user)
			var denied *services.EntitlementError
			switch {
			case errors.As(err, &denied):
				access = "denied (" + denied.Reason + ")"
			case err != nil:
				return err
			case decision.Basis == services.BasisTrial:
				access = fmt.Sprintf("trial (%d left)", decision.Remaining())
			default:
				access = string(decision.Basis)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "id: %s\n", user.ID)
			_, _ = fmt.Fprintf(out, "email: %s\n", user.Email)
			_, _ = fmt.Fprintf(out, "provider: %s\n", user.AuthProvider)
			_, _ = fmt.Fprintf(out, "active: %t\n", user.IsActive)
			_, _ = fmt.Fprintf(out, "questions_used: %d/%d\n", user.QuestionsUsed, a.cfg.TrialLimit)
			_, _ = fmt.Fprintf(out, "access: %s\n", access)
			return nil
		},
	}
}

func newUsersActiveCmd(a *app, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.findUser(cmd, args[0])
			if err != nil {
				return err
			}
			if err := a.db.WithContext(cmd.Context()).Model(user).Update("is_active", active).Error; err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			if !active {
				// existing sessions end with the account
				if err := a.db.WithContext(cmd.Context()).Model(&models.RefreshToken{}).
					Where("user_id = ? AND revoked = ?", user.ID, false).
					Update("revoked", true).Error; err != nil {
					return fmt.Errorf("revoke sessions: %w", err)
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: active=%t\n", user.Email, active)
			return nil
		},
	}
}
