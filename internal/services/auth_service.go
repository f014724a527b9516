package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/mailer"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const resetPurpose = "password_reset"

var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidToken        = errors.New("invalid or expired refresh token")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserInactive        = errors.New("account is disabled")
	ErrGoogleNotConfigured = errors.New("google sign-in is not configured")
	ErrGoogleToken         = errors.New("invalid google id token")
)

// PasswordResetReply is returned whether or not the address is registered.
const PasswordResetReply = "If an account exists for that email, a reset link has been sent."

type resetClaims struct {
	Purpose     string `json:"purpose"`
	Fingerprint string `json:"pwd"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db     *gorm.DB
	cfg    *config.Config
	google *GoogleVerifier
	mail   mailer.Mailer
	now    func() time.Time
}

func NewAuthService(db *gorm.DB, cfg *config.Config, mail mailer.Mailer) *AuthService {
	if mail == nil {
		mail = mailer.LogMailer{}
	}
	return &AuthService{
		db:     db,
		cfg:    cfg,
		google: NewGoogleVerifier(),
		mail:   mail,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || len(req.Password) < 8 {
		return nil, invalidInput("email required and password must be at least 8 characters")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		Email:        email,
		Password:     string(hash),
		AuthProvider: models.AuthProviderEmail,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID.String(), "action", "auth.register")
	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	return s.generateTokenPair(ctx, &user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	tokenHash := hashToken(req.RefreshToken)
	db := s.db.WithContext(ctx)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ? AND revoked = ?", tokenHash, false).First(&stored).Error; err != nil {
		return nil, ErrInvalidToken
	}

	result := db.Model(&models.RefreshToken{}).
		Where("id = ? AND revoked = ?", stored.ID, false).
		Update("revoked", true)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", result.Error)
	}
	// a concurrent refresh already consumed it
	if result.RowsAffected == 0 || s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.ActiveUser(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	return s.generateTokenPair(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, req *dto.LogoutRequest) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", hashToken(req.RefreshToken)).
		Update("revoked", true).Error
}

// ActiveUser loads a user by id, refusing missing or deactivated accounts.
func (s *AuthService) ActiveUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &user, nil
}

// GoogleSignIn verifies a Google ID token and finds or creates the matching
// user, linking an existing email account on first use.
func (s *AuthService) GoogleSignIn(ctx context.Context, req *dto.GoogleSignInRequest) (*dto.AuthResponse, error) {
	if s.cfg.GoogleClientID == "" {
		return nil, ErrGoogleNotConfigured
	}
	if req.IDToken == "" {
		return nil, invalidInput("id_token is required")
	}

	claims, err := s.google.Verify(ctx, req.IDToken, s.cfg.GoogleClientID)
	if err != nil {
		slog.Warn("google token verification failed", "error", err.Error(), "action", "auth.google")
		return nil, fmt.Errorf("%w: %v", ErrGoogleToken, err)
	}

	subject := claims.Subject
	email := normalizeEmail(claims.Email)
	db := s.db.WithContext(ctx)

	var user models.User
	err = db.Where("google_subject = ? OR email = ?", subject, email).
		Order("google_subject IS NULL").
		First(&user).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := randomPasswordHash()
		if err != nil {
			return nil, err
		}
		user = models.User{
			Email:         email,
			Password:      hash,
			AuthProvider:  models.AuthProviderGoogle,
			GoogleSubject: &subject,
			IsActive:      true,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create google user: %w", err)
		}
		slog.Info("user registered", "user_id", user.ID.String(), "action", "auth.google")
	case err != nil:
		return nil, fmt.Errorf("failed to look up google user: %w", err)
	default:
		if !user.IsActive {
			return nil, ErrUserInactive
		}
		if user.GoogleSubject == nil {
			if err := db.Model(&user).Update("google_subject", subject).Error; err != nil {
				return nil, fmt.Errorf("failed to link google account: %w", err)
			}
			user.GoogleSubject = &subject
		}
	}

	return s.generateTokenPair(ctx, &user)
}

// RequestPasswordReset mails a signed reset link to a registered address. The
// caller always answers with PasswordResetReply.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.resetToken(&user)
	if err != nil {
		return err
	}

	link := s.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	body, err := mailer.PasswordResetBody(link, s.resetExpiry())
	if err != nil {
		return fmt.Errorf("failed to render reset email: %w", err)
	}
	if err := s.mail.Send(ctx, user.Email, "Reset your password", body); err != nil {
		slog.Error("password reset email failed", "user_id", user.ID.String(), "action", "auth.reset_request", "error", err.Error())
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

// ResetPassword sets a new password from a reset token and revokes every
// refresh token of the user. A token stops working once the password changes.
func (s *AuthService) ResetPassword(ctx context.Context, req *dto.ResetPasswordRequest) error {
	if len(req.NewPassword) < 8 {
		return invalidInput("password must be at least 8 characters")
	}

	claims := &resetClaims{}
	_, err := jwt.ParseWithClaims(req.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.resetKey(), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || claims.Purpose != resetPurpose {
		return ErrInvalidResetToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ErrInvalidResetToken
	}
	user, err := s.ActiveUser(ctx, userID)
	if err != nil {
		return ErrInvalidResetToken
	}
	if claims.Fingerprint != passwordFingerprint(user.Password) {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("password", string(hash)).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND revoked = ?", user.ID, false).
			Update("revoked", true).Error
	})
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	slog.Info("password reset", "user_id", user.ID.String(), "action", "auth.reset_password")
	return nil
}

func (s *AuthService) resetToken(user *models.User) (string, error) {
	now := s.now()
	claims := resetClaims{
		Purpose:     resetPurpose,
		Fingerprint: passwordFingerprint(user.Password),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.resetExpiry())),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.resetKey())
}

// resetKey is distinct from the access-token key so a reset token is never
// accepted as a session.
func (s *AuthService) resetKey() []byte {
	return []byte(s.cfg.JWTSecret + ":" + resetPurpose)
}

func (s *AuthService) resetExpiry() time.Duration {
	if s.cfg.ResetTokenExpiry <= 0 {
		return time.Hour
	}
	return s.cfg.ResetTokenExpiry
}

func (s *AuthService) generateTokenPair(ctx context.Context, user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         UserResponse(user),
	}, nil
}

func UserResponse(user *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		AuthProvider:  user.AuthProvider,
		IsActive:      user.IsActive,
		QuestionsUsed: user.QuestionsUsed,
		CreatedAt:     user.CreatedAt,
	}
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) generateRefreshToken(ctx context.Context, user *models.User) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := base64.URLEncoding.EncodeToString(rawBytes)

	record := models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: s.now().Add(s.cfg.JWTRefreshExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}

func passwordFingerprint(hash string) string {
	return hashToken(hash)[:16]
}

func randomPasswordHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	// bcrypt rejects inputs longer than 72 bytes
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
