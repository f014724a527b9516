package services

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onir-world/legal-chat-backend/internal/config"
	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/onir-world/legal-chat-backend/internal/models"
	"github.com/onir-world/legal-chat-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMail struct {
	to, subject, body string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

var resetLink = regexp.MustCompile(`token=([A-Za-z0-9._%-]+)`)

func (m *captureMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	match := resetLink.FindStringSubmatch(m.sent[len(m.sent)-1].body)
	require.Len(t, match, 2)
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

func testAuthConfig() *config.Config {
	return &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: 24 * time.Hour,
		ResetTokenExpiry: time.Hour,
		FrontendURL:      "https://onir.world",
		GoogleClientID:   "client-123",
	}
}

func newAuthFixture(t *testing.T) (*AuthService, *gorm.DB, *captureMailer) {
	t.Helper()
	db := testutil.NewDB(t)
	mail := &captureMailer{}
	return NewAuthService(db, testAuthConfig(), mail), db, mail
}

func parseAccess(t *testing.T, token, secret string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	return claims
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "  Ada@Example.com ", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.Equal(t, "bearer", reg.TokenType)
	assert.Equal(t, models.AuthProviderEmail, reg.User.AuthProvider)
	assert.Zero(t, reg.User.QuestionsUsed)

	claims := parseAccess(t, reg.AccessToken, "test-secret")
	assert.Equal(t, reg.User.ID.String(), claims["sub"])
	assert.Equal(t, "ada@example.com", claims["email"])

	_, err = svc.Register(ctx, &dto.RegisterRequest{Email: "ADA@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	login, err := svc.Login(ctx, &dto.LoginRequest{Email: "ada@EXAMPLE.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "ada@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuth_RegisterValidates(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	_, err := svc.Register(context.Background(), &dto.RegisterRequest{Email: "short@example.com", Password: "1234"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuth_InactiveUserCannotSignIn(t *testing.T) {
	svc, db, _ := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "off@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", reg.User.ID).Update("is_active", false).Error)

	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "off@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, ErrUserInactive)

	_, err = svc.ActiveUser(ctx, reg.User.ID)
	assert.ErrorIs(t, err, ErrUserInactive)

	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestAuth_RefreshRotates(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "rot@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, &dto.LogoutRequest{RefreshToken: next.RefreshToken}))
	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: next.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_RefreshExpired(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "exp@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_ConcurrentRefreshIssuesOnePair(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "race@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestAuth_PasswordReset(t *testing.T) {
	svc, db, mail := newAuthFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "forgot@example.com", Password: "old-password"})
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, mail.sent)

	require.NoError(t, svc.RequestPasswordReset(ctx, "Forgot@example.com"))
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "forgot@example.com", mail.sent[0].to)
	assert.Contains(t, mail.sent[0].body, "https://onir.world/reset-password?token=")
	token := mail.lastResetToken(t)

	// a reset token is not a session token
	_, err = jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte("test-secret"), nil })
	assert.Error(t, err)

	err = svc.ResetPassword(ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "new-password"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "forgot@example.com", Password: "old-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "forgot@example.com", Password: "new-password"})
	require.NoError(t, err)

	// sessions issued before the reset are gone
	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	// the link works once
	err = svc.ResetPassword(ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "third-password"})
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	var live int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Where("user_id = ? AND revoked = ?", reg.User.ID, false).Count(&live).Error)
	assert.EqualValues(t, 1, live)
}

func TestAuth_ResetPasswordRejects(t *testing.T) {
	svc, _, mail := newAuthFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &dto.RegisterRequest{Email: "r@example.com", Password: "old-password"})
	require.NoError(t, err)
	require.NoError(t, svc.RequestPasswordReset(ctx, "r@example.com"))
	token := mail.lastResetToken(t)

	err = svc.ResetPassword(ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.ResetPassword(ctx, &dto.ResetPasswordRequest{Token: "not-a-token", NewPassword: "new-password"})
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	svc.cfg.JWTSecret = "rotated"
	err = svc.ResetPassword(ctx, &dto.ResetPasswordRequest{Token: token, NewPassword: "new-password"})
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestAuth_GoogleSignIn(t *testing.T) {
	svc, db, _ := newAuthFixture(t)
	ctx := context.Background()
	g := newGoogleFixture(t)
	svc.google = g.verifier

	first, err := svc.GoogleSignIn(ctx, &dto.GoogleSignInRequest{IDToken: g.sign(t, validGoogleClaims())})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", first.User.Email)
	assert.Equal(t, models.AuthProviderGoogle, first.User.AuthProvider)

	again, err := svc.GoogleSignIn(ctx, &dto.GoogleSignInRequest{IDToken: g.sign(t, validGoogleClaims())})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, again.User.ID)

	var users int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	assert.EqualValues(t, 1, users)

	bad := validGoogleClaims()
	bad.Audience = jwt.ClaimStrings{"someone-else"}
	_, err = svc.GoogleSignIn(ctx, &dto.GoogleSignInRequest{IDToken: g.sign(t, bad)})
	assert.ErrorIs(t, err, ErrGoogleToken)
}

func TestAuth_GoogleLinksExistingEmailAccount(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()
	g := newGoogleFixture(t)
	svc.google = g.verifier

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "ada@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	linked, err := svc.GoogleSignIn(ctx, &dto.GoogleSignInRequest{IDToken: g.sign(t, validGoogleClaims())})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, linked.User.ID)

	user, err := svc.ActiveUser(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, user.GoogleSubject)
	assert.Equal(t, "google-sub-1", *user.GoogleSubject)

	// the password still works after linking
	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "ada@example.com", Password: "correct-horse"})
	assert.NoError(t, err)
}

func TestAuth_GoogleNotConfigured(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	svc.cfg.GoogleClientID = ""
	_, err := svc.GoogleSignIn(context.Background(), &dto.GoogleSignInRequest{IDToken: "x"})
	assert.ErrorIs(t, err, ErrGoogleNotConfigured)
}
