package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/cartzy_auth/internal/apperr"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	"github.com/Skotchmaster/cartzy_auth/internal/models"
	"github.com/Skotchmaster/cartzy_auth/internal/mykafka"
	"github.com/Skotchmaster/cartzy_auth/internal/notify"
	"github.com/Skotchmaster/cartzy_auth/internal/repo"
	"github.com/Skotchmaster/cartzy_auth/internal/tokens"
	"github.com/Skotchmaster/cartzy_auth/internal/transport"
	"github.com/Skotchmaster/cartzy_auth/internal/util"
	"github.com/Skotchmaster/cartzy_auth/internal/validate"
)

// UserRepository is the storage contract the service relies on. Finders return
// repo.ErrNotFound when nothing matches; Create returns repo.ErrDuplicate on a
// unique email or user name clash. The two compare-and-swap methods must be
// atomic per row.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID, fields ...string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateByID(ctx context.Context, id uuid.UUID, fields map[string]any) error
	SwapRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) (bool, error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID, digest string) (bool, error)
	ConsumeResetToken(ctx context.Context, id uuid.UUID, digest, passwordHash string) (bool, error)
	List(ctx context.Context, offset, limit int) ([]models.User, int64, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(password, hash string) bool
}

type AuthService struct {
	Repo        UserRepository
	Hasher      PasswordHasher
	Tokens      *tokens.Manager
	Notifier    notify.Notifier
	Events      mykafka.Publisher
	FrontendURL string
	Now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

var (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidRefresh     = "Invalid or expired refresh token"
	msgRefreshMismatch    = "Invalid refresh token"
	msgInvalidReset       = "Invalid or expired reset token"
)

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, req transport.RegisterRequest) (*transport.LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	req.Email = normalizeEmail(req.Email)
	req.UserName = strings.TrimSpace(req.UserName)
	if err := validate.Struct(req); err != nil {
		l.Warn("register_failed", "status", 400, "reason", "validation")
		return nil, err
	}

	existing, err := s.Repo.FindByEmailOrUsername(ctx, req.Email, req.UserName)
	switch {
	case err == nil:
		l.Warn("register_failed", "status", 400, "reason", "user_exists")
		if existing.Email == req.Email {
			return nil, apperr.Fail(http.StatusBadRequest, "Email already registered")
		}
		return nil, apperr.Fail(http.StatusBadRequest, "Username already taken")
	case !errors.Is(err, repo.ErrNotFound):
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, apperr.Internal(err)
	}

	pwHash, err := s.Hasher.Hash(ctx, req.Password)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		UserName:     req.UserName,
		Email:        req.Email,
		PasswordHash: pwHash,
		Role:         models.RoleUser,
	}
	if err := s.Repo.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			l.Warn("register_failed", "status", 400, "reason", "user_exists_on_insert")
			return nil, apperr.Fail(http.StatusBadRequest, "Email or username already in use")
		}
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, apperr.Internal(err)
	}

	res, err := s.startSession(ctx, user.ID)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot start session", "error", err)
		return nil, err
	}

	s.publish(ctx, mykafka.Event{Type: mykafka.EventUserRegistered, UserID: user.ID.String(), Email: user.Email})
	l.Info("register_success", "user_id", user.ID.String())
	return res, nil
}

func (s *AuthService) Login(ctx context.Context, req transport.LoginRequest) (*transport.LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		l.Warn("login_failed", "status", 400, "reason", "validation")
		return nil, err
	}

	user, err := s.Repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			l.Error("login_failed", "status", 500, "reason", "db_error", "error", err)
			return nil, apperr.Internal(err)
		}
		// same bcrypt work as a real comparison
		s.Hasher.Verify(req.Password, s.dummy(ctx))
		l.Warn("login_failed", "status", 400, "reason", "invalid email or password")
		return nil, apperr.Fail(http.StatusBadRequest, msgInvalidCredentials)
	}

	if !s.Hasher.Verify(req.Password, user.PasswordHash) {
		l.Warn("login_failed", "status", 400, "reason", "invalid email or password")
		return nil, apperr.Fail(http.StatusBadRequest, msgInvalidCredentials)
	}

	res, err := s.startSession(ctx, user.ID)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot start session", "error", err)
		return nil, err
	}

	s.publish(ctx, mykafka.Event{Type: mykafka.EventUserLoggedIn, UserID: user.ID.String()})
	l.Info("login_successful", "user_id", user.ID.String())
	return res, nil
}

// Refresh rotates the session: the presented token must match the stored one,
// and is replaced atomically so it can never be used again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*transport.LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	if refreshToken == "" {
		l.Warn("refresh_failed", "status", 400, "reason", "missing refresh token")
		return nil, apperr.Fail(http.StatusBadRequest, "Refresh token is required")
	}

	claims := s.Tokens.VerifyRefresh(ctx, refreshToken)
	if claims == nil {
		l.Warn("refresh_failed", "status", 401, "reason", "invalid refresh token")
		return nil, apperr.Fail(http.StatusUnauthorized, msgInvalidRefresh)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "bad subject")
		return nil, apperr.Fail(http.StatusUnauthorized, msgInvalidRefresh)
	}

	user, err := s.Repo.FindByID(ctx, userID, models.ColID, models.ColRefreshToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_failed", "status", 403, "reason", "user not found", "user_id", claims.UserID)
			return nil, apperr.Fail(http.StatusForbidden, msgRefreshMismatch)
		}
		l.Error("refresh_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, apperr.Internal(err)
	}

	digest := tokens.Digest(refreshToken)
	if user.RefreshToken == nil || *user.RefreshToken != digest {
		l.Warn("refresh_failed", "status", 403, "reason", "stored token mismatch", "user_id", claims.UserID)
		return nil, apperr.Fail(http.StatusForbidden, msgRefreshMismatch)
	}

	access, refresh, err := s.issuePair(user.ID)
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "cannot create token", "error", err)
		return nil, apperr.Internal(err)
	}

	swapped, err := s.Repo.SwapRefreshToken(ctx, user.ID, digest, tokens.Digest(refresh.Value))
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "cannot rotate token", "error", err)
		return nil, apperr.Internal(err)
	}
	if !swapped {
		l.Warn("refresh_failed", "status", 403, "reason", "lost rotation race", "user_id", claims.UserID)
		return nil, apperr.Fail(http.StatusForbidden, msgRefreshMismatch)
	}

	l.Info("refresh_success", "user_id", claims.UserID)
	return &transport.LoginResult{
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		AccessExp:    access.ExpiresAt,
		RefreshExp:   refresh.ExpiresAt,
	}, nil
}

// LogOut revokes the stored refresh token when the presented one verifies and
// is still the current one. A missing, invalid or stale token is not an error.
func (s *AuthService) LogOut(ctx context.Context, refreshToken string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	if refreshToken == "" {
		return nil
	}
	claims := s.Tokens.VerifyRefresh(ctx, refreshToken)
	if claims == nil {
		l.Info("logout_skip_revoke", "reason", "invalid refresh token")
		return nil
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil
	}

	revoked, err := s.Repo.RevokeRefreshToken(ctx, userID, tokens.Digest(refreshToken))
	if err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refreshToken", "error", err)
		return apperr.Internal(err)
	}
	if !revoked {
		l.Info("logout_skip_revoke", "reason", "refresh token is not the current one")
	}
	return nil
}

func (s *AuthService) ForgotPassword(ctx context.Context, req transport.ForgotPasswordRequest) error {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		l.Warn("forgot_password_failed", "status", 400, "reason", "validation")
		return err
	}

	user, err := s.Repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("forgot_password_failed", "status", 404, "reason", "user not found")
			return apperr.NotFound("User not found")
		}
		l.Error("forgot_password_failed", "status", 500, "reason", "db_error", "error", err)
		return apperr.Internal(err)
	}

	reset, err := s.Tokens.IssueReset(user.ID.String())
	if err != nil {
		l.Error("forgot_password_failed", "status", 500, "reason", "cannot create token", "error", err)
		return apperr.Internal(err)
	}

	expiresAt := s.now().Add(s.Tokens.ResetTTL()).UTC()
	if err := s.Repo.UpdateByID(ctx, user.ID, map[string]any{
		models.ColResetToken:          tokens.Digest(reset.Value),
		models.ColResetTokenExpiresAt: expiresAt,
	}); err != nil {
		l.Error("forgot_password_failed", "status", 500, "reason", "cannot store reset token", "error", err)
		return apperr.Internal(err)
	}

	subject, body := notify.ResetPasswordEmail(s.FrontendURL, reset.Value)
	if err := s.Notifier.Send(ctx, user.Email, subject, body); err != nil {
		l.Error("forgot_password_failed", "status", 500, "reason", "cannot send email", "error", err)
		return apperr.New(http.StatusInternalServerError, "Failed to send email").Wrap(err)
	}

	s.publish(ctx, mykafka.Event{Type: mykafka.EventPasswordResetRequested, UserID: user.ID.String()})
	l.Info("forgot_password_success", "user_id", user.ID.String())
	return nil
}

// ResetPassword completes a reset: the token is accepted once, before its
// stored expiry, and using it also ends the current session.
func (s *AuthService) ResetPassword(ctx context.Context, req transport.ResetPasswordRequest) error {
	l := logging.FromContext(ctx).With("svc", "auth.reset_password")

	if err := validate.Struct(req); err != nil {
		l.Warn("reset_password_failed", "status", 400, "reason", "validation")
		return err
	}

	claims := s.Tokens.VerifyReset(ctx, req.Token)
	if claims == nil {
		l.Warn("reset_password_failed", "status", 400, "reason", "invalid reset token")
		return apperr.Fail(http.StatusBadRequest, msgInvalidReset)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return apperr.Fail(http.StatusBadRequest, msgInvalidReset)
	}

	user, err := s.Repo.FindByID(ctx, userID, models.ColID, models.ColResetToken, models.ColResetTokenExpiresAt)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_password_failed", "status", 400, "reason", "user not found")
			return apperr.Fail(http.StatusBadRequest, msgInvalidReset)
		}
		l.Error("reset_password_failed", "status", 500, "reason", "db_error", "error", err)
		return apperr.Internal(err)
	}

	digest := tokens.Digest(req.Token)
	if user.ResetToken == nil || *user.ResetToken != digest ||
		user.ResetTokenExpiresAt == nil || !s.now().Before(*user.ResetTokenExpiresAt) {
		l.Warn("reset_password_failed", "status", 400, "reason", "stored reset token mismatch or expired")
		return apperr.Fail(http.StatusBadRequest, msgInvalidReset)
	}

	pwHash, err := s.Hasher.Hash(ctx, req.Password)
	if err != nil {
		l.Error("reset_password_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return apperr.Internal(err)
	}

	consumed, err := s.Repo.ConsumeResetToken(ctx, userID, digest, pwHash)
	if err != nil {
		l.Error("reset_password_failed", "status", 500, "reason", "db_error", "error", err)
		return apperr.Internal(err)
	}
	if !consumed {
		l.Warn("reset_password_failed", "status", 400, "reason", "reset token already used")
		return apperr.Fail(http.StatusBadRequest, msgInvalidReset)
	}

	s.publish(ctx, mykafka.Event{Type: mykafka.EventPasswordResetCompleted, UserID: claims.UserID})
	l.Info("reset_password_success", "user_id", claims.UserID)
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}
	return user, nil
}

func (s *AuthService) ListUsers(ctx context.Context, page, size int) (*transport.UserPage, error) {
	page, size = util.Normalize(page, size)
	offset, limit := util.Calculate(page, size)
	users, total, err := s.Repo.List(ctx, offset, limit)
	if err != nil {
		logging.FromContext(ctx).Error("list_users_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, apperr.Internal(err)
	}
	if users == nil {
		users = []models.User{}
	}
	return &transport.UserPage{Items: users, Page: page, Size: limit, Total: total}, nil
}

func (s *AuthService) issuePair(userID uuid.UUID) (tokens.Token, tokens.Token, error) {
	access, err := s.Tokens.IssueAccess(userID.String())
	if err != nil {
		return tokens.Token{}, tokens.Token{}, err
	}
	refresh, err := s.Tokens.IssueRefresh(userID.String())
	if err != nil {
		return tokens.Token{}, tokens.Token{}, err
	}
	return access, refresh, nil
}

// startSession issues a token pair and stores the refresh digest, replacing
// whatever session the user had before.
func (s *AuthService) startSession(ctx context.Context, userID uuid.UUID) (*transport.LoginResult, error) {
	access, refresh, err := s.issuePair(userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := s.Repo.UpdateByID(ctx, userID, map[string]any{
		models.ColRefreshToken: tokens.Digest(refresh.Value),
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	return &transport.LoginResult{
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		AccessExp:    access.ExpiresAt,
		RefreshExp:   refresh.ExpiresAt,
	}, nil
}

func (s *AuthService) dummy(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash(context.WithoutCancel(ctx), uuid.NewString())
	})
	return s.dummyHash
}

func (s *AuthService) publish(ctx context.Context, ev mykafka.Event) {
	if s.Events == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	if err := s.Events.PublishEvent(ctx, ev.UserID, ev); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "type", ev.Type, "error", err)
	}
}
