package tokens

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/cartzy_auth/internal/logging"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

var (
	ErrMissingSecret = errors.New("tokens: access and refresh secrets are required")
	ErrSharedSecret  = errors.New("tokens: access and refresh secrets must differ")
)

type Claims struct {
	UserID string `json:"id"`
	Kind   Kind   `json:"typ"`
	jwt.RegisteredClaims
}

type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// Manager issues and verifies the three token classes. Reset tokens share the
// access secret and are told apart from access tokens by the typ claim.
type Manager struct {
	cfg Config
	now func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, ErrMissingSecret
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, ErrSharedSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 14 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &Manager{cfg: cfg, now: time.Now}, nil
}

// WithClock replaces the time source used for issuing and verifying.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *Manager) AccessSecret() []byte      { return m.cfg.AccessSecret }
func (m *Manager) RefreshSecret() []byte     { return m.cfg.RefreshSecret }
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }
func (m *Manager) ResetTTL() time.Duration   { return m.cfg.ResetTTL }

func (m *Manager) IssueAccess(userID string) (Token, error) {
	return m.issue(userID, KindAccess, m.cfg.AccessSecret, m.cfg.AccessTTL)
}

func (m *Manager) IssueRefresh(userID string) (Token, error) {
	return m.issue(userID, KindRefresh, m.cfg.RefreshSecret, m.cfg.RefreshTTL)
}

func (m *Manager) IssueReset(userID string) (Token, error) {
	return m.issue(userID, KindReset, m.cfg.AccessSecret, m.cfg.ResetTTL)
}

func (m *Manager) issue(userID string, kind Kind, secret []byte, ttl time.Duration) (Token, error) {
	now := m.now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        NewJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

func (m *Manager) VerifyAccess(ctx context.Context, token string) *Claims {
	return m.verifyKind(ctx, token, m.cfg.AccessSecret, KindAccess)
}

func (m *Manager) VerifyRefresh(ctx context.Context, token string) *Claims {
	return m.verifyKind(ctx, token, m.cfg.RefreshSecret, KindRefresh)
}

func (m *Manager) VerifyReset(ctx context.Context, token string) *Claims {
	return m.verifyKind(ctx, token, m.cfg.AccessSecret, KindReset)
}

func (m *Manager) verifyKind(ctx context.Context, token string, secret []byte, kind Kind) *Claims {
	claims := verify(ctx, token, secret, m.now)
	if claims == nil {
		return nil
	}
	if claims.Kind != kind {
		logging.FromContext(ctx).Debug("token_rejected", "reason", "wrong_kind", "want", kind, "got", claims.Kind)
		return nil
	}
	return claims
}

// Verify checks signature and expiry against secret. It returns nil on any
// failure; expired and malformed tokens are only told apart in the debug log.
func Verify(ctx context.Context, token string, secret []byte) *Claims {
	return verify(ctx, token, secret, time.Now)
}

func verify(ctx context.Context, token string, secret []byte, now func() time.Time) *Claims {
	l := logging.FromContext(ctx)
	if token == "" || len(secret) == 0 {
		l.Debug("token_rejected", "reason", "empty")
		return nil
	}

	var claims Claims
	tkn, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil || !tkn.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			l.Debug("token_rejected", "reason", "expired")
		} else {
			l.Debug("token_rejected", "reason", "malformed", "error", err)
		}
		return nil
	}
	if claims.UserID == "" {
		l.Debug("token_rejected", "reason", "missing_subject")
		return nil
	}
	return &claims
}

// Digest is the form in which refresh and reset tokens are stored server-side.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func NewJTI() string { return uuid.NewString() }
