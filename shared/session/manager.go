// Package session issues, validates and revokes the signed tokens that carry
// role and tenant scope through every request.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// TokenType is returned alongside every access token
const TokenType = "bearer"

// Claims is the signed payload of a session token
type Claims struct {
	Role        models.Role `json:"role"`
	TenantScope string      `json:"tenant_org"`
	PrincipalID uint        `json:"user_id"`
	IsAdmin     bool        `json:"is_admin"`
	jwt.RegisteredClaims
}

// Grant describes who a token is issued to. Scope and role are fixed here and
// never re-derived from the directory afterwards.
type Grant struct {
	Subject     string
	Role        models.Role
	TenantScope string
	PrincipalID uint
	IsAdmin     bool
}

// Token is an issued, signed session token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Manager owns the session token lifecycle
type Manager struct {
	signingKey []byte
	lifetime   time.Duration
	ledger     Ledger
	now        func() time.Time
	metrics    *metrics.Metrics
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock overrides the time source used for issuance and expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records issuance, revocation and rejection counts
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a Manager signing HS256 tokens with signingKey
func NewManager(signingKey string, lifetime time.Duration, ledger Ledger, opts ...Option) *Manager {
	m := &Manager{
		signingKey: []byte(signingKey),
		lifetime:   lifetime,
		ledger:     ledger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.Discard()
	}
	return m
}

// Issue signs a new token for g with a fresh token id
func (m *Manager) Issue(g Grant) (*Token, error) {
	if !g.Role.Valid() {
		return nil, apperrors.Validation("role", "unknown role "+string(g.Role))
	}
	if g.Subject == "" || g.TenantScope == "" {
		return nil, apperrors.Validation("grant", "subject and tenant scope are required")
	}

	now := m.now()
	expiresAt := now.Add(m.lifetime)
	tokenID := uuid.New().String()

	claims := Claims{
		Role:        g.Role,
		TenantScope: g.TenantScope,
		PrincipalID: g.PrincipalID,
		IsAdmin:     g.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.Subject,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	m.metrics.TokensIssued.WithLabelValues(string(g.Role)).Inc()
	return &Token{
		AccessToken: signed,
		TokenType:   TokenType,
		TokenID:     tokenID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Validate checks signature and structure, then the ledger, then expiry,
// in that order. Ledger I/O failure is returned as UnavailableError.
func (m *Manager) Validate(ctx context.Context, signed string) (models.Identity, error) {
	claims, err := m.parse(signed)
	if err != nil {
		m.reject(apperrors.TokenMalformed)
		return models.Identity{}, err
	}

	revoked, err := m.ledger.IsRevoked(ctx, claims.ID)
	if err != nil {
		return models.Identity{}, apperrors.Unavailable("revocation ledger", err)
	}
	if revoked {
		m.reject(apperrors.TokenRevoked)
		return models.Identity{}, apperrors.Token(apperrors.TokenRevoked, nil)
	}

	if !m.now().Before(claims.ExpiresAt.Time) {
		m.reject(apperrors.TokenExpired)
		return models.Identity{}, apperrors.Token(apperrors.TokenExpired, nil)
	}

	return models.Identity{
		Email:       claims.Subject,
		Role:        claims.Role,
		TenantScope: claims.TenantScope,
		PrincipalID: claims.PrincipalID,
		IsAdmin:     claims.IsAdmin,
		TokenID:     claims.ID,
	}, nil
}

// Revoke records the token in the ledger until its natural expiry.
// Revoking an already-expired token is accepted and writes nothing.
func (m *Manager) Revoke(ctx context.Context, signed string) error {
	claims, err := m.parse(signed)
	if err != nil {
		return err
	}

	ttl := claims.ExpiresAt.Time.Sub(m.now())
	if ttl <= 0 {
		logrus.WithField("jti", claims.ID).Debug("Revocation of expired token skipped")
		return nil
	}

	if err := m.ledger.Revoke(ctx, claims.ID, ttl); err != nil {
		return apperrors.Unavailable("revocation ledger", err)
	}

	m.metrics.TokensRevoked.Inc()
	logrus.WithFields(logrus.Fields{
		"jti":   claims.ID,
		"scope": claims.TenantScope,
	}).Info("Session token revoked")
	return nil
}

// parse verifies the signature and the presence of every required claim.
// Time-based claims are checked by the caller so Revoke can see expired tokens.
func (m *Manager) parse(signed string) (*Claims, error) {
	if signed == "" {
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("empty token"))
	}

	claims := new(Claims)
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, apperrors.Token(apperrors.TokenMalformed, err)
	}
	if !token.Valid {
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("invalid signature"))
	}

	switch {
	case claims.ID == "":
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("missing jti"))
	case claims.ExpiresAt == nil:
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("missing exp"))
	case !claims.Role.Valid():
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("unknown role"))
	case claims.TenantScope == "":
		return nil, apperrors.Token(apperrors.TokenMalformed, errors.New("missing tenant scope"))
	}
	return claims, nil
}

func (m *Manager) reject(kind apperrors.TokenErrorKind) {
	m.metrics.TokenRejections.WithLabelValues(string(kind)).Inc()
}
