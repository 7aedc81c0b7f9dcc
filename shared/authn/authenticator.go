// Package authn turns credentials into session tokens. The email domain
// decides where the account lives: the platform domain maps to platform
// operators, any other domain to the tenant registered for it.
package authn

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/credentials"
	"github.com/pavitra93/go-tenant-isolation/shared/events"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/session"
)

// LoginRequest represents the login request
type LoginRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	CaptchaKey  string `json:"captcha_key"`
	CaptchaText string `json:"captcha_text"`
}

type DomainResolver interface {
	ResolveByDomain(ctx context.Context, domain string) (*models.TenantRecord, error)
}

type OperatorFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.PlatformOperator, error)
}

type PrincipalFinder interface {
	FindByEmail(ctx context.Context, org, email string) (*models.Principal, error)
}

// Authenticator runs login and logout
type Authenticator struct {
	Directory      DomainResolver
	Operators      OperatorFinder
	Principals     PrincipalFinder
	Challenge      ChallengeVerifier
	Sessions       *session.Manager
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	PlatformDomain string
}

// account is whatever the email resolved to, before the password check
type account struct {
	hash  string
	grant session.Grant
}

var (
	decoyOnce sync.Once
	decoyHash string

	discardMetrics = metrics.Discard()
)

// Login verifies the challenge and credentials and issues a token. Every
// failure other than backend I/O is the same AuthenticationError.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (*session.Token, models.Identity, error) {
	token, id, err := a.login(ctx, req)
	if err != nil {
		fields := logrus.Fields{"email": req.Email, "error": err}
		if errors.Is(err, apperrors.ErrUnavailable) {
			logrus.WithFields(fields).Error("Login aborted, backend unavailable")
			return nil, models.Identity{}, err
		}
		a.metrics().LoginFailures.Inc()
		logrus.WithFields(fields).Warn("Login rejected")
		return nil, models.Identity{}, apperrors.Authentication("invalid credentials")
	}

	logrus.WithFields(logrus.Fields{
		"email":      id.Email,
		"role":       id.Role,
		"tenant_org": id.TenantScope,
	}).Info("Login succeeded")
	return token, id, nil
}

func (a *Authenticator) login(ctx context.Context, req LoginRequest) (*session.Token, models.Identity, error) {
	if err := a.challenge().Verify(ctx, req.CaptchaKey, req.CaptchaText); err != nil {
		return nil, models.Identity{}, err
	}

	domain := models.EmailDomain(req.Email)
	if domain == "" {
		return nil, models.Identity{}, apperrors.Validation("email", "must be a valid address")
	}

	acct, err := a.lookup(ctx, domain, req.Email)
	if err != nil {
		// burn comparable time so unknown accounts are not distinguishable
		_ = credentials.Verify(req.Password, decoy())
		return nil, models.Identity{}, err
	}
	if err := credentials.Verify(req.Password, acct.hash); err != nil {
		return nil, models.Identity{}, err
	}

	token, err := a.Sessions.Issue(acct.grant)
	if err != nil {
		return nil, models.Identity{}, err
	}
	return token, models.Identity{
		Email:       acct.grant.Subject,
		Role:        acct.grant.Role,
		TenantScope: acct.grant.TenantScope,
		PrincipalID: acct.grant.PrincipalID,
		IsAdmin:     acct.grant.IsAdmin,
		TokenID:     token.TokenID,
	}, nil
}

func (a *Authenticator) lookup(ctx context.Context, domain, email string) (*account, error) {
	if domain == models.NormalizeDomain(a.PlatformDomain) {
		op, err := a.Operators.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if !op.IsActive {
			return nil, apperrors.Authentication("account disabled")
		}
		return &account{hash: op.HashedPassword, grant: session.Grant{
			Subject:     op.Email,
			Role:        models.RolePlatformOperator,
			TenantScope: models.PlatformScope,
			PrincipalID: op.ID,
			IsAdmin:     true,
		}}, nil
	}

	tenant, err := a.Directory.ResolveByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	p, err := a.Principals.FindByEmail(ctx, tenant.Org, email)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, apperrors.Authentication("account disabled")
	}

	role := models.RoleTenantUser
	if p.IsAdmin {
		role = models.RoleTenantAdmin
	}
	return &account{hash: p.HashedPassword, grant: session.Grant{
		Subject:     p.Email,
		Role:        role,
		TenantScope: tenant.Org,
		PrincipalID: p.ID,
		IsAdmin:     p.IsAdmin,
	}}, nil
}

// Logout revokes the presented token for id and announces it
func (a *Authenticator) Logout(ctx context.Context, id models.Identity, signed string) error {
	if err := a.Sessions.Revoke(ctx, signed); err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"email": id.Email, "jti": id.TokenID})
	if a.Publisher != nil {
		err := a.Publisher.Publish(ctx, events.Event{
			Type:       events.TypeSessionRevoked,
			Org:        id.TenantScope,
			Subject:    id.Email,
			Attributes: map[string]string{"user_id": strconv.FormatUint(uint64(id.PrincipalID), 10)},
		})
		if err != nil {
			log.WithError(err).Warn("Failed to queue session.revoked event")
		}
	}
	return nil
}

func (a *Authenticator) challenge() ChallengeVerifier {
	if a.Challenge == nil {
		return DisabledChallenge{}
	}
	return a.Challenge
}

func (a *Authenticator) metrics() *metrics.Metrics {
	if a.Metrics == nil {
		return discardMetrics
	}
	return a.Metrics
}

func decoy() string {
	decoyOnce.Do(func() {
		decoyHash, _ = credentials.Hash("decoy-password")
	})
	return decoyHash
}
