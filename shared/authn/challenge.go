package authn

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
)

// ChallengeVerifier checks the bot challenge answered alongside a login
type ChallengeVerifier interface {
	Verify(ctx context.Context, key, answer string) error
}

// DisabledChallenge accepts every answer
type DisabledChallenge struct{}

func (DisabledChallenge) Verify(context.Context, string, string) error { return nil }

// ChallengeKey is where the expected answer for key is stored
func ChallengeKey(key string) string {
	return "captcha_text_" + key
}

// RedisChallenge compares answers against text stored by the challenge generator
type RedisChallenge struct {
	client *redis.Client
}

func NewRedisChallenge(client *redis.Client) *RedisChallenge {
	return &RedisChallenge{client: client}
}

// Verify compares case-insensitively. A missing or expired challenge fails.
func (c *RedisChallenge) Verify(ctx context.Context, key, answer string) error {
	if key == "" {
		return apperrors.Authentication("challenge required")
	}
	expected, err := c.client.Get(ctx, ChallengeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return apperrors.Authentication("challenge expired")
	}
	if err != nil {
		return apperrors.Unavailable("challenge store", err)
	}
	if !strings.EqualFold(expected, strings.TrimSpace(answer)) {
		return apperrors.Authentication("challenge failed")
	}
	return nil
}

// NewChallengeVerifier picks the verifier for the configured mode
func NewChallengeVerifier(disabled bool, client *redis.Client) ChallengeVerifier {
	if disabled {
		return DisabledChallenge{}
	}
	return NewRedisChallenge(client)
}
