package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/reservebill/internal/config"
)

const keyPublicCheckout = "checkout:public:%s"

// PublicCheckoutLimiter throttles unauthenticated payment-link requests per
// client address. A nil limiter allows everything.
type PublicCheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPublicCheckoutLimiter(bucket *TokenBucket, cfg config.Config) *PublicCheckoutLimiter {
	if bucket == nil || cfg.RateLimit.PublicCheckoutRate <= 0 || cfg.RateLimit.PublicCheckoutBurst <= 0 {
		return nil
	}
	return &PublicCheckoutLimiter{
		bucket: bucket,
		rate:   cfg.RateLimit.PublicCheckoutRate,
		burst:  cfg.RateLimit.PublicCheckoutBurst,
	}
}

func (l *PublicCheckoutLimiter) Allow(ctx context.Context, clientKey string) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	result, err := l.bucket.Allow(ctx, fmt.Sprintf(keyPublicCheckout, strings.TrimSpace(clientKey)), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return result.Allowed, result.RetryAfter, nil
}
