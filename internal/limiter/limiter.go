// Package limiter enforces per-principal sliding-window rates and
// per-day quotas. Counters are incremented before the guarded side
// effect; a refusal hands the slot back, so briefly over-counting
// under contention is possible but under-counting is not.
package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dxcp-labs/dxcp/internal/database"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
)

// Class selects which rpm budget a request bills.
type Class string

const (
	ClassRead   Class = "read"
	ClassMutate Class = "mutate"
)

// QuotaKind identifies a daily capped operation.
type QuotaKind string

const (
	QuotaDeploy           QuotaKind = "deploy"
	QuotaRollback         QuotaKind = "rollback"
	QuotaBuildRegister    QuotaKind = "build_register"
	QuotaUploadCapability QuotaKind = "upload_capability"
)

// RateResult reports the window state for response headers.
type RateResult struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter implements both guards on Redis counters.
type Limiter struct {
	redis *database.Redis
	clk   clock.Clock
}

// New creates a limiter.
func New(redis *database.Redis, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{redis: redis, clk: clk}
}

// AllowRate bills one request against the principal's sliding window
// and returns RATE_LIMITED when the weighted count exceeds rpm. Two
// adjacent fixed minute buckets are weighted by the elapsed fraction
// of the current minute.
func (l *Limiter) AllowRate(ctx context.Context, principal string, class Class, rpm int) (RateResult, error) {
	now := l.clk.Now()
	minute := now.Unix() / 60
	frac := float64(now.Unix()%60)/60.0 + float64(now.Nanosecond())/6e10

	currKey := rateKey(principal, class, minute)
	prevKey := rateKey(principal, class, minute-1)

	curr, err := l.redis.IncrWithExpire(ctx, currKey, 2*time.Minute)
	if err != nil {
		// Redis being down must not take the API with it.
		return RateResult{Limit: rpm, Remaining: rpm}, nil
	}

	prev := int64(0)
	if s, err := l.redis.Get(ctx, prevKey); err == nil {
		prev, _ = strconv.ParseInt(s, 10, 64)
	}

	weighted := float64(prev)*(1-frac) + float64(curr)
	result := RateResult{
		Limit:     rpm,
		Remaining: rpm - int(weighted),
		ResetAt:   time.Unix((minute+1)*60, 0).UTC(),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if weighted > float64(rpm) {
		// Refusals do not consume the slot.
		l.redis.Decr(ctx, currKey)
		return result, apierrors.ErrRateLimited
	}
	return result, nil
}

// AllowQuota bills one unit against the principal's daily cap for kind
// and returns QUOTA_EXCEEDED at the cap. The bucket is keyed by UTC
// date and expires on its own.
func (l *Limiter) AllowQuota(ctx context.Context, principal string, kind QuotaKind, cap int) error {
	if cap <= 0 {
		return nil
	}
	day := l.clk.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("quota:%s:%s:%s", principal, kind, day)

	count, err := l.redis.IncrWithExpire(ctx, key, 48*time.Hour)
	if err != nil {
		return nil
	}
	if count > int64(cap) {
		l.redis.Decr(ctx, key)
		return apierrors.ErrQuotaExceeded.WithMessage("Daily %s quota of %d exceeded", kind, cap)
	}
	return nil
}

func rateKey(principal string, class Class, minute int64) string {
	return fmt.Sprintf("rate:%s:%s:%d", principal, class, minute)
}
