package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dxcp-labs/dxcp/internal/database"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
)

func newTestLimiter(t *testing.T) (*Limiter, *clock.Fake) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Pin to the start of a minute so the sliding-window fraction is 0.
	clk := clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return New(database.NewRedisFromClient(client), clk), clk
}

func TestAllowRate_ExactlyAtLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	const rpm = 5
	for i := 0; i < rpm; i++ {
		if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	// Request rpm+1 within the same window is refused.
	_, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm)
	if !errors.Is(err, apierrors.ErrRateLimited) {
		t.Fatalf("err = %v, want RATE_LIMITED", err)
	}

	// The refusal handed the slot back: the next minute admits a full
	// budget once the previous bucket's weight decays.
	res, err := l.AllowRate(ctx, "sub-2", ClassMutate, rpm)
	if err != nil {
		t.Fatalf("other principal: %v", err)
	}
	if res.Limit != rpm {
		t.Errorf("limit = %d", res.Limit)
	}
}

func TestAllowRate_WindowSlides(t *testing.T) {
	l, clk := newTestLimiter(t)
	ctx := context.Background()

	const rpm = 4
	for i := 0; i < rpm; i++ {
		if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm); err != nil {
			t.Fatalf("fill window: %v", err)
		}
	}
	if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm); !errors.Is(err, apierrors.ErrRateLimited) {
		t.Fatalf("expected refusal at cap, got %v", err)
	}

	// Half a minute into the next bucket, the previous bucket only
	// counts at half weight, so some budget is available again.
	clk.Advance(90 * time.Second)
	if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm); err != nil {
		t.Fatalf("after slide: %v", err)
	}

	// Two minutes later the old bucket is out of the window entirely.
	clk.Advance(2 * time.Minute)
	for i := 0; i < rpm-1; i++ {
		if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, rpm); err != nil {
			t.Fatalf("fresh window request %d: %v", i+1, err)
		}
	}
}

func TestAllowRate_ClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, 1); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := l.AllowRate(ctx, "sub-1", ClassMutate, 1); !errors.Is(err, apierrors.ErrRateLimited) {
		t.Fatalf("expected mutate refusal, got %v", err)
	}
	// The read budget is untouched.
	if _, err := l.AllowRate(ctx, "sub-1", ClassRead, 1); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestAllowQuota_DailyCap(t *testing.T) {
	l, clk := newTestLimiter(t)
	ctx := context.Background()

	const cap = 3
	for i := 0; i < cap; i++ {
		if err := l.AllowQuota(ctx, "sub-1", QuotaDeploy, cap); err != nil {
			t.Fatalf("deploy %d: %v", i+1, err)
		}
	}
	if err := l.AllowQuota(ctx, "sub-1", QuotaDeploy, cap); !errors.Is(err, apierrors.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want QUOTA_EXCEEDED", err)
	}

	// Other kinds and other principals have their own buckets.
	if err := l.AllowQuota(ctx, "sub-1", QuotaRollback, cap); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := l.AllowQuota(ctx, "sub-2", QuotaDeploy, cap); err != nil {
		t.Fatalf("other principal: %v", err)
	}

	// The next UTC day opens a fresh bucket.
	clk.Advance(24 * time.Hour)
	if err := l.AllowQuota(ctx, "sub-1", QuotaDeploy, cap); err != nil {
		t.Fatalf("next day: %v", err)
	}
}

func TestAllowQuota_ZeroCapDisablesQuota(t *testing.T) {
	l, _ := newTestLimiter(t)
	for i := 0; i < 100; i++ {
		if err := l.AllowQuota(context.Background(), "sub-1", QuotaDeploy, 0); err != nil {
			t.Fatalf("unexpected refusal: %v", err)
		}
	}
}
