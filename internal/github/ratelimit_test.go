package github

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLimiter_WaitBlocksUntilReset(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	reset := time.Now().Add(80 * time.Millisecond)
	l.Update(ClassCore, 0, reset)

	start := time.Now()
	if err := l.Wait(context.Background(), ClassCore); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("wait returned after %v, before the reset", elapsed)
	}
}

func TestLimiter_WaitPassesWithBudget(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	l.Update(ClassCore, 100, time.Now().Add(time.Hour))

	start := time.Now()
	if err := l.Wait(context.Background(), ClassCore); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("wait blocked %v with budget remaining", elapsed)
	}
}

func TestLimiter_PenaltyGatesExactly(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	l.Penalize(ClassSearch, 100*time.Millisecond)

	start := time.Now()
	if err := l.Wait(context.Background(), ClassSearch); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("call issued %v after penalty, before retry-after elapsed", elapsed)
	}

	// The penalty is per resource class: core is not gated.
	start = time.Now()
	if err := l.Wait(context.Background(), ClassCore); err != nil {
		t.Fatalf("wait core: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("core gated by search penalty: %v", elapsed)
	}
}

func TestLimiter_SurfacesWhenDeadlineTooShort(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	l.Penalize(ClassCore, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, ClassCore)
	if !IsKind(err, KindRateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.RetryAfter <= 0 {
		t.Fatalf("expected retry_after in error, got %+v", apiErr)
	}
	// Surfaced immediately rather than parking until the deadline.
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("wait parked %v instead of surfacing", elapsed)
	}
}

func TestLimiter_StaleSnapshotIgnored(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	fresh := time.Now().Add(time.Hour)
	l.Update(ClassCore, 10, fresh)
	l.Update(ClassCore, 0, fresh.Add(-time.Minute))

	remaining, resetAt, known := l.Snapshot(ClassCore)
	if !known || remaining != 10 || !resetAt.Equal(fresh) {
		t.Fatalf("stale update applied: remaining=%d reset=%v", remaining, resetAt)
	}
}

func TestLimiter_UpdateFromHeaders(t *testing.T) {
	l := NewLimiter(zap.NewNop())
	reset := time.Now().Add(time.Hour).Unix()
	headers := map[string]string{
		"X-RateLimit-Remaining": "42",
		"X-RateLimit-Reset":     itoa64(reset),
		"X-RateLimit-Resource":  "search",
	}
	l.updateFromHeaders(func(k string) string { return headers[k] })

	remaining, _, known := l.Snapshot(ClassSearch)
	if !known || remaining != 42 {
		t.Fatalf("expected search remaining 42, got %d (known=%v)", remaining, known)
	}
	if _, _, known := l.Snapshot(ClassCore); known {
		t.Fatal("core budget updated from a search response")
	}
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
