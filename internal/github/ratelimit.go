package github

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResourceClass identifies an upstream rate-limit bucket. GitHub tracks
// quotas separately per class; the class of a response is reported in the
// X-RateLimit-Resource header.
type ResourceClass string

const (
	ClassCore    ResourceClass = "core"
	ClassSearch  ResourceClass = "search"
	ClassGraphQL ResourceClass = "graphql"
)

// smoothingRPS bounds request bursts per class independent of the quota
// headers, so a freshly reset budget is not burned in one spike.
const (
	smoothingRPS   = 20
	smoothingBurst = 40
)

// budget is the header-derived quota snapshot for one resource class.
type budget struct {
	remaining int
	resetAt   time.Time
	known     bool
	// notBefore is the secondary rate-limit gate: no call for this class
	// may be issued before it, honoring Retry-After exactly.
	notBefore time.Time
}

// Limiter tracks per-class budgets from response headers and gates new
// calls. Updates are serialized per class under one mutex; reads happen
// before every call.
type Limiter struct {
	mu      sync.Mutex
	budgets map[ResourceClass]*budget
	smooth  map[ResourceClass]*rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewLimiter creates a limiter with empty budgets for the known classes.
func NewLimiter(logger *zap.Logger) *Limiter {
	l := &Limiter{
		budgets: make(map[ResourceClass]*budget),
		smooth:  make(map[ResourceClass]*rate.Limiter),
		logger:  logger,
		now:     time.Now,
	}
	for _, class := range []ResourceClass{ClassCore, ClassSearch, ClassGraphQL} {
		l.budgets[class] = &budget{}
		l.smooth[class] = rate.NewLimiter(rate.Limit(smoothingRPS), smoothingBurst)
	}
	return l
}

func (l *Limiter) class(c ResourceClass) (*budget, *rate.Limiter) {
	b, ok := l.budgets[c]
	if !ok {
		b = &budget{}
		l.budgets[c] = b
		l.smooth[c] = rate.NewLimiter(rate.Limit(smoothingRPS), smoothingBurst)
	}
	return b, l.smooth[c]
}

// requiredDelay returns how long the caller must wait before issuing a call
// for the class. Zero means the call may go out now.
func (l *Limiter) requiredDelay(c ResourceClass) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.class(c)
	now := l.now()

	var until time.Time
	if b.notBefore.After(now) {
		until = b.notBefore
	}
	if b.known && b.remaining <= 0 && b.resetAt.After(now) && b.resetAt.After(until) {
		until = b.resetAt
	}
	if until.IsZero() {
		return 0
	}
	return until.Sub(now)
}

// Wait blocks until the class's budget permits a call. If the necessary wait
// cannot complete within the context deadline, it returns a RateLimited
// error immediately instead of parking the caller, so the tool contract can
// surface retry_after to the client.
func (l *Limiter) Wait(ctx context.Context, c ResourceClass) error {
	delay := l.requiredDelay(c)
	if delay > 0 {
		if deadline, ok := ctx.Deadline(); ok && l.now().Add(delay).After(deadline) {
			return &APIError{
				Kind:       KindRateLimited,
				Message:    "rate limit budget exhausted",
				RetryAfter: delay,
			}
		}
		l.logger.Info("rate limit wait",
			zap.String("resource_class", string(c)),
			zap.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &APIError{Kind: KindUnavailable, Message: ctx.Err().Error()}
		}
	}

	l.mu.Lock()
	_, smooth := l.class(c)
	l.mu.Unlock()
	if err := smooth.Wait(ctx); err != nil {
		return &APIError{Kind: KindUnavailable, Message: err.Error()}
	}
	return nil
}

// Update records a quota snapshot from the X-RateLimit-* headers of a
// response. Stale snapshots (an older reset window) are ignored.
func (l *Limiter) Update(c ResourceClass, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.class(c)
	if b.known && resetAt.Before(b.resetAt) {
		return
	}
	b.remaining = remaining
	b.resetAt = resetAt
	b.known = true
}

// Penalize applies a secondary rate-limit signal: no call for the class is
// issued before now+retryAfter, with no early retry.
func (l *Limiter) Penalize(c ResourceClass, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.class(c)
	notBefore := l.now().Add(retryAfter)
	if notBefore.After(b.notBefore) {
		b.notBefore = notBefore
	}
	l.logger.Warn("secondary rate limit",
		zap.String("resource_class", string(c)),
		zap.Duration("retry_after", retryAfter),
	)
}

// Snapshot returns the current remaining/reset view for a class.
func (l *Limiter) Snapshot(c ResourceClass) (remaining int, resetAt time.Time, known bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, _ := l.class(c)
	return b.remaining, b.resetAt, b.known
}

// updateFromHeaders parses the rate-limit headers of one response.
func (l *Limiter) updateFromHeaders(header func(string) string) {
	remainingStr := header("X-RateLimit-Remaining")
	resetStr := header("X-RateLimit-Reset")
	if remainingStr == "" || resetStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return
	}
	class := ResourceClass(header("X-RateLimit-Resource"))
	if class == "" {
		class = ClassCore
	}
	l.Update(class, remaining, time.Unix(resetUnix, 0))
}
