// Package github wraps the GitHub REST API behind a rate-limit-aware,
// retrying client. The client exposes one logical operation per call and
// never auto-follows pagination; continuation stays with the caller.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultBaseURL    = "https://api.github.com"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	apiVersion        = "2022-11-28"

	backoffBase = 500 * time.Millisecond
	backoffCap  = 8 * time.Second
)

// Config configures a Client.
type Config struct {
	// BaseURL overrides the api.github.com endpoint (tests, Enterprise).
	BaseURL string
	// Source supplies the credential at startup and on refresh.
	Source CredentialSource
	// Timeout bounds each upstream HTTP call.
	Timeout time.Duration
	// MaxRetries bounds additional attempts for idempotent calls.
	MaxRetries int
	Logger     *zap.Logger
}

// Client issues authenticated calls against the GitHub REST API.
type Client struct {
	rest       *resty.Client
	creds      *credentialStore
	limits     *Limiter
	maxRetries int
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client and eagerly loads the credential, so a missing
// token fails startup instead of the first tool call.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("github: credential source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	creds, err := newCredentialStore(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("github: load credential: %w", err)
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", apiVersion)

	return &Client{
		rest:       rest,
		creds:      creds,
		limits:     NewLimiter(cfg.Logger),
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
		sleep:      sleepCtx,
	}, nil
}

// RefreshCredential re-reads the token from the source. In-flight calls keep
// the credential they already read; new calls pick up the fresh one.
func (c *Client) RefreshCredential(ctx context.Context) error {
	return c.creds.refresh(ctx)
}

// Limits exposes the rate-limit state, mainly for tests and diagnostics.
func (c *Client) Limits() *Limiter {
	return c.limits
}

// call describes one upstream HTTP call.
type call struct {
	method string
	// path is a repo-relative path, or an absolute next-page URL when
	// continuing a paginated listing.
	path  string
	query url.Values
	body  any
	out   any
	// next receives the continuation URL from the Link header, when the
	// caller is paginating.
	next  *string
	class ResourceClass
	// idempotent calls are retried on transient failure. Non-idempotent
	// mutations get exactly one attempt.
	idempotent bool
}

// do runs a call with rate-limit gating and bounded retries.
func (c *Client) do(ctx context.Context, op call) error {
	class := op.class
	if class == "" {
		class = ClassCore
	}
	maxAttempts := 1
	if op.idempotent {
		maxAttempts = c.maxRetries + 1
	}

	var lastErr *APIError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying upstream call",
				zap.String("method", op.method),
				zap.String("path", op.path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		if err := c.limits.Wait(ctx, class); err != nil {
			return err
		}

		apiErr := c.attempt(ctx, op, class)
		if apiErr == nil {
			return nil
		}
		lastErr = apiErr
		if !op.idempotent || !retryable(apiErr) {
			return apiErr
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, op call, class ResourceClass) *APIError {
	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.creds.get().Token)
	if op.query != nil {
		req.SetQueryParamsFromValues(op.query)
	}
	if op.body != nil {
		req.SetBody(op.body)
	}

	resp, err := req.Execute(op.method, op.path)
	if err != nil {
		return &APIError{Kind: KindUnavailable, Message: err.Error()}
	}

	c.limits.updateFromHeaders(resp.Header().Get)

	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		if op.out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), op.out); err != nil {
				return &APIError{
					Kind:       KindUnexpected,
					StatusCode: code,
					Message:    "malformed response body: " + err.Error(),
				}
			}
		}
		if op.next != nil {
			*op.next = nextPageURL(resp.Header().Get("Link"))
		}
		return nil
	}

	apiErr := mapError(resp)
	if apiErr.Kind == KindRateLimited && apiErr.RetryAfter > 0 {
		c.limits.Penalize(class, apiErr.RetryAfter)
	}
	return apiErr
}

// ghErrorBody is GitHub's error response shape.
type ghErrorBody struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	} `json:"errors"`
}

// mapError translates a non-2xx response into the error taxonomy.
func mapError(resp *resty.Response) *APIError {
	code := resp.StatusCode()
	var body ghErrorBody
	_ = json.Unmarshal(resp.Body(), &body)

	switch {
	case code == http.StatusUnauthorized:
		return &APIError{Kind: KindAuth, StatusCode: code, Message: body.Message}
	case code == http.StatusForbidden:
		if retryAfter, limited := rateLimitSignal(resp, body.Message); limited {
			return &APIError{
				Kind:       KindRateLimited,
				StatusCode: code,
				Message:    body.Message,
				RetryAfter: retryAfter,
			}
		}
		return &APIError{Kind: KindAuth, StatusCode: code, Message: body.Message}
	case code == http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: code, Message: body.Message}
	case code == http.StatusUnprocessableEntity:
		details := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			detail := e.Message
			if detail == "" {
				detail = fmt.Sprintf("%s.%s: %s", e.Resource, e.Field, e.Code)
			}
			details = append(details, detail)
		}
		return &APIError{Kind: KindValidation, StatusCode: code, Message: body.Message, Details: details}
	case code == http.StatusTooManyRequests:
		retryAfter, _ := rateLimitSignal(resp, body.Message)
		return &APIError{
			Kind:       KindRateLimited,
			StatusCode: code,
			Message:    body.Message,
			RetryAfter: retryAfter,
		}
	case code >= 500:
		return &APIError{Kind: KindUnavailable, StatusCode: code, Message: body.Message}
	default:
		return &APIError{Kind: KindUnexpected, StatusCode: code, Message: body.Message}
	}
}

// rateLimitSignal detects primary exhaustion and secondary ("abuse") limits
// on a 403/429 response and extracts the advised wait.
func rateLimitSignal(resp *resty.Response, message string) (time.Duration, bool) {
	if ra := resp.Header().Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "secondary rate limit") || strings.Contains(lower, "abuse") {
		return 0, true
	}
	if resp.Header().Get("X-RateLimit-Remaining") == "0" {
		var wait time.Duration
		if reset, err := strconv.ParseInt(resp.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if until := time.Until(time.Unix(reset, 0)); until > 0 {
				wait = until
			}
		}
		return wait, true
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}

// nextPageURL extracts the rel="next" target from a Link header. An empty
// result means the listing is exhausted.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, param := range section[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

// backoffDelay returns the exponential backoff for the given attempt with
// ±50% jitter.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d)-int64(half)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitRepo parses an "owner/name" reference.
func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &APIError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("malformed repository reference %q", repo),
		}
	}
	return parts[0], parts[1], nil
}
