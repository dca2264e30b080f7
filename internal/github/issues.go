package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// defaultPerPage is the page size requested from list endpoints.
const defaultPerPage = 50

// GetViewer fetches the user behind the active credential.
func (c *Client) GetViewer(ctx context.Context) (*Viewer, error) {
	var out Viewer
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/user",
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueListOptions filters an issue listing.
type IssueListOptions struct {
	State  string
	Labels []string
}

// ListIssues returns one page of issues plus the continuation cursor. An
// empty cursor starts the listing; an empty returned cursor ends it.
func (c *Client) ListIssues(ctx context.Context, repo string, opt IssueListOptions, cursor string) ([]Issue, string, error) {
	op := call{
		method:     http.MethodGet,
		idempotent: true,
	}
	if cursor != "" {
		op.path = cursor
	} else {
		owner, name, err := splitRepo(repo)
		if err != nil {
			return nil, "", err
		}
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(defaultPerPage))
		if opt.State != "" {
			q.Set("state", opt.State)
		}
		if len(opt.Labels) > 0 {
			q.Set("labels", strings.Join(opt.Labels, ","))
		}
		op.path = fmt.Sprintf("/repos/%s/%s/issues", owner, name)
		op.query = q
	}

	var items []Issue
	var next string
	op.out = &items
	op.next = &next
	if err := c.do(ctx, op); err != nil {
		return nil, "", err
	}
	return items, next, nil
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out Issue
	err = c.do(ctx, call{
		method:     http.MethodGet,
		path:       fmt.Sprintf("/repos/%s/%s/issues/%d", owner, name, number),
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateIssueRequest is the payload for opening an issue.
type CreateIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// CreateIssue opens a new issue. Not idempotent: one attempt, failure is
// surfaced rather than risking a duplicate issue.
func (c *Client) CreateIssue(ctx context.Context, repo string, req CreateIssueRequest) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out Issue
	err = c.do(ctx, call{
		method: http.MethodPost,
		path:   fmt.Sprintf("/repos/%s/%s/issues", owner, name),
		body:   req,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateIssueRequest is the payload for patching an issue. Nil fields are
// left unchanged upstream.
type UpdateIssueRequest struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
	State *string `json:"state,omitempty"`
}

// UpdateIssue patches an issue. The PATCH is idempotent at the application
// level (same payload, same result), so transient failures are retried.
func (c *Client) UpdateIssue(ctx context.Context, repo string, number int, req UpdateIssueRequest) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out Issue
	err = c.do(ctx, call{
		method:     http.MethodPatch,
		path:       fmt.Sprintf("/repos/%s/%s/issues/%d", owner, name, number),
		body:       req,
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateComment comments on an issue or pull request. Not idempotent.
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out Comment
	err = c.do(ctx, call{
		method: http.MethodPost,
		path:   fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, name, number),
		body:   map[string]string{"body": body},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
