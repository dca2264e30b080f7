package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// PullListOptions filters a pull request listing.
type PullListOptions struct {
	State string
	Base  string
}

// ListPullRequests returns one page of pull requests plus the continuation
// cursor.
func (c *Client) ListPullRequests(ctx context.Context, repo string, opt PullListOptions, cursor string) ([]PullRequest, string, error) {
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
		if opt.Base != "" {
			q.Set("base", opt.Base)
		}
		op.path = fmt.Sprintf("/repos/%s/%s/pulls", owner, name)
		op.query = q
	}

	var items []PullRequest
	var next string
	op.out = &items
	op.next = &next
	if err := c.do(ctx, op); err != nil {
		return nil, "", err
	}
	return items, next, nil
}

// GetPullRequest fetches a single pull request, including its current
// mergeability.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out PullRequest
	err = c.do(ctx, call{
		method:     http.MethodGet,
		path:       fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, name, number),
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MergePullRequest merges a pull request with the given method ("merge",
// "squash", "rebase"). Not idempotent: one attempt.
func (c *Client) MergePullRequest(ctx context.Context, repo string, number int, method string) (*MergeResult, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]string{}
	if method != "" {
		body["merge_method"] = method
	}
	var out MergeResult
	err = c.do(ctx, call{
		method: http.MethodPut,
		path:   fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, name, number),
		body:   body,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
