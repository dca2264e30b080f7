package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// GetFileContents reads a file at an optional ref and decodes its content.
func (c *Client) GetFileContents(ctx context.Context, repo, path, ref string) (*FileContents, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Type     string `json:"type"`
		Path     string `json:"path"`
		SHA      string `json:"sha"`
		Size     int    `json:"size"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	op := call{
		method:     http.MethodGet,
		path:       fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, strings.TrimPrefix(path, "/")),
		out:        &raw,
		idempotent: true,
	}
	if ref != "" {
		q := url.Values{}
		q.Set("ref", ref)
		op.query = q
	}
	if err := c.do(ctx, op); err != nil {
		return nil, err
	}

	if raw.Type != "" && raw.Type != "file" {
		return nil, &APIError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("%s is a %s, not a file", path, raw.Type),
		}
	}

	content := raw.Content
	if raw.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw.Content, "\n", ""))
		if err != nil {
			return nil, &APIError{
				Kind:    KindUnexpected,
				Message: "undecodable file content: " + err.Error(),
			}
		}
		content = string(decoded)
	}

	return &FileContents{
		Path:    raw.Path,
		SHA:     raw.SHA,
		Size:    raw.Size,
		Content: content,
	}, nil
}

// ListBranches returns one page of branches plus the continuation cursor.
func (c *Client) ListBranches(ctx context.Context, repo, cursor string) ([]Branch, string, error) {
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
		op.path = fmt.Sprintf("/repos/%s/%s/branches", owner, name)
		op.query = q
	}

	var items []Branch
	var next string
	op.out = &items
	op.next = &next
	if err := c.do(ctx, op); err != nil {
		return nil, "", err
	}
	return items, next, nil
}

// GetGitRef resolves a ref ("heads/main", "tags/v1") to its object SHA.
func (c *Client) GetGitRef(ctx context.Context, repo, ref string) (*GitRef, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out GitRef
	err = c.do(ctx, call{
		method:     http.MethodGet,
		path:       fmt.Sprintf("/repos/%s/%s/git/ref/%s", owner, name, strings.TrimPrefix(ref, "refs/")),
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGitRef creates a branch head pointing at sha. Not idempotent: a
// retried create could mask a concurrent delete, so one attempt only.
func (c *Client) CreateGitRef(ctx context.Context, repo, branch, sha string) (*GitRef, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out GitRef
	err = c.do(ctx, call{
		method: http.MethodPost,
		path:   fmt.Sprintf("/repos/%s/%s/git/refs", owner, name),
		body: map[string]string{
			"ref": "refs/heads/" + strings.TrimPrefix(branch, "refs/heads/"),
			"sha": sha,
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
