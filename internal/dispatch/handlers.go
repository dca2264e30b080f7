package dispatch

import (
	"context"

	"github.com/forgebridge/forgebridge/internal/github"
	"github.com/forgebridge/forgebridge/internal/registry"
)

// The handler-facing slices of the GitHub client.
type viewerOps interface {
	GetViewer(ctx context.Context) (*github.Viewer, error)
}

type issueOps interface {
	ListIssues(ctx context.Context, repo string, opt github.IssueListOptions, cursor string) ([]github.Issue, string, error)
	GetIssue(ctx context.Context, repo string, number int) (*github.Issue, error)
	CreateIssue(ctx context.Context, repo string, req github.CreateIssueRequest) (*github.Issue, error)
	UpdateIssue(ctx context.Context, repo string, number int, req github.UpdateIssueRequest) (*github.Issue, error)
	CreateComment(ctx context.Context, repo string, number int, body string) (*github.Comment, error)
}

type pullOps interface {
	ListPullRequests(ctx context.Context, repo string, opt github.PullListOptions, cursor string) ([]github.PullRequest, string, error)
	GetPullRequest(ctx context.Context, repo string, number int) (*github.PullRequest, error)
	MergePullRequest(ctx context.Context, repo string, number int, method string) (*github.MergeResult, error)
}

type repoOps interface {
	GetFileContents(ctx context.Context, repo, path, ref string) (*github.FileContents, error)
	ListBranches(ctx context.Context, repo, cursor string) ([]github.Branch, string, error)
	GetGitRef(ctx context.Context, repo, ref string) (*github.GitRef, error)
	CreateGitRef(ctx context.Context, repo, branch, sha string) (*github.GitRef, error)
}

// Arguments wraps validated call arguments with typed accessors. Values come
// from a JSON decode, so numbers arrive as float64.
type Arguments struct {
	values map[string]any
	def    *registry.ToolDefinition
}

func (a Arguments) String(key string) string {
	v, _ := a.values[key].(string)
	return v
}

func (a Arguments) Int(key string) int {
	switch v := a.values[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (a Arguments) StringSlice(key string) []string {
	switch v := a.values[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// limit resolves the result cap for a paged tool: explicit argument, then
// the declaration's MaxItems, then the builtin default.
func (a Arguments) limit() int {
	if n := a.Int("limit"); n > 0 {
		return n
	}
	if a.def != nil && a.def.MaxItems > 0 {
		return a.def.MaxItems
	}
	return registry.DefaultMaxItems
}

func buildHandlers(d *Dispatcher, gh GitHubOps) map[string]Handler {
	return map[string]Handler{
		"get_me": func(ctx context.Context, _ Arguments) (any, error) {
			return gh.GetViewer(ctx)
		},

		"list_issues": func(ctx context.Context, args Arguments) (any, error) {
			repo := args.String("repo")
			opt := github.IssueListOptions{
				State:  args.String("state"),
				Labels: args.StringSlice("labels"),
			}
			seq := github.NewSequence(func(ctx context.Context, cursor string) ([]github.Issue, string, error) {
				return gh.ListIssues(ctx, repo, opt, cursor)
			}, args.limit())
			return github.Collect(ctx, seq)
		},

		"get_issue": func(ctx context.Context, args Arguments) (any, error) {
			return gh.GetIssue(ctx, args.String("repo"), args.Int("number"))
		},

		"list_pull_requests": func(ctx context.Context, args Arguments) (any, error) {
			repo := args.String("repo")
			opt := github.PullListOptions{
				State: args.String("state"),
				Base:  args.String("base"),
			}
			seq := github.NewSequence(func(ctx context.Context, cursor string) ([]github.PullRequest, string, error) {
				return gh.ListPullRequests(ctx, repo, opt, cursor)
			}, args.limit())
			return github.Collect(ctx, seq)
		},

		"get_pull_request": func(ctx context.Context, args Arguments) (any, error) {
			return gh.GetPullRequest(ctx, args.String("repo"), args.Int("number"))
		},

		"get_file_contents": func(ctx context.Context, args Arguments) (any, error) {
			return gh.GetFileContents(ctx, args.String("repo"), args.String("path"), args.String("ref"))
		},

		"list_branches": func(ctx context.Context, args Arguments) (any, error) {
			repo := args.String("repo")
			seq := github.NewSequence(func(ctx context.Context, cursor string) ([]github.Branch, string, error) {
				return gh.ListBranches(ctx, repo, cursor)
			}, args.limit())
			return github.Collect(ctx, seq)
		},

		"create_issue": func(ctx context.Context, args Arguments) (any, error) {
			return gh.CreateIssue(ctx, args.String("repo"), github.CreateIssueRequest{
				Title:  args.String("title"),
				Body:   args.String("body"),
				Labels: args.StringSlice("labels"),
			})
		},

		"create_comment": func(ctx context.Context, args Arguments) (any, error) {
			return gh.CreateComment(ctx, args.String("repo"), args.Int("number"), args.String("body"))
		},

		"update_issue": func(ctx context.Context, args Arguments) (any, error) {
			req := github.UpdateIssueRequest{}
			if v, ok := args.values["title"].(string); ok {
				req.Title = &v
			}
			if v, ok := args.values["body"].(string); ok {
				req.Body = &v
			}
			if v, ok := args.values["state"].(string); ok {
				req.State = &v
			}
			return gh.UpdateIssue(ctx, args.String("repo"), args.Int("number"), req)
		},

		"create_branch":      createBranchHandler(gh),
		"merge_pull_request": mergePullRequestHandler(gh),
	}
}

// createBranchHandler is a two-step tool: resolve the base ref to a SHA,
// then create the branch head. The furthest failing step is reported.
func createBranchHandler(gh GitHubOps) Handler {
	return func(ctx context.Context, args Arguments) (any, error) {
		repo := args.String("repo")
		fromRef := args.String("from_ref")

		base, err := gh.GetGitRef(ctx, repo, "heads/"+fromRef)
		if err != nil && github.IsKind(err, github.KindNotFound) {
			// from_ref may name a tag rather than a branch.
			base, err = gh.GetGitRef(ctx, repo, "tags/"+fromRef)
		}
		if err != nil {
			return nil, &stepError{step: "resolve_base_ref", err: err}
		}

		ref, err := gh.CreateGitRef(ctx, repo, args.String("branch"), base.Object.SHA)
		if err != nil {
			return nil, &stepError{step: "create_ref", err: err}
		}
		return map[string]any{"ref": ref.Ref, "sha": ref.Object.SHA}, nil
	}
}

// mergePullRequestHandler is a two-step tool: check mergeability, then
// merge. A definitive "not mergeable" fails the first step without issuing
// the merge; an undetermined mergeability proceeds and lets the upstream
// decide.
func mergePullRequestHandler(gh GitHubOps) Handler {
	return func(ctx context.Context, args Arguments) (any, error) {
		repo := args.String("repo")
		number := args.Int("number")

		pr, err := gh.GetPullRequest(ctx, repo, number)
		if err != nil {
			return nil, &stepError{step: "check_mergeability", err: err}
		}
		if pr.Merged {
			return nil, &stepError{step: "check_mergeability", err: &github.APIError{
				Kind:    github.KindValidation,
				Message: "pull request is already merged",
			}}
		}
		if pr.Mergeable != nil && !*pr.Mergeable {
			return nil, &stepError{step: "check_mergeability", err: &github.APIError{
				Kind:    github.KindValidation,
				Message: "pull request is not mergeable",
			}}
		}

		res, err := gh.MergePullRequest(ctx, repo, number, args.String("method"))
		if err != nil {
			return nil, &stepError{step: "merge", err: err}
		}
		return res, nil
	}
}
