package github

import "time"

// Viewer is the authenticated user behind the credential.
type Viewer struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	PublicRepos int    `json:"public_repos"`
}

// User is an issue/PR participant.
type User struct {
	Login string `json:"login"`
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// Issue is the normalized view of an upstream issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	Labels    []Label   `json:"labels"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PullRequest is the normalized view of an upstream pull request.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	Base      Ref       `json:"base"`
	Head      Ref       `json:"head"`
	Merged    bool      `json:"merged"`
	Mergeable *bool     `json:"mergeable"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref is a branch reference inside a pull request.
type Ref struct {
	Label string `json:"label"`
	Name  string `json:"ref"`
	SHA   string `json:"sha"`
}

// Comment is an issue or pull request comment.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	User    User   `json:"user"`
	HTMLURL string `json:"html_url"`
}

// Branch is a repository branch head.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// GitRef is a low-level git reference, used when creating branches.
type GitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

// FileContents is a repository file with its content decoded.
type FileContents struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// MergeResult is the outcome of merging a pull request.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}
