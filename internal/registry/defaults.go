package registry

// repoPattern matches "owner/name" repository references.
const repoPattern = `^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`

// DefaultMaxItems bounds paged tool results when neither the declaration
// nor the caller sets a limit.
const DefaultMaxItems = 100

func repoProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"pattern":     repoPattern,
		"description": "Repository in owner/name form",
	}
}

func limitProperty(max int) map[string]any {
	return map[string]any{
		"type":    "integer",
		"minimum": 1,
		"maximum": max,
	}
}

// BuiltinDefinitions returns the static tool declaration table. The server
// registers these at startup unless a Postgres declaration table is
// configured.
func BuiltinDefinitions() []*ToolDefinition {
	return []*ToolDefinition{
		{
			Name:        "get_me",
			Description: "Get the authenticated GitHub user",
			Category:    CategoryRead,
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"login":        map[string]any{"type": "string"},
					"name":         map[string]any{"type": "string"},
					"public_repos": map[string]any{"type": "integer"},
				},
			},
		},
		{
			Name:        "list_issues",
			Description: "List issues in a repository",
			Category:    CategoryRead,
			Paged:       true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoProperty(),
					"state": map[string]any{"type": "string", "enum": []string{"open", "closed", "all"}},
					"labels": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"limit": limitProperty(500),
				},
				"required":             []string{"repo"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		},
		{
			Name:        "get_issue",
			Description: "Get a single issue by number",
			Category:    CategoryRead,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoProperty(),
					"number": map[string]any{"type": "integer", "minimum": 1},
				},
				"required":             []string{"repo", "number"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
		},
		{
			Name:        "list_pull_requests",
			Description: "List pull requests in a repository",
			Category:    CategoryRead,
			Paged:       true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoProperty(),
					"state": map[string]any{"type": "string", "enum": []string{"open", "closed", "all"}},
					"base":  map[string]any{"type": "string"},
					"limit": limitProperty(500),
				},
				"required":             []string{"repo"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		},
		{
			Name:        "get_pull_request",
			Description: "Get a single pull request by number",
			Category:    CategoryRead,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoProperty(),
					"number": map[string]any{"type": "integer", "minimum": 1},
				},
				"required":             []string{"repo", "number"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
		},
		{
			Name:        "get_file_contents",
			Description: "Read a file from a repository at an optional ref",
			Category:    CategoryRead,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": repoProperty(),
					"path": map[string]any{"type": "string", "minLength": 1},
					"ref":  map[string]any{"type": "string"},
				},
				"required":             []string{"repo", "path"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"sha":     map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "list_branches",
			Description: "List branches in a repository",
			Category:    CategoryRead,
			Paged:       true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoProperty(),
					"limit": limitProperty(500),
				},
				"required":             []string{"repo"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		},
		{
			Name:        "create_issue",
			Description: "Open a new issue",
			Category:    CategoryWrite,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoProperty(),
					"title": map[string]any{"type": "string", "minLength": 1},
					"body":  map[string]any{"type": "string"},
					"labels": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required":             []string{"repo", "title"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
		},
		{
			Name:        "create_comment",
			Description: "Comment on an issue or pull request",
			Category:    CategoryWrite,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoProperty(),
					"number": map[string]any{"type": "integer", "minimum": 1},
					"body":   map[string]any{"type": "string", "minLength": 1},
				},
				"required":             []string{"repo", "number", "body"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
		},
		{
			Name:        "update_issue",
			Description: "Update an issue's title, body, or state",
			Category:    CategoryWrite,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoProperty(),
					"number": map[string]any{"type": "integer", "minimum": 1},
					"state":  map[string]any{"type": "string", "enum": []string{"open", "closed"}},
					"title":  map[string]any{"type": "string"},
					"body":   map[string]any{"type": "string"},
				},
				"required":             []string{"repo", "number"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{"type": "object"},
		},
		{
			Name:        "create_branch",
			Description: "Create a branch from an existing ref",
			Category:    CategoryWrite,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":     repoProperty(),
					"branch":   map[string]any{"type": "string", "minLength": 1},
					"from_ref": map[string]any{"type": "string", "minLength": 1},
				},
				"required":             []string{"repo", "branch", "from_ref"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ref": map[string]any{"type": "string"},
					"sha": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "merge_pull_request",
			Description: "Merge a pull request after checking mergeability",
			Category:    CategoryWrite,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoProperty(),
					"number": map[string]any{"type": "integer", "minimum": 1},
					"method": map[string]any{"type": "string", "enum": []string{"merge", "squash", "rebase"}},
				},
				"required":             []string{"repo", "number"},
				"additionalProperties": false,
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"merged": map[string]any{"type": "boolean"},
					"sha":    map[string]any{"type": "string"},
				},
			},
		},
	}
}
