package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/forgebridge/forgebridge/internal/dispatch"
	"github.com/forgebridge/forgebridge/internal/github"
	"github.com/forgebridge/forgebridge/internal/registry"
	"github.com/forgebridge/forgebridge/internal/storage"
)

// stubGitHub implements dispatch.GitHubOps with canned responses.
type stubGitHub struct {
	mu    sync.Mutex
	calls int

	issueErr   error
	issuePages [][]github.Issue

	// release, when non-nil, blocks GetIssue until closed.
	release chan struct{}
}

func (g *stubGitHub) bump() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
}

func (g *stubGitHub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGitHub) GetViewer(context.Context) (*github.Viewer, error) {
	g.bump()
	return &github.Viewer{Login: "octocat"}, nil
}

func (g *stubGitHub) ListIssues(_ context.Context, _ string, _ github.IssueListOptions, cursor string) ([]github.Issue, string, error) {
	g.bump()
	page := 0
	if cursor == "next" {
		page = 1
	}
	if page >= len(g.issuePages) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(g.issuePages) {
		next = "next"
	}
	return g.issuePages[page], next, nil
}

func (g *stubGitHub) GetIssue(_ context.Context, _ string, number int) (*github.Issue, error) {
	g.bump()
	if g.release != nil {
		<-g.release
	}
	if g.issueErr != nil {
		return nil, g.issueErr
	}
	return &github.Issue{Number: number, Title: "stub", State: "open"}, nil
}

func (g *stubGitHub) CreateIssue(_ context.Context, _ string, req github.CreateIssueRequest) (*github.Issue, error) {
	g.bump()
	return &github.Issue{Number: 1, Title: req.Title}, nil
}

func (g *stubGitHub) UpdateIssue(_ context.Context, _ string, number int, _ github.UpdateIssueRequest) (*github.Issue, error) {
	g.bump()
	return &github.Issue{Number: number}, nil
}

func (g *stubGitHub) CreateComment(_ context.Context, _ string, _ int, body string) (*github.Comment, error) {
	g.bump()
	return &github.Comment{ID: 1, Body: body}, nil
}

func (g *stubGitHub) ListPullRequests(context.Context, string, github.PullListOptions, string) ([]github.PullRequest, string, error) {
	g.bump()
	return nil, "", nil
}

func (g *stubGitHub) GetPullRequest(_ context.Context, _ string, number int) (*github.PullRequest, error) {
	g.bump()
	return &github.PullRequest{Number: number}, nil
}

func (g *stubGitHub) MergePullRequest(context.Context, string, int, string) (*github.MergeResult, error) {
	g.bump()
	return &github.MergeResult{Merged: true}, nil
}

func (g *stubGitHub) GetFileContents(context.Context, string, string, string) (*github.FileContents, error) {
	g.bump()
	return &github.FileContents{Path: "f"}, nil
}

func (g *stubGitHub) ListBranches(context.Context, string, string) ([]github.Branch, string, error) {
	g.bump()
	return nil, "", nil
}

func (g *stubGitHub) GetGitRef(context.Context, string, string) (*github.GitRef, error) {
	g.bump()
	return &github.GitRef{}, nil
}

func (g *stubGitHub) CreateGitRef(context.Context, string, string, string) (*github.GitRef, error) {
	g.bump()
	return &github.GitRef{}, nil
}

// stubEvents records audit events synchronously.
type stubEvents struct {
	mu     sync.Mutex
	events []*storage.ToolCallEvent
}

func (w *stubEvents) Write(e *storage.ToolCallEvent) {
	w.mu.Lock()
	w.events = append(w.events, e)
	w.mu.Unlock()
}

func (w *stubEvents) Close() {}

func (w *stubEvents) byRequestID(id string) *storage.ToolCallEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.events {
		if e.RequestID == id {
			return e
		}
	}
	return nil
}

func newTestManager(t *testing.T, gh dispatch.GitHubOps) (*Manager, *stubEvents) {
	t.Helper()
	reg := registry.New()
	for _, def := range registry.BuiltinDefinitions() {
		if err := reg.Register(def); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	d, err := dispatch.New(reg, gh, zap.NewNop())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	events := &stubEvents{}
	m := NewManager(ManagerConfig{
		Registry:      reg,
		Dispatcher:    d,
		Events:        events,
		Logger:        zap.NewNop(),
		ServerName:    "forgebridge",
		ServerVersion: "test",
	})
	return m, events
}

func rpc(t *testing.T, id, method string, params any) *Request {
	t.Helper()
	req := &Request{JSONRPC: JSONRPCVersion, Method: method}
	if id != "" {
		req.ID = json.RawMessage(`"` + id + `"`)
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}
	return req
}

func initSession(t *testing.T, m *Manager, categories ...string) *Session {
	t.Helper()
	s := m.Open()
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ClientInfo{Name: "test-client", Version: "0"},
	}
	params.Capabilities.ToolCategories = categories
	resp := m.Handle(context.Background(), s, rpc(t, "init", MethodInitialize, params))
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
	return s
}

func TestHandle_InitializeHandshake(t *testing.T) {
	m, _ := newTestManager(t, &stubGitHub{})
	s := m.Open()

	// Session is unusable before initialize.
	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodListTools, nil))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params before initialize, got %+v", resp)
	}

	resp = m.Handle(context.Background(), s, rpc(t, "r2", MethodInitialize, InitializeParams{}))
	if resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}
	result := resp.Result.(InitializeResult)
	if result.ProtocolVersion != ProtocolVersion || result.ServerInfo.Name != "forgebridge" {
		t.Fatalf("unexpected initialize result %+v", result)
	}

	// Second initialize is rejected.
	resp = m.Handle(context.Background(), s, rpc(t, "r3", MethodInitialize, InitializeParams{}))
	if resp.Error == nil {
		t.Fatal("expected second initialize to fail")
	}
}

func TestHandle_ListToolsHonorsNegotiatedCategories(t *testing.T) {
	m, _ := newTestManager(t, &stubGitHub{})
	s := initSession(t, m, "read")

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodListTools, nil))
	if resp.Error != nil {
		t.Fatalf("tools/list: %+v", resp.Error)
	}
	tools := resp.Result.(ListToolsResult).Tools
	if len(tools) == 0 {
		t.Fatal("expected read tools")
	}
	for _, tool := range tools {
		if tool.Name == "create_issue" || tool.Name == "merge_pull_request" {
			t.Fatalf("write tool %s advertised on read-only session", tool.Name)
		}
	}
}

func TestHandle_WriteToolRejectedOnReadOnlySession(t *testing.T) {
	gh := &stubGitHub{}
	m, _ := newTestManager(t, gh)
	s := initSession(t, m, "read")

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, CallParams{
		Name:      "create_issue",
		Arguments: map[string]any{"repo": "org/repo", "title": "t"},
	}))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp)
	}
	if gh.callCount() != 0 {
		t.Fatal("disabled category reached upstream")
	}
}

func TestHandle_UnknownMethod(t *testing.T) {
	m, _ := newTestManager(t, &stubGitHub{})
	s := initSession(t, m)

	resp := m.Handle(context.Background(), s, rpc(t, "r1", "resources/list", nil))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp)
	}

	// Unknown notifications are dropped silently.
	if got := m.Handle(context.Background(), s, rpc(t, "", "notifications/unknown", nil)); got != nil {
		t.Fatalf("expected nil for unknown notification, got %+v", got)
	}
}

func TestHandle_Ping(t *testing.T) {
	m, _ := newTestManager(t, &stubGitHub{})
	s := m.Open()

	// Ping works without initialize.
	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodPing, nil))
	if resp == nil || resp.Error != nil {
		t.Fatalf("ping: %+v", resp)
	}
}

func TestHandle_SchemaViolationIsProtocolError(t *testing.T) {
	gh := &stubGitHub{}
	m, _ := newTestManager(t, gh)
	s := initSession(t, m)

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, CallParams{
		Name:      "create_comment",
		Arguments: map[string]any{"repo": "org/repo", "number": 3},
	}))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp)
	}
	detail, ok := resp.Error.Data.(*dispatch.ErrorDetail)
	if !ok || detail.Kind != dispatch.KindSchemaViolation {
		t.Fatalf("expected schema violation detail, got %+v", resp.Error.Data)
	}
	found := false
	for _, v := range detail.Violations {
		if v.Field == "body" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected violation naming body, got %+v", detail.Violations)
	}
	if gh.callCount() != 0 {
		t.Fatal("schema violation reached upstream")
	}
	if s.InFlight() != 0 {
		t.Fatalf("expected empty in-flight set, got %d", s.InFlight())
	}
}

func TestHandle_ListIssuesEndToEnd(t *testing.T) {
	pages := make([][]github.Issue, 2)
	n := 1
	for p := range pages {
		for i := 0; i < 30; i++ {
			pages[p] = append(pages[p], github.Issue{Number: n})
			n++
		}
	}
	gh := &stubGitHub{issuePages: pages}
	m, events := newTestManager(t, gh)
	s := initSession(t, m)

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, CallParams{
		Name:      "list_issues",
		Arguments: map[string]any{"repo": "org/repo", "limit": 100},
	}))
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/call: %+v", resp)
	}
	result := resp.Result.(CallResult)
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result)
	}
	issues := result.StructuredContent.([]github.Issue)
	if len(issues) != 60 {
		t.Fatalf("expected 60 issues, got %d", len(issues))
	}
	if issues[0].Number != 1 || issues[59].Number != 60 {
		t.Fatalf("order not preserved: first=%d last=%d", issues[0].Number, issues[59].Number)
	}
	if gh.callCount() != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", gh.callCount())
	}

	event := events.byRequestID(`"r1"`)
	if event == nil || event.Status != "ok" || event.ToolName != "list_issues" {
		t.Fatalf("missing or wrong audit event: %+v", event)
	}
}

func TestHandle_UpstreamFailureIsToolResult(t *testing.T) {
	gh := &stubGitHub{issueErr: &github.APIError{Kind: github.KindNotFound, StatusCode: 404, Message: "Not Found"}}
	m, events := newTestManager(t, gh)
	s := initSession(t, m)

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, CallParams{
		Name:      "get_issue",
		Arguments: map[string]any{"repo": "org/repo", "number": 9},
	}))
	if resp == nil || resp.Error != nil {
		t.Fatalf("upstream failure must not be a protocol error: %+v", resp)
	}
	result := resp.Result.(CallResult)
	if !result.IsError {
		t.Fatal("expected isError result")
	}
	detail := result.StructuredContent.(*dispatch.ErrorDetail)
	if detail.Kind != string(github.KindNotFound) {
		t.Fatalf("expected not_found, got %s", detail.Kind)
	}

	event := events.byRequestID(`"r1"`)
	if event == nil || event.Status != "error" || event.ErrorKind != string(github.KindNotFound) {
		t.Fatalf("missing or wrong audit event: %+v", event)
	}
}

func TestHandle_DuplicateRequestIDRejected(t *testing.T) {
	gh := &stubGitHub{release: make(chan struct{})}
	m, _ := newTestManager(t, gh)
	s := initSession(t, m)

	call := CallParams{Name: "get_issue", Arguments: map[string]any{"repo": "org/repo", "number": 1}}
	first := make(chan *Response, 1)
	go func() {
		first <- m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, call))
	}()

	waitInFlight(t, s, 1)

	resp := m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, call))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected duplicate id rejection, got %+v", resp)
	}

	close(gh.release)
	if got := <-first; got == nil || got.Error != nil {
		t.Fatalf("original call should still complete: %+v", got)
	}

	// The id is reusable once the original call finished.
	resp = m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, call))
	if resp == nil || resp.Error != nil {
		t.Fatalf("id reuse after completion should work: %+v", resp)
	}
}

func TestHandle_CancelNotificationDiscardsResult(t *testing.T) {
	gh := &stubGitHub{release: make(chan struct{})}
	m, events := newTestManager(t, gh)
	s := initSession(t, m)

	done := make(chan *Response, 1)
	go func() {
		done <- m.Handle(context.Background(), s, rpc(t, "r1", MethodCallTool, CallParams{
			Name:      "get_issue",
			Arguments: map[string]any{"repo": "org/repo", "number": 1},
		}))
	}()

	waitInFlight(t, s, 1)

	if got := m.Handle(context.Background(), s, rpc(t, "", MethodCancelled, CancelParams{
		RequestID: json.RawMessage(`"r1"`),
	})); got != nil {
		t.Fatalf("notification produced a response: %+v", got)
	}

	close(gh.release)
	if got := <-done; got != nil {
		t.Fatalf("cancelled call delivered a response: %+v", got)
	}

	event := events.byRequestID(`"r1"`)
	if event == nil || event.Status != "cancelled" {
		t.Fatalf("expected cancelled audit event, got %+v", event)
	}
}

func TestClose_CancelsAllInFlight(t *testing.T) {
	gh := &stubGitHub{release: make(chan struct{})}
	m, _ := newTestManager(t, gh)
	s := initSession(t, m)

	const n = 4
	done := make(chan *Response, n)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		go func(id string) {
			done <- m.Handle(context.Background(), s, rpc(t, id, MethodCallTool, CallParams{
				Name:      "get_issue",
				Arguments: map[string]any{"repo": "org/repo", "number": 1},
			}))
		}(id)
	}

	waitInFlight(t, s, n)

	m.Close(s)
	close(gh.release)

	for i := 0; i < n; i++ {
		if got := <-done; got != nil {
			t.Fatalf("disconnected session delivered a response: %+v", got)
		}
	}
	if _, ok := m.Get(s.ID); ok {
		t.Fatal("closed session still registered")
	}
}

func waitInFlight(t *testing.T, s *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.InFlight() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("in-flight never reached %d", n)
}
