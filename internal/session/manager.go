package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgebridge/forgebridge/internal/dispatch"
	"github.com/forgebridge/forgebridge/internal/registry"
	"github.com/forgebridge/forgebridge/internal/storage"
)

// ManagerConfig carries the manager's collaborators.
type ManagerConfig struct {
	Registry      *registry.Registry
	Dispatcher    *dispatch.Dispatcher
	Events        storage.EventWriter
	Logger        *zap.Logger
	ServerName    string
	ServerVersion string
}

// Manager owns every live session and routes decoded JSON-RPC messages to
// the dispatcher. It is safe for concurrent use; each tools/call runs on the
// calling goroutine, so a slow upstream call suspends only its own caller.
type Manager struct {
	registry *registry.Registry
	disp     *dispatch.Dispatcher
	events   storage.EventWriter
	logger   *zap.Logger
	info     ServerInfo

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: cfg.Registry,
		disp:     cfg.Dispatcher,
		events:   cfg.Events,
		logger:   logger,
		info:     ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion},
		sessions: make(map[string]*Session),
	}
}

// Open creates a session. The session is unusable until initialize.
func (m *Manager) Open() *Session {
	s := newSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("session opened", zap.String("session_id", s.ID))
	return s
}

// Get looks up a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears down a session. Every in-flight call is cancelled; results
// that arrive later are silently discarded.
func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	cancelled := s.cancelAll()
	m.logger.Info("session closed",
		zap.String("session_id", s.ID),
		zap.Int("cancelled_in_flight", cancelled),
	)
}

// Handle processes one decoded message for the session. A nil return means
// no response is delivered: notifications, and calls whose results were
// discarded after cancellation.
func (m *Manager) Handle(ctx context.Context, s *Session, req *Request) *Response {
	if req.JSONRPC != JSONRPCVersion {
		if req.Notification() {
			return nil
		}
		return errResponse(req.ID, CodeInvalidRequest, "unsupported jsonrpc version", nil)
	}

	switch req.Method {
	case MethodInitialize:
		return m.handleInitialize(s, req)
	case MethodPing:
		if req.Notification() {
			return nil
		}
		return okResponse(req.ID, struct{}{})
	case MethodListTools:
		return m.handleListTools(s, req)
	case MethodCallTool:
		return m.handleCall(ctx, s, req)
	case MethodCancelled:
		m.handleCancel(s, req)
		return nil
	default:
		if req.Notification() {
			return nil
		}
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

func (m *Manager) handleInitialize(s *Session, req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "malformed initialize params", nil)
		}
	}

	categories := make([]registry.Category, 0, len(params.Capabilities.ToolCategories))
	for _, raw := range params.Capabilities.ToolCategories {
		c := registry.Category(raw)
		if c != registry.CategoryRead && c != registry.CategoryWrite {
			return errResponse(req.ID, CodeInvalidParams,
				fmt.Sprintf("unknown tool category: %s", raw), nil)
		}
		categories = append(categories, c)
	}

	if err := s.initialize(categories); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error(), nil)
	}

	m.logger.Info("session initialized",
		zap.String("session_id", s.ID),
		zap.String("client", params.ClientInfo.Name),
		zap.Strings("tool_categories", params.Capabilities.ToolCategories),
	)

	return okResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: ToolsCapability{ListChanged: false}},
		ServerInfo:      m.info,
	})
}

func (m *Manager) handleListTools(s *Session, req *Request) *Response {
	if !s.Initialized() {
		return errResponse(req.ID, CodeInvalidParams, ErrNotInitialized.Error(), nil)
	}

	defs := m.registry.List()
	tools := make([]ToolDescriptor, 0, len(defs))
	for _, def := range defs {
		if !s.allows(def.Category) {
			continue
		}
		tools = append(tools, ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return okResponse(req.ID, ListToolsResult{Tools: tools})
}

func (m *Manager) handleCall(ctx context.Context, s *Session, req *Request) *Response {
	if req.Notification() {
		return nil
	}

	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errResponse(req.ID, CodeInvalidParams, "malformed tools/call params", nil)
	}

	def, err := m.registry.Lookup(params.Name)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error(),
			map[string]string{"kind": dispatch.KindUnknownTool, "tool": params.Name})
	}
	if !s.allows(def.Category) {
		return errResponse(req.ID, CodeInvalidParams, ErrCategoryDisabled.Error(),
			map[string]string{"tool": params.Name, "category": string(def.Category)})
	}

	key := req.Key()
	call := dispatch.NewCall(key, params.Name, params.Arguments)
	if err := s.track(key, call); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error(), nil)
	}

	start := time.Now()
	res := m.disp.Dispatch(ctx, call)
	m.audit(s, def, params, call, res, start)

	return m.respond(s, req, call, res)
}

// respond frames the dispatch result under the session's send lock, so each
// response leaves the moment its call completes. Cancelled calls produce no
// response at all.
func (m *Manager) respond(s *Session, req *Request, call *dispatch.Call, res *dispatch.Result) *Response {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.finish(req.Key(), call) {
		m.logger.Debug("discarding result for cancelled call",
			zap.String("session_id", s.ID),
			zap.String("request_id", req.Key()),
			zap.String("tool", call.Tool),
		)
		return nil
	}

	if res.Status == dispatch.StatusOk {
		return okResponse(req.ID, CallResult{
			Content:           []ContentBlock{{Type: "text", Text: payloadText(res.Payload)}},
			StructuredContent: res.Payload,
		})
	}

	switch res.Error.Kind {
	case dispatch.KindSchemaViolation, dispatch.KindUnknownTool:
		// Caller-side errors are protocol errors, not tool results.
		return errResponse(req.ID, CodeInvalidParams, res.Error.Message, res.Error)
	case dispatch.KindInternal:
		return errResponse(req.ID, CodeInternal, res.Error.Message, nil)
	default:
		// Upstream failures are well-formed tool results.
		return okResponse(req.ID, CallResult{
			Content:           []ContentBlock{{Type: "text", Text: res.Error.Message}},
			StructuredContent: res.Error,
			IsError:           true,
		})
	}
}

func (m *Manager) handleCancel(s *Session, req *Request) {
	var params CancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
		return
	}
	key := string(params.RequestID)
	if s.cancel(key) {
		m.logger.Info("call cancelled",
			zap.String("session_id", s.ID),
			zap.String("request_id", key),
			zap.String("reason", params.Reason),
		)
	}
}

func (m *Manager) audit(s *Session, def *registry.ToolDefinition, params CallParams, call *dispatch.Call, res *dispatch.Result, start time.Time) {
	if m.events == nil {
		return
	}

	args, _ := json.Marshal(params.Arguments)
	event := &storage.ToolCallEvent{
		RequestID:     call.RequestID,
		SessionID:     s.ID,
		Timestamp:     start.UTC(),
		ToolName:      def.Name,
		Category:      string(def.Category),
		ArgumentsJSON: string(args),
		Status:        string(res.Status),
		LatencyMs:     float32(time.Since(start).Seconds() * 1000),
		Source:        "mcp",
	}
	if call.State() == dispatch.StateCancelled {
		event.Status = "cancelled"
	}
	if res.Error != nil {
		event.ErrorKind = res.Error.Kind
		event.ErrorDetail = res.Error.Message
		event.FailedStep = res.Error.FailedStep
	}
	m.events.Write(event)
}

// payloadText renders the payload as the human-readable content block.
func payloadText(payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(raw)
}
