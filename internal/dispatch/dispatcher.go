// Package dispatch resolves tool-call requests to registry entries,
// validates arguments, drives the mapped GitHub operations, and shapes the
// outcome back into a ToolCallResult.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forgebridge/forgebridge/internal/registry"
)

// Handler executes one tool against the upstream and returns its payload.
type Handler func(ctx context.Context, args Arguments) (any, error)

// Dispatcher owns the tool handler table. It is stateless per call; all
// per-call state lives on the Call.
type Dispatcher struct {
	registry *registry.Registry
	handlers map[string]Handler
	logger   *zap.Logger
}

// GitHubOps is the slice of the GitHub client the handlers need. The
// concrete client satisfies it; tests substitute a fake.
type GitHubOps interface {
	viewerOps
	issueOps
	pullOps
	repoOps
}

// New builds a dispatcher for every tool in the registry. A registered tool
// without a handler is a configuration error and fails startup.
func New(reg *registry.Registry, gh GitHubOps, logger *zap.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		registry: reg,
		logger:   logger,
	}
	d.handlers = buildHandlers(d, gh)

	for _, def := range reg.List() {
		if _, ok := d.handlers[def.Name]; !ok {
			return nil, fmt.Errorf("tool %q is registered but has no handler", def.Name)
		}
	}
	return d, nil
}

// Dispatch runs one call through the state machine and returns its result.
// The invariant that no unvalidated arguments reach the GitHub client is
// enforced here: the handler only runs after Validated.
//
// Dispatch always returns a result; the session manager discards it when
// the call ended Cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Call) *Result {
	start := time.Now()

	def, err := d.registry.Lookup(c.Tool)
	if err != nil {
		c.advance(StateReceived, StateFailed)
		return errorResult(c, toErrorDetail(err))
	}

	// Received → Validated
	if err := d.registry.Validate(c.Tool, c.Args); err != nil {
		c.advance(StateReceived, StateFailed)
		return errorResult(c, toErrorDetail(err))
	}
	if !c.advance(StateReceived, StateValidated) {
		return errorResult(c, &ErrorDetail{Kind: KindCancelled, Message: "call cancelled before dispatch"})
	}

	handler := d.handlers[c.Tool]

	// Validated → Dispatched
	if !c.advance(StateValidated, StateDispatched) {
		return errorResult(c, &ErrorDetail{Kind: KindCancelled, Message: "call cancelled before dispatch"})
	}

	payload, err := handler(ctx, Arguments{values: c.Args, def: def})

	if err != nil {
		c.advance(StateDispatched, StateFailed)
		detail := toErrorDetail(err)
		d.logger.Warn("tool call failed",
			zap.String("request_id", c.RequestID),
			zap.String("tool", c.Tool),
			zap.String("kind", detail.Kind),
			zap.String("state", c.State().String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return errorResult(c, detail)
	}

	c.advance(StateDispatched, StateCompleted)
	d.logger.Debug("tool call completed",
		zap.String("request_id", c.RequestID),
		zap.String("tool", c.Tool),
		zap.Duration("elapsed", time.Since(start)),
	)
	return okResult(c, payload)
}
