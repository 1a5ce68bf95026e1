// Package tools implements the effector contract used by the
// task-prosecution layer. Tools are side-effectful plug-ins; the registry
// only guarantees that every execution returns a bounded result, produces a
// well-formed evidence reference, and that WRITE or MIXED tools refuse to
// run without a valid authorization token.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/protoerr"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Result is what a tool execution returns.
type Result struct {
	Success bool
	Data    map[string]any
	Error   string
}

// Tool is a single effector.
type Tool interface {
	Name() string
	Description() string
	Safety() vocabulary.ToolSafety
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// Registry holds the available tools and gates execution on token validity.
type Registry struct {
	mu    sync.RWMutex
	log   *zap.Logger
	tools map[string]Tool
	clock func() time.Time
}

// RegistryOption configures a registry.
type RegistryOption func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// WithClock replaces the time source, for deterministic tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:   zap.NewNop(),
		tools: make(map[string]Tool),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("register tool %s: already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Execute runs a tool and wraps its output with an evidence reference.
// WRITE and MIXED tools are refused without a valid token whose scope covers
// the tool; the registry never mutates token usage — that stays with the
// episode ledger.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any,
	token *packet.ToolAuthorizationPayload) (Result, packet.EvidenceRef, error) {

	tool, ok := r.Get(name)
	if !ok {
		return Result{}, packet.EvidenceRef{}, fmt.Errorf("execute tool %s: not registered", name)
	}

	if tool.Safety().RequiresAuthorization() {
		if err := r.checkToken(tool, token); err != nil {
			return Result{}, packet.EvidenceRef{}, err
		}
	}

	started := r.clock()
	result, err := tool.Execute(ctx, params)
	if err != nil {
		r.log.Warn("tool execution failed",
			zap.String("tool", name), zap.Error(err))
		return Result{Success: false, Error: err.Error()}, packet.EvidenceRef{}, err
	}

	ref := packet.EvidenceRef{
		RefType:   vocabulary.RefToolOutput,
		RefID:     fmt.Sprintf("tool_%s_%d", name, started.UnixNano()),
		Timestamp: started,
	}
	return result, ref, nil
}

func (r *Registry) checkToken(tool Tool, token *packet.ToolAuthorizationPayload) error {
	if token == nil {
		return fmt.Errorf("tool %s requires authorization: %w", tool.Name(), protoerr.ErrTokenInvalid)
	}
	if token.Revoked {
		return fmt.Errorf("token %s revoked: %w", token.TokenID, protoerr.ErrTokenInvalid)
	}
	if !token.Expiry.After(r.clock()) {
		return fmt.Errorf("token %s expired: %w", token.TokenID, protoerr.ErrTokenInvalid)
	}
	if token.UsageCount >= token.MaxUsageCount {
		return fmt.Errorf("token %s usage exhausted: %w", token.TokenID, protoerr.ErrTokenInvalid)
	}
	if !token.AuthorizedScope.Covers(tool.Name(), "write") {
		return fmt.Errorf("token %s scope does not cover tool %s: %w",
			token.TokenID, tool.Name(), protoerr.ErrTokenInvalid)
	}
	return nil
}
