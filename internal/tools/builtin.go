package tools

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// ClockTool reads the current time. READ safety; useful for grounding
// freshness claims.
type ClockTool struct {
	Clock func() time.Time
}

func (t *ClockTool) Name() string                  { return "clock" }
func (t *ClockTool) Description() string           { return "Read the current date and time" }
func (t *ClockTool) Safety() vocabulary.ToolSafety { return vocabulary.SafetyRead }

func (t *ClockTool) Execute(_ context.Context, params map[string]any) (Result, error) {
	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()
	out := now.Format(time.RFC3339)
	if f, ok := params["format"].(string); ok && f == "unix" {
		out = fmt.Sprintf("%d", now.Unix())
	}
	return Result{Success: true, Data: map[string]any{"current_time": out, "timezone": "UTC"}}, nil
}

// FileReadTool reads a local file. READ safety.
type FileReadTool struct{}

func (t *FileReadTool) Name() string                  { return "file_read" }
func (t *FileReadTool) Description() string           { return "Read the contents of a local file" }
func (t *FileReadTool) Safety() vocabulary.ToolSafety { return vocabulary.SafetyRead }

func (t *FileReadTool) Execute(_ context.Context, params map[string]any) (Result, error) {
	path, ok := params["path"].(string)
	if !ok || path == "" {
		return Result{}, fmt.Errorf("file_read: missing required parameter path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("file_read %s: %w", path, err)
	}
	return Result{Success: true, Data: map[string]any{
		"path": path, "content": string(data), "size_bytes": len(data),
	}}, nil
}

// StateStoreTool writes key-value pairs into an in-process store. WRITE
// safety; the reference effector for authorization-gated execution.
type StateStoreTool struct {
	mu    sync.Mutex
	state map[string]string
}

func (t *StateStoreTool) Name() string                  { return "state_store" }
func (t *StateStoreTool) Description() string           { return "Write a key-value pair into the shared state store" }
func (t *StateStoreTool) Safety() vocabulary.ToolSafety { return vocabulary.SafetyWrite }

func (t *StateStoreTool) Execute(_ context.Context, params map[string]any) (Result, error) {
	key, _ := params["key"].(string)
	value, _ := params["value"].(string)
	if key == "" {
		return Result{}, fmt.Errorf("state_store: missing required parameter key")
	}
	t.mu.Lock()
	if t.state == nil {
		t.state = make(map[string]string)
	}
	t.state[key] = value
	t.mu.Unlock()
	return Result{Success: true, Data: map[string]any{"key": key, "stored": true}}, nil
}

// Read returns a stored value.
func (t *StateStoreTool) Read(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.state[key]
	return v, ok
}

// RegisterBuiltins installs the built-in tool set into a registry.
func RegisterBuiltins(r *Registry) error {
	for _, tool := range []Tool{
		&ClockTool{},
		&FileReadTool{},
		&StateStoreTool{},
	} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
