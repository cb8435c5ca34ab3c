package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ToolDeclaration advertises a callable capability to a provider.
// Parameters is a JSON schema object, nil for tools that take no arguments.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolFunc executes a capability synchronously and returns text for the model.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	decl ToolDeclaration
	fn   ToolFunc
}

// ToolTable maps capability names to callbacks.
type ToolTable struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

func NewToolTable() *ToolTable {
	return &ToolTable{tools: make(map[string]registeredTool)}
}

// Register adds a capability. Names must be unique.
func (t *ToolTable) Register(decl ToolDeclaration, fn ToolFunc) error {
	if decl.Name == "" {
		return errors.New("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q has no callback", decl.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tools[decl.Name]; exists {
		return fmt.Errorf("tool %q already registered", decl.Name)
	}
	t.tools[decl.Name] = registeredTool{decl: decl, fn: fn}
	t.order = append(t.order, decl.Name)
	return nil
}

// Declarations returns the registered capabilities in registration order.
func (t *ToolTable) Declarations() []ToolDeclaration {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ToolDeclaration, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.tools[name].decl)
	}
	return out
}

// Has reports whether name is registered.
func (t *ToolTable) Has(name string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tools[name]
	return ok
}

// Call runs the named capability. Errors are returned as text so the model
// can explain them; a panicking callback is treated the same way.
func (t *ToolTable) Call(ctx context.Context, name string, args map[string]any) (result string) {
	if t == nil {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	t.mu.RLock()
	tool, ok := t.tools[name]
	t.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("error: %s failed: %v", name, r)
		}
	}()

	out, err := tool.fn(ctx, args)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return out
}

// InputSchema returns the declared parameters, or an empty object schema for
// providers that require one.
func (d ToolDeclaration) InputSchema() map[string]any {
	if d.Parameters == nil {
		return ObjectSchema(nil)
	}
	return d.Parameters
}

// ObjectSchema builds a JSON schema object with string-typed properties.
// props maps property name to description; required lists mandatory names.
func ObjectSchema(props map[string]string, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{"type": "string", "description": desc}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringArg reads a tool argument as a string.
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// IntArg reads a tool argument as an int, returning def when absent or invalid.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
