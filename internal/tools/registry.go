package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/forgehq/forge/internal/sandbox"
)

// SubagentController is the optional capability a tool Env exposes when
// dispatch is happening inside a live Session, letting subagent tools
// (spawn_agent, send_input, wait, close_agent) manage child sessions.
// Outside a dispatcher (Env.Subagents() returning nil) those tools return a
// tool-level error per spec.md §4.3.
type SubagentController interface {
	Spawn(ctx context.Context, systemPrompt, initialInput string) (subagentID string, err error)
	SendInput(ctx context.Context, subagentID, input string) error
	Wait(ctx context.Context, subagentID string) (result string, err error)
	Close(ctx context.Context, subagentID string) error
}

// Env is the execution context handed to every tool Executor: the sandboxed
// filesystem/process surface, and, when running inside a Session dispatch
// loop, the subagent controller.
type Env interface {
	Exec() sandbox.ExecutionEnvironment
	Subagents() SubagentController // nil outside a dispatcher
}

// Executor implements one tool's behavior: args are parsed and checked with
// Tool.Validate (called by the Session's tool dispatch) before Executor runs,
// so executors receive already-decoded JSON arguments.
type Executor func(ctx context.Context, env Env, args map[string]any) (string, error)

// Tool is one registered tool: its JSON-schema parameters and executor.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
	Execute     Executor

	compiled *jsonschema.Schema
}

// Registry maps tool name to (schema, executor).
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Tool)}
}

// Register adds or replaces a tool, compiling its JSON schema eagerly so
// dispatch-time validation never pays a compile cost.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if t.Parameters != nil {
		compiled, err := compileSchema(t.Name, t.Parameters)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
		}
		t.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t
	r.byKey[t.Name] = &cp
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[name]
	return t, ok
}

// Definitions returns every registered tool's name/description/schema,
// sorted by name, for building a provider Request's tool list.
func (r *Registry) Definitions() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func compileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Validate parses args as JSON (accepting either a structured map or a
// stringified JSON blob per spec.md §4.3 step 3) and validates it against
// the tool's schema.
func (t *Tool) Validate(argsJSON string) (map[string]any, error) {
	parsed, err := parseToolArgs(argsJSON)
	if err != nil {
		return nil, fmt.Errorf("tools: parse arguments: %w", err)
	}
	if t.compiled != nil {
		if err := t.compiled.Validate(parsed); err != nil {
			return nil, fmt.Errorf("tools: validate arguments: %w", err)
		}
	}
	return parsed, nil
}

// parseToolArgs accepts a JSON object, or a JSON string containing a JSON
// object (some providers double-encode tool arguments), and always returns
// a map.
func parseToolArgs(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		return m, nil
	}
	// Maybe it's a JSON string literal wrapping the real object.
	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		var m2 map[string]any
		if err := json.Unmarshal([]byte(inner), &m2); err == nil {
			return m2, nil
		}
	}
	return nil, fmt.Errorf("arguments are neither a JSON object nor a JSON string wrapping one")
}
