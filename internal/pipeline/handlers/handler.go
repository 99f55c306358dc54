// Package handlers implements the Pipeline Engine's per-node handlers and
// the shape→type registry that resolves a node to one. Grounded on
// original_source forge-attractor/src/handlers/{mod,registry}.rs.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// Handler executes one node, reading and proposing writes to the shared
// runtime Context, and reports a Outcome driving retry/edge selection.
type Handler interface {
	Execute(ctx context.Context, node graph.Node, store *pstate.Store, g graph.Graph) (pstate.Outcome, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, node graph.Node, store *pstate.Store, g graph.Graph) (pstate.Outcome, error)

func (f HandlerFunc) Execute(ctx context.Context, node graph.Node, store *pstate.Store, g graph.Graph) (pstate.Outcome, error) {
	return f(ctx, node, store, g)
}

// DefaultHandlerType is used when a node's explicit type and shape mapping
// both fail to resolve.
const DefaultHandlerType = "codergen"

// Registry resolves a Node to a Handler by explicit "type" attribute, else
// shape→type mapping, else DefaultHandlerType.
type Registry struct {
	byType            map[string]Handler
	shapeToType       map[string]string
	defaultType       string
}

// NewRegistry builds a Registry pre-seeded with the built-in shape mapping.
func NewRegistry() *Registry {
	return &Registry{
		byType:      make(map[string]Handler),
		shapeToType: defaultShapeMapping(),
		defaultType: DefaultHandlerType,
	}
}

// RegisterType binds handlerType to handler, replacing any prior binding.
func (r *Registry) RegisterType(handlerType string, handler Handler) {
	r.byType[handlerType] = handler
}

// RegisterShapeMapping overrides (or adds) a shape→type mapping.
func (r *Registry) RegisterShapeMapping(shape, handlerType string) {
	r.shapeToType[shape] = handlerType
}

// SetDefaultHandlerType changes the fallback handler type.
func (r *Registry) SetDefaultHandlerType(handlerType string) { r.defaultType = handlerType }

// ResolveType returns the handler type a node resolves to, without
// resolving an actual Handler instance.
func (r *Registry) ResolveType(node graph.Node) string {
	if t := strings.TrimSpace(node.Attrs.GetString("type", "")); t != "" {
		return t
	}
	shape := node.Attrs.GetString("shape", "box")
	if t, ok := r.shapeToType[shape]; ok {
		return t
	}
	return r.defaultType
}

// Resolve returns the Handler for node, falling back to the default
// handler type's instance if node's resolved type isn't registered.
func (r *Registry) Resolve(node graph.Node) (Handler, error) {
	handlerType := r.ResolveType(node)
	if h, ok := r.byType[handlerType]; ok {
		return h, nil
	}
	if h, ok := r.byType[r.defaultType]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for type %q", handlerType)
}

func defaultShapeMapping() map[string]string {
	return map[string]string{
		"Mdiamond":     "start",
		"Msquare":      "exit",
		"box":          "codergen",
		"hexagon":      "wait.human",
		"diamond":      "conditional",
		"component":    "parallel",
		"tripleoctagon": "parallel.fan_in",
		"parallelogram": "tool",
		"house":        "stack.manager_loop",
	}
}
