// Package tools defines the tool capability interface, the per-agent tool
// registry, and the core tools the runtime ships with (sleep, shutdown,
// messaging, call handling, prompt editing, image viewing).
//
// Tools own their outbound channel: they publish their own result
// notifications and never return values to the loop. Configuration is passed
// in at construction so tools hold no back-pointer to the agent.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kindred-labs/kindred/pkg/models"
)

// AvailabilityContext gates tools by call session state. It is built from
// the most recent call-bearing notification or survives from the previous
// cycle.
type AvailabilityContext struct {
	SessionID string
	CallID    string
	FastMode  bool
}

// IsOnCall reports whether a call is in progress.
func (c AvailabilityContext) IsOnCall() bool { return c.CallID != "" }

// Tool is the fixed capability set every tool implements.
type Tool interface {
	// Name is the dispatch key.
	Name() string
	// Info renders the tool's usage block for the system prompt.
	Info() string
	// Validate checks arguments before execution.
	Validate(args map[string]any) error
	// IsAvailable reports whether the tool may run in the given context.
	IsAvailable(tctx AvailabilityContext) bool
	// Execute runs the tool for its side effects. Result delivery happens
	// through the tool's own published notification, not a return value.
	Execute(ctx context.Context, args map[string]any) error
}

// Publisher is the outbound channel tools publish results on.
type Publisher interface {
	Publish(ctx context.Context, queue string, n models.Notification) error
}

// fastModeTools are the only tools rendered or executable during fast mode.
var fastModeTools = map[string]bool{
	"speak":   true,
	"hang_up": true,
}

// FastModeAllowed reports whether a tool may run in fast mode.
func FastModeAllowed(name string) bool { return fastModeTools[name] }

// Registry is a named set of tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Available returns the tools that pass IsAvailable for tctx, sorted by
// name. In fast mode only speak and hang_up are considered.
func (r *Registry) Available(tctx AvailabilityContext) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for name, t := range r.tools {
		if tctx.FastMode && !fastModeTools[name] {
			continue
		}
		if t.IsAvailable(tctx) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RenderInfo joins the Info blocks of the available tools for the {tools}
// placeholder.
func (r *Registry) RenderInfo(tctx AvailabilityContext) string {
	var blocks []string
	for _, t := range r.Available(tctx) {
		blocks = append(blocks, t.Info())
	}
	return strings.Join(blocks, "\n\n")
}

// requireString extracts a required non-empty string argument.
func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}
