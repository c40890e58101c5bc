// Package prompt assembles the LLM input for a cycle and parses the LLM
// output. It owns live system-prompt resolution: database first, filesystem
// fallback, with hash-based change detection mirrored into the transcript.
package prompt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kindred-labs/kindred/pkg/statestore"
	"github.com/kindred-labs/kindred/pkg/tools"
)

// PromptSource resolves the agent's stored system prompt. Satisfied by the
// state store client; nil disables the database path.
type PromptSource interface {
	GetFullPromptContent(ctx context.Context, agentID string) (string, error)
}

// ChangedFunc is invoked when the resolved prompt content differs from the
// previously observed hash; it mirrors the content into the transcript's
// system message.
type ChangedFunc func(ctx context.Context, content string)

// Resolver produces the per-cycle system message.
type Resolver struct {
	agentName  string
	source     PromptSource
	promptPath string
	registry   *tools.Registry
	onChanged  ChangedFunc
	log        *slog.Logger

	mu       sync.Mutex
	lastHash string
}

// NewResolver wires a resolver. source may be nil (file-only resolution);
// onChanged may be nil (no mirroring).
func NewResolver(agentName string, source PromptSource, promptPath string, registry *tools.Registry, onChanged ChangedFunc) *Resolver {
	return &Resolver{
		agentName:  agentName,
		source:     source,
		promptPath: promptPath,
		registry:   registry,
		onChanged:  onChanged,
		log:        slog.With("agent", agentName, "component", "prompt"),
	}
}

// BuildSystemMessage resolves the raw prompt, renders the {tools}
// placeholder against the tools available in tctx, and fires the change
// callback when the rendered content's hash moved.
func (r *Resolver) BuildSystemMessage(ctx context.Context, tctx tools.AvailabilityContext) (string, error) {
	raw, err := r.resolveRaw(ctx)
	if err != nil {
		return "", err
	}

	rendered := strings.Replace(raw, tools.ToolsPlaceholder, r.registry.RenderInfo(tctx), 1)

	sum := md5.Sum([]byte(rendered)) // change detection only
	hash := hex.EncodeToString(sum[:])

	r.mu.Lock()
	changed := hash != r.lastHash
	r.lastHash = hash
	r.mu.Unlock()

	if changed && r.onChanged != nil {
		r.log.Info("System prompt changed, mirroring to transcript")
		r.onChanged(ctx, rendered)
	}
	return rendered, nil
}

// resolveRaw prefers the database prompt and falls back to the prompt file.
func (r *Resolver) resolveRaw(ctx context.Context) (string, error) {
	if r.source != nil {
		content, err := r.source.GetFullPromptContent(ctx, r.agentName)
		if err == nil && content != "" {
			return content, nil
		}
		if err != nil && !errors.Is(err, statestore.ErrNotFound) {
			r.log.Warn("Database prompt unavailable, falling back to file", "error", err)
		}
	}

	raw, err := os.ReadFile(r.promptPath)
	if err != nil {
		return "", fmt.Errorf("reading system prompt %s: %w", r.promptPath, err)
	}
	return string(raw), nil
}
