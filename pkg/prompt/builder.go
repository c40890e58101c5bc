package prompt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-labs/kindred/pkg/llm"
	"github.com/kindred-labs/kindred/pkg/models"
	"github.com/kindred-labs/kindred/pkg/tools"
)

// BuildInput carries everything one cycle feeds the builder.
type BuildInput struct {
	// Existing is the ordered transcript loaded from the state store.
	Existing []models.TranscriptMessage
	// Notifications are the freshly drained queue messages.
	Notifications []models.Notification
	// RetrievedMemories is the retriever's output for this cycle, if any.
	RetrievedMemories []models.ProvidedMemory
	// PendingImages are blobs queued by earlier view_image results.
	PendingImages []Image
	// ToolContext gates the rendered tool list.
	ToolContext tools.AvailabilityContext
}

// Builder assembles the flat message list for the model.
type Builder struct {
	resolver *Resolver
	// maxMessages bounds the conversation; 0 means unlimited.
	maxMessages int
	log         *slog.Logger
}

// NewBuilder creates a builder on top of a prompt resolver.
func NewBuilder(resolver *Resolver, maxMessages int) *Builder {
	return &Builder{
		resolver:    resolver,
		maxMessages: maxMessages,
		log:         slog.With("component", "prompt"),
	}
}

// chatMessage is the intermediate shape before provider conversion; it keeps
// the transcript role so trimming can honor role constraints.
type chatMessage struct {
	role   models.MessageRole
	text   string
	images []Image
}

// BuildConversation produces the ordered LLM input. The first element is a
// freshly resolved system message; a stored system row in Existing is
// dropped in its favor.
func (b *Builder) BuildConversation(ctx context.Context, in BuildInput) ([]llm.Message, error) {
	system, err := b.resolver.BuildSystemMessage(ctx, in.ToolContext)
	if err != nil {
		return nil, err
	}
	msgs := []chatMessage{{role: models.RoleSystem, text: system}}

	existing := in.Existing
	if len(existing) > 0 && existing[0].Role == models.RoleSystem {
		existing = existing[1:]
	}
	for _, m := range existing {
		text, images := ExtractImages(string(m.Content))
		msgs = append(msgs, chatMessage{role: m.Role, text: text, images: images})
	}

	if len(in.Notifications) > 0 {
		serialized, err := json.Marshal(in.Notifications)
		if err != nil {
			return nil, fmt.Errorf("serializing notifications: %w", err)
		}
		content, _ := json.Marshal(map[string]json.RawMessage{"notifications": serialized})
		text, images := ExtractImages(string(content))
		msgs = append(msgs, chatMessage{role: models.RoleUser, text: text, images: images})
	}

	if len(in.RetrievedMemories) > 0 {
		content, err := json.Marshal(models.ProactiveMemoriesContent{
			Type:     "proactive_memories",
			Memories: in.RetrievedMemories,
		})
		if err != nil {
			return nil, fmt.Errorf("serializing memories: %w", err)
		}
		msgs = append(msgs, chatMessage{role: models.RoleUser, text: string(content)})
	}

	// Pending images from prior view_image calls attach to the most recent
	// user message. Blobs already collected by ExtractImages above (the same
	// tool_result rides in the notifications batch) are skipped so the model
	// sees each image once.
	if pending := dedupPending(in.PendingImages, msgs); len(pending) > 0 {
		attached := false
		for i := len(msgs) - 1; i > 0; i-- {
			if msgs[i].role == models.RoleUser {
				msgs[i].images = append(msgs[i].images, pending...)
				attached = true
				break
			}
		}
		if !attached {
			b.log.Warn("No user message to attach pending images to", "count", len(pending))
		}
	}

	msgs = b.trim(msgs)
	return toLLMMessages(msgs), nil
}

// dedupPending drops pending images whose payload is already attached to a
// message. Keyed on the raw base64 since the regex extraction path carries no
// attachment id.
func dedupPending(pending []Image, msgs []chatMessage) []Image {
	if len(pending) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	for _, m := range msgs {
		for _, img := range m.images {
			seen[img.Base64Data] = true
		}
	}
	var fresh []Image
	for _, img := range pending {
		if seen[img.Base64Data] {
			continue
		}
		seen[img.Base64Data] = true
		fresh = append(fresh, img)
	}
	return fresh
}

// trim drops oldest messages (keeping the system row) until the list fits,
// then ensures the first non-system message has role user.
func (b *Builder) trim(msgs []chatMessage) []chatMessage {
	if b.maxMessages <= 0 || len(msgs) <= b.maxMessages {
		return msgs
	}
	over := len(msgs) - b.maxMessages
	trimmed := append([]chatMessage{msgs[0]}, msgs[1+over:]...)
	for len(trimmed) > 1 && trimmed[1].role != models.RoleUser {
		trimmed = append(trimmed[:1], trimmed[2:]...)
	}
	b.log.Debug("Trimmed conversation", "kept", len(trimmed))
	return trimmed
}

// toLLMMessages converts to the provider-neutral shape. The system message
// becomes the first user message prefixed "System: "; assistant rows map to
// the model role; image blobs become binary parts.
func toLLMMessages(msgs []chatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		var lm llm.Message
		switch m.role {
		case models.RoleSystem:
			lm = llm.TextMessage(llm.RoleUser, "System: "+m.text)
		case models.RoleAssistant:
			lm = llm.TextMessage(llm.RoleModel, m.text)
		default:
			lm = llm.TextMessage(llm.RoleUser, m.text)
		}
		for _, img := range m.images {
			data, err := base64.StdEncoding.DecodeString(img.Base64Data)
			if err != nil {
				slog.Warn("Dropping undecodable image part", "attachment_id", img.AttachmentID)
				continue
			}
			mime := img.ContentType
			if mime == "" {
				mime = "image/png"
			}
			lm.Parts = append(lm.Parts, llm.Part{Data: data, MIMEType: mime})
		}
		out = append(out, lm)
	}
	return out
}

// NotificationUserContent is the transcript content object the loop persists
// for a drained notification batch.
func NotificationUserContent(notifications []models.Notification) (json.RawMessage, error) {
	serialized, err := json.Marshal(notifications)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(map[string]json.RawMessage{"notifications": serialized})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// MemoriesUserContent is the transcript content object for retrieved
// memories.
func MemoriesUserContent(memories []models.ProvidedMemory) (json.RawMessage, error) {
	return json.Marshal(models.ProactiveMemoriesContent{
		Type:     "proactive_memories",
		Memories: memories,
	})
}

// ProvidedMemoryView formats a memory for injection.
func ProvidedMemoryView(content string, createdAt time.Time, importance float64) models.ProvidedMemory {
	return models.ProvidedMemory{
		Content:    content,
		Datetime:   createdAt.UTC().Format(time.RFC3339),
		Importance: importance,
	}
}
