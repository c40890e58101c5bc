package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kindred-labs/kindred/pkg/models"
)

// maxRenderedContent bounds one transcript row in a module prompt.
const maxRenderedContent = 2000

// renderTranscript formats the last window transcript rows as role-prefixed
// lines for a module prompt.
func renderTranscript(msgs []models.TranscriptMessage, window int) string {
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	var b strings.Builder
	for _, m := range msgs {
		content := string(m.Content)
		if len(content) > maxRenderedContent {
			content = content[:maxRenderedContent] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return b.String()
}

// renderRecords lists records one per line for a module prompt.
func renderRecords(records []Record) string {
	if len(records) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- id=%s type=%s importance=%.2f created=%s content=%q\n",
			r.ID, r.MemoryType, r.Importance, r.CreatedAt.Format("2006-01-02"), r.Content)
	}
	return b.String()
}

// decodeDecision strips an optional markdown fence and unmarshals the module
// response.
func decodeDecision(raw string, out any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}
	return json.Unmarshal([]byte(text), out)
}
