package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blob() string { return strings.Repeat("QUJD", 100) } // 400 chars of valid base64

func TestExtractImagesStructured(t *testing.T) {
	doc := map[string]any{
		"tool_name": "view_image",
		"result": map[string]any{
			"_view_image":   true,
			"attachment_id": "att-1",
			"content_type":  "image/jpeg",
			"base64_data":   blob(),
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	cleaned, images := ExtractImages(string(raw))
	require.Len(t, images, 1)
	assert.Equal(t, "att-1", images[0].AttachmentID)
	assert.Equal(t, "image/jpeg", images[0].ContentType)
	assert.Equal(t, blob(), images[0].Base64Data)
	assert.NotContains(t, cleaned, blob())
	assert.Contains(t, cleaned, strippedNote)
}

func TestExtractImagesStringEncoded(t *testing.T) {
	// The notifications payload is a JSON array *string* inside the content
	// object, so the blob hides one encoding level down.
	inner, err := json.Marshal([]map[string]any{{
		"notification_type": "tool_result",
		"payload": map[string]any{
			"result": map[string]any{"base64_data": blob(), "content_type": "image/png"},
		},
	}})
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{"notifications": string(inner)})
	require.NoError(t, err)

	cleaned, images := ExtractImages(string(outer))
	require.Len(t, images, 1)
	assert.Equal(t, blob(), images[0].Base64Data)
	assert.NotContains(t, cleaned, blob())
}

func TestExtractImagesIgnoresShortStrings(t *testing.T) {
	raw := `{"base64_data":"c2hvcnQ=","content_type":"image/png"}`
	cleaned, images := ExtractImages(raw)
	assert.Empty(t, images)
	assert.JSONEq(t, raw, cleaned)
}

func TestExtractImagesPlainTextUntouched(t *testing.T) {
	cleaned, images := ExtractImages("just some prose, no JSON here")
	assert.Empty(t, images)
	assert.Equal(t, "just some prose, no JSON here", cleaned)
}
