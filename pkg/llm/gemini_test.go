package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToContentsRolesAndParts(t *testing.T) {
	msgs := []Message{
		TextMessage(RoleUser, "System: be helpful"),
		TextMessage(RoleModel, `{"thought":"ok"}`),
		{
			Role: RoleUser,
			Parts: []Part{
				{Text: "see attached"},
				{Data: []byte{0xFF, 0xD8}, MIMEType: "image/jpeg"},
			},
		},
	}

	contents := toContents(msgs)
	require.Len(t, contents, 3)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)

	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "see attached", contents[2].Parts[0].Text)
	require.NotNil(t, contents[2].Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", contents[2].Parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte{0xFF, 0xD8}, contents[2].Parts[1].InlineData.Data)
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(t.Context(), "")
	assert.Error(t, err)
}
