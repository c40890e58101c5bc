package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kindred-labs/kindred/pkg/models"
)

// Task-type markers prefixed onto embedding inputs. The memory store indexes
// documents; the retriever searches with queries.
const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// EmbeddingService is the production Embedder. It is constructed once per
// process and shared by the memory store and both memory modules.
type EmbeddingService struct {
	client *genai.Client
	model  string
}

// NewEmbeddingService wraps an existing Gemini client for embeddings.
func NewEmbeddingService(g *Gemini, model string) *EmbeddingService {
	return &EmbeddingService{client: g.client, model: model}
}

// EmbedMemory embeds memory content for indexing.
func (s *EmbeddingService) EmbedMemory(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, documentPrefix+text, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery embeds a retrieval query.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, queryPrefix+text, "RETRIEVAL_QUERY")
}

func (s *EmbeddingService) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	dim := int32(models.EmbeddingDim)
	resp, err := s.client.Models.EmbedContent(ctx, s.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dim,
		})
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}
	vec := resp.Embeddings[0].Values
	if len(vec) != models.EmbeddingDim {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(vec), models.EmbeddingDim)
	}
	return vec, nil
}
