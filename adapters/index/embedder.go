package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"google.golang.org/genai"

	"discernus/domain/core"
)

// GeminiEmbedder produces semantic embeddings via the Gemini embedding API
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder creates the embedder
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY", core.ErrMissingCredentials)
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dims: 768}, nil
}

func (e *GeminiEmbedder) Dimensions() int { return e.dims }

// Embed embeds a batch of texts
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed batch: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// HashingEmbedder is the deterministic offline fallback: token feature
// hashing into a fixed-width L2-normalized vector. It captures lexical
// overlap, not semantics, but is reproducible with no network access, which
// replayable test runs require.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates the fallback embedder
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

func (e *HashingEmbedder) Dimensions() int { return e.dims }

// Embed hashes each token into a bucket and L2-normalizes the counts
func (e *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dims)
		for _, token := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[int(h.Sum32())%e.dims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		vectors[i] = vec
	}
	return vectors, nil
}
