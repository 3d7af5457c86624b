// Package embedding turns text into vectors so the outer surfaces can supply
// cosine similarities to the ranking engine.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// OllamaEmbedder uses Ollama's embedding API. It is safe for concurrent use.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   atomic.Int64 // configured, or learned from the first response
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	o := &OllamaEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	o.dims.Store(int64(dims))
	return o
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return int(o.dims.Load()) }

// Embed returns the embedding of a single text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := o.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := o.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

// embed posts input (a string or a list of strings) to /api/embed.
func (o *OllamaEmbedder) embed(ctx context.Context, input any) ([][]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": input,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	o.dims.CompareAndSwap(0, int64(len(result.Embeddings[0])))
	return result.Embeddings, nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(ctx context.Context, url, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := NewOllamaEmbedder(url, model, 0).Embed(ctx, "probe")
	return err == nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Similarities embeds query and every text, returning each text's cosine
// similarity to the query keyed like texts. Negative similarities are
// clamped to zero.
func Similarities(ctx context.Context, emb Embedder, query string, texts map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	qv, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ids := make([]string, 0, len(texts))
	docs := make([]string, 0, len(texts))
	for id, text := range texts {
		ids = append(ids, id)
		docs = append(docs, text)
	}

	var vecs [][]float64
	if b, ok := emb.(BatchEmbedder); ok {
		if vecs, err = b.EmbedBatch(ctx, docs); err != nil {
			return nil, fmt.Errorf("embed texts: %w", err)
		}
	} else {
		vecs = make([][]float64, len(docs))
		for i, d := range docs {
			if vecs[i], err = emb.Embed(ctx, d); err != nil {
				return nil, fmt.Errorf("embed text %s: %w", ids[i], err)
			}
		}
	}

	for i, id := range ids {
		out[id] = max(0, CosineSimilarity(qv, vecs[i]))
	}
	return out, nil
}
