package embedding

import (
	"context"
	"log/slog"
)

// Scorer returns each text's similarity to query, keyed like texts.
type Scorer func(ctx context.Context, query string, texts map[string]string) (map[string]float64, error)

// EmbedderScorer scores with a fixed embedder.
func EmbedderScorer(emb Embedder) Scorer {
	return func(ctx context.Context, query string, texts map[string]string) (map[string]float64, error) {
		return Similarities(ctx, emb, query, texts)
	}
}

// CorpusScorer builds a fresh TF-IDF vocabulary from the texts on every call.
func CorpusScorer(maxTerms int) Scorer {
	return func(ctx context.Context, query string, texts map[string]string) (map[string]float64, error) {
		docs := make([]string, 0, len(texts))
		for _, t := range texts {
			docs = append(docs, t)
		}
		return Similarities(ctx, NewTFIDFEmbedder(docs, maxTerms), query, texts)
	}
}

// NewScorer picks a scorer for the named provider. "ollama" falls back to
// TF-IDF when the server does not answer; "none" and "" return nil.
func NewScorer(ctx context.Context, provider, ollamaURL, model string, dims int, log *slog.Logger) Scorer {
	switch provider {
	case "ollama":
		if ProbeOllama(ctx, ollamaURL, model) {
			log.Info("embedding via ollama", "url", ollamaURL, "model", model)
			return EmbedderScorer(NewOllamaEmbedder(ollamaURL, model, dims))
		}
		log.Warn("ollama unavailable, falling back to tfidf", "url", ollamaURL)
		return CorpusScorer(0)
	case "tfidf":
		return CorpusScorer(0)
	default:
		return nil
	}
}
