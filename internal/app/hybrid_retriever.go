package app

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"knowledgebase/internal/config"
	"knowledgebase/internal/model"
	"knowledgebase/internal/repository"
)

// Search result source tags.
const (
	SourceVector   = "vector"
	SourceFulltext = "fulltext"
	SourceKeyword  = "keyword"
	SourceHybrid   = "hybrid"
)

// SearchResult is one fused retrieval hit. Results are per-query and never
// persisted.
type SearchResult struct {
	Chunk  model.DocumentChunk `json:"chunk"`
	Score  float64             `json:"score"`
	Source string              `json:"source"`
}

// VectorSearcher returns chunks ranked by embedding distance.
type VectorSearcher interface {
	NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]model.DocumentChunk, error)
	NearestNeighborsInDocument(ctx context.Context, embedding []float32, documentID uint, k int) ([]model.DocumentChunk, error)
}

// TextSearcher covers the lexical retrieval paths: ranked full-text search
// and the unranked keyword scan used as last resort.
type TextSearcher interface {
	FullTextSearch(ctx context.Context, query string, k int) ([]repository.FullTextHit, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]model.DocumentChunk, error)
}

// RetrieveOptions tune one retrieval call. Zero values fall back to the
// configured defaults; DocumentID zero searches all documents.
type RetrieveOptions struct {
	TopK       int
	DocumentID uint
}

// HybridRetriever runs vector and text search concurrently and fuses the
// two ranked lists with weighted scores.
type HybridRetriever struct {
	vectors VectorSearcher
	texts   TextSearcher
	cfg     config.RetrievalConfig
	logger  *slog.Logger
}

func NewHybridRetriever(vectors VectorSearcher, texts TextSearcher, cfg config.RetrievalConfig, logger *slog.Logger) *HybridRetriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = 0.6
	}
	if cfg.TextWeight <= 0 {
		cfg.TextWeight = 0.4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		vectors: vectors,
		texts:   texts,
		cfg:     cfg,
		logger:  logger,
	}
}

type textHit struct {
	chunk  model.DocumentChunk
	score  float64
	source string
}

// Retrieve fuses the two search paths into one ranked list of at most topK
// results. Vector hits carry a placeholder score of 1.0; their ordering is
// the collaborator's distance rank. A chunk found by both paths scores
// vector*vectorWeight + text*textWeight and is tagged hybrid; single-path
// chunks keep their own tag with the missing component scored as zero.
// Ties keep vector rank order, then text rank order.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, queryEmbedding []float32, opts RetrieveOptions) ([]SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	var (
		wg         sync.WaitGroup
		vecChunks  []model.DocumentChunk
		vecErr     error
		lexicalHit []textHit
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vecChunks, vecErr = r.vectorSearch(ctx, queryEmbedding, opts.DocumentID, topK)
	}()
	go func() {
		defer wg.Done()
		lexicalHit = r.textSearch(ctx, query, topK)
	}()
	wg.Wait()

	if vecErr != nil {
		if len(lexicalHit) == 0 {
			return nil, vecErr
		}
		r.logger.Warn("vector search failed, using text results only", "error", vecErr)
	}

	return r.fuse(vecChunks, lexicalHit, topK), nil
}

func (r *HybridRetriever) vectorSearch(ctx context.Context, embedding []float32, documentID uint, k int) ([]model.DocumentChunk, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if documentID != 0 {
		return r.vectors.NearestNeighborsInDocument(ctx, embedding, documentID, k)
	}
	return r.vectors.NearestNeighbors(ctx, embedding, k)
}

// textSearch tries full-text first and falls back to the keyword scan when
// full-text is unavailable or disabled. Lexical failures never fail the
// whole retrieval.
func (r *HybridRetriever) textSearch(ctx context.Context, query string, k int) []textHit {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	if r.cfg.EnableFulltextSearch {
		hits, err := r.texts.FullTextSearch(ctx, query, k)
		if err == nil {
			out := make([]textHit, len(hits))
			for i, h := range hits {
				out[i] = textHit{chunk: h.Chunk, score: float64(h.Rank), source: SourceFulltext}
			}
			return out
		}
		r.logger.Warn("fulltext search unavailable", "error", err)
	}

	if !r.cfg.FallbackToKeywordSearch {
		return nil
	}
	chunks, err := r.texts.KeywordSearch(ctx, query, k)
	if err != nil {
		r.logger.Warn("keyword search failed", "error", err)
		return nil
	}
	terms := strings.Fields(strings.ToLower(query))
	out := make([]textHit, len(chunks))
	for i, c := range chunks {
		out[i] = textHit{chunk: c, score: keywordScore(c.Content, terms), source: SourceKeyword}
	}
	return out
}

// keywordScore is matched terms over total terms, case-insensitive.
func keywordScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lowered := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lowered, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func (r *HybridRetriever) fuse(vecChunks []model.DocumentChunk, textHits []textHit, topK int) []SearchResult {
	type fusedEntry struct {
		result SearchResult
	}

	byID := make(map[uint]int, len(vecChunks)+len(textHits))
	var fused []fusedEntry

	// Vector hits enter first, in distance-rank order.
	for _, c := range vecChunks {
		byID[c.ID] = len(fused)
		fused = append(fused, fusedEntry{result: SearchResult{
			Chunk:  c,
			Score:  1.0 * r.cfg.VectorWeight,
			Source: SourceVector,
		}})
	}

	for _, h := range textHits {
		if idx, ok := byID[h.chunk.ID]; ok {
			fused[idx].result.Score += h.score * r.cfg.TextWeight
			fused[idx].result.Source = SourceHybrid
			continue
		}
		byID[h.chunk.ID] = len(fused)
		fused = append(fused, fusedEntry{result: SearchResult{
			Chunk:  h.chunk,
			Score:  h.score * r.cfg.TextWeight,
			Source: h.source,
		}})
	}

	// Stable sort: equal scores keep insertion order, vector rank first.
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].result.Score > fused[j].result.Score
	})

	if len(fused) > topK {
		fused = fused[:topK]
	}
	results := make([]SearchResult, len(fused))
	for i, e := range fused {
		results[i] = e.result
	}
	return results
}
