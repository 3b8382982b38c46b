package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"knowledgebase/internal/model"
)

// ChunkRepository persists document chunks and runs the three retrieval
// paths against them: pgvector nearest-neighbor, Postgres full-text, and a
// plain ILIKE keyword scan as the last resort.
type ChunkRepository struct {
	db            *gorm.DB
	ivfflatProbes int
	hnswEfSearch  int
}

func NewChunkRepository(db *gorm.DB, ivfflatProbes, hnswEfSearch int) *ChunkRepository {
	if ivfflatProbes <= 0 {
		ivfflatProbes = 10
	}
	if hnswEfSearch <= 0 {
		hnswEfSearch = 40
	}
	return &ChunkRepository{
		db:            db,
		ivfflatProbes: ivfflatProbes,
		hnswEfSearch:  hnswEfSearch,
	}
}

func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("create chunk batch failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocumentID(ctx context.Context, documentID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

// NearestNeighbors returns the k chunks closest to the query embedding,
// ordered by cosine distance. Index search breadth is set per session
// before the query, matching how the vector indexes are tuned.
func (r *ChunkRepository) NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]model.DocumentChunk, error) {
	return r.nearestNeighbors(ctx, embedding, 0, k)
}

// NearestNeighborsInDocument scopes the search to a single document.
func (r *ChunkRepository) NearestNeighborsInDocument(ctx context.Context, embedding []float32, documentID uint, k int) ([]model.DocumentChunk, error) {
	return r.nearestNeighbors(ctx, embedding, documentID, k)
}

func (r *ChunkRepository) nearestNeighbors(ctx context.Context, embedding []float32, documentID uint, k int) ([]model.DocumentChunk, error) {
	db := r.db.WithContext(ctx)
	if err := db.Exec(fmt.Sprintf("SET ivfflat.probes = %d", r.ivfflatProbes)).Error; err != nil {
		return nil, fmt.Errorf("set ivfflat probes failed: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("SET hnsw.ef_search = %d", r.hnswEfSearch)).Error; err != nil {
		return nil, fmt.Errorf("set hnsw ef_search failed: %w", err)
	}

	literal := model.EmbeddingToString(embedding)
	var chunks []model.DocumentChunk
	if documentID != 0 {
		err := db.Raw(
			`SELECT * FROM document_chunks WHERE document_id = ? ORDER BY embedding <=> ?::vector LIMIT ?`,
			documentID, literal, k,
		).Scan(&chunks).Error
		if err != nil {
			return nil, fmt.Errorf("scoped vector search failed: %w", err)
		}
		return chunks, nil
	}
	err := db.Raw(
		`SELECT * FROM document_chunks ORDER BY embedding <=> ?::vector LIMIT ?`,
		literal, k,
	).Scan(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return chunks, nil
}

// FullTextHit is one full-text match with its ts_rank score.
type FullTextHit struct {
	Chunk model.DocumentChunk
	Rank  float32
}

func (r *ChunkRepository) FullTextSearch(ctx context.Context, query string, k int) ([]FullTextHit, error) {
	type row struct {
		model.DocumentChunk
		Rank float32 `gorm:"column:rank"`
	}
	var rows []row
	err := r.db.WithContext(ctx).Raw(
		`SELECT *, ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', ?)) AS rank
		 FROM document_chunks
		 WHERE to_tsvector('simple', content) @@ plainto_tsquery('simple', ?)
		 ORDER BY rank DESC LIMIT ?`,
		query, query, k,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fulltext search failed: %w", err)
	}
	hits := make([]FullTextHit, len(rows))
	for i, rw := range rows {
		hits[i] = FullTextHit{Chunk: rw.DocumentChunk, Rank: rw.Rank}
	}
	return hits, nil
}

// KeywordSearch returns chunks containing the query substring. Hits carry
// no native rank; the retriever scores them from keyword coverage.
func (r *ChunkRepository) KeywordSearch(ctx context.Context, query string, k int) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).
		Where("content ILIKE ?", "%"+query+"%").
		Limit(k).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return chunks, nil
}
