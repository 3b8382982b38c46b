package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/config"
	"knowledgebase/internal/model"
	"knowledgebase/internal/repository"
)

type fakeVectorSearcher struct {
	chunks     []model.DocumentChunk
	err        error
	scopedDoc  uint
	lastScoped bool
}

func (f *fakeVectorSearcher) NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]model.DocumentChunk, error) {
	f.lastScoped = false
	return f.chunks, f.err
}

func (f *fakeVectorSearcher) NearestNeighborsInDocument(ctx context.Context, embedding []float32, documentID uint, k int) ([]model.DocumentChunk, error) {
	f.lastScoped = true
	f.scopedDoc = documentID
	return f.chunks, f.err
}

type fakeTextSearcher struct {
	hits    []repository.FullTextHit
	ftErr   error
	keyword []model.DocumentChunk
	kwErr   error
}

func (f *fakeTextSearcher) FullTextSearch(ctx context.Context, query string, k int) ([]repository.FullTextHit, error) {
	return f.hits, f.ftErr
}

func (f *fakeTextSearcher) KeywordSearch(ctx context.Context, query string, k int) ([]model.DocumentChunk, error) {
	return f.keyword, f.kwErr
}

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:                    3,
		VectorWeight:            0.6,
		TextWeight:              0.4,
		EnableFulltextSearch:    true,
		FallbackToKeywordSearch: true,
	}
}

func chunk(id uint, content string) model.DocumentChunk {
	return model.DocumentChunk{ID: id, Content: content}
}

func TestRetrieveFusesVectorAndTextScores(t *testing.T) {
	vectors := &fakeVectorSearcher{chunks: []model.DocumentChunk{
		chunk(1, "chunk A"),
		chunk(3, "chunk C"),
	}}
	texts := &fakeTextSearcher{hits: []repository.FullTextHit{
		{Chunk: chunk(2, "chunk B"), Rank: 0.8},
		{Chunk: chunk(3, "chunk C"), Rank: 0.5},
	}}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	results, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, uint(3), results[0].Chunk.ID)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
	assert.Equal(t, SourceHybrid, results[0].Source)

	assert.Equal(t, uint(1), results[1].Chunk.ID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-9)
	assert.Equal(t, SourceVector, results[1].Source)

	assert.Equal(t, uint(2), results[2].Chunk.ID)
	assert.InDelta(t, 0.32, results[2].Score, 1e-9)
	assert.Equal(t, SourceFulltext, results[2].Source)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	vectors := &fakeVectorSearcher{chunks: []model.DocumentChunk{
		chunk(1, "a"), chunk(2, "b"), chunk(3, "c"), chunk(4, "d"),
	}}
	texts := &fakeTextSearcher{}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	results, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveTieBreakKeepsVectorRankOrder(t *testing.T) {
	// All vector-only hits score the same; the collaborator's distance
	// ordering must survive the sort.
	vectors := &fakeVectorSearcher{chunks: []model.DocumentChunk{
		chunk(7, "first"), chunk(5, "second"), chunk(9, "third"),
	}}
	texts := &fakeTextSearcher{}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	results, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint(7), results[0].Chunk.ID)
	assert.Equal(t, uint(5), results[1].Chunk.ID)
	assert.Equal(t, uint(9), results[2].Chunk.ID)
}

func TestRetrieveFallsBackToKeywordSearch(t *testing.T) {
	vectors := &fakeVectorSearcher{}
	texts := &fakeTextSearcher{
		ftErr: errors.New("fulltext down"),
		keyword: []model.DocumentChunk{
			chunk(1, "alpha appears here"),
			chunk(2, "alpha and beta both appear"),
		},
	}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	results, err := r.Retrieve(context.Background(), "alpha beta", []float32{0.1}, RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// matched/total keyword scoring: full match sorts first.
	assert.Equal(t, uint(2), results[0].Chunk.ID)
	assert.InDelta(t, 1.0*0.4, results[0].Score, 1e-9)
	assert.Equal(t, SourceKeyword, results[0].Source)

	assert.Equal(t, uint(1), results[1].Chunk.ID)
	assert.InDelta(t, 0.5*0.4, results[1].Score, 1e-9)
	assert.Equal(t, SourceKeyword, results[1].Source)
}

func TestRetrieveNoFallbackWhenDisabled(t *testing.T) {
	cfg := retrievalConfig()
	cfg.EnableFulltextSearch = false
	cfg.FallbackToKeywordSearch = false

	vectors := &fakeVectorSearcher{chunks: []model.DocumentChunk{chunk(1, "a")}}
	texts := &fakeTextSearcher{keyword: []model.DocumentChunk{chunk(2, "b")}}

	r := NewHybridRetriever(vectors, texts, cfg, nil)
	results, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint(1), results[0].Chunk.ID)
}

func TestRetrieveScopedToDocument(t *testing.T) {
	vectors := &fakeVectorSearcher{chunks: []model.DocumentChunk{chunk(1, "a")}}
	texts := &fakeTextSearcher{}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	_, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{DocumentID: 42})
	require.NoError(t, err)
	assert.True(t, vectors.lastScoped)
	assert.Equal(t, uint(42), vectors.scopedDoc)
}

func TestRetrieveVectorErrorWithTextResults(t *testing.T) {
	vectors := &fakeVectorSearcher{err: errors.New("vector store down")}
	texts := &fakeTextSearcher{hits: []repository.FullTextHit{
		{Chunk: chunk(2, "b"), Rank: 0.9},
	}}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	results, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceFulltext, results[0].Source)
}

func TestRetrieveVectorErrorWithoutTextResults(t *testing.T) {
	vectors := &fakeVectorSearcher{err: errors.New("vector store down")}
	texts := &fakeTextSearcher{ftErr: errors.New("fulltext down"), kwErr: errors.New("keyword down")}

	r := NewHybridRetriever(vectors, texts, retrievalConfig(), nil)
	_, err := r.Retrieve(context.Background(), "query", []float32{0.1}, RetrieveOptions{})
	assert.Error(t, err)
}
