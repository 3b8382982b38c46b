package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/cache"
	"knowledgebase/internal/config"
	"knowledgebase/internal/model"
	"knowledgebase/internal/pkg/loader"
)

type fakeDocStore struct {
	mu     sync.Mutex
	nextID uint
	docs   map[uint]*model.Document
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[uint]*model.Document{}}
}

func (s *fakeDocStore) Create(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *fakeDocStore) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeDocStore) List(ctx context.Context) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (s *fakeDocStore) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := map[string]bool{}
	for _, d := range s.docs {
		known[d.Fingerprint] = true
	}
	out := map[string]bool{}
	for _, fp := range fingerprints {
		if known[fp] {
			out[fp] = true
		}
	}
	return out, nil
}

func (s *fakeDocStore) MarkProcessed(ctx context.Context, id uint, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %d missing", id)
	}
	doc.ChunkCount = chunkCount
	doc.Processed = true
	return nil
}

func (s *fakeDocStore) MarkFailed(ctx context.Context, id uint, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %d missing", id)
	}
	doc.ErrorMessage = message
	return nil
}

func (s *fakeDocStore) DeleteWithChunks(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *fakeDocStore) byFileName(name string) *model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.FileName == name {
			copied := *d
			return &copied
		}
	}
	return nil
}

type fakeChunkStore struct {
	mu      sync.Mutex
	batches [][]model.DocumentChunk
	err     error
}

func (s *fakeChunkStore) CreateBatch(ctx context.Context, chunks []model.DocumentChunk) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]model.DocumentChunk, len(chunks))
	copy(batch, chunks)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeChunkStore) ListByDocumentID(ctx context.Context, documentID uint) ([]model.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DocumentChunk
	for _, b := range s.batches {
		for _, c := range b {
			if c.DocumentID == documentID {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (s *fakeChunkStore) all() []model.DocumentChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DocumentChunk
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob %q missing", key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakeEmbedder struct {
	failOn string
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding backend error")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// countingEmbedder tracks how many Embed calls overlap in time.
type countingEmbedder struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.inFlight++
	e.calls++
	if e.inFlight > e.maxSeen {
		e.maxSeen = e.inFlight
	}
	e.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeProgress struct {
	mu       sync.Mutex
	counters map[string]*cache.TaskProgress
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{counters: map[string]*cache.TaskProgress{}}
}

func (p *fakeProgress) InitTask(ctx context.Context, taskID string, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[taskID] = &cache.TaskProgress{Total: int64(total)}
	return nil
}

func (p *fakeProgress) IncrCompleted(ctx context.Context, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[taskID]
	if !ok {
		return fmt.Errorf("task %q missing", taskID)
	}
	c.Completed++
	return nil
}

func (p *fakeProgress) IncrFailed(ctx context.Context, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[taskID]
	if !ok {
		return fmt.Errorf("task %q missing", taskID)
	}
	c.Failed++
	return nil
}

func (p *fakeProgress) GetTask(ctx context.Context, taskID string) (cache.TaskProgress, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[taskID]
	if !ok {
		return cache.TaskProgress{}, false, nil
	}
	return *c, true, nil
}

type pipelineFixture struct {
	docs     *fakeDocStore
	chunks   *fakeChunkStore
	blobs    *fakeBlobStore
	embedder *fakeEmbedder
	progress *fakeProgress
	pool     *ants.Pool
	service  *DocumentService
}

func newPipelineFixture(t *testing.T, cfg config.ProcessingConfig) *pipelineFixture {
	t.Helper()
	pool, err := ants.NewPool(cfg.MaxConcurrentChunks)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	f := &pipelineFixture{
		docs:     newFakeDocStore(),
		chunks:   &fakeChunkStore{},
		blobs:    newFakeBlobStore(),
		embedder: &fakeEmbedder{},
		progress: newFakeProgress(),
		pool:     pool,
	}
	f.service = NewDocumentService(
		f.docs, f.chunks, f.blobs, f.embedder, f.progress,
		loader.NewRegistry(), pool, cfg, nil,
	)
	return f
}

func processingConfig() config.ProcessingConfig {
	return config.ProcessingConfig{
		ChunkSize:              20,
		ChunkOverlap:           5,
		BatchSize:              4,
		MaxConcurrentDocuments: 3,
		MaxConcurrentChunks:    8,
		MaxBatchFiles:          100,
	}
}

func (f *pipelineFixture) waitForTask(t *testing.T, taskID string) *TaskStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := f.service.GetProgress(context.Background(), taskID)
		require.NoError(t, err)
		if status.Status == TaskStatusCompleted {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not complete in time", taskID)
	return nil
}

// tenLineDocument yields exactly one chunk per line at chunk size 20.
func tenLineDocument() []byte {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "line-%02d %s\n", i, strings.Repeat("x", 20))
	}
	return []byte(sb.String())
}

func TestSubmitBatchDeduplicatesWithinBatch(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	content := []byte("identical content for both files")
	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "a.txt", Data: content},
		{Name: "b.txt", Data: content},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, result.Skipped)

	status := f.waitForTask(t, result.TaskID)
	assert.Equal(t, int64(1), status.Total)
	assert.Equal(t, int64(1), status.Completed)
	assert.Equal(t, int64(0), status.Failed)

	// First occurrence in submission order wins.
	assert.NotNil(t, f.docs.byFileName("a.txt"))
	assert.Nil(t, f.docs.byFileName("b.txt"))
}

func TestSubmitBatchSkipsAlreadyIngestedContent(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	content := []byte("content ingested in an earlier batch")

	first, err := f.service.SubmitBatch(context.Background(), []RawFile{{Name: "a.txt", Data: content}})
	require.NoError(t, err)
	f.waitForTask(t, first.TaskID)

	second, err := f.service.SubmitBatch(context.Background(), []RawFile{{Name: "again.txt", Data: content}})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Submitted)
	assert.Equal(t, 1, second.Skipped)

	status, err := f.service.GetProgress(context.Background(), second.TaskID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Total)
	assert.Equal(t, TaskStatusProcessing, status.Status)
}

func TestSubmitBatchValidation(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	_, err := f.service.SubmitBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	cfg := processingConfig()
	cfg.MaxBatchFiles = 1
	small := newPipelineFixture(t, cfg)
	_, err = small.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "a.txt", Data: []byte("a")},
		{Name: "b.txt", Data: []byte("b")},
	})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestFailedChunkIsDroppedAndIndicesStayGapless(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	f.embedder.failOn = "line-07"

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "doc.txt", Data: tenLineDocument()},
	})
	require.NoError(t, err)
	status := f.waitForTask(t, result.TaskID)

	// One lost chunk is not a document failure.
	assert.Equal(t, int64(1), status.Completed)
	assert.Equal(t, int64(0), status.Failed)

	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)
	assert.True(t, doc.Processed)
	assert.Equal(t, 9, doc.ChunkCount)

	persisted := f.chunks.all()
	require.Len(t, persisted, 9)
	seen := map[int]bool{}
	for _, c := range persisted {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.NotContains(t, c.Content, "line-07")
		seen[c.ChunkIndex] = true
	}
	for i := 0; i < 9; i++ {
		assert.True(t, seen[i], "missing chunk index %d", i)
	}

	for _, batch := range f.chunks.batches {
		assert.LessOrEqual(t, len(batch), 4)
	}
}

func TestEmbeddingConcurrencyCappedByPool(t *testing.T) {
	cfg := processingConfig()
	cfg.MaxConcurrentChunks = 2
	f := newPipelineFixture(t, cfg)

	counting := &countingEmbedder{}
	f.service = NewDocumentService(
		f.docs, f.chunks, f.blobs, counting, f.progress,
		loader.NewRegistry(), f.pool, cfg, nil,
	)

	// Three documents in flight at once, ten chunks each; the pool is the
	// only thing holding embedding calls to two at a time.
	var files []RawFile
	for d := 0; d < 3; d++ {
		var sb strings.Builder
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&sb, "doc%d-%02d %s\n", d, i, strings.Repeat("x", 20))
		}
		files = append(files, RawFile{
			Name: fmt.Sprintf("doc-%d.txt", d),
			Data: []byte(sb.String()),
		})
	}

	result, err := f.service.SubmitBatch(context.Background(), files)
	require.NoError(t, err)
	require.Equal(t, 3, result.Submitted)

	status := f.waitForTask(t, result.TaskID)
	assert.Equal(t, int64(3), status.Completed)

	counting.mu.Lock()
	defer counting.mu.Unlock()
	assert.Equal(t, 30, counting.calls)
	assert.LessOrEqual(t, counting.maxSeen, 2)
}

func TestGetDocumentChunksReturnsIndexOrder(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "doc.txt", Data: tenLineDocument()},
	})
	require.NoError(t, err)
	f.waitForTask(t, result.TaskID)

	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)

	chunks, err := f.service.GetDocumentChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 10)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, doc.ID, c.DocumentID)
	}

	_, err = f.service.GetDocumentChunks(context.Background(), 999)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestUnsupportedFileTypeCountsAsFailure(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "binary.exe", Data: []byte("not text")},
	})
	require.NoError(t, err)
	status := f.waitForTask(t, result.TaskID)

	assert.Equal(t, int64(0), status.Completed)
	assert.Equal(t, int64(1), status.Failed)
	assert.Empty(t, f.chunks.all())
}

func TestPersistenceFailureMarksDocumentFailed(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	f.chunks.err = errors.New("insert failed")

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "doc.txt", Data: tenLineDocument()},
	})
	require.NoError(t, err)
	status := f.waitForTask(t, result.TaskID)

	assert.Equal(t, int64(1), status.Failed)
	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)
	assert.False(t, doc.Processed)
	assert.NotEmpty(t, doc.ErrorMessage)
}

func TestUploadStoresBlobUnderFingerprintKey(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	content := []byte("blob content")

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{{Name: "doc.txt", Data: content}})
	require.NoError(t, err)
	f.waitForTask(t, result.TaskID)

	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)
	assert.Equal(t, doc.Fingerprint+"/doc.txt", doc.FilePath)

	f.blobs.mu.Lock()
	defer f.blobs.mu.Unlock()
	assert.Equal(t, content, f.blobs.objects[doc.FilePath])
}

func TestGetProgressStatusDerivation(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	ctx := context.Background()

	require.NoError(t, f.progress.InitTask(ctx, "task-1", 4))
	require.NoError(t, f.progress.IncrCompleted(ctx, "task-1"))
	require.NoError(t, f.progress.IncrFailed(ctx, "task-1"))

	status, err := f.service.GetProgress(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusProcessing, status.Status)
	assert.InDelta(t, 50.0, status.Progress, 1e-9)

	require.NoError(t, f.progress.IncrCompleted(ctx, "task-1"))
	require.NoError(t, f.progress.IncrCompleted(ctx, "task-1"))
	status, err = f.service.GetProgress(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, status.Status)
	assert.InDelta(t, 100.0, status.Progress, 1e-9)

	_, err = f.service.GetProgress(ctx, "unknown-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteDocumentAbortsOnBlobFailure(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "doc.txt", Data: []byte("content to delete")},
	})
	require.NoError(t, err)
	f.waitForTask(t, result.TaskID)

	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)

	f.blobs.delErr = errors.New("minio unavailable")
	err = f.service.DeleteDocument(context.Background(), doc.ID)
	require.Error(t, err)

	// Record must survive an aborted delete.
	still, err := f.service.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestDeleteDocumentRemovesBlobAndRecord(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())

	result, err := f.service.SubmitBatch(context.Background(), []RawFile{
		{Name: "doc.txt", Data: []byte("content to delete")},
	})
	require.NoError(t, err)
	f.waitForTask(t, result.TaskID)

	doc := f.docs.byFileName("doc.txt")
	require.NotNil(t, doc)

	require.NoError(t, f.service.DeleteDocument(context.Background(), doc.ID))

	_, err = f.service.GetDocument(context.Background(), doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	f.blobs.mu.Lock()
	defer f.blobs.mu.Unlock()
	assert.NotContains(t, f.blobs.objects, doc.FilePath)
}

func TestDeleteDocumentNotFound(t *testing.T) {
	f := newPipelineFixture(t, processingConfig())
	err := f.service.DeleteDocument(context.Background(), 999)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
