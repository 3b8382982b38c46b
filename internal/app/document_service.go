package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"knowledgebase/internal/cache"
	"knowledgebase/internal/config"
	"knowledgebase/internal/model"
	"knowledgebase/internal/pkg/fingerprint"
	"knowledgebase/internal/pkg/limiter"
	"knowledgebase/internal/pkg/loader"
	"knowledgebase/internal/pkg/splitter"
)

var (
	ErrEmptyBatch       = errors.New("upload batch is empty")
	ErrBatchTooLarge    = errors.New("upload batch exceeds the file limit")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTaskNotFound     = errors.New("upload task not found")
)

const (
	TaskStatusProcessing = "PROCESSING"
	TaskStatusCompleted  = "COMPLETED"
)

// BlobStore holds the raw bytes of ingested files, keyed fingerprint/name.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Embedder turns chunk text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentStore persists document records.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
	MarkProcessed(ctx context.Context, id uint, chunkCount int) error
	MarkFailed(ctx context.Context, id uint, message string) error
	DeleteWithChunks(ctx context.Context, id uint) error
}

// ChunkStore persists embedded chunks in bounded batches and reads them
// back per document.
type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []model.DocumentChunk) error
	ListByDocumentID(ctx context.Context, documentID uint) ([]model.DocumentChunk, error)
}

// ProgressTracker keeps per-task counters safe under concurrent workers.
type ProgressTracker interface {
	InitTask(ctx context.Context, taskID string, total int) error
	IncrCompleted(ctx context.Context, taskID string) error
	IncrFailed(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (cache.TaskProgress, bool, error)
}

// RawFile is one submitted file: original name plus raw bytes.
type RawFile struct {
	Name string
	Data []byte
}

// BatchSubmission is returned to the caller immediately; processing
// continues asynchronously and is observed through GetProgress.
type BatchSubmission struct {
	TaskID    string `json:"task_id"`
	Submitted int    `json:"submitted"`
	Skipped   int    `json:"skipped"`
}

// TaskStatus is the progress snapshot for one batch upload.
type TaskStatus struct {
	TaskID    string  `json:"task_id"`
	Total     int64   `json:"total"`
	Completed int64   `json:"completed"`
	Failed    int64   `json:"failed"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
}

// DocumentService runs the ingestion pipeline: dedup, upload, split,
// bounded-parallel embedding, batched persistence, progress accounting.
//
// Two independent admission gates bound the work: docGate limits whole
// documents in flight, chunkPool caps embedding calls across all documents
// at once. There is no other locking; the only state mutated from many
// workers at once is the progress counters, which increment atomically.
type DocumentService struct {
	docs      DocumentStore
	chunks    ChunkStore
	blobs     BlobStore
	embedder  Embedder
	progress  ProgressTracker
	loaders   *loader.Registry
	docGate   *limiter.Gate
	chunkPool *ants.Pool
	cfg       config.ProcessingConfig
	logger    *slog.Logger
}

func NewDocumentService(
	docs DocumentStore,
	chunks ChunkStore,
	blobs BlobStore,
	embedder Embedder,
	progress ProgressTracker,
	loaders *loader.Registry,
	chunkPool *ants.Pool,
	cfg config.ProcessingConfig,
	logger *slog.Logger,
) *DocumentService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = splitter.DefaultChunkSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		docs:      docs,
		chunks:    chunks,
		blobs:     blobs,
		embedder:  embedder,
		progress:  progress,
		loaders:   loaders,
		docGate:   limiter.NewGate(cfg.MaxConcurrentDocuments),
		chunkPool: chunkPool,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitBatch deduplicates the submitted files, creates the progress task
// and kicks off asynchronous processing. Duplicates, in-batch or against
// already ingested content, are skipped silently and never counted as
// failures. The returned task total covers only the unique work set.
func (s *DocumentService) SubmitBatch(ctx context.Context, files []RawFile) (*BatchSubmission, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(files) > s.cfg.MaxBatchFiles {
		return nil, fmt.Errorf("%w: %d files, limit %d", ErrBatchTooLarge, len(files), s.cfg.MaxBatchFiles)
	}

	type workItem struct {
		file        RawFile
		fingerprint string
	}

	// First occurrence of each fingerprint wins, in submission order.
	seen := make(map[string]bool, len(files))
	var unique []workItem
	for _, f := range files {
		fp := fingerprint.Sum(f.Data)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		unique = append(unique, workItem{file: f, fingerprint: fp})
	}

	fingerprints := make([]string, len(unique))
	for i, item := range unique {
		fingerprints[i] = item.fingerprint
	}
	existing, err := s.docs.ExistingFingerprints(ctx, fingerprints)
	if err != nil {
		return nil, err
	}

	var work []workItem
	for _, item := range unique {
		if existing[item.fingerprint] {
			continue
		}
		work = append(work, item)
	}

	taskID := uuid.NewString()
	if err := s.progress.InitTask(ctx, taskID, len(work)); err != nil {
		return nil, err
	}

	for _, item := range work {
		go s.runDocument(taskID, item.file, item.fingerprint)
	}

	s.logger.Info("batch submitted",
		"task_id", taskID,
		"received", len(files),
		"unique", len(work),
	)
	return &BatchSubmission{
		TaskID:    taskID,
		Submitted: len(work),
		Skipped:   len(files) - len(work),
	}, nil
}

// runDocument processes one document under the document-level gate and
// settles exactly one progress counter. It runs detached from the request
// context; a submitted document is never cancelled by the caller going away.
func (s *DocumentService) runDocument(taskID string, f RawFile, fp string) {
	ctx := context.Background()

	if err := s.docGate.Acquire(ctx); err != nil {
		s.logger.Error("document gate acquire failed", "task_id", taskID, "file", f.Name, "error", err)
		s.countFailed(ctx, taskID)
		return
	}
	defer s.docGate.Release()

	if err := s.processDocument(ctx, f, fp); err != nil {
		s.logger.Error("document processing failed", "task_id", taskID, "file", f.Name, "error", err)
		s.countFailed(ctx, taskID)
		return
	}
	if err := s.progress.IncrCompleted(ctx, taskID); err != nil {
		s.logger.Error("progress update failed", "task_id", taskID, "error", err)
	}
}

func (s *DocumentService) countFailed(ctx context.Context, taskID string) {
	if err := s.progress.IncrFailed(ctx, taskID); err != nil {
		s.logger.Error("progress update failed", "task_id", taskID, "error", err)
	}
}

func (s *DocumentService) processDocument(ctx context.Context, f RawFile, fp string) error {
	fileType := loader.FileExtension(f.Name)
	ld, err := s.loaders.Get(fileType)
	if err != nil {
		return err
	}

	blobKey := fp + "/" + f.Name
	if err := s.blobs.Put(ctx, blobKey, bytes.NewReader(f.Data), int64(len(f.Data)), contentTypeFor(fileType)); err != nil {
		return err
	}

	doc := &model.Document{
		FileName:    f.Name,
		FileType:    fileType,
		FilePath:    blobKey,
		FileSize:    int64(len(f.Data)),
		Fingerprint: fp,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return err
	}

	chunks, err := s.splitContent(ld, f.Data)
	if err != nil {
		return s.failDocument(ctx, doc.ID, err)
	}

	persisted := s.embedChunks(ctx, doc.ID, f.Name, chunks)

	for start := 0; start < len(persisted); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(persisted) {
			end = len(persisted)
		}
		if err := s.chunks.CreateBatch(ctx, persisted[start:end]); err != nil {
			return s.failDocument(ctx, doc.ID, err)
		}
	}

	if err := s.docs.MarkProcessed(ctx, doc.ID, len(persisted)); err != nil {
		return s.failDocument(ctx, doc.ID, err)
	}

	s.logger.Info("document processed",
		"document_id", doc.ID,
		"file", f.Name,
		"chunks", len(persisted),
		"dropped", len(chunks)-len(persisted),
	)
	return nil
}

func (s *DocumentService) failDocument(ctx context.Context, docID uint, cause error) error {
	if err := s.docs.MarkFailed(ctx, docID, cause.Error()); err != nil {
		s.logger.Error("mark document failed errored", "document_id", docID, "error", err)
	}
	return cause
}

// splitContent picks the chunking strategy by loader: plain text streams
// line by line so large files stay out of memory, everything else is
// extracted first and split with overlapping windows.
func (s *DocumentService) splitContent(ld loader.Loader, data []byte) ([]splitter.Chunk, error) {
	if _, plain := ld.(*loader.TextLoader); plain {
		return splitter.Stream(bytes.NewReader(data), s.cfg.ChunkSize)
	}
	text, err := ld.Load(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return splitter.SplitWindowed(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap), nil
}

// embedChunks fans the chunks out over the shared embedding pool and waits
// for all of them. A failed embedding drops that chunk only; survivors are
// re-indexed contiguously in emission order so persisted indices stay
// gapless even when chunks complete out of order.
func (s *DocumentService) embedChunks(ctx context.Context, docID uint, fileName string, chunks []splitter.Chunk) []model.DocumentChunk {
	results := make([]*model.DocumentChunk, len(chunks))
	var wg sync.WaitGroup

	for i := range chunks {
		i := i
		ch := chunks[i]
		wg.Add(1)
		err := s.chunkPool.Submit(func() {
			defer wg.Done()
			vec, err := s.embedder.Embed(ctx, ch.Content)
			if err != nil {
				s.logger.Warn("chunk embedding failed",
					"document_id", docID,
					"chunk_index", ch.Index,
					"error", err,
				)
				return
			}
			rec := &model.DocumentChunk{
				DocumentID: docID,
				Content:    ch.Content,
				TokenCount: ch.TokenCount,
				Metadata:   fileName,
			}
			rec.SetEmbedding(vec)
			results[i] = rec
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("chunk pool submit failed",
				"document_id", docID,
				"chunk_index", ch.Index,
				"error", err,
			)
		}
	}
	wg.Wait()

	persisted := make([]model.DocumentChunk, 0, len(chunks))
	for _, rec := range results {
		if rec == nil {
			continue
		}
		rec.ChunkIndex = len(persisted)
		persisted = append(persisted, *rec)
	}
	return persisted
}

// GetProgress reads the task counters and derives percentage and status.
func (s *DocumentService) GetProgress(ctx context.Context, taskID string) (*TaskStatus, error) {
	counters, found, err := s.progress.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrTaskNotFound
	}

	status := &TaskStatus{
		TaskID:    taskID,
		Total:     counters.Total,
		Completed: counters.Completed,
		Failed:    counters.Failed,
		Status:    TaskStatusProcessing,
	}
	if counters.Total > 0 {
		status.Progress = float64(counters.Completed+counters.Failed) / float64(counters.Total) * 100
		if counters.Completed+counters.Failed >= counters.Total {
			status.Status = TaskStatusCompleted
		}
	}
	return status, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context) ([]model.Document, error) {
	return s.docs.List(ctx)
}

func (s *DocumentService) GetDocument(ctx context.Context, id uint) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// GetDocumentChunks returns the document's chunks in index order.
func (s *DocumentService) GetDocumentChunks(ctx context.Context, id uint) ([]model.DocumentChunk, error) {
	if _, err := s.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocumentID(ctx, id)
}

// DeleteDocument removes the blob first: if that fails the delete aborts
// with record and chunks untouched. Chunks and record then go together in
// one transaction.
func (s *DocumentService) DeleteDocument(ctx context.Context, id uint) error {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if err := s.blobs.Delete(ctx, doc.FilePath); err != nil {
		return fmt.Errorf("delete blob for document %d: %w", id, err)
	}
	if err := s.docs.DeleteWithChunks(ctx, id); err != nil {
		return err
	}

	s.logger.Info("document deleted", "document_id", id, "file", doc.FileName)
	return nil
}

func contentTypeFor(fileType string) string {
	switch fileType {
	case "txt", "md", "log", "text":
		return "text/plain"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
