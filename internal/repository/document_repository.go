package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"knowledgebase/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// ExistingFingerprints returns the subset of fingerprints that already have
// a document record.
func (r *DocumentRepository) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	if len(fingerprints) == 0 {
		return map[string]bool{}, nil
	}
	var found []string
	if err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("fingerprint IN ?", fingerprints).
		Pluck("fingerprint", &found).Error; err != nil {
		return nil, fmt.Errorf("query existing fingerprints failed: %w", err)
	}
	existing := make(map[string]bool, len(found))
	for _, fp := range found {
		existing[fp] = true
	}
	return existing, nil
}

// MarkProcessed records the final chunk count and flips the processed flag.
// Called exactly once per document, after all chunk batches are persisted.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id uint, chunkCount int) error {
	if err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"chunk_count": chunkCount,
			"processed":   true,
		}).Error; err != nil {
		return fmt.Errorf("mark document processed failed: %w", err)
	}
	return nil
}

// MarkFailed stores the error message on a document that could not be
// fully ingested.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id uint, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	if err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", id).
		Update("error_message", message).Error; err != nil {
		return fmt.Errorf("mark document failed failed: %w", err)
	}
	return nil
}

// DeleteWithChunks removes the document record and all its chunks in one
// transaction, so a failure leaves both in place.
func (r *DocumentRepository) DeleteWithChunks(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("delete document with chunks failed: %w", err)
	}
	return nil
}
