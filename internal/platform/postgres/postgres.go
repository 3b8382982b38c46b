package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func New(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get postgres sql db failed: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}

	return db, nil
}

// EnsureVectorExtension installs pgvector. Must run before migrating the
// chunk table, which declares a vector column.
func EnsureVectorExtension(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("create vector extension failed: %w", err)
	}
	return nil
}

// EnsureChunkSchema adds the embedding column with the configured dimension
// and the ANN and full-text indexes. The column is excluded from auto
// migration so its dimension follows the embedding model instead of a value
// baked into the struct tag. Safe to call on every start, after migration.
func EnsureChunkSchema(db *gorm.DB, embeddingDim int) error {
	if embeddingDim <= 0 {
		embeddingDim = 768
	}
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE document_chunks
			ADD COLUMN IF NOT EXISTS embedding vector(%d) NOT NULL`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
			ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_content_tsv
			ON document_chunks USING gin (to_tsvector('simple', content))`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("prepare chunk schema failed: %w", err)
		}
	}
	return nil
}
