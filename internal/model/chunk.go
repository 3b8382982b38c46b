package model

import (
	"strconv"
	"strings"
	"time"
)

// DocumentChunk is one bounded slice of a document's text together with its
// embedding. Embedding is kept in pgvector literal form ("[0.1,0.2,...]")
// so it can be cast to the vector column type in raw SQL. The column itself
// is excluded from auto migration; platform/postgres creates it with the
// dimension configured under llm.embedding_dimension.
type DocumentChunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	ChunkIndex int       `gorm:"not null;index" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  string    `gorm:"-:migration" json:"-"`
	TokenCount int       `gorm:"not null" json:"token_count"`
	Metadata   string    `gorm:"size:500;not null" json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// SetEmbedding stores vec as a pgvector literal.
func (c *DocumentChunk) SetEmbedding(vec []float32) {
	c.Embedding = EmbeddingToString(vec)
}

// EmbeddingToString renders a pgvector literal for vec.
func EmbeddingToString(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
