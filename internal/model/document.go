package model

import "time"

// Document is the record for one ingested file. Fingerprint is the MD5 of
// the raw bytes and is unique across all records; Processed flips to true
// exactly once, after every chunk batch has been persisted.
type Document struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FileName     string    `gorm:"size:255;not null" json:"file_name"`
	FileType     string    `gorm:"size:100;not null" json:"file_type"`
	FilePath     string    `gorm:"size:500;not null" json:"file_path"`
	FileSize     int64     `gorm:"not null" json:"file_size"`
	Fingerprint  string    `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	ChunkCount   int       `gorm:"not null;default:0" json:"chunk_count"`
	Processed    bool      `gorm:"not null;default:false" json:"processed"`
	ErrorMessage string    `gorm:"size:500" json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
