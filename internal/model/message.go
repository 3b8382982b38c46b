package model

import "time"

type Message struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ConversationID  uint      `gorm:"not null;index" json:"conversation_id"`
	Role            string    `gorm:"size:16;not null;index" json:"role"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	Context         string    `gorm:"type:text" json:"context,omitempty"`
	RetrievedChunks string    `gorm:"type:text" json:"retrieved_chunks,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
