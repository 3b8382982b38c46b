package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"knowledgebase/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) List(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return convs, nil
}

func (r *ConversationRepository) Update(ctx context.Context, conv *model.Conversation) error {
	if err := r.db.WithContext(ctx).Save(conv).Error; err != nil {
		return fmt.Errorf("update conversation failed: %w", err)
	}
	return nil
}

// DeleteBySessionID removes the conversation and its messages together.
func (r *ConversationRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Where("session_id = ?", sessionID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
	if err != nil {
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}
