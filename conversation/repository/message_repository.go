package repository

import (
	"context"

	"daa-assistant/backend/conversation/models"

	"gorm.io/gorm"
)

// AllSessions selects messages regardless of session in LastN.
const AllSessions = ""

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// LastN returns the newest limit messages, oldest first.
	LastN(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Migrate creates or updates the history table.
func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&models.Message{})
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(message).Error
	})
}

func (r *GormMessageRepository) LastN(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Model(&models.Message{})
	if sessionID != AllSessions {
		q = q.Where("session_id = ?", sessionID)
	}

	var messages []models.Message
	if err := q.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *GormMessageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}
