package service

import (
	"context"
	"time"

	"daa-assistant/backend/conversation/models"
	"daa-assistant/backend/conversation/repository"
	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/config"
	"daa-assistant/backend/pkg/logger"
)

// HistoryService appends and retrieves conversation turns. Storage failures
// are logged and never returned: reads degrade to an empty history and
// writes become no-ops.
type HistoryService struct {
	repo         repository.MessageRepository
	log          *logger.Logger
	mode         string
	defaultLimit int
	now          func() time.Time
}

// Option customizes a HistoryService.
type Option func(*HistoryService)

// WithMemoryMode sets session or global retrieval.
func WithMemoryMode(mode string) Option {
	return func(s *HistoryService) {
		if mode == config.MemoryGlobal {
			s.mode = config.MemoryGlobal
		}
	}
}

// WithDefaultLimit sets the limit used when callers pass a non-positive one.
func WithDefaultLimit(limit int) Option {
	return func(s *HistoryService) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *HistoryService) { s.now = now }
}

func NewHistoryService(repo repository.MessageRepository, log *logger.Logger, opts ...Option) *HistoryService {
	s := &HistoryService{
		repo:         repo,
		log:          log.WithComponent("history"),
		mode:         config.MemorySession,
		defaultLimit: 100,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MemoryMode reports the configured retrieval mode.
func (s *HistoryService) MemoryMode() string {
	return s.mode
}

// Append persists one message.
func (s *HistoryService) Append(ctx context.Context, sessionID string, role chat.Role, content, image string) {
	msg := &models.Message{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		Image:     image,
		Timestamp: s.now(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		s.log.LogError(err, "failed to save message", "session_id", sessionID, "role", role)
	}
}

// Retrieve returns the most recent limit messages in chronological order.
// In global mode sessionID is ignored.
func (s *HistoryService) Retrieve(ctx context.Context, sessionID string, limit int) []chat.Message {
	if limit <= 0 {
		limit = s.defaultLimit
	}

	scope := sessionID
	if s.mode == config.MemoryGlobal {
		scope = repository.AllSessions
	}

	rows, err := s.repo.LastN(ctx, scope, limit)
	if err != nil {
		s.log.LogError(err, "failed to load history", "session_id", sessionID)
		return []chat.Message{}
	}

	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToChat())
	}
	return out
}
