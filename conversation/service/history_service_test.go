package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"daa-assistant/backend/conversation/models"
	"daa-assistant/backend/conversation/repository"
	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/config"
	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...Option) *HistoryService {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	repo := repository.NewGormMessageRepository(db)
	require.NoError(t, repo.Migrate())
	return NewHistoryService(repo, logger.Nop(), opts...)
}

func TestAppendThenRetrieve(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Append(ctx, "s1", chat.RoleUser, "Hej", "")
	s.Append(ctx, "s1", chat.RoleAssistant, "Hej Anders", "")

	got := s.Retrieve(ctx, "s1", 10)
	require.Len(t, got, 2)
	assert.Equal(t, chat.RoleUser, got[0].Role)
	assert.Equal(t, "Hej", got[0].Content)
	assert.Equal(t, chat.RoleAssistant, got[1].Role)
	assert.Equal(t, "Hej Anders", got[1].Content)
}

func TestRetrieveReturnsLastKInOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		s.Append(ctx, "s1", chat.RoleUser, fmt.Sprintf("m%02d", i), "")
	}

	for _, k := range []int{1, 5, 12, 50} {
		got := s.Retrieve(ctx, "s1", k)
		want := k
		if want > 12 {
			want = 12
		}
		require.Len(t, got, want)
		for i, msg := range got {
			assert.Equal(t, fmt.Sprintf("m%02d", 12-want+i), msg.Content)
		}
	}
}

func TestRetrieveUsesDefaultLimit(t *testing.T) {
	s := newStore(t, WithDefaultLimit(3))
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		s.Append(ctx, "s1", chat.RoleUser, fmt.Sprint(i), "")
	}

	got := s.Retrieve(ctx, "s1", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Content)
}

func TestGlobalModeIgnoresSession(t *testing.T) {
	s := newStore(t, WithMemoryMode(config.MemoryGlobal))
	ctx := context.Background()
	s.Append(ctx, "kitchen", chat.RoleUser, "a", "")
	s.Append(ctx, "office", chat.RoleUser, "b", "")

	got := s.Retrieve(ctx, "kitchen", 10)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Content)
	assert.Equal(t, config.MemoryGlobal, s.MemoryMode())
}

func TestImageIsPersisted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Append(ctx, "s1", chat.RoleUser, "vad är detta?", "aGVsbG8=")

	got := s.Retrieve(ctx, "s1", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "aGVsbG8=", got[0].Image)
}

type brokenRepo struct{}

func (brokenRepo) Create(context.Context, *models.Message) error {
	return errors.New("database is locked")
}

func (brokenRepo) LastN(context.Context, string, int) ([]models.Message, error) {
	return nil, errors.New("database is locked")
}

func (brokenRepo) CountBySession(context.Context, string) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestStorageFailureDegrades(t *testing.T) {
	s := NewHistoryService(brokenRepo{}, logger.Nop())
	ctx := context.Background()

	assert.NotPanics(t, func() { s.Append(ctx, "s1", chat.RoleUser, "Hej", "") })
	got := s.Retrieve(ctx, "s1", 10)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
