package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Compile-time check to ensure redisSessionStore implements SessionStore
var _ SessionStore = (*redisSessionStore)(nil)

const sessionKeyPrefix = "book_session:"

// maxUpdateAttempts ограничивает число повторов оптимистичного Update при
// конкуренции за ключ. Писателей одной сессии не больше, чем воркеров
// иллюстраций, так что лимит с запасом.
const maxUpdateAttempts = 16

// redisSessionStore хранит каждую сессию как JSON-значение по ключу
// book_session:{id}. SET атомарен, поэтому читатели никогда не видят
// частично записанную сессию.
type redisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a new Redis-backed SessionStore.
func NewRedisSessionStore(client *redis.Client, logger *zap.Logger) SessionStore {
	return &redisSessionStore{
		client: client,
		logger: logger.Named("RedisSessionStore"), // Имя для контекста
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create сохраняет новую сессию со статусом pending.
func (s *redisSessionStore) Create(ctx context.Context, input models.BookInput) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.New(),
		Input:     input,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.write(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Debug("Session created", zap.String("session_id", session.ID.String()))
	return session, nil
}

// Get читает и десериализует сессию.
func (s *redisSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get session from redis", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Error("Failed to unmarshal session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Update читает запись, применяет mutate и записывает результат целиком под
// WATCH с оптимистичным повтором: воркеры иллюстраций обновляют одну сессию
// параллельно (каждый - свою сцену), и без WATCH вторая запись затирала бы
// image_url первой.
func (s *redisSessionStore) Update(ctx context.Context, id string, mutate func(*models.Session)) (*models.Session, error) {
	key := sessionKey(id)
	var updated *models.Session

	apply := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get session from redis: %w", err)
		}

		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session %s: %w", id, err)
		}

		originalID := session.ID
		mutate(&session)
		session.ID = originalID // id неизменяем
		session.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			updated = &session
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, apply, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Ключ изменился между GET и EXEC, повторяем с новым снимком
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	s.logger.Error("Session update exhausted optimistic retries", zap.String("session_id", id))
	return nil, fmt.Errorf("failed to update session %s: too much contention", id)
}

// write сериализует сессию и кладет ее в Redis без TTL (политика удаления -
// внешняя забота).
func (s *redisSessionStore) write(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ID.String()), data, 0).Err(); err != nil {
		s.logger.Error("Failed to set session in redis", zap.String("session_id", session.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to set session in redis: %w", err)
	}
	return nil
}
