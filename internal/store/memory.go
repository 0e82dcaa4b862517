package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storybook-server/internal/models"
)

// Compile-time check to ensure MemorySessionStore implements SessionStore
var _ SessionStore = (*MemorySessionStore)(nil)

// MemorySessionStore - хранилище сессий в памяти процесса.
// Используется в тестах и локальной разработке; записи живут до рестарта.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemorySessionStore создает пустое in-memory хранилище.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*models.Session),
	}
}

// Create сохраняет новую сессию со статусом pending.
func (s *MemorySessionStore) Create(ctx context.Context, input models.BookInput) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.New(),
		Input:     input,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID.String()] = session
	s.mu.Unlock()

	return session.Clone(), nil
}

// Get возвращает копию сессии, чтобы вызывающий не мог изменить хранимую запись.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update применяет mutate к копии записи и атомарно подменяет ее под блокировкой.
// Читатели видят либо старую, либо новую запись целиком.
func (s *MemorySessionStore) Update(ctx context.Context, id string, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	next := current.Clone()
	mutate(next)
	next.ID = current.ID // id неизменяем
	next.UpdatedAt = time.Now().UTC()
	s.sessions[id] = next

	return next.Clone(), nil
}
