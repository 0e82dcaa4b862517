package store

import (
	"context"

	"storybook-server/internal/models"
)

// SessionStore определяет контракт долговременного хранилища сессий.
// Параллельные Get никогда не видят частично записанную запись; Update разных
// сессий не конкурируют между собой. Пайплайн - единственный писатель одной
// сессии, поэтому read-modify-write внутри Update не требует внешних блокировок.
type SessionStore interface {
	// Create генерирует id, сохраняет начальную запись со статусом pending
	// и возвращает ее.
	Create(ctx context.Context, input models.BookInput) (*models.Session, error)
	// Get возвращает сессию или models.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Update атомарно применяет mutate к текущей записи, обновляет updated_at
	// и возвращает новую версию. Возвращает models.ErrSessionNotFound,
	// если сессии нет.
	Update(ctx context.Context, id string, mutate func(*models.Session)) (*models.Session, error)
}
