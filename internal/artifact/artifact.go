package artifact

import (
	"context"
	"errors"
)

// ErrArtifactSaveFailed - ошибка при сохранении артефакта.
var ErrArtifactSaveFailed = errors.New("artifact save failed")

// ErrArtifactNotFound - артефакт с таким ключом не найден.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store определяет интерфейс долговременного хранилища бинарных артефактов
// (иллюстрации сцен и собранная книга).
type Store interface {
	// Put надежно сохраняет блоб по ключу и возвращает стабильный публичный URL,
	// пригодный для ответа статус-эндпоинта без дополнительной обработки.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get возвращает ранее сохраненный блоб (нужен сборщику книги после рестарта).
	Get(ctx context.Context, key string) ([]byte, error)
}
