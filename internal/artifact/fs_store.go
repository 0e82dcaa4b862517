package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Compile-time check to ensure FSStore implements Store
var _ Store = (*FSStore)(nil)

// FSStore - файловая реализация Store.
// Файлы пишутся сначала во временный файл в целевой директории и затем
// переименовываются, чтобы по ключу никогда не был виден частично записанный
// блоб. Временный файл удаляется на всех путях выхода.
type FSStore struct {
	baseDir string
	baseURL string
	logger  *zap.Logger
}

// NewFSStore создает файловое хранилище артефактов.
// Директория создается при необходимости.
func NewFSStore(baseDir, baseURL string, logger *zap.Logger) (*FSStore, error) {
	if baseDir == "" {
		return nil, errors.New("artifact base dir is not configured")
	}
	if baseURL == "" {
		return nil, errors.New("artifact public base URL is not configured")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", baseDir, err)
	}
	return &FSStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("FSArtifactStore"),
	}, nil
}

// Put сохраняет блоб и возвращает публичный URL.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: key is required but empty", ErrArtifactSaveFailed)
	}

	finalPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactSaveFailed, err)
	}

	// Временный файл в той же директории, чтобы rename был атомарным
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactSaveFailed, err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		s.logger.Error("Failed to stage artifact", zap.String("key", key), zap.Error(writeErr))
		return "", fmt.Errorf("%w: %v", ErrArtifactSaveFailed, writeErr)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("Failed to publish artifact", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrArtifactSaveFailed, err)
	}

	url := s.baseURL + "/" + strings.TrimLeft(key, "/")
	s.logger.Info("Artifact stored",
		zap.String("key", key),
		zap.Int("size_bytes", len(data)),
		zap.String("url", url),
	)
	return url, nil
}

// Get читает ранее сохраненный блоб.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return data, nil
}

// BaseDir возвращает корневую директорию хранилища (для раздачи файлов HTTP-слоем).
func (s *FSStore) BaseDir() string {
	return s.baseDir
}
