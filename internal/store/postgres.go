package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Compile-time check to ensure PgSessionStore implements SessionStore
var _ SessionStore = (*PgSessionStore)(nil)

const (
	insertSessionQuery = `
		INSERT INTO book_sessions (id, status, input, story, elements, scenes, book_url, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	getSessionQuery = `
		SELECT id, status, input, story, elements, scenes, book_url, error, created_at, updated_at
		FROM book_sessions
		WHERE id = $1
	`
	getSessionForUpdateQuery = getSessionQuery + ` FOR UPDATE`
	updateSessionQuery       = `
		UPDATE book_sessions
		SET status = $2, input = $3, story = $4, elements = $5, scenes = $6,
		    book_url = $7, error = $8, updated_at = $9
		WHERE id = $1
	`
)

// sessionRow - строка таблицы book_sessions; JSONB-колонки читаются как байты
// и десериализуются отдельно.
type sessionRow struct {
	ID        uuid.UUID `db:"id"`
	Status    string    `db:"status"`
	Input     []byte    `db:"input"`
	Story     string    `db:"story"`
	Elements  []byte    `db:"elements"`
	Scenes    []byte    `db:"scenes"`
	BookURL   string    `db:"book_url"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PgSessionStore - PostgreSQL-реализация SessionStore.
// Update выполняется в транзакции с SELECT ... FOR UPDATE, поэтому параллельные
// изменения одной сессии сериализуются на уровне строки, а разных - не конкурируют.
type PgSessionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSessionStore создает новый экземпляр PgSessionStore.
func NewPgSessionStore(pool *pgxpool.Pool, logger *zap.Logger) *PgSessionStore {
	return &PgSessionStore{
		pool:   pool,
		logger: logger.Named("PgSessionStore"),
	}
}

// Create сохраняет новую сессию со статусом pending.
func (s *PgSessionStore) Create(ctx context.Context, input models.BookInput) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.New(),
		Input:     input,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	row, err := rowFromSession(session)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, insertSessionQuery,
		row.ID, row.Status, row.Input, row.Story, row.Elements, row.Scenes,
		row.BookURL, row.Error, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert session", zap.String("session_id", session.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("error inserting session: %w", err)
	}
	return session, nil
}

// Get возвращает сессию или models.ErrSessionNotFound.
func (s *PgSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.ErrSessionNotFound
	}

	var row sessionRow
	err = pgxscan.Get(ctx, s.pool, &row, getSessionQuery, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	return sessionFromRow(&row)
}

// Update применяет mutate к строке сессии под блокировкой строки.
func (s *PgSessionStore) Update(ctx context.Context, id string, mutate func(*models.Session)) (*models.Session, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.ErrSessionNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error starting session update transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback после commit безвреден

	var row sessionRow
	err = pgxscan.Get(ctx, tx, &row, getSessionForUpdateQuery, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		s.logger.Error("Failed to lock session row", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("error locking session row: %w", err)
	}

	session, err := sessionFromRow(&row)
	if err != nil {
		return nil, err
	}

	mutate(session)
	session.ID = sessionID // id неизменяем
	session.UpdatedAt = time.Now().UTC()

	updated, err := rowFromSession(session)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, updateSessionQuery,
		updated.ID, updated.Status, updated.Input, updated.Story, updated.Elements,
		updated.Scenes, updated.BookURL, updated.Error, updated.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to update session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("error updating session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing session update: %w", err)
	}
	return session, nil
}

func rowFromSession(session *models.Session) (*sessionRow, error) {
	inputJSON, err := json.Marshal(session.Input)
	if err != nil {
		return nil, fmt.Errorf("error marshaling session input: %w", err)
	}
	var elementsJSON []byte
	if session.Elements != nil {
		if elementsJSON, err = json.Marshal(session.Elements); err != nil {
			return nil, fmt.Errorf("error marshaling session elements: %w", err)
		}
	}
	var scenesJSON []byte
	if session.Scenes != nil {
		if scenesJSON, err = json.Marshal(session.Scenes); err != nil {
			return nil, fmt.Errorf("error marshaling session scenes: %w", err)
		}
	}
	return &sessionRow{
		ID:        session.ID,
		Status:    string(session.Status),
		Input:     inputJSON,
		Story:     session.Story,
		Elements:  elementsJSON,
		Scenes:    scenesJSON,
		BookURL:   session.BookURL,
		Error:     session.Error,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}, nil
}

func sessionFromRow(row *sessionRow) (*models.Session, error) {
	session := &models.Session{
		ID:        row.ID,
		Status:    models.SessionStatus(row.Status),
		Story:     row.Story,
		BookURL:   row.BookURL,
		Error:     row.Error,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Input, &session.Input); err != nil {
		return nil, fmt.Errorf("error unmarshaling session input: %w", err)
	}
	if len(row.Elements) > 0 {
		session.Elements = &models.StoryElements{}
		if err := json.Unmarshal(row.Elements, session.Elements); err != nil {
			return nil, fmt.Errorf("error unmarshaling session elements: %w", err)
		}
	}
	if len(row.Scenes) > 0 {
		if err := json.Unmarshal(row.Scenes, &session.Scenes); err != nil {
			return nil, fmt.Errorf("error unmarshaling session scenes: %w", err)
		}
	}
	return session, nil
}
