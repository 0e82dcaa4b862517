package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/models"
	"storybook-server/internal/store"
)

func TestMemorySessionStore_CreateAndGet(t *testing.T) {
	s := store.NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Create(ctx, models.BookInput{CharacterName: "Mira", Animal: "fox"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, session.Status)
	assert.NotEqual(t, "", session.ID.String())
	assert.False(t, session.CreatedAt.IsZero())

	got, err := s.Get(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "Mira", got.Input.CharacterName)
}

func TestMemorySessionStore_GetUnknown(t *testing.T) {
	s := store.NewMemorySessionStore()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestMemorySessionStore_Update(t *testing.T) {
	s := store.NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Create(ctx, models.BookInput{})
	require.NoError(t, err)

	updated, err := s.Update(ctx, session.ID.String(), func(sess *models.Session) {
		sess.Status = models.StatusStoryReady
		sess.Story = "Once upon a time."
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusStoryReady, updated.Status)
	assert.Equal(t, "Once upon a time.", updated.Story)

	got, err := s.Get(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusStoryReady, got.Status)
}

func TestMemorySessionStore_UpdateUnknown(t *testing.T) {
	s := store.NewMemorySessionStore()

	_, err := s.Update(context.Background(), "missing", func(*models.Session) {})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

// Читатель не должен видеть изменения через полученную копию.
func TestMemorySessionStore_ReturnsIsolatedCopies(t *testing.T) {
	s := store.NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Create(ctx, models.BookInput{})
	require.NoError(t, err)
	id := session.ID.String()

	_, err = s.Update(ctx, id, func(sess *models.Session) {
		sess.Scenes = []models.Scene{{Index: 0, TextExcerpt: "First."}}
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	got.Scenes[0].TextExcerpt = "mutated"
	got.Status = models.StatusDone

	fresh, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "First.", fresh.Scenes[0].TextExcerpt)
	assert.Equal(t, models.StatusPending, fresh.Status)
}

func TestMemorySessionStore_ConcurrentUpdates(t *testing.T) {
	s := store.NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Create(ctx, models.BookInput{})
	require.NoError(t, err)
	id := session.ID.String()

	_, err = s.Update(ctx, id, func(sess *models.Session) {
		sess.Scenes = make([]models.Scene, 10)
		for i := range sess.Scenes {
			sess.Scenes[i] = models.Scene{Index: i}
		}
	})
	require.NoError(t, err)

	// Каждый писатель обновляет свою сцену, как воркеры иллюстраций
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.Update(ctx, id, func(sess *models.Session) {
				sess.Scenes[idx].ImageURL = "http://localhost/img.png"
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	for i, scene := range got.Scenes {
		assert.NotEmpty(t, scene.ImageURL, "scene %d lost its update", i)
	}
}
