package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/tinylink/internal/entity"
	"github.com/vadimbarashkov/tinylink/migrations"
	"github.com/vadimbarashkov/tinylink/pkg/sqlite"
)

func setupLinkRepository(t testing.TB) *LinkRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tinylink.db")

	if err := sqlite.RunMigrations(migrations.SQLite, "sqlite", path); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := sqlite.New(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	return NewLinkRepository(db)
}

func TestIsUniqueViolationError(t *testing.T) {
	assert.False(t, isUniqueViolationError(errors.New("unknown error")))
	assert.False(t, isUniqueViolationError(nil))
}

func TestLinkRepository_Save(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo := setupLinkRepository(t)
		createdAt := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)
		repo.nowFunc = func() time.Time { return createdAt }

		link, err := repo.Save(context.Background(), "abc123", "https://example.com")

		require.NoError(t, err)
		assert.Equal(t, "abc123", link.Code)
		assert.Equal(t, "https://example.com", link.URL)
		assert.Zero(t, link.Clicks)
		assert.Nil(t, link.LastClicked)
		assert.True(t, createdAt.Equal(link.CreatedAt))
	})

	t.Run("code exists", func(t *testing.T) {
		repo := setupLinkRepository(t)

		_, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)
		require.NoError(t, repo.RecordClick(context.Background(), "abc123", time.Now()))

		link, err := repo.Save(context.Background(), "abc123", "https://other.example.com")

		assert.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrCodeExists)
		assert.Nil(t, link)

		existing, err := repo.FindByCode(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", existing.URL)
		assert.Equal(t, int64(1), existing.Clicks)
	})
}

func TestLinkRepository_FindByCode(t *testing.T) {
	repo := setupLinkRepository(t)

	t.Run("link not found", func(t *testing.T) {
		link, err := repo.FindByCode(context.Background(), "nope12")

		assert.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrLinkNotFound)
		assert.Nil(t, link)
	})

	t.Run("success", func(t *testing.T) {
		_, err := repo.Save(context.Background(), "find12", "https://example.com/find")
		require.NoError(t, err)

		link, err := repo.FindByCode(context.Background(), "find12")

		require.NoError(t, err)
		assert.Equal(t, "find12", link.Code)
		assert.Equal(t, "https://example.com/find", link.URL)
	})
}

func TestLinkRepository_RecordClick(t *testing.T) {
	t.Run("link not found", func(t *testing.T) {
		repo := setupLinkRepository(t)

		err := repo.RecordClick(context.Background(), "nope12", time.Now())

		assert.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrLinkNotFound)
	})

	t.Run("increments and stamps", func(t *testing.T) {
		repo := setupLinkRepository(t)
		_, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)
		_, err = repo.Save(context.Background(), "other1", "https://example.com/other")
		require.NoError(t, err)

		first := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC)
		second := first.Add(time.Minute)

		require.NoError(t, repo.RecordClick(context.Background(), "abc123", first))
		require.NoError(t, repo.RecordClick(context.Background(), "abc123", second))

		link, err := repo.FindByCode(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, int64(2), link.Clicks)
		require.NotNil(t, link.LastClicked)
		assert.True(t, second.Equal(*link.LastClicked))

		other, err := repo.FindByCode(context.Background(), "other1")
		require.NoError(t, err)
		assert.Zero(t, other.Clicks)
		assert.Nil(t, other.LastClicked)
	})

	t.Run("last clicked never moves back", func(t *testing.T) {
		repo := setupLinkRepository(t)
		_, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)

		later := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC)
		earlier := later.Add(-time.Second)

		require.NoError(t, repo.RecordClick(context.Background(), "abc123", later))
		require.NoError(t, repo.RecordClick(context.Background(), "abc123", earlier))

		link, err := repo.FindByCode(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, int64(2), link.Clicks)
		require.NotNil(t, link.LastClicked)
		assert.True(t, later.Equal(*link.LastClicked))
	})

	t.Run("concurrent clicks are not lost", func(t *testing.T) {
		repo := setupLinkRepository(t)
		_, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)

		const callers = 100

		var wg sync.WaitGroup
		errs := make(chan error, callers)

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.RecordClick(context.Background(), "abc123", time.Now())
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}

		link, err := repo.FindByCode(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, int64(callers), link.Clicks)
	})
}

func TestLinkRepository_Remove(t *testing.T) {
	repo := setupLinkRepository(t)

	t.Run("link not found", func(t *testing.T) {
		err := repo.Remove(context.Background(), "nope12")

		assert.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrLinkNotFound)
	})

	t.Run("success", func(t *testing.T) {
		_, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)

		err = repo.Remove(context.Background(), "abc123")
		require.NoError(t, err)

		_, err = repo.FindByCode(context.Background(), "abc123")
		assert.ErrorIs(t, err, entity.ErrLinkNotFound)

		err = repo.RecordClick(context.Background(), "abc123", time.Now())
		assert.ErrorIs(t, err, entity.ErrLinkNotFound)
	})
}

func TestLinkRepository_List(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		repo := setupLinkRepository(t)

		links, err := repo.List(context.Background())

		require.NoError(t, err)
		assert.NotNil(t, links)
		assert.Empty(t, links)
	})

	t.Run("newest first", func(t *testing.T) {
		repo := setupLinkRepository(t)
		base := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)

		for i, code := range []string{"first1", "second", "third1"} {
			createdAt := base.Add(time.Duration(i) * time.Minute)
			repo.nowFunc = func() time.Time { return createdAt }

			_, err := repo.Save(context.Background(), code, "https://example.com/"+code)
			require.NoError(t, err)
		}

		links, err := repo.List(context.Background())

		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, "third1", links[0].Code)
		assert.Equal(t, "second", links[1].Code)
		assert.Equal(t, "first1", links[2].Code)
	})
}

func TestLinkRepository_Ping(t *testing.T) {
	repo := setupLinkRepository(t)

	assert.NoError(t, repo.Ping(context.Background()))
}
