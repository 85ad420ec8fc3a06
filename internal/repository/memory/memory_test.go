package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
)

func TestStoreEnforcesUniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	students := store.Students()

	require.NoError(t, students.Create(ctx, &models.Student{ID: "s1", Name: "A", Email: "a@x.io"}))
	assert.ErrorIs(t, students.Create(ctx, &models.Student{ID: "s2", Name: "B", Email: "a@x.io"}), repository.ErrDuplicateKey)

	require.NoError(t, store.Courses().Create(ctx, &models.Course{ID: "c1", Title: "Math"}))
	_, err := store.Enrollments().Create(ctx, "s1", "c1")
	require.NoError(t, err)
	_, err = store.Enrollments().Create(ctx, "s1", "c1")
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)
	_, err = store.Enrollments().Create(ctx, "s1", "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	created, err := store.Users().CreateIfNone(ctx, &models.User{ID: "u1", Username: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.Users().CreateIfNone(ctx, &models.User{ID: "u2", Username: "other", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, store.UserCount())
}

func TestStoreListWindow(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, store.Courses().Create(ctx, &models.Course{ID: id, Title: id}))
	}

	items, total, err := store.Courses().List(ctx, models.Page{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "c2", items[0].ID)

	items, _, err = store.Courses().List(ctx, models.Page{Skip: 3})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStoreCascadesDeletes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Students().Create(ctx, &models.Student{ID: "s1", Name: "A", Email: "a@x.io"}))
	require.NoError(t, store.Courses().Create(ctx, &models.Course{ID: "c1", Title: "Math"}))
	require.NoError(t, store.Courses().Create(ctx, &models.Course{ID: "c2", Title: "Art"}))
	for _, c := range []string{"c1", "c2"} {
		_, err := store.Enrollments().Create(ctx, "s1", c)
		require.NoError(t, err)
	}

	require.NoError(t, store.Courses().Delete(ctx, "c2"))
	_, _, enrollments := store.Counts()
	assert.Equal(t, 1, enrollments)

	deleted, err := store.Students().Delete(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", deleted.ID)
	students, courses, enrollments := store.Counts()
	assert.Equal(t, 0, students)
	assert.Equal(t, 1, courses)
	assert.Equal(t, 0, enrollments)

	_, err = store.Students().Delete(ctx, "s1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
