package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository/memory"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

var (
	testAdmin   = &models.User{ID: "u-admin", Username: "admin", Role: models.RoleAdmin}
	testTeacher = &models.User{ID: "u-teacher", Username: "teach", Role: models.RoleTeacher}
)

func newTestGuard() *AuthService {
	return NewAuthService(nil, nil, nil, nil, nil, nil, AuthConfig{})
}

func TestStudentServiceCreate(t *testing.T) {
	store := memory.NewStore()
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)

	student, err := svc.Create(context.Background(), CreateStudentRequest{Name: " Alice ", Email: " Alice@Example.COM "})
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, "Alice", student.Name)
	assert.Equal(t, "alice@example.com", student.Email)
	assert.Nil(t, student.ProfilePic)
}

func TestStudentServiceCreateDuplicateEmail(t *testing.T) {
	store := memory.NewStore()
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateStudentRequest{Name: "Other", Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateKey)
	assertCounts(t, store, 1, -1, -1)
}

func TestStudentServiceCreateValidation(t *testing.T) {
	svc := NewStudentService(memory.NewStore().Students(), newTestGuard(), nil, nil, nil)

	cases := map[string]CreateStudentRequest{
		"missing name":  {Email: "a@example.com"},
		"missing email": {Name: "A"},
		"bad email":     {Name: "A", Email: "not-an-email"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestStudentServiceListPagination(t *testing.T) {
	store := memory.NewStore()
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)
	ctx := context.Background()
	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		_, err := svc.Create(ctx, CreateStudentRequest{Name: email, Email: email})
		require.NoError(t, err)
	}

	items, total, page, err := svc.List(ctx, models.Page{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, models.Page{Skip: 1, Limit: 1}, page)
	require.Len(t, items, 1)
	assert.Equal(t, "b@x.io", items[0].Email)

	items, _, page, err = svc.List(ctx, models.Page{Skip: -4, Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, models.Page{Skip: 0, Limit: models.DefaultPageLimit}, page)
	assert.Len(t, items, 3)

	items, _, _, err = svc.List(ctx, models.Page{Skip: 10, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStudentServiceListFailure(t *testing.T) {
	store := memory.NewStore()
	store.FailWith(errors.New("connection reset"))
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)

	_, _, _, err := svc.List(context.Background(), models.Page{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestStudentServiceGetNotFound(t *testing.T) {
	svc := NewStudentService(memory.NewStore().Students(), newTestGuard(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestStudentServiceUpdate(t *testing.T) {
	store := memory.NewStore()
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)
	ctx := context.Background()
	alice, err := svc.Create(ctx, CreateStudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateStudentRequest{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)

	name := "Alicia"
	updated, err := svc.Update(ctx, alice.ID, UpdateStudentRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", updated.Name)
	assert.Equal(t, "alice@example.com", updated.Email)

	unchanged, err := svc.Update(ctx, alice.ID, UpdateStudentRequest{})
	require.NoError(t, err)
	assert.Equal(t, updated, unchanged)

	taken := "BOB@example.com"
	_, err = svc.Update(ctx, alice.ID, UpdateStudentRequest{Email: &taken})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateKey)

	blank := "   "
	_, err = svc.Update(ctx, alice.ID, UpdateStudentRequest{Name: &blank})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Update(ctx, "missing", UpdateStudentRequest{Name: &name})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Update(ctx, "missing", UpdateStudentRequest{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestStudentServiceDeleteRequiresAdmin(t *testing.T) {
	store := memory.NewStore()
	svc := NewStudentService(store.Students(), newTestGuard(), nil, nil, nil)
	ctx := context.Background()
	alice, err := svc.Create(ctx, CreateStudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, testTeacher, alice.ID), appErrors.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, nil, alice.ID), appErrors.ErrUnauthorized)
	assertCounts(t, store, 1, -1, -1)

	require.NoError(t, svc.Delete(ctx, testAdmin, alice.ID))
	assertCounts(t, store, 0, -1, -1)
	assert.ErrorIs(t, svc.Delete(ctx, testAdmin, alice.ID), appErrors.ErrNotFound)
}

func TestStudentServiceDeleteSchedulesPictureCleanup(t *testing.T) {
	store := memory.NewStore()
	objects := newMemObjects()
	cleaner := &syncCleaner{store: objects}
	svc := NewStudentService(store.Students(), newTestGuard(), cleaner, nil, nil)
	ctx := context.Background()

	alice, err := svc.Create(ctx, CreateStudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	key := "students/" + alice.ID + "/profile.png"
	objects.objects[key] = []byte("png")
	_, _, err = store.Students().ReplaceProfilePicture(ctx, alice.ID, key)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, testAdmin, alice.ID))
	assert.Equal(t, []string{key}, cleaner.scheduled)
	assert.False(t, objects.has(key))
}
