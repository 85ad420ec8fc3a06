package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/enrollment-api/internal/repository/memory"
	"github.com/noah-isme/enrollment-api/pkg/token"
)

// plainHasher stands in for bcrypt so tests stay fast.
type plainHasher struct {
	dummyCalls int
	mu         sync.Mutex
}

func (h *plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (h *plainHasher) Verify(password, digest string) bool {
	return digest == "hashed:"+password
}

func (h *plainHasher) VerifyDummy(string) {
	h.mu.Lock()
	h.dummyCalls++
	h.mu.Unlock()
}

type memAttempts struct {
	mu       sync.Mutex
	failures map[string]int64
}

func (a *memAttempts) Failures(ctx context.Context, username string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[username], nil
}

func (a *memAttempts) RecordFailure(ctx context.Context, username string, window time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures == nil {
		a.failures = make(map[string]int64)
	}
	a.failures[username]++
	return a.failures[username], nil
}

func (a *memAttempts) Reset(ctx context.Context, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, username)
	return nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if o.putErr != nil {
		return "", o.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	o.mu.Lock()
	o.objects[key] = buf.Bytes()
	o.mu.Unlock()
	return key, nil
}

func (o *memObjects) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	delete(o.objects, key)
	o.mu.Unlock()
	return nil
}

func (o *memObjects) URL(key string) string {
	return "/uploads/" + key
}

func (o *memObjects) has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

func (o *memObjects) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// syncCleaner deletes immediately so tests can assert on the store.
type syncCleaner struct {
	store     *memObjects
	scheduled []string
}

func (c *syncCleaner) Schedule(key string) {
	c.scheduled = append(c.scheduled, key)
	_ = c.store.Delete(context.Background(), key)
}

func newTestTokens(now func() time.Time) *token.Manager {
	m, err := token.NewManager(token.Config{Secret: "test-secret", Issuer: "test", TTL: 30 * time.Minute}, token.WithClock(now))
	if err != nil {
		panic(err)
	}
	return m
}

// assertCounts checks row counts in the store; a negative want skips that table.
func assertCounts(t *testing.T, store *memory.Store, students, courses, enrollments int) {
	t.Helper()
	gotStudents, gotCourses, gotEnrollments := store.Counts()
	if students >= 0 {
		assert.Equal(t, students, gotStudents, "students")
	}
	if courses >= 0 {
		assert.Equal(t, courses, gotCourses, "courses")
	}
	if enrollments >= 0 {
		assert.Equal(t, enrollments, gotEnrollments, "enrollments")
	}
}
