package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type fakeResolver struct {
	users map[string]*models.User
}

func (f fakeResolver) Resolve(ctx context.Context, raw string) (*models.User, error) {
	if u, ok := f.users[raw]; ok {
		return u, nil
	}
	return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "")
}

func newProtectedRouter(roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	resolver := fakeResolver{users: map[string]*models.User{
		"admin-token":   {ID: "1", Username: "admin", Role: models.RoleAdmin},
		"teacher-token": {ID: "2", Username: "teach", Role: models.RoleTeacher},
	}}
	router := gin.New()
	group := router.Group("/", JWT(resolver))
	if len(roles) > 0 {
		group.Use(RequireRoles(roles...))
	}
	group.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).Username)
	})
	return router
}

func serve(router http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	router := newProtectedRouter()

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing header", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized, body: "TOKEN_MALFORMED"},
		{name: "valid", header: "bearer teacher-token", status: http.StatusOK, body: "teach"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(router, tc.header)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			if tc.status == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	router := newProtectedRouter(models.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, serve(router, "Bearer teacher-token").Code)
	assert.Equal(t, http.StatusOK, serve(router, "Bearer admin-token").Code)
}

func TestRequireRolesWithoutPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
}

func TestRateLimitPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewIPRateLimiter(1, 2)
	frozen := time.Now()
	limiter.now = func() time.Time { return frozen }

	router := gin.New()
	router.Use(RateLimit(limiter))
	router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	limited := call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code)

	frozen = frozen.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewIPRateLimiter(5, 5)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(visitorIdleTTL + visitorSweepTick + time.Second)
	limiter.Allow("b")

	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "b")
}

func TestConcurrencyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	entered := make(chan struct{})
	release := make(chan struct{})

	router := gin.New()
	router.Use(ConcurrencyLimit(1))
	router.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})
	router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	var wg sync.WaitGroup
	wg.Add(1)
	slow := httptest.NewRecorder()
	go func() {
		defer wg.Done()
		router.ServeHTTP(slow, httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()
	<-entered

	busy := serve(router, "")
	assert.Equal(t, http.StatusServiceUnavailable, busy.Code)

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, slow.Code)
	assert.Equal(t, http.StatusOK, serve(router, "").Code)
}

func TestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Timeout(10 * time.Millisecond))
	router.GET("/me", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})

	rec := serve(router, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService(nil)
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/students/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/students/1", "/students/2", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `enrollment_http_requests_total{method="GET",path="/students/:id",status="200"} 2`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.False(t, strings.Contains(body, "/students/1"))
}

func TestAuditLogsSuccessfulMutations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(Audit(zap.New(core)))
	router.POST("/students", func(c *gin.Context) { c.Status(http.StatusCreated) })
	router.DELETE("/students/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/students", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/students", nil),
		httptest.NewRequest(http.MethodDelete, "/students/9", nil),
		httptest.NewRequest(http.MethodGet, "/students", nil),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "mutation", entries[0].Message)
	assert.Equal(t, "/students", entries[0].ContextMap()["route"])
}
