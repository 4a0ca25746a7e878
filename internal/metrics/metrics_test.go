package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestResult(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.NotValidf("age"), "not_valid"},
		{errors.Annotate(errors.NotFoundf("user %q", "x"), "update user"), "not_found"},
		{errors.AlreadyExistsf("email"), "already_exists"},
		{errors.Forbiddenf("delete admin"), "forbidden"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Result(tc.err), "%v", tc.err)
	}
}

func TestObserveOperation(t *testing.T) {
	m, err := New(false)
	require.NoError(t, err)

	m.ObserveOperation("list", 120*time.Millisecond, nil)
	m.ObserveOperation("create", time.Second, errors.AlreadyExistsf("email"))

	body := scrape(t, m)
	assert.Contains(t, body, `userhub_repository_operations_total{op="list",result="ok"} 1`)
	assert.Contains(t, body, `userhub_repository_operations_total{op="create",result="already_exists"} 1`)
	assert.Contains(t, body, `userhub_repository_operation_duration_seconds_count{op="create"} 1`)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := New(false)
	require.NoError(t, err)

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/users/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	body := scrape(t, m)
	assert.Contains(t, body, `userhub_http_requests_total{method="GET",path="/api/users/:id",status="404"} 2`)
	assert.Contains(t, body, `userhub_http_inflight_requests{method="GET",path="/api/users/:id"} 0`)
}
