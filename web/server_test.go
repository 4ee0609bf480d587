package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/web/middleware"
)

func serve(s *Server, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLiveness(t *testing.T) {
	s := NewServer(nil, WithMode(gin.TestMode))
	for _, path := range []string{"/", "/healthcheck", "/health"} {
		assert.Equal(t, http.StatusOK, serve(s, path, nil).Code, path)
	}
}

func TestHealth(t *testing.T) {
	health := pubsub.Health{Topic: "results", Subscription: "jobs", Buffered: 3, HandedOff: 10}
	s := NewServer(nil, WithMode(gin.TestMode), WithHealth(func() pubsub.Health { return health }))

	rec := serve(s, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got pubsub.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "jobs", got.Subscription)
	assert.Equal(t, 3, got.Buffered)
	assert.Equal(t, int64(10), got.HandedOff)

	health.ShutDown = true
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, "/health", nil).Code)
}

func TestCorrelationId(t *testing.T) {
	s := NewServer(nil, WithMode(gin.TestMode))

	rec := serve(s, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIdKey))

	rec = serve(s, "/health", http.Header{middleware.CorrelationIdKey: []string{"abc"}})
	assert.Equal(t, "abc", rec.Header().Get(middleware.CorrelationIdKey))
}
