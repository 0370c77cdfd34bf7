package server

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/objects"
	"github.com/mindgallery/gallery-api/internal/store"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8000", Environment: env, BasePath: "/api"},
		JWT: config.JWTConfig{
			AccessSecret:  "a",
			RefreshSecret: "b",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
			Issuer:        "mindgallery",
			Audience:      "mindgallery-web",
		},
		Cookie:        config.CookieConfig{CSRFEnabled: true},
		Objects:       config.ObjectsConfig{Driver: "memory", Bucket: "gallery", PresignTTL: time.Minute},
		DynamoDB:      config.DynamoDBConfig{Driver: "memory"},
		Observability: config.ObservabilityConfig{MetricsPath: "/metrics"},
		CORS:          config.CORSConfig{AllowOrigins: "http://localhost:5173"},
	}
}

func newTestServer(t *testing.T, env string) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := testConfig(env)
	tokens := newTokens(cfg)
	mw := middleware.NewManagerWithRedis(cfg, tokens, nil, logger)
	return NewWithDependencies(cfg, logger, store.NewMemory(), objects.NewMemory("gallery"), tokens, mw)
}

func TestServer_GlobalMiddleware(t *testing.T) {
	srv := newTestServer(t, "production")

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := srv.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	assert.Equal(t, "nosniff", resp.Header.Get(fiber.HeaderXContentTypeOptions))
	assert.Equal(t, "http://localhost:5173", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	resp, err = srv.App.Test(httptest.NewRequest("GET", "/debug/pprof/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = srv.App.Test(httptest.NewRequest("GET", "/readyz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestServer_PprofInDevelopment(t *testing.T) {
	srv := newTestServer(t, "development")

	resp, err := srv.App.Test(httptest.NewRequest("GET", "/debug/pprof/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestTableCheck(t *testing.T) {
	// the probe key never exists; a miss means the table is reachable
	st := store.NewInstrumented(store.NewMemory(), "memory")
	assert.NoError(t, tableCheck(st)(context.Background()))
}

func TestNew_MemoryDrivers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := New(context.Background(), testConfig("test"), logger)
	require.NoError(t, err)
	assert.Nil(t, srv.Middleware.RedisClient)

	resp, err := srv.App.Test(httptest.NewRequest("GET", "/api/gallery/public", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
