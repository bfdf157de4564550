package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// logLines decodes every JSON log line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generates an id", incoming: ""},
		{name: "reuses the proxy's id", incoming: "edge-7f3a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequestID())
			router.GET("/api/v1/sessions/:id", func(c *gin.Context) {
				assert.Equal(t, GetRequestID(c), RequestIDFromContext(c.Request.Context()))
				c.String(http.StatusOK, GetRequestID(c))
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			id := w.Header().Get(RequestIDHeader)
			require.NotEmpty(t, id)
			assert.Equal(t, id, w.Body.String())
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, id)
			}
		})
	}

	t.Run("missing from a bare context", func(t *testing.T) {
		assert.Empty(t, GetRequestID(&gin.Context{}))
	})
}

func TestCORS(t *testing.T) {
	origins := []string{"http://localhost:3000", "http://localhost:3001"}

	tests := []struct {
		name         string
		method       string
		origin       string
		reqMethod    string
		expectedCode int
		allowOrigin  string
	}{
		{
			name:         "simple request from the front end",
			method:       http.MethodGet,
			origin:       "http://localhost:3000",
			expectedCode: http.StatusOK,
			allowOrigin:  "http://localhost:3000",
		},
		{
			name:         "foreign origin gets no headers",
			method:       http.MethodGet,
			origin:       "https://evil.example",
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "preflight for a draft edit",
			method:       http.MethodOptions,
			origin:       "http://localhost:3001",
			reqMethod:    http.MethodPatch,
			expectedCode: http.StatusNoContent,
			allowOrigin:  "http://localhost:3001",
		},
		{
			name:         "preflight from a foreign origin",
			method:       http.MethodOptions,
			origin:       "https://evil.example",
			reqMethod:    http.MethodPatch,
			expectedCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORS(origins))
			router.GET("/api/v1/sessions/:id", func(c *gin.Context) {
				c.String(http.StatusOK, "OK")
			})
			router.PATCH("/api/v1/sessions/:id/draft", func(c *gin.Context) {
				c.String(http.StatusOK, "OK")
			})

			path := "/api/v1/sessions/s1"
			if tt.method == http.MethodOptions {
				path += "/draft"
			}
			req := httptest.NewRequest(tt.method, path, nil)
			req.Header.Set("Origin", tt.origin)
			if tt.reqMethod != "" {
				req.Header.Set("Access-Control-Request-Method", tt.reqMethod)
				req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.allowOrigin != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestLogger(t *testing.T) {
	t.Run("session requests carry session and subject", func(t *testing.T) {
		v, err := auth.NewVerifier("secret", "homefinder")
		require.NoError(t, err)
		token, err := v.Issue(auth.Principal{Subject: "user-9"}, time.Hour)
		require.NoError(t, err)

		var buf bytes.Buffer
		router := gin.New()
		router.Use(RequestID(), Logger(logger.NewWithWriter(&buf, "info")), Authenticate(v))
		router.GET("/api/v1/sessions/:id/listings", func(c *gin.Context) {
			require.NotNil(t, GetLogger(c))
			c.String(http.StatusOK, "OK")
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc/listings?page=2", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(httptest.NewRecorder(), req)

		lines := logLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "abc", lines[0]["session_id"])
		assert.Equal(t, "user-9", lines[0]["subject"])
		assert.Equal(t, "page=2", lines[0]["query"])
		assert.Equal(t, float64(http.StatusOK), lines[0]["status"])
	})

	t.Run("health and metrics requests are quiet at info level", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(RequestID(), Logger(logger.NewWithWriter(&buf, "info")))
		router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
		router.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "") })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Zero(t, buf.Len())
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(RequestID(), Logger(logger.NewWithWriter(&buf, "info")))
		router.GET("/api/v1/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions/gone", nil))

		lines := logLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "warn", lines[0]["level"])
	})

	t.Run("GetLogger returns nil if not set", func(t *testing.T) {
		assert.Nil(t, GetLogger(&gin.Context{}))
	})
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(logger.Nop()))
	router.POST("/api/v1/sessions/:id/apply", func(c *gin.Context) {
		panic("listing engine exploded")
	})
	router.GET("/api/v1/sessions/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/apply", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
	assert.Equal(t, w.Header().Get(RequestIDHeader), body.Error.RequestID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestMiddlewareStack(t *testing.T) {
	v, err := auth.NewVerifier("secret", "homefinder")
	require.NoError(t, err)
	token, err := v.Issue(auth.Principal{Subject: "user-3"}, time.Hour)
	require.NoError(t, err)

	log := logger.Nop()
	router := gin.New()
	router.Use(RequestID(), Logger(log), Recovery(log), Metrics(), CORS([]string{"http://localhost:3000"}), Authenticate(v))
	router.POST("/api/v1/sessions/:id/favorites/:propertyId/toggle", RequireAuth(), func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		require.True(t, ok)
		assert.NotEmpty(t, GetRequestID(c))
		assert.NotNil(t, GetLogger(c))
		c.String(http.StatusAccepted, p.Subject)
	})

	tests := []struct {
		name         string
		token        string
		expectedCode int
	}{
		{name: "signed in", token: token, expectedCode: http.StatusAccepted},
		{name: "anonymous", expectedCode: http.StatusUnauthorized},
		{name: "forged token", token: token + "x", expectedCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/favorites/7/toggle", nil)
			req.Header.Set("Origin", "http://localhost:3000")
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
			assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
