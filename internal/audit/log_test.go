package audit_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/hacknlove/safeapi-server/internal/audit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {

	t.Run("captures request info and configures context", func(t *testing.T) {
		testAgent := "kettle/1.0"
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			entry := audit.Log(ctx)
			assert.Equal(t, testAgent, entry.UserAgent)

			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		req.Header.Set("User-Agent", testAgent)

		middleware.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
	})

	t.Run("captures status code", func(t *testing.T) {
		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			w.WriteHeader(http.StatusTeapot)
		})

		req, w := requestSetup()

		middleware := audit.Middleware()(handler)

		middleware.ServeHTTP(w, req)

		entry := audit.Log(capturedContext)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
		assert.Equal(t, http.StatusTeapot, entry.Status)
	})

	t.Run("log written", func(t *testing.T) {
		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level {
					auditWritten = true
				}
			}),
		)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()

		middleware.ServeHTTP(w, req.WithContext(ctx))

		assert.True(t, auditWritten, "audit log entry should be written")
	})

	t.Run("log written on panic", func(t *testing.T) {
		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level {
					auditWritten = true
				}
			}),
		)

		var entry *audit.Entry

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, entry = audit.Context(r.Context())
			entry.Error = "failure pre-panic"
			panic("not a teapot")
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()

		assert.PanicsWithValue(t, "not a teapot", func() {
			middleware.ServeHTTP(w, req.WithContext(ctx))
			// this will panic as it's expected that the middleware will re-panic
		})

		assert.Equal(t, "failure pre-panic; panic: not a teapot", entry.Error)
		assert.True(t, auditWritten, "audit log entry should be written")
	})
}

func TestAuditing(t *testing.T) {
	ctx := context.Background()
	r, _ := requestSetup()

	_, e := audit.Context(ctx)
	e.Begin(r)
	e.End(ctx)()

	assert.NotEmpty(t, e.SourceIP)
	e.SourceIP = "" // clear IP as it will change between tests

	_, err := uuid.Parse(e.RequestID)
	assert.NoError(t, err)
	e.RequestID = ""

	assert.Equal(t, &audit.Entry{Method: "GET", Path: "/foo", UserAgent: "kettle/1.0", Status: 200}, e)
}

func TestAuditingKeepsRequestID(t *testing.T) {
	ctx := context.Background()
	r, _ := requestSetup()

	_, e := audit.Context(ctx)
	e.RequestID = "fixed"
	e.Begin(r)

	assert.Equal(t, "fixed", e.RequestID)
}

func TestMiddlewareRequestID(t *testing.T) {
	var entry *audit.Entry

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry = audit.Log(r.Context())
		_, _ = w.Write([]byte("four"))
	})

	req, w := requestSetup()

	audit.Middleware()(handler).ServeHTTP(w, req)

	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.RequestID)
	assert.Equal(t, entry.RequestID, w.Result().Header.Get(audit.RequestIDHeader))
	assert.Equal(t, 4, entry.ResponseBytes)
	assert.Equal(t, http.StatusOK, entry.Status)
}

func TestMiddlewareRequestIDsAreUnique(t *testing.T) {
	ids := map[string]bool{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	middleware := audit.Middleware()(handler)

	for range 5 {
		req, w := requestSetup()
		middleware.ServeHTTP(w, req)
		ids[w.Result().Header.Get(audit.RequestIDHeader)] = true
	}

	assert.Len(t, ids, 5)
}

func TestEntryMarshal(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := &audit.Entry{
		RequestID:       "req-1",
		Method:          "POST",
		Path:            "/algo",
		Status:          401,
		AuthError:       "InvalidSignature",
		AuthErrorDetail: "hash",
		KeyIssuer:       "issuer-a",
		Upstream:        "http://upstream.internal",
	}

	logger.Log().EmbedObject(e).Send()

	out := buf.String()
	assert.Contains(t, out, `"requestId":"req-1"`)
	assert.Contains(t, out, `"authError":"InvalidSignature"`)
	assert.Contains(t, out, `"authErrorDetail":"hash"`)
	assert.Contains(t, out, `"keyIssuer":"issuer-a"`)
	assert.Contains(t, out, `"keyResolved":false`)
	assert.Contains(t, out, `"upstream":"http://upstream.internal"`)
}

func TestEntryMarshalOmitsEmptyDetail(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logger.Log().EmbedObject(&audit.Entry{Method: "GET"}).Send()

	out := buf.String()
	assert.NotContains(t, out, "authError")
	assert.NotContains(t, out, "keyIssuer")
	assert.NotContains(t, out, "upstream")
}

func requestSetup() (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	req.Header.Set("User-Agent", "kettle/1.0")

	w := httptest.NewRecorder()

	return req, w
}

func withLogHook(ctx context.Context, hook zerolog.HookFunc) context.Context {
	testLog := log.Logger.With().Logger().Hook(hook)
	return testLog.WithContext(ctx)
}
