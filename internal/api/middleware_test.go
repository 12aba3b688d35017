package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/handlers"

	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/npezzotti/campus-connect/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &ChatApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &ChatApp{}

	// simple handler that does not panic
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &ChatApp{
		log:   testutil.TestLogger(t),
		authn: auth.NewJWTAuthenticator(testutil.SigningKey),
	}
	app.log.SetOutput(buf)

	identityHandler := func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(id.UserId))
	}

	expired, err := auth.NewJWTAuthenticator(testutil.SigningKey).IssueToken(auth.Identity{UserId: "alice"}, -time.Minute)
	if err != nil {
		t.Fatalf("failed to create expired token: %v", err)
	}

	otherKey, err := auth.NewJWTAuthenticator([]byte("another-key")).IssueToken(auth.Identity{UserId: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	tcases := []struct {
		name       string
		wsHandler  bool
		prepare    func(r *http.Request)
		statusCode int
		body       string
	}{
		{
			name: "bearer token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+testutil.Token(t, "alice"))
			},
			statusCode: http.StatusOK,
			body:       "alice",
		},
		{
			name: "token cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: testutil.Token(t, "bob")})
			},
			statusCode: http.StatusOK,
			body:       "bob",
		},
		{
			name: "query token rejected outside websocket",
			prepare: func(r *http.Request) {
				r.URL.RawQuery = "token=" + testutil.Token(t, "alice")
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:      "query token on websocket",
			wsHandler: true,
			prepare: func(r *http.Request) {
				r.URL.RawQuery = "token=" + testutil.Token(t, "carol")
			},
			statusCode: http.StatusOK,
			body:       "carol",
		},
		{
			name:       "missing token",
			prepare:    func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "missing token on websocket",
			wsHandler:  true,
			prepare:    func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "garbage token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer invalid-token")
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+expired)
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "token signed with another key",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+otherKey)
			},
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.prepare(req)

			handler := app.authMiddleware(identityHandler)
			if tc.wsHandler {
				handler = app.wsAuthMiddleware(identityHandler)
			}
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, tc.body, rr.Body.String())
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			} else {
				assert.Contains(t, buf.String(), "authenticate GET /")
			}
		})
	}
}

func Test_redactedURI(t *testing.T) {
	tcases := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{
			name:     "no query",
			rawURL:   "/api/matches",
			expected: "/api/matches",
		},
		{
			name:     "token only",
			rawURL:   "/ws?token=secret.jwt.value",
			expected: "/ws?token=REDACTED",
		},
		{
			name:     "token among other params",
			rawURL:   "/ws?b=2&token=secret.jwt.value&a=1",
			expected: "/ws?a=1&b=2&token=REDACTED",
		},
		{
			name:     "other params untouched",
			rawURL:   "/api/chat/message/1?forEveryone=true",
			expected: "/api/chat/message/1?forEveryone=true",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.rawURL)
			if err != nil {
				t.Fatalf("failed to parse url: %v", err)
			}

			assert.Equal(t, tc.expected, redactedURI(*u))
		})
	}
}

func Test_redactedCombinedLog(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=secret.jwt.value", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "test-agent")

	buf := &bytes.Buffer{}
	redactedCombinedLog(buf, handlers.LogFormatterParams{
		Request:    req,
		URL:        *req.URL,
		TimeStamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		StatusCode: http.StatusUnauthorized,
		Size:       42,
	})

	assert.Equal(t, `10.0.0.1 - - [01/May/2024:12:00:00 +0000] "GET /ws?token=REDACTED HTTP/1.1" 401 42 "" "test-agent"`+"\n", buf.String())
	assert.NotContains(t, buf.String(), "secret.jwt.value")
}
