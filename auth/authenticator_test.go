package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) Authenticator {
	t.Helper()
	writerHash, err := HashPassword("writer_pass")
	require.NoError(t, err)
	readerHash, err := HashPassword("reader_pass")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, WriteUserFile(path, map[string]User{
		"writer": {Username: "writer", PasswordHash: writerHash, Role: RoleWriter},
		"reader": {Username: "reader", PasswordHash: readerHash, Role: RoleReader},
	}))

	a, err := NewAuthenticator(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.IsType(t, &BasicAuthenticator{}, a)
	return a
}

func TestBasicAuthenticator_Require(t *testing.T) {
	a := newTestAuthenticator(t)
	var seenUser string
	h := a.Require(RoleWriter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		require.True(t, ok)
		seenUser = u.Username
	}))

	testCases := []struct {
		name     string
		user     string
		password string
		noAuth   bool
		want     int
	}{
		{name: "writer allowed", user: "writer", password: "writer_pass", want: http.StatusOK},
		{name: "reader forbidden", user: "reader", password: "reader_pass", want: http.StatusForbidden},
		{name: "wrong password", user: "writer", password: "nope", want: http.StatusUnauthorized},
		{name: "unknown user", user: "ghost", password: "writer_pass", want: http.StatusUnauthorized},
		{name: "no credentials", noAuth: true, want: http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seenUser = ""
			req := httptest.NewRequest(http.MethodPost, "/api/logs/ingest", nil)
			if !tc.noAuth {
				req.SetBasicAuth(tc.user, tc.password)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, tc.user, seenUser)
			} else {
				assert.Empty(t, seenUser)
			}
			if tc.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="nexuslog"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestBasicAuthenticator_Authorize(t *testing.T) {
	a := newTestAuthenticator(t)
	reader := User{Username: "r", Role: RoleReader}
	writer := User{Username: "w", Role: RoleWriter}

	assert.NoError(t, a.Authorize(reader, RoleReader))
	assert.ErrorIs(t, a.Authorize(reader, RoleWriter), ErrPermissionDenied)
	assert.NoError(t, a.Authorize(writer, RoleReader))
	assert.NoError(t, a.Authorize(writer, RoleWriter))
}

func TestNewAuthenticator_NoUsers(t *testing.T) {
	a, err := NewAuthenticator(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.IsType(t, &NonAuthenticator{}, a)

	called := false
	h := a.Require(RoleWriter, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
