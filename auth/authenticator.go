// Package auth guards the HTTP API with basic auth against a bcrypt user
// file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated  = errors.New("invalid username or password")
	ErrMissingAuth      = errors.New("missing credentials")
	ErrPermissionDenied = errors.New("permission denied")
)

type contextKey string

// UserContextKey is the key used to store the User in a request context.
const UserContextKey = contextKey("user")

// UserFromContext returns the user Require stored in ctx.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(UserContextKey).(User)
	return u, ok
}

// Authenticator checks credentials and roles of HTTP requests.
type Authenticator interface {
	Authenticate(r *http.Request) (User, error)
	Authorize(u User, requiredRole string) error
	// Require wraps next so it only runs for users holding requiredRole.
	Require(requiredRole string, next http.Handler) http.Handler
}

// BasicAuthenticator authenticates with HTTP basic auth.
type BasicAuthenticator struct {
	users  map[string]User
	realm  string
	logger *slog.Logger
}

var _ Authenticator = (*BasicAuthenticator)(nil)

// NewBasicAuthenticator creates an authenticator over the given users.
func NewBasicAuthenticator(users map[string]User, logger *slog.Logger) *BasicAuthenticator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BasicAuthenticator{
		users:  users,
		realm:  "nexuslog",
		logger: logger.With("component", "Authenticator"),
	}
}

// NewAuthenticator loads the user file. Without users every request is let
// through, matching a disabled auth section.
func NewAuthenticator(userFilePath string, logger *slog.Logger) (Authenticator, error) {
	users, err := ReadUserFile(userFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not load user database: %w", err)
	}
	if len(users) == 0 {
		if logger != nil {
			logger.Warn("User file has no users, authentication is disabled", "path", userFilePath)
		}
		return NewNonAuthenticator(), nil
	}
	return NewBasicAuthenticator(users, logger), nil
}

func (a *BasicAuthenticator) Authenticate(r *http.Request) (User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return User{}, ErrMissingAuth
	}
	user, found := a.users[username]
	if !found {
		a.logger.Warn("Authentication failed: invalid username.", "username", username)
		return User{}, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.logger.Warn("Authentication failed: password mismatch.", "username", username)
		return User{}, ErrUnauthenticated
	}
	return user, nil
}

// Authorize lets writers do everything and readers only read.
func (a *BasicAuthenticator) Authorize(u User, requiredRole string) error {
	if u.Role == RoleWriter || (u.Role == RoleReader && requiredRole == RoleReader) {
		return nil
	}
	return fmt.Errorf("%w: user '%s' with role '%s' requires role '%s'", ErrPermissionDenied, u.Username, u.Role, requiredRole)
}

func (a *BasicAuthenticator) Require(requiredRole string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err := a.Authorize(user, requiredRole); err != nil {
			a.logger.Warn("Authorization failed", "username", user.Username, "path", r.URL.Path, "error", err)
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, user)))
	})
}
