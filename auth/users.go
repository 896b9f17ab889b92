package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	// RoleReader may search and read metrics.
	RoleReader = "reader"
	// RoleWriter may additionally ingest records and reset metrics.
	RoleWriter = "writer"
)

// User is one entry of the user file. PasswordHash is a bcrypt hash.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

type userFile struct {
	Users []User `yaml:"users"`
}

// ValidRole reports whether role is RoleReader or RoleWriter.
func ValidRole(role string) bool {
	return role == RoleReader || role == RoleWriter
}

// HashPassword returns the bcrypt hash stored in the user file.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ReadUserFile loads the YAML user file at path. A missing file yields no
// users and no error.
func ReadUserFile(path string) (map[string]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]User), nil
		}
		return nil, fmt.Errorf("failed to open user file: %w", err)
	}

	var f userFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse user file %s: %w", path, err)
	}
	users := make(map[string]User, len(f.Users))
	for i, u := range f.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("user #%d in %s has no username", i+1, path)
		}
		if !ValidRole(u.Role) {
			return nil, fmt.Errorf("user '%s' has unknown role '%s'", u.Username, u.Role)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user '%s' does not have a bcrypt password hash: %w", u.Username, err)
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("user '%s' is listed twice", u.Username)
		}
		users[u.Username] = u
	}
	return users, nil
}

// WriteUserFile replaces the user file at path, sorted by username.
func WriteUserFile(path string, users map[string]User) error {
	f := userFile{Users: make([]User, 0, len(users))}
	for _, u := range users {
		f.Users = append(f.Users, u)
	}
	sort.Slice(f.Users, func(i, j int) bool { return f.Users[i].Username < f.Users[j].Username })

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to encode user file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create user file directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user file: %w", err)
	}
	return os.Rename(tmp, path)
}
