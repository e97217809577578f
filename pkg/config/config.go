package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the configuration document name inside the data directory
	FileName = "config.yaml"

	DefaultUsername        = "admin"
	DefaultPassword        = "admin"
	DefaultTimeoutMinutes  = 15
	DefaultMemoryMB        = 2048
	signingSecretByteCount = 32
)

// Admin holds the single operator credential
type Admin struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// SessionPolicy controls token lifetime and the single-session rule
type SessionPolicy struct {
	TimeoutMinutes  int   `yaml:"timeout_minutes" json:"timeout_minutes"`
	SingleSession   bool  `yaml:"single_session" json:"single_session"`
	DefaultMemoryMB int64 `yaml:"default_memory_mb" json:"default_memory_mb"`
}

// Document is the durable configuration record
type Document struct {
	Admin         Admin         `yaml:"admin"`
	Session       SessionPolicy `yaml:"session"`
	SigningSecret string        `yaml:"signing_secret"`
}

// Store loads and atomically persists the configuration document
type Store struct {
	path string
	cost int

	mu  sync.RWMutex
	doc Document
}

// Option customizes a Store
type Option func(*Store)

// WithBcryptCost overrides the password hashing cost (tests use bcrypt.MinCost)
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// Open loads the document from dataDir, creating it with defaults when absent
func Open(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	s := &Store{
		path: filepath.Join(dataDir, FileName),
		cost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		doc, err := s.defaults()
		if err != nil {
			return nil, err
		}
		if err := s.write(doc); err != nil {
			return nil, err
		}
		s.doc = doc
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", s.path, err)
	}
	if doc.SigningSecret == "" {
		secret, err := NewSigningSecret()
		if err != nil {
			return nil, err
		}
		doc.SigningSecret = secret
		if err := s.write(doc); err != nil {
			return nil, err
		}
	}
	s.doc = doc
	return s, nil
}

// Path returns the on-disk location of the document
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current document
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Update applies fn to a copy of the document and persists it.
// The in-memory document only changes once the write succeeded.
func (s *Store) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// HashPassword hashes a password with the store's bcrypt cost
func (s *Store) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a candidate password against the stored hash
func (s *Store) CheckPassword(password string) bool {
	s.mu.RLock()
	hash := s.doc.Admin.PasswordHash
	s.mu.RUnlock()
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *Store) defaults() (Document, error) {
	hash, err := s.HashPassword(DefaultPassword)
	if err != nil {
		return Document{}, err
	}
	secret, err := NewSigningSecret()
	if err != nil {
		return Document{}, err
	}
	return Document{
		Admin: Admin{Username: DefaultUsername, PasswordHash: hash},
		Session: SessionPolicy{
			TimeoutMinutes:  DefaultTimeoutMinutes,
			DefaultMemoryMB: DefaultMemoryMB,
		},
		SigningSecret: secret,
	}, nil
}

// write replaces the document on disk: temp file in the same directory,
// fsync, then rename over the target.
func (s *Store) write(doc Document) error {
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return WriteFileAtomic(s.path, data, 0600)
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// NewSigningSecret returns a random hex-encoded signing secret
func NewSigningSecret() (string, error) {
	b := make([]byte, signingSecretByteCount)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
