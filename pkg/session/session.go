package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/types"
)

// Identity is the authenticated operator behind a token
type Identity struct {
	Username  string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a freshly minted session token
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PolicyUpdate is the settings-update request
type PolicyUpdate struct {
	Policy config.SessionPolicy
	// NewPassword is applied when non-empty; changing it rotates the signing secret
	NewPassword string
	// RotateSecret forces a signing secret rotation
	RotateSecret bool
}

// Manager issues and validates session tokens against the config store
type Manager struct {
	store    *config.Store
	registry Registry
	now      func() time.Time
	logger   zerolog.Logger
}

// NewManager creates a session manager. The registry is injected so tests and
// handlers share one explicit owner of the active-session pointer.
func NewManager(store *config.Store, registry Registry) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		now:      time.Now,
		logger:   log.WithComponent("session"),
	}
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Login checks the credential and mints a token
func (m *Manager) Login(username, password string) (*Token, error) {
	doc := m.store.Snapshot()

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(doc.Admin.Username)) == 1
	passOK := m.store.CheckPassword(password)
	if !userOK || !passOK {
		m.logger.Warn().Str("username", username).Msg("rejected login")
		return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}

	now := m.now()
	expires := now.Add(time.Duration(doc.Session.TimeoutMinutes) * time.Minute)
	id := uuid.NewString()

	claims := jwt.RegisteredClaims{
		Subject:   doc.Admin.Username,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(doc.SigningSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if doc.Session.SingleSession {
		m.registry.SetActive(id)
	}

	m.logger.Info().
		Str("session_id", id).
		Bool("single_session", doc.Session.SingleSession).
		Time("expires_at", claims.ExpiresAt.Time).
		Msg("session issued")

	return &Token{Value: signed, IssuedAt: claims.IssuedAt.Time, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Authenticate validates a token. It has no side effects.
func (m *Manager) Authenticate(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, types.ErrUnauthenticated
	}

	doc := m.store.Snapshot()

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(doc.SigningSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: malformed token", types.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrSessionExpired, err)
	}

	if doc.Session.SingleSession && claims.ID != m.registry.Active() {
		return nil, types.ErrSessionSuperseded
	}
	if claims.ExpiresAt == nil || !m.now().Before(claims.ExpiresAt.Time) {
		return nil, types.ErrSessionExpired
	}
	if m.registry.Revoked(claims.ID) {
		return nil, types.ErrSessionExpired
	}

	id := &Identity{
		Username:  claims.Subject,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}

// Logout invalidates the token's session
func (m *Manager) Logout(token string) error {
	id, err := m.Authenticate(token)
	if err != nil {
		return err
	}
	m.registry.Revoke(id.SessionID, id.ExpiresAt)
	m.logger.Info().Str("session_id", id.SessionID).Msg("session revoked")
	return nil
}

// Policy returns the current session policy
func (m *Manager) Policy() config.SessionPolicy {
	return m.store.Snapshot().Session
}

// UpdatePolicy persists a new policy and optionally a new password. Rotating
// the signing secret invalidates every token issued before the update.
func (m *Manager) UpdatePolicy(update PolicyUpdate) error {
	if update.Policy.TimeoutMinutes < 1 {
		return types.Validationf("timeout_minutes must be at least 1")
	}
	if update.Policy.DefaultMemoryMB < 0 {
		return types.Validationf("default_memory_mb must not be negative")
	}

	var hash string
	if update.NewPassword != "" {
		h, err := m.store.HashPassword(update.NewPassword)
		if err != nil {
			return err
		}
		hash = h
	}
	rotate := update.RotateSecret || hash != ""

	err := m.store.Update(func(d *config.Document) error {
		d.Session = update.Policy
		if d.Session.DefaultMemoryMB == 0 {
			d.Session.DefaultMemoryMB = config.DefaultMemoryMB
		}
		if hash != "" {
			d.Admin.PasswordHash = hash
		}
		if rotate {
			secret, err := config.NewSigningSecret()
			if err != nil {
				return err
			}
			d.SigningSecret = secret
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}

	if rotate {
		m.registry.Reset()
	}

	m.logger.Info().
		Int("timeout_minutes", update.Policy.TimeoutMinutes).
		Bool("single_session", update.Policy.SingleSession).
		Bool("secret_rotated", rotate).
		Msg("session policy updated")
	return nil
}

// CleanupExpired drops revocations of tokens that are past their expiry
func (m *Manager) CleanupExpired() {
	m.registry.CleanupExpired(m.now())
}
