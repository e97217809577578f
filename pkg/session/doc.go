/*
Package session issues and validates operator session tokens.

Tokens are HS256 JWTs (golang-jwt) signed with the secret held in the config
document. Validation is stateless apart from a small Registry: the ID of the
active session when the single-session rule is on, and the IDs of tokens
revoked by logout.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                api auth middleware / login handler           │
	└────────┬──────────────────────────┬─────────────────┬────────┘
	         │ Login                    │ Authenticate    │ Logout
	         ▼                          ▼                 ▼
	┌──────────────────────────────────────────────────────────────┐
	│                          Manager                             │
	│  • Checks the credential against config.Store (bcrypt)       │
	│  • Mints RegisteredClaims: sub, jti (uuid), iat, exp         │
	│  • Applies policy: expiry, single session, revocation        │
	└────────┬─────────────────────────────────────┬───────────────┘
	         │ Snapshot / Update                   │ Active / Revoke
	         ▼                                     ▼
	┌────────────────────┐              ┌────────────────────────────┐
	│   config.Store     │              │   Registry                 │
	│   policy, secret   │              │   MemoryRegistry           │
	└────────────────────┘              └────────────────────────────┘

# Token Lifecycle

	 1. LOGIN
	    ├── Username compared in constant time
	    ├── Password checked against the bcrypt hash
	    ├── exp = now + timeout_minutes
	    └── single_session: the new jti becomes the active session
	 2. AUTHENTICATE (no side effects)
	    ├── Empty or malformed token          → ErrUnauthenticated
	    ├── Bad signature, wrong algorithm    → ErrSessionExpired
	    ├── single_session, jti not active    → ErrSessionSuperseded
	    ├── now >= exp                        → ErrSessionExpired
	    └── jti revoked by logout             → ErrSessionExpired
	 3. LOGOUT
	    └── jti revoked until its own exp; the active pointer is cleared
	 4. CLEANUP
	    └── CleanupExpired drops revocations of tokens past exp

Expiry is checked by the Manager with its own clock rather than by the JWT
parser, so tests drive time through SetClock and a token minted with a
zero timeout is already expired when it is first presented.

# Policy Updates

UpdatePolicy validates and persists the policy:

  - timeout_minutes must be at least 1
  - default_memory_mb must not be negative; zero restores the default
  - a new password is bcrypt-hashed and stored

Changing the password, or asking for it explicitly, rotates the signing
secret and resets the Registry. Every token issued before the update then
fails its signature check, which logs out every browser at once.

# Usage Examples

	store, _ := config.Open(dataDir)
	sessions := session.NewManager(store, session.NewMemoryRegistry())

	tok, err := sessions.Login("admin", password)
	if err != nil {
		return err // ErrUnauthenticated
	}

	id, err := sessions.Authenticate(tok.Value)
	switch {
	case errors.Is(err, types.ErrSessionSuperseded):
		// another browser logged in
	case err != nil:
		// 401
	}
	_ = id.SessionID

# Thread Safety

Manager and MemoryRegistry are safe for concurrent use. The Registry is
process-local: restarting the panel forgets logouts and the active pointer,
while tokens stay valid until their expiry unless the secret was rotated.
*/
package session
