// Package remoteauth implements the two-tier token system that gates the
// remote control plane: a long-lived server token persisted to disk, and
// short-lived in-memory connection tokens issued after a successful
// server-token handshake.
package remoteauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/ralphtui/ralph/internal/core"
)

const (
	// ServerTokenLifetime is the default validity window for a freshly
	// generated or rotated server token.
	ServerTokenLifetime = 90 * 24 * time.Hour
	// ConnectionTokenLifetime is the default validity window for a
	// connection token issued after a successful handshake.
	ConnectionTokenLifetime = 24 * time.Hour
	// RefreshThreshold is how long before expiry a connection token is
	// eligible for silent rotation on the next response.
	RefreshThreshold = 1 * time.Hour
)

// ServerToken is the long-lived credential a remote client must present
// to open a session. Persisted to disk.
type ServerToken struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int       `json:"version"`
}

func (t ServerToken) expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ConnectionToken is the short-lived credential issued after a server
// token handshake. Kept in memory only, never persisted.
type ConnectionToken struct {
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	ClientID  string
}

func (t ConnectionToken) expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t ConnectionToken) nearExpiry(now time.Time) bool {
	return t.ExpiresAt.Sub(now) <= RefreshThreshold
}

type serverTokenFile struct {
	ServerToken        ServerToken `json:"server_token"`
	MigratedFromLegacy bool        `json:"migrated_from_legacy,omitempty"`
}

// legacyTokenFile is the single-token shape from before the versioned
// ServerToken record existed; migrated transparently on first read.
type legacyTokenFile struct {
	Token string `json:"token"`
}

// Store manages both token tiers for a single remote server instance.
type Store struct {
	path string

	mu          sync.Mutex
	serverToken *ServerToken

	connMu   sync.RWMutex
	byValue  map[string]*ConnectionToken
	byClient map[string]string // clientID -> token value, enforces one active token per client
}

// NewStore creates a Store persisting the server token at path (typically
// `<user_config_dir>/remote.json`).
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		byValue:  make(map[string]*ConnectionToken),
		byClient: make(map[string]string),
	}
}

// GetOrCreateServerToken returns the current valid server token, creating
// or regenerating (with an incremented version) one if missing or expired.
func (s *Store) GetOrCreateServerToken() (ServerToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serverToken == nil {
		loaded, err := s.load()
		if err != nil {
			return ServerToken{}, err
		}
		s.serverToken = loaded
	}

	now := time.Now()
	if s.serverToken == nil || s.serverToken.expired(now) {
		version := 0
		if s.serverToken != nil {
			version = s.serverToken.Version
		}
		newToken, err := s.newToken(version + 1)
		if err != nil {
			return ServerToken{}, err
		}
		s.serverToken = newToken
		if err := s.persist(*newToken); err != nil {
			return ServerToken{}, err
		}
	}

	return *s.serverToken, nil
}

// RotateServerToken always issues a fresh value and increments version,
// regardless of whether the current token has expired.
func (s *Store) RotateServerToken() (ServerToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	if s.serverToken != nil {
		version = s.serverToken.Version
	}
	newToken, err := s.newToken(version + 1)
	if err != nil {
		return ServerToken{}, err
	}
	s.serverToken = newToken
	if err := s.persist(*newToken); err != nil {
		return ServerToken{}, err
	}
	return *newToken, nil
}

func (s *Store) newToken(version int) (*ServerToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, core.ErrExecution("TOKEN_GENERATE_FAILED", "generating server token").WithCause(err)
	}
	now := time.Now()
	return &ServerToken{
		Value:     hex.EncodeToString(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ServerTokenLifetime),
		Version:   version,
	}, nil
}

func (s *Store) load() (*ServerToken, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrExecution("TOKEN_READ_FAILED", "reading server token file").WithCause(err)
	}

	var file serverTokenFile
	if err := json.Unmarshal(data, &file); err == nil && file.ServerToken.Value != "" {
		return &file.ServerToken, nil
	}

	var legacy legacyTokenFile
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Token != "" {
		now := time.Now()
		migrated := ServerToken{
			Value:     legacy.Token,
			CreatedAt: now,
			ExpiresAt: now.Add(ServerTokenLifetime),
			Version:   1,
		}
		if writeErr := s.persistMigrated(migrated); writeErr != nil {
			return nil, writeErr
		}
		return &migrated, nil
	}

	return nil, nil
}

func (s *Store) persist(token ServerToken) error {
	return s.writeFile(serverTokenFile{ServerToken: token})
}

func (s *Store) persistMigrated(token ServerToken) error {
	return s.writeFile(serverTokenFile{ServerToken: token, MigratedFromLegacy: true})
}

func (s *Store) writeFile(file serverTokenFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return core.ErrExecution("TOKEN_MARSHAL_FAILED", "encoding server token").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return core.ErrExecution("TOKEN_DIR_FAILED", "creating token directory").WithCause(err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return core.ErrExecution("TOKEN_WRITE_FAILED", "writing server token file").WithCause(err)
	}
	return nil
}

// ValidateServerToken performs a constant-time comparison of candidate
// against the current server token value, returning false (without a
// fast path) on length mismatch, expiry, or value mismatch.
func (s *Store) ValidateServerToken(candidate string) bool {
	s.mu.Lock()
	token := s.serverToken
	s.mu.Unlock()

	if token == nil {
		return false
	}
	if token.expired(time.Now()) {
		return false
	}
	return constantTimeEqual(token.Value, candidate)
}

// constantTimeEqual compares a and b without leaking timing information
// from a length mismatch: unequal lengths still perform length-of-b XOR
// work against a zero buffer before returning false, so the observable
// cost doesn't shortcut on length alone.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(b))
		subtle.ConstantTimeCompare(dummy, []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IssueConnectionToken creates a new connection token for clientID,
// revoking any token previously issued to that same client.
func (s *Store) IssueConnectionToken(clientID string) ConnectionToken {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if prev, ok := s.byClient[clientID]; ok {
		delete(s.byValue, prev)
	}

	now := time.Now()
	tok := ConnectionToken{
		Value:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ConnectionTokenLifetime),
		ClientID:  clientID,
	}
	s.byValue[tok.Value] = &tok
	s.byClient[clientID] = tok.Value
	return tok
}

// ValidateConnectionToken returns the token if value is a known,
// unexpired connection token, and whether it is due for rotation.
func (s *Store) ValidateConnectionToken(value string) (tok ConnectionToken, ok bool, needsRefresh bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	found, present := s.byValue[value]
	if !present {
		return ConnectionToken{}, false, false
	}
	now := time.Now()
	if found.expired(now) {
		return ConnectionToken{}, false, false
	}
	return *found, true, found.nearExpiry(now)
}

// CleanupExpiredTokens removes every expired connection token. Intended
// to run periodically (at least once a minute) from the server's
// lifecycle loop.
func (s *Store) CleanupExpiredTokens() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	now := time.Now()
	removed := 0
	for value, tok := range s.byValue {
		if tok.expired(now) {
			delete(s.byValue, value)
			delete(s.byClient, tok.ClientID)
			removed++
		}
	}
	return removed
}

// RevokeAll drops every in-memory connection token, used when the
// remote server shuts down.
func (s *Store) RevokeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.byValue = make(map[string]*ConnectionToken)
	s.byClient = make(map[string]string)
}

// DefaultPath returns `<user_config_dir>/remote.json` for the given
// config-dir root (see config.GlobalConfigPath's sibling directory).
func DefaultPath(userConfigDir string) string {
	return filepath.Join(userConfigDir, "remote.json")
}
