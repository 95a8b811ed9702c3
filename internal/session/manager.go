package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tabvault/tabvault/internal/storage"
	"go.uber.org/zap"
)

const (
	opSessionNew     = "session.new"
	opSessionLoad    = "session.load"
	opSessionSetAuth = "session.set_auth"
	opSessionLogout  = "session.logout"
)

var errMissingStore = errors.New("store handle is required")

// User is the authenticated account record returned by the remote service.
type User struct {
	UID         string    `json:"uid"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is a read-only view of the current session state.
type Snapshot struct {
	User          *User     `json:"user,omitempty"`
	Token         string    `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	Authenticated bool      `json:"authenticated"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  storage.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Manager is the sole owner of the persisted auth triple (user, access
// token, absolute expiry). Everything that needs auth state reads through
// it; nothing else mutates the triple.
type Manager struct {
	mu        sync.Mutex
	store     storage.Store
	clock     func() time.Time
	logger    *zap.Logger
	user      *User
	token     string
	expiresAt time.Time
	loadErr   error
}

// NewManager constructs a Manager from its configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Load reads the persisted triple. An expired triple is erased and the
// session stays unauthenticated. Store failures never propagate; the
// session degrades to unauthenticated and the error is retained on
// LoadError.
func (m *Manager) Load(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user = nil
	m.token = ""
	m.expiresAt = time.Time{}
	m.loadErr = nil

	user, token, expiresAt, err := m.readTriple(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			m.loadErr = err
			m.logError(opSessionLoad, "store_read_failed", err)
		}
		return
	}

	if !expiresAt.After(m.clock()) {
		if err := m.eraseTriple(ctx); err != nil {
			m.logError(opSessionLoad, "expired_triple_erase_failed", err)
		}
		return
	}

	m.user = user
	m.token = token
	m.expiresAt = expiresAt
}

// LoadError reports the failure recorded by the most recent Load, if any.
func (m *Manager) LoadError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadErr
}

// SetAuth persists the triple with an absolute expiry of now + ttlSeconds
// and transitions to the authenticated state.
func (m *Manager) SetAuth(ctx context.Context, user User, token string, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.clock().Add(time.Duration(ttlSeconds) * time.Second).UTC()

	userRaw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	tokenRaw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	expiryRaw, err := json.Marshal(expiresAt.Unix())
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, storage.KeyAuthUser, userRaw); err != nil {
		m.logError(opSessionSetAuth, "user_write_failed", err)
		return err
	}
	if err := m.store.Put(ctx, storage.KeyAuthToken, tokenRaw); err != nil {
		m.logError(opSessionSetAuth, "token_write_failed", err)
		return err
	}
	if err := m.store.Put(ctx, storage.KeyAuthExpiresAt, expiryRaw); err != nil {
		m.logError(opSessionSetAuth, "expiry_write_failed", err)
		return err
	}

	stored := user
	m.user = &stored
	m.token = token
	m.expiresAt = expiresAt
	return nil
}

// Logout erases the persisted triple and transitions to the unauthenticated
// state.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.eraseTriple(ctx); err != nil {
		m.logError(opSessionLogout, "triple_erase_failed", err)
		return err
	}
	return nil
}

// TokenExpired reports whether the recorded expiry has passed. No recorded
// expiry counts as expired, and the boundary instant itself is expired.
func (m *Manager) TokenExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenExpiredLocked()
}

// Token returns the current access token, or "" when none is held.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Current returns a point-in-time view of the session.
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var user *User
	if m.user != nil {
		copied := *m.user
		user = &copied
	}
	return Snapshot{
		User:          user,
		Token:         m.token,
		ExpiresAt:     m.expiresAt,
		Authenticated: m.user != nil && m.token != "" && !m.tokenExpiredLocked(),
	}
}

func (m *Manager) tokenExpiredLocked() bool {
	if m.expiresAt.IsZero() {
		return true
	}
	return !m.expiresAt.After(m.clock())
}

func (m *Manager) readTriple(ctx context.Context) (*User, string, time.Time, error) {
	userRaw, err := m.store.Get(ctx, storage.KeyAuthUser)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	tokenRaw, err := m.store.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	expiryRaw, err := m.store.Get(ctx, storage.KeyAuthExpiresAt)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	var user User
	if err := json.Unmarshal(userRaw, &user); err != nil {
		return nil, "", time.Time{}, err
	}
	var token string
	if err := json.Unmarshal(tokenRaw, &token); err != nil {
		return nil, "", time.Time{}, err
	}
	var expirySeconds int64
	if err := json.Unmarshal(expiryRaw, &expirySeconds); err != nil {
		return nil, "", time.Time{}, err
	}
	return &user, token, time.Unix(expirySeconds, 0).UTC(), nil
}

func (m *Manager) eraseTriple(ctx context.Context) error {
	if err := m.store.Delete(ctx, storage.KeyAuthUser); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, storage.KeyAuthToken); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, storage.KeyAuthExpiresAt); err != nil {
		return err
	}
	m.user = nil
	m.token = ""
	m.expiresAt = time.Time{}
	return nil
}

func (m *Manager) logError(operation, reason string, err error) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	m.logger.Error("session manager error", attrs...)
}
