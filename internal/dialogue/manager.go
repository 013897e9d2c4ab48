package dialogue

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for a Manager.
const (
	DefaultTTL         = 30 * time.Minute
	DefaultHistorySize = 20
)

// IDGenerator produces session ids.
type IDGenerator interface {
	Generate() string
}

type uuidV7 struct{}

func (uuidV7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Manager is the session table.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl         time.Duration
	historySize int
	now         func() time.Time
	ids         IDGenerator
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the inactivity timeout. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithHistorySize bounds the per-session history.
func WithHistorySize(n int) Option {
	return func(m *Manager) { m.historySize = n }
}

// WithNow sets the clock used for expiry.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the generator for sessions opened without an id.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// NewManager creates an empty session table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		ttl:         DefaultTTL,
		historySize: DefaultHistorySize,
		now:         time.Now,
		ids:         uuidV7{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the session with id, creating it on first use. An empty id
// opens a new session with a generated id. A session idle for longer than
// the TTL is replaced by a fresh one.
func (m *Manager) Get(id, actor string) *Session {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.ids.Generate()
	}
	if s, ok := m.sessions[id]; ok && !m.expired(s, now) {
		s.touch(now)
		return s
	}

	s := newSession(id, actor, m.historySize, now)
	m.sessions[id] = s
	slog.Debug("session opened", "session_id", id, "actor", actor)
	return s
}

// Lookup returns an existing, unexpired session.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || m.expired(s, m.now()) {
		return nil, false
	}
	return s, true
}

// End removes a session. It reports whether the session existed.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	slog.Debug("session ended", "session_id", id)
	return true
}

// Sweep removes expired sessions and returns their ids, sorted.
func (m *Manager) Sweep() []string {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	if len(removed) > 0 {
		slog.Debug("sessions expired", "count", len(removed))
	}
	return removed
}

// Len returns the number of sessions in the table, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.LastSeen()) > m.ttl
}
