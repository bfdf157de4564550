package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/geocode"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/metrics"
	"github.com/stwalsh4118/homefinder/api/internal/querysync"
)

// Deps are the boundaries shared by every session.
type Deps struct {
	Source    listing.Source
	Resolver  geocode.Resolver
	Favorites FavoriteStore
	Log       *logger.Logger

	SearchPath  string
	URLDebounce time.Duration
}

// NewDeps fills the session tuning from cfg.
func NewDeps(src listing.Source, res geocode.Resolver, favs FavoriteStore, cfg config.SyncConfig, log *logger.Logger) Deps {
	return Deps{
		Source:      src,
		Resolver:    res,
		Favorites:   favs,
		Log:         log,
		SearchPath:  cfg.SearchPath,
		URLDebounce: cfg.URLDebounce,
	}
}

// Manager owns the open sessions and expires idle ones.
type Manager struct {
	deps Deps
	ttl  time.Duration
	log  *logger.Logger
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager. Sessions idle for longer than ttl are
// disposed by Run.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	return &Manager{
		deps:     deps,
		ttl:      ttl,
		log:      deps.Log.WithComponent("discovery"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session from the query string of a results URL. Parameters
// that fail to parse keep their defaults; the violations are returned
// alongside the session and are not an error.
func (m *Manager) Create(ctx context.Context, rawQuery string, p auth.Principal) (*Session, []string, error) {
	initial, perr := querysync.Parse(rawQuery)
	var violations []string
	if perr != nil {
		violations = splitLines(perr.Error())
		m.log.Debug("Ignored invalid query parameters", map[string]interface{}{
			"query":      rawQuery,
			"violations": violations,
		})
	}

	s, err := newSession(uuid.New().String(), initial, p, m.deps, m.now())
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.start(ctx); err != nil {
		s.Dispose()
		return nil, nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))

	m.log.Info("Session opened", map[string]interface{}{
		"session_id":    s.ID,
		"authenticated": p.Subject != "",
		"active":        n,
	})
	return s, violations, nil
}

// Get returns an open session and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete disposes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	metrics.ActiveSessions.Set(float64(n))
	s.Dispose()
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep disposes every session idle for longer than the TTL and returns how
// many it removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	metrics.ActiveSessions.Set(float64(n))
	for _, s := range expired {
		s.Dispose()
	}
	m.log.Info("Expired idle sessions", map[string]interface{}{
		"expired": len(expired),
		"active":  n,
	})
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Shutdown disposes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
	metrics.ActiveSessions.Set(0)
	m.log.Info("Closed all sessions", map[string]interface{}{
		"count": len(sessions),
	})
}

// splitLines breaks a joined error message into its parts.
func splitLines(msg string) []string {
	out := []string{}
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
