package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbulle/remote-ai-ide/internal/agent"
	"github.com/tbulle/remote-ai-ide/internal/event"
	"github.com/tbulle/remote-ai-ide/internal/logging"
)

var (
	// ErrCapacity is returned when creating a session at the configured
	// maximum.
	ErrCapacity = errors.New("maximum session count reached")
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
)

// Summary is the listing view of a session.
type Summary struct {
	ID           string `json:"id"`
	WorkDir      string `json:"workingDirectory"`
	Status       Status `json:"status"`
	MessageCount int    `json:"messageCount"`
	LastActivity int64  `json:"lastActivityTime"` // unix milliseconds
}

// Registry creates, looks up, and destroys sessions, enforcing a global
// capacity bound and reclaiming idle sessions on a timer.
type Registry struct {
	runner agent.Runner
	bus    *event.Bus

	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int

	sweepMu   sync.Mutex
	sweepStop chan struct{}
}

// NewRegistry creates a registry. Sessions created through it drive the
// given runner; lifecycle changes are published on bus (which may be nil).
func NewRegistry(maxSessions int, runner agent.Runner, bus *event.Bus) *Registry {
	return &Registry{
		runner:      runner,
		bus:         bus,
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create allocates a session in the ready state. Fails with ErrCapacity at
// the configured maximum, and rejects a working directory that does not
// exist.
func (r *Registry) Create(workDir string) (*Session, error) {
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("working directory does not exist: %s", workDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", workDir)
	}

	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	id := uuid.New().String()
	s := New(id, workDir, r.runner)
	s.notify = r.publishUpdate
	r.sessions[id] = s
	r.mu.Unlock()

	logging.Info().Str("session", id).Str("workDir", workDir).Msg("session created")
	r.publish(event.SessionCreated, s)
	return s, nil
}

// Get returns the session with the given id, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns a summary of every session. Order is unspecified.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, Summarize(s))
	}
	return result
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Delete cancels any in-flight run and removes the session. Idempotent on
// an absent id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	logging.Info().Str("session", id).Msg("session deleted")
	r.publish(event.SessionDeleted, s)
}

// StartSweep reclaims sessions idle for longer than idleTimeout on a fixed
// cadence. Busy sessions are never reclaimed regardless of age. Idempotent.
func (r *Registry) StartSweep(interval, idleTimeout time.Duration) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	r.sweepStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.sweep(idleTimeout)
			}
		}
	}()
}

// StopSweep halts the reclaim cadence. Idempotent.
func (r *Registry) StopSweep() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweepStop != nil {
		close(r.sweepStop)
		r.sweepStop = nil
	}
}

func (r *Registry) sweep(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	for _, s := range candidates {
		if !s.tryReclaim(cutoff) {
			continue
		}
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		logging.Info().Str("session", s.ID).Msg("idle session reclaimed")
		r.publish(event.SessionDeleted, s)
	}
}

// Shutdown stops the sweep and closes every session, cancelling in-flight
// runs.
func (r *Registry) Shutdown() {
	r.StopSweep()

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (r *Registry) publish(t event.Type, s *Session) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.SessionEvent{
		Type:         t,
		SessionID:    s.ID,
		Status:       string(s.Status()),
		MessageCount: s.MessageCount(),
	})
}

func (r *Registry) publishUpdate(s *Session) {
	r.publish(event.SessionUpdated, s)
}

// Summarize builds the listing view of a session.
func Summarize(s *Session) Summary {
	return Summary{
		ID:           s.ID,
		WorkDir:      s.WorkDir,
		Status:       s.Status(),
		MessageCount: s.MessageCount(),
		LastActivity: s.LastActivity().UnixMilli(),
	}
}
