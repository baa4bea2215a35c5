// Package server coordinates session admission, broadcast fan-out, and
// connection cleanup for the msger relay via the Registry type.
package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// SendResult is the outcome of delivering one broadcast frame to one recipient.
type SendResult struct {
	Address string
	Name    string
	Err     error
}

// Registry is the set of admitted sessions keyed by remote address. A single
// mutex serializes every admission, removal and broadcast snapshot; it is
// never held across network I/O.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	isBanned func(addr string) bool
	metrics  *Metrics
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. isBanned may be nil.
func NewRegistry(isBanned func(addr string) bool, metrics *Metrics, logger *slog.Logger) *Registry {
	if isBanned == nil {
		isBanned = func(string) bool { return false }
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		isBanned: isBanned,
		metrics:  metrics,
		logger:   logger,
	}
}

// Admit inserts the session unless the registry has been shut down or its
// address is already connected or banned. On rejection the caller owns the
// connection and must close it.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := r.sessions[s.Address]; exists {
		r.mu.Unlock()
		return ErrDuplicateAddress
	}
	if r.isBanned(s.Address) {
		r.mu.Unlock()
		return ErrBanned
	}
	r.sessions[s.Address] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.sessions.Set(float64(count))
	r.metrics.admitted.Inc()
	r.logger.Info("session admitted", "addr", s.Address, "name", s.Name, "session", s.ID.String(), "total", count)
	return nil
}

// Remove deletes the session registered under addr. Removing an absent
// address is a no-op.
func (r *Registry) Remove(addr string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[addr]
	if ok {
		delete(r.sessions, addr)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.metrics.sessions.Set(float64(count))
		r.logger.Info("session removed", "addr", addr, "name", s.Name, "session", s.ID.String(), "total", count)
	}
	return s, ok
}

// removeSession deletes s only if it is still the session registered under
// its address.
func (r *Registry) removeSession(s *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[s.Address]
	if ok && current == s {
		delete(r.sessions, s.Address)
	} else {
		ok = false
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.metrics.sessions.Set(float64(count))
		r.logger.Info("session removed", "addr", s.Address, "name", s.Name, "session", s.ID.String(), "total", count)
	}
	return ok
}

// Get returns the session registered under addr.
func (r *Registry) Get(addr string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[addr]
	return s, ok
}

// Len returns the number of admitted sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Names returns the display names of all sessions, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// snapshotExcept returns every session but the one registered under origin.
func (r *Registry) snapshotExcept(origin string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make([]*Session, 0, len(r.sessions))
	for addr, s := range r.sessions {
		if addr == origin {
			continue
		}
		targets = append(targets, s)
	}
	return targets
}

// BroadcastExcept sends frame to every session except origin concurrently and
// waits for all sends to finish. Recipients whose send fails are removed and
// closed; the failure is reported in the results and goes no further.
func (r *Registry) BroadcastExcept(ctx context.Context, origin string, frame []byte) []SendResult {
	targets := r.snapshotExcept(origin)
	if len(targets) == 0 {
		return nil
	}

	r.logger.Debug("broadcasting frame", "origin", origin, "recipients", len(targets), "bytes", len(frame))

	results := make([]SendResult, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, s := range targets {
		go func(i int, s *Session) {
			defer wg.Done()
			results[i] = SendResult{Address: s.Address, Name: s.Name, Err: s.Send(ctx, frame)}
		}(i, s)
	}
	wg.Wait()

	for i, res := range results {
		if res.Err == nil {
			continue
		}
		r.metrics.sendFailures.Inc()
		if !isExpectedCloseError(res.Err) {
			r.logger.Warn("dropping unresponsive recipient", "addr", res.Address, "name", res.Name, "error", res.Err)
		}
		r.dropSession(targets[i])
	}
	return results
}

// dropSession removes and closes a session after a transport failure.
func (r *Registry) dropSession(s *Session) {
	r.removeSession(s)
	if err := s.Close(); err != nil && !isExpectedCloseError(err) {
		r.logger.Debug("error closing dropped session", "addr", s.Address, "error", err)
	}
}

// Shutdown removes and closes every session and returns how many there were.
// Later admissions fail with ErrShuttingDown.
func (r *Registry) Shutdown() int {
	r.logger.Info("closing all sessions")

	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for addr, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, addr)
	}
	r.mu.Unlock()
	r.metrics.sessions.Set(0)

	for _, s := range sessions {
		if err := s.Close(); err != nil && !isExpectedCloseError(err) {
			r.logger.Warn("error closing session", "addr", s.Address, "error", err)
		}
	}

	r.logger.Info("closed sessions", "count", len(sessions))
	return len(sessions)
}
