package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatcore/sessionhub/internal/slogging"
	"github.com/chatcore/sessionhub/internal/uuidgen"
)

// Factory defaults. Operators override these through configuration; the
// numbers themselves are deliberately not load-bearing.
const (
	DefaultMaxManagersPerUser = 5
	DefaultWriteTimeout       = 3 * time.Second
	DefaultDegradedThreshold  = 3
	DefaultInactivityTimeout  = 15 * time.Minute
)

// FactoryConfig carries the tunables for manager construction and event
// delivery.
type FactoryConfig struct {
	// MaxManagersPerUser caps how many active managers one user may own.
	MaxManagersPerUser int
	// WriteTimeout bounds each per-connection transport write during a
	// broadcast.
	WriteTimeout time.Duration
	// DegradedThreshold is the consecutive-failure count after which a
	// connection stops receiving non-critical events. Zero selects the
	// default; a negative value disables degradation skipping entirely.
	DegradedThreshold int
	// InactivityTimeout controls eviction of idle, connectionless managers
	// by the background sweeper.
	InactivityTimeout time.Duration
	// Observer receives lifecycle notifications; nil disables them.
	Observer Observer
}

func (c FactoryConfig) withDefaults() FactoryConfig {
	if c.MaxManagersPerUser <= 0 {
		c.MaxManagersPerUser = DefaultMaxManagersPerUser
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DegradedThreshold == 0 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	return c
}

// FactoryStats is the observability snapshot returned by Stats.
type FactoryStats struct {
	ManagersCreated int64 `json:"managers_created"`
	ManagersActive  int64 `json:"managers_active"`
	ManagersCleaned int64 `json:"managers_cleaned"`
}

// SessionManagerFactory is the sole construction path for
// IsolatedSessionManager instances. It validates contexts, memoizes managers
// by isolation key, and enforces the per-user resource cap. The factory is
// an explicitly-lifetimed object owned by the composition root and passed by
// reference; there is no package-level singleton.
type SessionManagerFactory struct {
	cfg FactoryConfig

	mu       sync.Mutex
	managers map[IsolationKey]*IsolatedSessionManager
	perUser  map[string]int
	created  int64
	cleaned  int64
}

// NewSessionManagerFactory builds a factory with the given configuration.
func NewSessionManagerFactory(cfg FactoryConfig) *SessionManagerFactory {
	return &SessionManagerFactory{
		cfg:      cfg.withDefaults(),
		managers: make(map[IsolationKey]*IsolatedSessionManager),
		perUser:  make(map[string]int),
	}
}

// CreateManager validates the context and returns the manager for its
// isolation key, creating one if needed. Repeated calls with an equivalent
// context return the same instance, which is what lets multiple call sites
// in a request pipeline converge on one delivery target.
//
// Validation failures come back wrapped in FactoryInitializationError
// carrying the attempted isolation key; context cancellation errors and
// ResourceLimitExceededError pass through unchanged so callers can
// distinguish them. No raw internal error ever crosses this boundary.
func (f *SessionManagerFactory) CreateManager(uctx any) (*IsolatedSessionManager, error) {
	if err := ValidateContext(uctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slogging.Get().Warn("Rejected session manager request: %v", err)
		return nil, &FactoryInitializationError{
			IsolationKey: attemptedKey(uctx),
			Cause:        err,
		}
	}

	validated := uctx.(*UserExecutionContext)
	key := validated.IsolationKey()

	// Check-then-act over the cache, the resource cap and registration must
	// be one critical section, otherwise two concurrent calls for a new key
	// can both slip past the cap.
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.managers[key]; ok {
		if existing.IsActive() {
			existing.touch()
			return existing, nil
		}
		// Stale entry from a cleanup that has not been observed yet.
		delete(f.managers, key)
	}

	if f.perUser[validated.UserID] >= f.cfg.MaxManagersPerUser {
		return nil, &ResourceLimitExceededError{
			UserID: validated.UserID,
			Limit:  f.cfg.MaxManagersPerUser,
		}
	}

	manager, err := f.buildManager(validated, key)
	if err != nil {
		slogging.Get().Error("Session manager construction failed for key %s: %v", key, err)
		return nil, &FactoryInitializationError{
			IsolationKey: key.String(),
			Cause:        err,
			Unexpected:   true,
		}
	}

	f.managers[key] = manager
	f.perUser[validated.UserID]++
	f.created++

	if f.cfg.Observer != nil {
		f.cfg.Observer.ManagerCreated(validated.UserID)
	}
	slogging.Get().Info("Created session manager %s for user %s (key %s)",
		manager.id, validated.UserID, key)
	return manager, nil
}

// buildManager constructs the manager instance, converting any construction
// panic into an error so the factory boundary stays clean.
func (f *SessionManagerFactory) buildManager(uctx *UserExecutionContext, key IsolationKey) (manager *IsolatedSessionManager, err error) {
	defer func() {
		if r := recover(); r != nil {
			manager = nil
			err = fmt.Errorf("panic during manager construction: %v", r)
		}
	}()

	now := time.Now().UTC()
	manager = &IsolatedSessionManager{
		id:                uuidgen.MustNewV4().String(),
		userContext:       uctx,
		registry:          NewConnectionRegistry(uctx.UserID),
		createdAt:         now,
		lastActivity:      now,
		writeTimeout:      f.cfg.WriteTimeout,
		degradedThreshold: f.cfg.DegradedThreshold,
		observer:          f.cfg.Observer,
	}
	manager.release = func() { f.releaseManager(key, manager) }
	return manager, nil
}

// releaseManager returns a manager's resource slot and evicts it from the
// cache. Invoked exactly once per manager, from Cleanup.
func (f *SessionManagerFactory) releaseManager(key IsolationKey, manager *IsolatedSessionManager) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.managers[key]; ok && cached == manager {
		delete(f.managers, key)
	}
	if f.perUser[manager.userContext.UserID] > 0 {
		f.perUser[manager.userContext.UserID]--
		if f.perUser[manager.userContext.UserID] == 0 {
			delete(f.perUser, manager.userContext.UserID)
		}
	}
	f.cleaned++

	if f.cfg.Observer != nil {
		f.cfg.Observer.ManagerCleaned(manager.userContext.UserID)
	}
}

// Stats returns the factory's lifetime counters.
func (f *SessionManagerFactory) Stats() FactoryStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FactoryStats{
		ManagersCreated: f.created,
		ManagersActive:  int64(len(f.managers)),
		ManagersCleaned: f.cleaned,
	}
}

// ActiveManagerCount returns how many managers the given user currently
// owns.
func (f *SessionManagerFactory) ActiveManagerCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perUser[userID]
}

// CleanupAll tears down every active manager, for process shutdown.
func (f *SessionManagerFactory) CleanupAll() {
	f.mu.Lock()
	managers := make([]*IsolatedSessionManager, 0, len(f.managers))
	for _, manager := range f.managers {
		managers = append(managers, manager)
	}
	f.mu.Unlock()

	for _, manager := range managers {
		manager.Cleanup()
	}
}

// StartInactivitySweeper periodically evicts managers that have been idle
// past the inactivity timeout and hold no connections. It blocks until the
// context is cancelled; run it in its own goroutine.
func (f *SessionManagerFactory) StartInactivitySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.sweepInactive()
		case <-ctx.Done():
			return
		}
	}
}

func (f *SessionManagerFactory) sweepInactive() {
	cutoff := time.Now().UTC().Add(-f.cfg.InactivityTimeout)

	f.mu.Lock()
	var idle []*IsolatedSessionManager
	for _, manager := range f.managers {
		if manager.ConnectionCount() == 0 && manager.LastActivity().Before(cutoff) {
			idle = append(idle, manager)
		}
	}
	f.mu.Unlock()

	for _, manager := range idle {
		slogging.Get().Info("Evicting idle session manager %s (user %s)",
			manager.id, manager.userContext.UserID)
		manager.Cleanup()
	}
}

// attemptedKey derives a best-effort isolation key for error reporting on a
// value that failed validation.
func attemptedKey(v any) string {
	if uctx, ok := v.(*UserExecutionContext); ok && uctx != nil {
		return uctx.IsolationKey().String()
	}
	return "<invalid>"
}
