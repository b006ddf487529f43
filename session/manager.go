package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatcore/sessionhub/internal/slogging"
)

// Manager lifecycle states. Transitions only move forward:
// Active -> CleaningUp -> Inactive.
const (
	stateActive int32 = iota
	stateCleaningUp
	stateInactive
)

// IsolatedSessionManager is the single point of interaction for everything
// scoped to one user's one logical session: connection admission, removal,
// outbound event delivery and teardown. One instance exists per isolation
// key; the factory is the only construction path.
type IsolatedSessionManager struct {
	id          string
	userContext *UserExecutionContext
	registry    *ConnectionRegistry

	state atomic.Int32

	createdAt      time.Time
	lastActivityMu sync.Mutex
	lastActivity   time.Time

	writeTimeout      time.Duration
	degradedThreshold int

	// release returns this manager's resource slot to the factory. Guarded
	// by releaseOnce so double cleanup never double-decrements.
	release     func()
	releaseOnce sync.Once

	observer Observer
}

// ID returns the manager's unique id.
func (m *IsolatedSessionManager) ID() string {
	return m.id
}

// UserContext returns the owning context. Callers must treat it as
// read-only.
func (m *IsolatedSessionManager) UserContext() *UserExecutionContext {
	return m.userContext
}

// IsActive reports whether the manager still accepts mutating operations.
func (m *IsolatedSessionManager) IsActive() bool {
	return m.state.Load() == stateActive
}

// CreatedAt returns the manager's creation time.
func (m *IsolatedSessionManager) CreatedAt() time.Time {
	return m.createdAt
}

// LastActivity returns the time of the most recent admission or emission.
func (m *IsolatedSessionManager) LastActivity() time.Time {
	m.lastActivityMu.Lock()
	defer m.lastActivityMu.Unlock()
	return m.lastActivity
}

// ConnectionCount returns the number of registered connections.
func (m *IsolatedSessionManager) ConnectionCount() int {
	return m.registry.Len()
}

func (m *IsolatedSessionManager) touch() {
	m.lastActivityMu.Lock()
	m.lastActivity = time.Now().UTC()
	m.lastActivityMu.Unlock()
}

// AddConnection admits a connection into this manager's registry. It fails
// with ManagerInactiveError once cleanup has begun and with
// OwnershipViolationError when the record claims a different user than the
// owner.
func (m *IsolatedSessionManager) AddConnection(record *ConnectionRecord) error {
	if m.state.Load() != stateActive {
		return &ManagerInactiveError{ManagerID: m.id, Operation: "add_connection"}
	}

	if err := m.registry.Add(record); err != nil {
		slogging.Get().Warn("Rejected connection %s for manager %s: %v", record.ConnectionID, m.id, err)
		return err
	}

	m.touch()
	if m.observer != nil {
		m.observer.ConnectionAdded(m.userContext.UserID)
	}
	slogging.Get().Debug("Connection %s attached to manager %s (user %s)",
		record.ConnectionID, m.id, m.userContext.UserID)
	return nil
}

// RemoveConnection detaches a connection. It is idempotent and succeeds
// regardless of manager state; removal during teardown must not error.
// Only the removal that actually deletes the record notifies the observer,
// so concurrent removals of the same id cannot drift the connection gauge.
func (m *IsolatedSessionManager) RemoveConnection(connectionID string) {
	if !m.registry.Remove(connectionID) {
		return
	}
	if m.observer != nil {
		m.observer.ConnectionRemoved(m.userContext.UserID)
	}
}

// HasConnection reports whether the given connection id is registered.
func (m *IsolatedSessionManager) HasConnection(connectionID string) bool {
	_, ok := m.registry.Get(connectionID)
	return ok
}

// IsConnectionActive reports whether the given user owns this manager and
// has at least one live connection.
func (m *IsolatedSessionManager) IsConnectionActive(userID string) bool {
	return userID == m.userContext.UserID && m.registry.IsUserActive()
}

// EmitEvent delivers the payload, tagged with eventType, to every connection
// currently registered. Delivery is best-effort: failures are collected into
// the report, never raised, so one dead socket cannot abort delivery to the
// rest. For a single caller, events reach each individual connection in the
// order EmitEvent was called; no ordering is guaranteed across connections.
//
// Connections that have failed repeatedly are skipped for non-critical
// events; the agent lifecycle set is always attempted.
func (m *IsolatedSessionManager) EmitEvent(ctx context.Context, eventType string, payload map[string]any) (*EmitReport, error) {
	if m.state.Load() != stateActive {
		return nil, &ManagerInactiveError{ManagerID: m.id, Operation: "emit_event"}
	}

	envelope := EventMessage{
		MessageType: eventType,
		UserID:      m.userContext.UserID,
		Timestamp:   time.Now().UTC(),
		Data:        payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	m.touch()
	started := time.Now()

	records := m.registry.Snapshot()
	report := &EmitReport{EventType: eventType}
	critical := IsCriticalEvent(eventType)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, record := range records {
		if !critical && record.isDegraded(m.degradedThreshold) {
			mu.Lock()
			report.Skipped = append(report.Skipped, record.ConnectionID)
			mu.Unlock()
			continue
		}

		report.Attempted++
		wg.Add(1)
		go func(record *ConnectionRecord) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
			defer cancel()

			if sendErr := record.send(sendCtx, data); sendErr != nil {
				record.markFailed()
				mu.Lock()
				report.Failures = append(report.Failures, DeliveryFailure{
					ConnectionID: record.ConnectionID,
					Error:        sendErr.Error(),
				})
				mu.Unlock()
				slogging.Get().Debug("Delivery of %s to connection %s failed: %v",
					eventType, record.ConnectionID, sendErr)
				return
			}

			record.markDelivered()
			mu.Lock()
			report.Delivered++
			mu.Unlock()
		}(record)
	}

	wg.Wait()

	if m.observer != nil {
		m.observer.EventEmitted(eventType, report.Delivered, len(report.Failures), time.Since(started))
	}
	if len(report.Failures) > 0 {
		slogging.Get().Warn("Event %s delivered to %d/%d connections for user %s",
			eventType, report.Delivered, report.Attempted, m.userContext.UserID)
	}
	return report, nil
}

// Cleanup transitions the manager to Inactive, clears the registry, closes
// transports best-effort and releases the factory resource slot. By the time
// Cleanup returns the manager rejects new connections and emissions.
// Calling it again is a no-op.
func (m *IsolatedSessionManager) Cleanup() {
	if !m.state.CompareAndSwap(stateActive, stateCleaningUp) {
		return
	}

	records := m.registry.clear()
	for _, record := range records {
		if err := record.Transport.Close(); err != nil {
			slogging.Get().Debug("Error closing transport for connection %s: %v", record.ConnectionID, err)
		}
		if m.observer != nil {
			m.observer.ConnectionRemoved(m.userContext.UserID)
		}
	}

	m.state.Store(stateInactive)
	m.releaseOnce.Do(func() {
		if m.release != nil {
			m.release()
		}
	})

	slogging.Get().Info("Session manager %s cleaned up (user %s, %d connections closed)",
		m.id, m.userContext.UserID, len(records))
}
