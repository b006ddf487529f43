package session

import (
	"context"
	"sync"
	"time"
)

// Transport is the opaque handle a connection record holds to the underlying
// socket. The api package adapts gorilla/websocket connections to this
// interface; tests substitute in-memory fakes.
type Transport interface {
	// Send writes one message. Implementations must honor the context
	// deadline so a slow socket cannot stall a broadcast indefinitely.
	Send(ctx context.Context, data []byte) error
	Close() error
}

// ConnectionRecord is one admitted connection. The owning registry holds the
// only reference; the record holds a back-reference to the transport, not
// ownership of it.
type ConnectionRecord struct {
	ConnectionID string
	UserID       string
	Transport    Transport
	ConnectedAt  time.Time

	// sendMu serializes transport writes so that per-connection FIFO holds
	// even when broadcasts fan out across goroutines.
	sendMu sync.Mutex

	failureMu           sync.Mutex
	consecutiveFailures int
}

// NewConnectionRecord builds a record for an admitted connection.
func NewConnectionRecord(connectionID, userID string, transport Transport) *ConnectionRecord {
	return &ConnectionRecord{
		ConnectionID: connectionID,
		UserID:       userID,
		Transport:    transport,
		ConnectedAt:  time.Now().UTC(),
	}
}

func (r *ConnectionRecord) send(ctx context.Context, data []byte) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.Transport.Send(ctx, data)
}

func (r *ConnectionRecord) markDelivered() {
	r.failureMu.Lock()
	r.consecutiveFailures = 0
	r.failureMu.Unlock()
}

func (r *ConnectionRecord) markFailed() {
	r.failureMu.Lock()
	r.consecutiveFailures++
	r.failureMu.Unlock()
}

// isDegraded reports whether the connection has failed enough consecutive
// sends that non-critical events should be skipped for it.
func (r *ConnectionRecord) isDegraded(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	r.failureMu.Lock()
	defer r.failureMu.Unlock()
	return r.consecutiveFailures >= threshold
}

// ConnectionRegistry holds the active connections for exactly one manager
// and enforces ownership at admission time. All mutating operations are
// serialized by a per-registry mutex; iteration for broadcast always works
// on a snapshot.
type ConnectionRegistry struct {
	ownerUserID string

	mu          sync.RWMutex
	connections map[string]*ConnectionRecord
}

// NewConnectionRegistry builds an empty registry owned by the given user.
func NewConnectionRegistry(ownerUserID string) *ConnectionRegistry {
	return &ConnectionRegistry{
		ownerUserID: ownerUserID,
		connections: make(map[string]*ConnectionRecord),
	}
}

// Add admits a connection. A record claiming a different user than the
// owner fails with OwnershipViolationError and is never stored. A record
// reusing an existing connection id overwrites the previous one; reconnects
// with the same id are expected and legitimate.
func (reg *ConnectionRegistry) Add(record *ConnectionRecord) error {
	if record.UserID != reg.ownerUserID {
		return &OwnershipViolationError{
			ConnectionID:  record.ConnectionID,
			ClaimedUserID: record.UserID,
			OwnerUserID:   reg.ownerUserID,
		}
	}

	reg.mu.Lock()
	reg.connections[record.ConnectionID] = record
	reg.mu.Unlock()
	return nil
}

// Remove deletes a connection if present and reports whether it did.
// Removing an unknown id is a no-op, not an error. The return value lets
// concurrent removals of the same id resolve to exactly one winner.
func (reg *ConnectionRegistry) Remove(connectionID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.connections[connectionID]; !ok {
		return false
	}
	delete(reg.connections, connectionID)
	return true
}

// Get looks up a connection by id.
func (reg *ConnectionRegistry) Get(connectionID string) (*ConnectionRecord, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	record, ok := reg.connections[connectionID]
	return record, ok
}

// ListIDs returns a copy of the current connection ids. Callers iterate the
// snapshot while the registry may be concurrently mutated.
func (reg *ConnectionRegistry) ListIDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.connections))
	for id := range reg.connections {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of the current record set for broadcast.
func (reg *ConnectionRegistry) Snapshot() []*ConnectionRecord {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	records := make([]*ConnectionRecord, 0, len(reg.connections))
	for _, record := range reg.connections {
		records = append(records, record)
	}
	return records
}

// IsUserActive reports whether at least one connection is registered.
func (reg *ConnectionRegistry) IsUserActive() bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.connections) > 0
}

// Len returns the current connection count.
func (reg *ConnectionRegistry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.connections)
}

// clear removes and returns every record, for manager teardown.
func (reg *ConnectionRegistry) clear() []*ConnectionRecord {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	records := make([]*ConnectionRecord, 0, len(reg.connections))
	for _, record := range reg.connections {
		records = append(records, record)
	}
	reg.connections = make(map[string]*ConnectionRecord)
	return records
}
