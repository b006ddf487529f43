package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_CreateManagerMemoizes(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	first, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)

	// Equivalent contexts are distinct values; memoization keys on the
	// derived isolation key, not on pointer identity.
	second, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.Equal(t, int64(1), factory.Stats().ManagersCreated)
}

func TestFactory_DistinctKeysYieldDistinctManagers(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	base, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)

	variants := []*UserExecutionContext{
		NewUserExecutionContext("u2", "t1", "r1"),
		NewUserExecutionContext("u1", "t2", "r1"),
		NewUserExecutionContext("u1", "t1", "r2"),
		NewUserExecutionContextWithClient("u1", "t1", "r1", "ws1"),
	}
	for _, uctx := range variants {
		manager, err := factory.CreateManager(uctx)
		require.NoError(t, err)
		assert.NotSame(t, base, manager, "context %s must get its own manager", uctx.IsolationKey())
	}

	assert.Equal(t, int64(5), factory.Stats().ManagersCreated)
}

func TestFactory_DelimiterBearingIDsStayIsolated(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	// Both identities embed a pipe so that naive string concatenation of
	// the fields would coincide; they must still resolve to separate
	// managers, each owned by its own user.
	first, err := factory.CreateManager(NewUserExecutionContext("alice|t1", "x", "r1"))
	require.NoError(t, err)

	second, err := factory.CreateManager(NewUserExecutionContext("alice", "t1|x", "r1"))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, "alice|t1", first.UserContext().UserID)
	assert.Equal(t, "alice", second.UserContext().UserID)

	// Each user's connections stay in their own manager
	require.NoError(t, second.AddConnection(NewConnectionRecord("c1", "alice", &fakeTransport{})))
	var ownershipErr *OwnershipViolationError
	err = first.AddConnection(NewConnectionRecord("c2", "alice", &fakeTransport{}))
	require.ErrorAs(t, err, &ownershipErr)
}

func TestFactory_RejectsInvalidContexts(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	cases := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"wrong type", "u1"},
		{"nil pointer", (*UserExecutionContext)(nil)},
		{"empty user id", NewUserExecutionContext("", "t1", "r1")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			manager, err := factory.CreateManager(tc.input)
			assert.Nil(t, manager)

			var initErr *FactoryInitializationError
			require.ErrorAs(t, err, &initErr)
			assert.False(t, initErr.Unexpected)
			assert.NotNil(t, initErr.Cause)
		})
	}

	assert.Equal(t, int64(0), factory.Stats().ManagersCreated)
}

func TestFactory_InitializationErrorUnwrapsToCause(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	_, err := factory.CreateManager(42)

	var typeErr *ContextTypeError
	require.ErrorAs(t, err, &typeErr, "callers can reach the validation cause through the wrapper")
	assert.Equal(t, "int", typeErr.GotType)

	_, err = factory.CreateManager(NewUserExecutionContext("u1", "", "r1"))
	var valueErr *ContextValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, "thread_id", valueErr.Field)
}

func TestFactory_EnforcesPerUserCap(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{MaxManagersPerUser: 2})

	first, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	_, err = factory.CreateManager(NewUserExecutionContext("u1", "t2", "r2"))
	require.NoError(t, err)

	// A third distinct key trips the cap
	manager, err := factory.CreateManager(NewUserExecutionContext("u1", "t3", "r3"))
	assert.Nil(t, manager)
	var limitErr *ResourceLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "u1", limitErr.UserID)
	assert.Equal(t, 2, limitErr.Limit)

	// The cap never breaks memoized lookups for existing keys
	cached, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	assert.Same(t, first, cached)

	// Other users are unaffected
	_, err = factory.CreateManager(NewUserExecutionContext("u2", "t1", "r1"))
	require.NoError(t, err)
}

func TestFactory_CapReleasedByCleanup(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{MaxManagersPerUser: 1})

	first, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)

	_, err = factory.CreateManager(NewUserExecutionContext("u1", "t2", "r2"))
	var limitErr *ResourceLimitExceededError
	require.ErrorAs(t, err, &limitErr)

	first.Cleanup()
	assert.Equal(t, 0, factory.ActiveManagerCount("u1"))

	second, err := factory.CreateManager(NewUserExecutionContext("u1", "t2", "r2"))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestFactory_StaleEntryReplacedAfterCleanup(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	first, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	first.Cleanup()

	second, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	assert.NotSame(t, first, second, "an inactive manager is never handed out")
	assert.True(t, second.IsActive())
}

func TestFactory_ForeignErrorValueRejected(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	// An error value is not a UserExecutionContext; it fails type validation
	// like any other foreign value.
	_, err := factory.CreateManager(context.Canceled)
	var initErr *FactoryInitializationError
	require.ErrorAs(t, err, &initErr)
}

func TestFactory_Stats(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	m1, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	_, err = factory.CreateManager(NewUserExecutionContext("u2", "t1", "r1"))
	require.NoError(t, err)

	stats := factory.Stats()
	assert.Equal(t, int64(2), stats.ManagersCreated)
	assert.Equal(t, int64(2), stats.ManagersActive)
	assert.Equal(t, int64(0), stats.ManagersCleaned)

	m1.Cleanup()

	stats = factory.Stats()
	assert.Equal(t, int64(2), stats.ManagersCreated)
	assert.Equal(t, int64(1), stats.ManagersActive)
	assert.Equal(t, int64(1), stats.ManagersCleaned)
}

func TestFactory_ConcurrentCreatesForOneKey(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	const goroutines = 16
	results := make([]*IsolatedSessionManager, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			manager, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
			assert.NoError(t, err)
			results[n] = manager
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), factory.Stats().ManagersCreated)
}

func TestFactory_ConcurrentCreatesRespectCap(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{MaxManagersPerUser: 3})

	const goroutines = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, limited int

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uctx := NewUserExecutionContext("u1", fmt.Sprintf("t%d", n), "r1")
			_, err := factory.CreateManager(uctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
				return
			}
			var limitErr *ResourceLimitExceededError
			if assert.ErrorAs(t, err, &limitErr) {
				limited++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	assert.Equal(t, goroutines-3, limited)
	assert.Equal(t, 3, factory.ActiveManagerCount("u1"))
}

func TestFactory_CleanupAll(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{})

	managers := make([]*IsolatedSessionManager, 0, 3)
	for i := 0; i < 3; i++ {
		manager, err := factory.CreateManager(
			NewUserExecutionContext(fmt.Sprintf("u%d", i), "t1", "r1"))
		require.NoError(t, err)
		managers = append(managers, manager)
	}

	factory.CleanupAll()

	for _, manager := range managers {
		assert.False(t, manager.IsActive())
	}
	assert.Equal(t, int64(0), factory.Stats().ManagersActive)
	assert.Equal(t, int64(3), factory.Stats().ManagersCleaned)
}

func TestFactory_SweepEvictsIdleManagers(t *testing.T) {
	factory := NewSessionManagerFactory(FactoryConfig{
		InactivityTimeout: 10 * time.Millisecond,
	})

	idle, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)

	busy, err := factory.CreateManager(NewUserExecutionContext("u2", "t1", "r1"))
	require.NoError(t, err)
	require.NoError(t, busy.AddConnection(NewConnectionRecord("c1", "u2", &fakeTransport{})))

	time.Sleep(20 * time.Millisecond)
	factory.sweepInactive()

	assert.False(t, idle.IsActive(), "idle connectionless manager is evicted")
	assert.True(t, busy.IsActive(), "manager with a live connection survives")
}

func TestFactory_ObserverNotifications(t *testing.T) {
	observer := &recordingObserver{}
	factory := NewSessionManagerFactory(FactoryConfig{Observer: observer})

	manager, err := factory.CreateManager(NewUserExecutionContext("u1", "t1", "r1"))
	require.NoError(t, err)
	require.NoError(t, manager.AddConnection(NewConnectionRecord("c1", "u1", &fakeTransport{})))
	_, err = manager.EmitEvent(context.Background(), EventAgentStarted, nil)
	require.NoError(t, err)
	manager.Cleanup()

	assert.Equal(t, 1, observer.count("manager_created"))
	assert.Equal(t, 1, observer.count("connection_added"))
	assert.Equal(t, 1, observer.count("event_emitted"))
	assert.Equal(t, 1, observer.count("connection_removed"))
	assert.Equal(t, 1, observer.count("manager_cleaned"))
}

type recordingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *recordingObserver) record(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[kind]++
}

func (o *recordingObserver) count(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[kind]
}

func (o *recordingObserver) ManagerCreated(userID string) { o.record("manager_created") }
func (o *recordingObserver) ManagerCleaned(userID string) { o.record("manager_cleaned") }
func (o *recordingObserver) ConnectionAdded(userID string) {
	o.record("connection_added")
}
func (o *recordingObserver) ConnectionRemoved(userID string) {
	o.record("connection_removed")
}
func (o *recordingObserver) EventEmitted(eventType string, delivered, failed int, elapsed time.Duration) {
	o.record("event_emitted")
}
