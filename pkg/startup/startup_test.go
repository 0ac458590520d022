package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeDependency struct {
	name       string
	dependsOn  []string
	failures   int
	startCalls int
	stopCalls  int
	events     *[]string
}

func (f *fakeDependency) GetName() string     { return f.name }
func (f *fakeDependency) DependsOn() []string { return f.dependsOn }

func (f *fakeDependency) Start(_ context.Context) error {
	f.startCalls++
	if f.events != nil {
		*f.events = append(*f.events, "start:"+f.name)
	}
	if f.failures > 0 {
		f.failures--
		return errors.New(f.name + " unavailable")
	}
	return nil
}

func (f *fakeDependency) Stop(_ context.Context) error {
	f.stopCalls++
	if f.events != nil {
		*f.events = append(*f.events, "stop:"+f.name)
	}
	return nil
}

func indexOf(events []string, entry string) int {
	for i, e := range events {
		if e == entry {
			return i
		}
	}
	return -1
}

func TestStartup_StartsInDependencyOrder(t *testing.T) {
	var events []string
	db := &fakeDependency{name: "database", events: &events}
	redis := &fakeDependency{name: "redis", events: &events}
	queue := &fakeDependency{name: "queue", dependsOn: []string{"database", "redis"}, events: &events}

	s := NewStartup(testLogger(), 1)
	s.AddDependency(queue)
	s.AddDependency(db)
	s.AddDependency(redis)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 1, db.startCalls)
	assert.Equal(t, 1, redis.startCalls)
	assert.Equal(t, 1, queue.startCalls)
	assert.Less(t, indexOf(events, "start:database"), indexOf(events, "start:queue"))
	assert.Less(t, indexOf(events, "start:redis"), indexOf(events, "start:queue"))
}

func TestStartup_RetriesWithoutRestartingStarted(t *testing.T) {
	var events []string
	db := &fakeDependency{name: "database", events: &events}
	redis := &fakeDependency{name: "redis", dependsOn: []string{"database"}, failures: 1, events: &events}

	s := NewStartup(testLogger(), 3)
	s.AddDependency(db)
	s.AddDependency(redis)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 1, db.startCalls, "already-started dependency should not restart")
	assert.Equal(t, 2, redis.startCalls)
}

func TestStartup_FailsAfterMaxAttempts(t *testing.T) {
	db := &fakeDependency{name: "database", failures: 10}

	s := NewStartup(testLogger(), 2)
	s.AddDependency(db)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, db.startCalls)
}

func TestStartup_UnregisteredDependency(t *testing.T) {
	queue := &fakeDependency{name: "queue", dependsOn: []string{"database"}}

	s := NewStartup(testLogger(), 1)
	s.AddDependency(queue)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
}

func TestStartup_StopsDependentsFirst(t *testing.T) {
	var events []string
	db := &fakeDependency{name: "database", events: &events}
	queue := &fakeDependency{name: "queue", dependsOn: []string{"database"}, events: &events}

	s := NewStartup(testLogger(), 1)
	s.AddDependency(db)
	s.AddDependency(queue)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, 1, db.stopCalls)
	assert.Equal(t, 1, queue.stopCalls)
	assert.Less(t, indexOf(events, "stop:queue"), indexOf(events, "stop:database"))
}

func TestStartup_ContextCancelledDuringBackoff(t *testing.T) {
	db := &fakeDependency{name: "database", failures: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewStartup(testLogger(), 3)
	s.AddDependency(db)

	err := s.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}