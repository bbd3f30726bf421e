package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store"
	"github.com/roach88/autokit/internal/store/redis"
	"github.com/roach88/autokit/internal/store/storetest"
)

func newTestStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return redis.New(client, opts...), mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock model.Clock) store.Store {
		s, _ := newTestStore(t, redis.WithClock(clock))
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, redis.WithPrefix("test"))
	defer s.Close()

	require.NoError(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Name: "a", Definition: "{}", Status: model.WorkflowEnabled}))
	runID, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:workflow:wf-1"))
	assert.True(t, mr.Exists("test:run:"+runID))
	assert.Equal(t, "ENABLED", mr.HGet("test:workflow:wf-1", "status"))
	assert.Equal(t, "0", mr.HGet("test:run:"+runID, "ended_at"))

	members, err := mr.ZMembers("test:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, members)
}

func TestServerDownReturnsPersistenceError(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	defer s.Close()
	mr.Close()

	err := s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Status: model.WorkflowEnabled})
	require.Error(t, err)
	assert.True(t, model.IsPersistence(err))

	_, err = s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1"})
	assert.True(t, model.IsPersistence(err))

	_, err = s.GetRunCount(ctx)
	assert.True(t, model.IsPersistence(err))
}

func TestCorruptRunHash(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	defer s.Close()

	mr.HSet("autokit:run:bad", "id", "bad", "started_at", "not-a-number", "ended_at", "0", "status", "RUNNING")

	_, err := s.GetRun(ctx, "bad")
	require.Error(t, err)
	assert.True(t, model.IsPersistence(err))
}
