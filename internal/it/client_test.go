package it

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"causalog/internal/client"
)

func TestClient_ConcurrentAppendsConverge(t *testing.T) {
	cluster, ctx := startCluster(t, 4, Options{Clock: "vector"})
	c, err := client.New(cluster.Peers(), client.Options{Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	// Concurrent writers keep hitting nodes with a fan-out in flight, so
	// some appends are only accepted after a 503 retry.
	const writers, perWriter = 3, 4
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := c.Append(ctx, int64(w*perWriter+i)); err != nil {
					errs <- fmt.Errorf("writer %d value %d: %w", w, i, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, cluster.WaitQuiescent(ctx))

	report, err := c.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Agree(), "diverged %v unreachable %v", report.Diverged, report.Unreachable)
	require.Len(t, report.Logs, 4)
	for id, events := range report.Logs {
		assert.Len(t, events, writers*perWriter, "node %s", id)
	}
}

func TestClient_LamportCheckAgrees(t *testing.T) {
	cluster, ctx := startCluster(t, 3, Options{Clock: "lamport"})
	c, err := client.New(cluster.Peers(), client.Options{Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	for v := int64(1); v <= 5; v++ {
		_, err := c.Append(ctx, v)
		require.NoError(t, err)
	}
	require.NoError(t, cluster.WaitQuiescent(ctx))

	report, err := c.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Agree())
	for id, events := range report.Logs {
		require.Len(t, events, 5, "node %s", id)
		for i := 1; i < len(events); i++ {
			assert.LessOrEqual(t, events[i-1].Clock.Time(), events[i].Clock.Time(), "node %s", id)
		}
	}
}

func TestClient_BusyNodeRetriedUntilDeadline(t *testing.T) {
	cluster, _ := startCluster(t, 3, Options{Clock: "vector"})
	require.NoError(t, cluster.KillNode("n3"))

	// n1's first fan-out never completes, so n1 stays busy.
	n1 := cluster.GetNode("n1")
	_, _, err := n1.Append(`{"value": 1}`)
	require.NoError(t, err)

	c, err := client.New(cluster.Peers()[:1], client.Options{Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_, err = c.Append(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	events, err := n1.Events("")
	require.NoError(t, err)
	assert.Len(t, events, 1, "no busy retry may be recorded")

	// n3 is down, so the logs cannot all be read.
	all, err := client.New(cluster.Peers(), client.Options{})
	require.NoError(t, err)
	report, err := all.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Agree())
	assert.Contains(t, report.Unreachable, "n3")
}
