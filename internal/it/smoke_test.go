package it

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"causalog/internal/config"
)

func startCluster(t *testing.T, size int, opts Options) (*Cluster, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	cluster := NewCluster()
	t.Cleanup(cluster.Stop)
	require.NoError(t, cluster.StartCluster(ctx, size, opts), "Failed to start cluster")
	return cluster, ctx
}

func TestSmoke_FourNodeVectorBroadcast(t *testing.T) {
	cluster, ctx := startCluster(t, 4, Options{Clock: "vector"})

	n1 := cluster.GetNode("n1")
	require.NotNil(t, n1)

	code, ev, err := n1.Append(`{"value": 7}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(7), ev.Value)
	assert.Equal(t, int64(1), ev.Clock.Get("n1"))

	require.NoError(t, cluster.WaitQuiescent(ctx))

	for _, id := range []string{"n2", "n3", "n4"} {
		peer := cluster.GetNode(id)
		events, err := peer.Events("")
		require.NoError(t, err)
		require.Len(t, events, 1, "node %s", id)
		assert.Equal(t, int64(7), events[0].Value)
		assert.Equal(t, "n1", events[0].Node)
		assert.Equal(t, int64(1), events[0].Clock.Get("n1"))

		// Reading drained the message; the receive applied the transit bump.
		st, err := peer.Clock()
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.Clock.Get("n1"), "node %s", id)
		assert.Equal(t, int64(0), st.Clock.Get(id), "node %s", id)
	}

	st, err := n1.Clock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Clock.Get("n1"))
	assert.False(t, st.Pending)
}

func TestSmoke_BusyWhilePeerDown(t *testing.T) {
	cluster, _ := startCluster(t, 3, Options{Clock: "vector"})
	require.NoError(t, cluster.KillNode("n3"))

	n1 := cluster.GetNode("n1")
	code, _, err := n1.Append(`{"value": 1}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)

	// The fan-out to n3 never completes, so every further append is rejected.
	for i := 0; i < 3; i++ {
		code, _, err = n1.Append(`{"value": 2}`)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		time.Sleep(50 * time.Millisecond)
	}

	events, err := n1.Events("")
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected appends must not be recorded")

	// n2 still received the first append.
	require.Eventually(t, func() bool {
		events, err := cluster.GetNode("n2").Events("")
		return err == nil && len(events) == 1 && events[0].Value == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The monitor eventually notices n3.
	require.Eventually(t, func() bool {
		peers, err := n1.Peers()
		if err != nil {
			return false
		}
		for _, p := range peers {
			if p.ID == "n3" {
				return p.Status != "ALIVE"
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSmoke_LamportConvergesOnOrder(t *testing.T) {
	cluster, ctx := startCluster(t, 3, Options{Clock: "lamport"})

	for i, id := range []string{"n1", "n2", "n3"} {
		code, _, err := cluster.GetNode(id).Append(fmt.Sprintf(`{"value": %d}`, i+1))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, code)
		require.NoError(t, cluster.WaitQuiescent(ctx))
	}

	for _, id := range []string{"n1", "n2", "n3"} {
		events, err := cluster.GetNode(id).Events("causal")
		require.NoError(t, err)
		require.Len(t, events, 3, "node %s", id)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.Value, "node %s position %d", id, i)
		}
		for i := 1; i < len(events); i++ {
			assert.Less(t, events[i-1].Clock.Time(), events[i].Clock.Time())
		}
	}
}

func TestSmoke_GRPCTransport(t *testing.T) {
	cluster, ctx := startCluster(t, 3, Options{Clock: "vector", Transport: config.TransportGRPC})

	code, _, err := cluster.GetNode("n2").Append(`{"value": 5}`)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, cluster.WaitQuiescent(ctx))

	for _, id := range []string{"n1", "n3"} {
		events, err := cluster.GetNode(id).Events("")
		require.NoError(t, err)
		require.Len(t, events, 1, "node %s", id)
		assert.Equal(t, int64(5), events[0].Value)
		assert.Equal(t, "n2", events[0].Node)
	}
}

func TestSmoke_RejectsClientClock(t *testing.T) {
	cluster, _ := startCluster(t, 2, Options{Clock: "vector"})
	n1 := cluster.GetNode("n1")

	code, _, err := n1.Append(`{"value": 1, "vector_clock": {"n1": 5}}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, err = n1.Append(`{"value": 1, "clock": 5}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)

	st, err := n1.Clock()
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Clock.Get("n1"))
	assert.Equal(t, 0, st.Events)
}
