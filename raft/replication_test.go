package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForApply(t *testing.T, ch chan ApplyMsg, timeout time.Duration) ApplyMsg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for apply message")
		return ApplyMsg{}
	}
}

func TestCommandReplicatesToAllNodes(t *testing.T) {
	tc := newTestCluster(3)
	defer tc.shutdown()

	leaderID := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, leaderID, 0)

	index, term, isLeader := tc.nodes[leaderID].Start([]byte("x"))
	require.True(t, isLeader)
	assert.Equal(t, 1, index)
	assert.GreaterOrEqual(t, term, 1)

	for i := 0; i < len(tc.nodes); i++ {
		msg := waitForApply(t, tc.applyCh[i], time.Second)
		assert.True(t, msg.CommandValid)
		assert.Equal(t, 1, msg.CommandIndex)
		assert.Equal(t, []byte("x"), msg.Command)
	}
}

func TestNonLeaderStartReturnsFalse(t *testing.T) {
	tc := newTestCluster(3)
	defer tc.shutdown()

	leaderID := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, leaderID, 0)

	for i, r := range tc.nodes {
		if i == leaderID {
			continue
		}
		_, _, isLeader := r.Start([]byte("should not apply"))
		assert.False(t, isLeader)
	}
}

func TestLeaderFailureAndLogConflictResolution(t *testing.T) {
	tc := newTestCluster(3)
	defer tc.shutdown()

	leaderA := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, leaderA, 0)

	_, _, isLeader := tc.nodes[leaderA].Start([]byte("x"))
	require.True(t, isLeader)

	for i := range tc.nodes {
		waitForApply(t, tc.applyCh[i], time.Second)
	}

	// Isolate leaderA with an uncommitted entry appended only locally by
	// directly mutating state is unnecessary: simulate by disconnecting it
	// after it accepts one more command that cannot reach a quorum.
	tc.net.setConnected(leaderA, false)
	tc.nodes[leaderA].Start([]byte("a")) // leader-local, will never commit

	leaderB := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, leaderB, 0)
	require.NotEqual(t, leaderA, leaderB)

	index, _, isLeader := tc.nodes[leaderB].Start([]byte("y"))
	require.True(t, isLeader)
	assert.Equal(t, 2, index)

	// Heal the partition; leaderA's conflicting entry at index 2 must be
	// overwritten and never delivered.
	tc.net.setConnected(leaderA, true)

	deadline := time.After(2 * time.Second)
	for {
		term, _ := tc.nodes[leaderA].GetState()
		_ = term
		tc.nodes[leaderA].mutex.Lock()
		gotCommit := tc.nodes[leaderA].commitIndex
		tc.nodes[leaderA].mutex.Unlock()
		if gotCommit >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("leaderA never caught up to the new leader's log")
		case <-time.After(10 * time.Millisecond):
		}
	}

	tc.nodes[leaderA].mutex.Lock()
	entry := tc.nodes[leaderA].logs[tc.nodes[leaderA].sliceIndex(2)]
	tc.nodes[leaderA].mutex.Unlock()
	assert.Equal(t, []byte("y"), entry.Command)
}
