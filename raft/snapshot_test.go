package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSnapshotCompactsLog(t *testing.T) {
	tc := newTestCluster(1)
	defer tc.shutdown()

	r := tc.nodes[0]
	_ = tc.leader(time.Second)

	for i := 0; i < 5; i++ {
		r.Start([]byte{byte(i)})
	}
	for i := 0; i < 5; i++ {
		waitForApply(t, tc.applyCh[0], time.Second)
	}

	r.Snapshot(3, []byte("snap-at-3"))

	r.mutex.Lock()
	defer r.mutex.Unlock()
	assert.Equal(t, 3, r.lastSnapshotIndex)
	for _, e := range r.logs {
		assert.Greater(t, e.Index, 3)
	}
}

func TestInstallSnapshotDeliversThenResumesCommands(t *testing.T) {
	tc := newTestCluster(3)
	defer tc.shutdown()

	leaderID := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, leaderID, 0)
	followerID := (leaderID + 1) % 3
	otherID := (leaderID + 2) % 3

	// Partition one follower away, let the leader and the other follower
	// commit and compact past everything it missed, then heal and expect a
	// snapshot install. Both connected nodes compact, so whichever of them
	// leads after the heal has only the snapshot to send.
	tc.net.setConnected(followerID, false)

	leader := tc.nodes[leaderID]
	var lastIndex int
	for i := 0; i < 10; i++ {
		lastIndex, _, _ = leader.Start([]byte{byte(i)})
	}
	for i := 0; i < 10; i++ {
		waitForApply(t, tc.applyCh[leaderID], time.Second)
	}
	leader.Snapshot(lastIndex, []byte("full-state"))
	tc.nodes[otherID].Snapshot(lastIndex, []byte("full-state"))

	tc.net.setConnected(followerID, true)

	msg := waitForApply(t, tc.applyCh[followerID], 3*time.Second)
	require.True(t, msg.SnapshotValid)
	assert.Equal(t, lastIndex, msg.SnapshotIndex)

	// Command delivery resumes right after the snapshot index.
	current := tc.leader(2 * time.Second)
	require.GreaterOrEqual(t, current, 0)
	index, _, isLeader := tc.nodes[current].Start([]byte("after-snapshot"))
	require.True(t, isLeader)
	assert.Equal(t, lastIndex+1, index)

	msg = waitForApply(t, tc.applyCh[followerID], 3*time.Second)
	require.True(t, msg.CommandValid)
	assert.Equal(t, lastIndex+1, msg.CommandIndex)
}
