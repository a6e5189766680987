package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdistsys/raftcore/persister"
)

func TestPersistRoundTrip(t *testing.T) {
	p := persister.NewMemoryPersister()
	r := &Raft{persister: p, logs: []Log{{Term: 1, Index: 1, Command: []byte("a")}}}
	r.log = discardLogger()
	r.currentTerm = 3
	r.votedFor = 2
	r.lastSnapshotIndex = 0
	r.lastSnapshotTerm = 0

	r.persist()

	restored := &Raft{persister: p}
	restored.log = discardLogger()
	restored.readPersist(p.ReadRaftState())

	assert.Equal(t, r.currentTerm, restored.currentTerm)
	assert.Equal(t, r.votedFor, restored.votedFor)
	assert.Equal(t, r.logs, restored.logs)
}

func TestReadPersistEmptyIsFreshNode(t *testing.T) {
	r := &Raft{}
	r.log = discardLogger()
	r.readPersist(nil)

	require.Equal(t, noVote, r.votedFor)
	assert.Equal(t, 0, r.currentTerm)
	assert.Empty(t, r.logs)
}
