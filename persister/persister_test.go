package persister

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPersisterRoundTrip(t *testing.T) {
	p := NewMemoryPersister()
	p.SaveRaftState([]byte("state-1"))
	assert.Equal(t, []byte("state-1"), p.ReadRaftState())
	assert.Equal(t, len("state-1"), p.RaftStateSize())

	p.SaveStateAndSnapshot([]byte("state-2"), []byte("snap-1"))
	assert.Equal(t, []byte("state-2"), p.ReadRaftState())
	assert.Equal(t, []byte("snap-1"), p.ReadSnapshot())
}

func TestFilePersisterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewFilePersister(dir)

	p.SaveRaftState([]byte("hello-state"))
	assert.Equal(t, []byte("hello-state"), p.ReadRaftState())

	p.SaveStateAndSnapshot([]byte("state-v2"), []byte("snapshot-bytes"))
	assert.Equal(t, []byte("state-v2"), p.ReadRaftState())
	assert.Equal(t, []byte("snapshot-bytes"), p.ReadSnapshot())
	assert.Equal(t, len("state-v2"), p.RaftStateSize())

	// Surviving a reopen over the same directory is the whole point of a
	// file-backed persister.
	reopened := NewFilePersister(dir)
	assert.Equal(t, []byte("state-v2"), reopened.ReadRaftState())

	require.NoError(t, os.RemoveAll(dir))
}
