package kv

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/thoas/go-funk"

	"github.com/gwdistsys/raftcore/raft"
)

// snapshotEvery bounds how many applied commands accumulate before Store
// asks the core to compact the log, the same segment-rollover shape the
// teacher used in partition.CommitMessageToFile (there: MaxFileLines before
// rolling to a new segment file; here: commands applied before snapshotting).
const snapshotEvery = 200

// Store is the replicated key/value map. It is mutated only from the apply
// loop (Run), never directly from a request handler - callers submit
// commands through raft.Raft.Start and wait on a completion channel,
// mirroring the teacher's partition.listenForCommits / taskCompChan shape.
type Store struct {
	mutex sync.RWMutex
	data  map[string]string

	raft *raft.Raft
	log  logrus.FieldLogger

	appliedSinceSnapshot int
	lastAppliedIndex     int

	pending   map[string]chan error
	pendingMu sync.Mutex
}

// NewStore wraps a *raft.Raft. Call Run in its own goroutine to start
// consuming the apply channel.
func NewStore(r *raft.Raft) *Store {
	return &Store{
		data:    make(map[string]string),
		raft:    r,
		log:     logrus.WithField("component", "kv.Store"),
		pending: make(map[string]chan error),
	}
}

// Get reads the current value for key. This is a local, possibly stale
// read: there is no read-index lease.
func (s *Store) Get(key string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Keys lists the current key set, for diagnostics - the kv analogue of the
// teacher's TopicManager.getTopics (funk.Keys over its topics map).
func (s *Store) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys, _ := funk.Keys(s.data).([]string)
	return keys
}

// Run consumes applyCh until it is closed, applying command messages to
// the map and installing snapshot messages wholesale. It is the analogue
// of the teacher's partition.listenForCommits.
func (s *Store) Run(applyCh <-chan raft.ApplyMsg) {
	for msg := range applyCh {
		switch {
		case msg.CommandValid:
			s.applyCommand(msg)
		case msg.SnapshotValid:
			s.applySnapshot(msg)
		}
	}
}

func (s *Store) applyCommand(msg raft.ApplyMsg) {
	cmd, err := decodeCommand(msg.Command)
	if err != nil {
		s.log.WithError(err).Error("dropping malformed command")
		return
	}

	s.mutex.Lock()
	var applyErr error
	switch cmd.Op {
	case OpPut:
		s.data[cmd.Key] = cmd.Value
	case OpDel:
		delete(s.data, cmd.Key)
	case OpCas:
		if s.data[cmd.Key] != cmd.OldVal {
			applyErr = errCasMismatch
		} else {
			s.data[cmd.Key] = cmd.Value
		}
	}
	s.lastAppliedIndex = msg.CommandIndex
	s.appliedSinceSnapshot++
	shouldSnapshot := s.appliedSinceSnapshot >= snapshotEvery
	snapshotIndex := s.lastAppliedIndex
	var snapshotBytes []byte
	if shouldSnapshot {
		snapshotBytes = s.encodeSnapshotLocked()
		s.appliedSinceSnapshot = 0
	}
	s.mutex.Unlock()

	s.complete(cmd.ID, applyErr)

	if shouldSnapshot {
		s.raft.Snapshot(snapshotIndex, snapshotBytes)
	}
}

func (s *Store) applySnapshot(msg raft.ApplyMsg) {
	data, err := decodeSnapshot(msg.Snapshot)
	if err != nil {
		s.log.WithError(err).Error("dropping malformed snapshot")
		return
	}
	s.mutex.Lock()
	s.data = data
	s.lastAppliedIndex = msg.SnapshotIndex
	s.appliedSinceSnapshot = 0
	s.mutex.Unlock()
}
