// Package raft implements the consensus core of a replicated state
// machine: leader election, log replication, commit-index advancement,
// durable persistence, and snapshot installation/transfer. It delivers
// committed commands in order to an upper-layer service through an apply
// channel. RPC transport and the persistence medium are collaborators
// injected at construction time (PeerStub and persister.Persister).
package raft

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwdistsys/raftcore/persister"
)

// Raft is a single node's consensus state. All mutable fields below are
// guarded by mutex; the mutex is held across every RPC handler, every
// ticker tick, and every RPC reply handler, and released before any
// network I/O, apply-channel send, or sleep.
type Raft struct {
	mutex sync.Mutex
	rand  *rand.Rand

	me    int
	peers []int

	peerStub  PeerStub
	persister persister.Persister
	applyCh   chan ApplyMsg

	log logrus.FieldLogger

	// Persistent state (see persist.go for encode/decode).
	currentTerm int
	votedFor    int
	logs        []Log // indexes > lastSnapshotIndex only

	lastSnapshotIndex int
	lastSnapshotTerm  int

	// Volatile state.
	role               role
	commitIndex        int
	lastApplied        int
	lastResetElection  time.Time
	lastResetHeartbeat time.Time

	// Volatile leader state, reinitialized on becoming leader.
	nextIndex  map[int]int
	matchIndex map[int]int

	// pendingSnapshot is a snapshot ApplyMsg awaiting delivery by the
	// applier goroutine; see apply.go.
	pendingSnapshot *ApplyMsg

	electionMin time.Duration
	electionMax time.Duration
	heartbeat   time.Duration

	dead bool // set by Kill; tickers observe and exit
}

// NewRaft constructs and starts a node: it restores durable state from
// persister if present, becomes Follower, and starts the three tickers.
// This is the Init operation from the spec.
func NewRaft(me int, peers []int, peerStub PeerStub, p persister.Persister, applyCh chan ApplyMsg, electionMin, electionMax, heartbeat time.Duration) *Raft {
	r := &Raft{
		me:          me,
		peers:       peers,
		peerStub:    peerStub,
		persister:   p,
		applyCh:     applyCh,
		role:        follower,
		votedFor:    noVote,
		nextIndex:   make(map[int]int),
		matchIndex:  make(map[int]int),
		electionMin: electionMin,
		electionMax: electionMax,
		heartbeat:   heartbeat,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(me))),
	}
	r.log = logrus.WithFields(logrus.Fields{"node_id": me})

	r.readPersist(p.ReadRaftState())
	r.lastApplied = r.lastSnapshotIndex
	if r.commitIndex < r.lastSnapshotIndex {
		r.commitIndex = r.lastSnapshotIndex
	}

	now := time.Now()
	r.lastResetElection = now
	r.lastResetHeartbeat = now

	go r.electionTimeoutTicker()
	go r.leaderHeartbeatTicker()
	go r.applierTicker()

	return r
}

// GetState returns (term, isLeader) under the mutex.
func (r *Raft) GetState() (int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.currentTerm, r.role == leader
}

// Start is the leader-only entry point for submitting a new command. On a
// non-leader it returns isLeader=false without side effects.
func (r *Raft) Start(command []byte) (index int, term int, isLeader bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.role != leader {
		return 0, 0, false
	}

	index = r.lastLogIndex() + 1
	entry := Log{Term: r.currentTerm, Index: index, Command: command}
	r.logs = append(r.logs, entry)
	r.persist()
	// A cluster whose quorum is this node alone gets no peer replies to
	// drive commit advancement, so check for it here as well.
	r.leaderUpdateCommit()

	r.log.WithFields(logrus.Fields{"index": index, "term": r.currentTerm}).Info("appended new entry")
	return index, r.currentTerm, true
}

// RaftStateSize reports the byte size of the last-persisted raft state, for
// callers deciding when to trigger a snapshot.
func (r *Raft) RaftStateSize() int {
	return r.persister.RaftStateSize()
}

// Kill stops the tickers. Safe to call once.
func (r *Raft) Kill() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dead = true
}

func (r *Raft) killed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.dead
}

// --- index translation (§4.1) ---

// sliceIndex converts a global log index into an index into r.logs.
func (r *Raft) sliceIndex(i int) int {
	idx := i - r.lastSnapshotIndex - 1
	if idx < 0 {
		r.log.Panicf("sliceIndex: index %d is at or before snapshot boundary %d", i, r.lastSnapshotIndex)
	}
	return idx
}

// logTerm returns the term of the entry at global index i. i ==
// lastSnapshotIndex returns lastSnapshotTerm. Querying an index strictly
// below lastSnapshotIndex is a programming error.
func (r *Raft) logTerm(i int) int {
	if i == r.lastSnapshotIndex {
		return r.lastSnapshotTerm
	}
	if i < r.lastSnapshotIndex {
		r.log.Panicf("logTerm: index %d is before snapshot boundary %d", i, r.lastSnapshotIndex)
	}
	return r.logs[r.sliceIndex(i)].Term
}

func (r *Raft) lastLogIndex() int {
	if len(r.logs) == 0 {
		return r.lastSnapshotIndex
	}
	return r.logs[len(r.logs)-1].Index
}

func (r *Raft) lastLogTerm() int {
	if len(r.logs) == 0 {
		return r.lastSnapshotTerm
	}
	return r.logs[len(r.logs)-1].Term
}

// firstIndexWithTerm returns the smallest index in r.logs whose term equals
// term, or 0 if no such entry exists (used by the accelerated back-off).
func (r *Raft) firstIndexWithTerm(term int) int {
	for _, e := range r.logs {
		if e.Term == term {
			return e.Index
		}
	}
	return 0
}

// lastIndexWithTerm returns the largest index in r.logs whose term equals
// term, or 0 if no such entry exists.
func (r *Raft) lastIndexWithTerm(term int) int {
	found := 0
	for _, e := range r.logs {
		if e.Term == term {
			found = e.Index
		}
	}
	return found
}

// quorum is the smallest majority of the full cluster. r.peers enumerates
// every node in the cluster, including this node itself.
func (r *Raft) quorum() int {
	return len(r.peers)/2 + 1
}
