package raft

import (
	"bytes"
	"encoding/gob"
)

// persistentState mirrors the durable fields named in the spec:
// (current_term, voted_for, last_snapshot_include_index,
// last_snapshot_include_term, logs). encoding/gob gives a stable,
// round-trippable encoding without hand-rolling a codec; none of the
// pack's third-party libraries (go-funk, shortuuid, logrus, testify,
// uuid) offer struct serialization, so the standard library is used here
// - see DESIGN.md.
type persistentState struct {
	CurrentTerm       int
	VotedFor          int
	LastSnapshotIndex int
	LastSnapshotTerm  int
	Logs              []Log
}

// persist serializes durable state and writes it via the persister. It is
// called on every mutation of durable state (term bump, vote grant, log
// append/truncation) and must complete before any RPC response that
// depends on that mutation is sent. Caller must hold the mutex.
func (r *Raft) persist() {
	r.persister.SaveRaftState(r.encodeState())
}

// persistStateAndSnapshot atomically writes durable state together with a
// new snapshot blob, used by Snapshot and InstallSnapshot. Caller must
// hold the mutex.
func (r *Raft) persistStateAndSnapshot(snapshot []byte) {
	r.persister.SaveStateAndSnapshot(r.encodeState(), snapshot)
}

func (r *Raft) encodeState() []byte {
	buf := new(bytes.Buffer)
	enc := gob.NewEncoder(buf)
	state := persistentState{
		CurrentTerm:       r.currentTerm,
		VotedFor:          r.votedFor,
		LastSnapshotIndex: r.lastSnapshotIndex,
		LastSnapshotTerm:  r.lastSnapshotTerm,
		Logs:              r.logs,
	}
	if err := enc.Encode(state); err != nil {
		r.log.Panicf("persist: failed to encode raft state: %v", err)
	}
	return buf.Bytes()
}

// readPersist restores durable state from a previously saved blob. An
// empty blob means a fresh node: current_term=0, voted_for=none, empty
// log, zeroed snapshot fields. The role is not touched here; NewRaft sets
// it to Follower.
func (r *Raft) readPersist(data []byte) {
	if len(data) == 0 {
		r.votedFor = noVote
		return
	}

	var state persistentState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&state); err != nil {
		r.log.Panicf("readPersist: failed to decode raft state: %v", err)
	}

	r.currentTerm = state.CurrentTerm
	r.votedFor = state.VotedFor
	r.lastSnapshotIndex = state.LastSnapshotIndex
	r.lastSnapshotTerm = state.LastSnapshotTerm
	r.logs = state.Logs
}
