package raft

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot notifies the node that the upper-layer service has durably
// captured state up to index. Logs with index <= index are discarded; the
// new snapshot boundary plus remaining durable state are written to the
// persister in a single atomic write.
func (r *Raft) Snapshot(index int, snapshotBytes []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index <= r.lastSnapshotIndex || index > r.lastLogIndex() {
		return
	}

	newSnapshotTerm := r.logTerm(index)
	r.logs = append([]Log(nil), r.logs[r.sliceIndex(index)+1:]...)
	r.lastSnapshotIndex = index
	r.lastSnapshotTerm = newSnapshotTerm

	r.persistStateAndSnapshot(snapshotBytes)
	r.log.WithFields(logrus.Fields{"index": index}).Info("compacted log via local snapshot")
}

// leaderSendSnapshot ships a single-shot InstallSnapshot to a peer that has
// fallen behind the leader's snapshot boundary.
func (r *Raft) leaderSendSnapshot(peer int) {
	r.mutex.Lock()
	if r.role != leader {
		r.mutex.Unlock()
		return
	}
	args := &InstallSnapshotRequest{
		Term:                     r.currentTerm,
		LeaderID:                 r.me,
		LastSnapshotIncludeIndex: r.lastSnapshotIndex,
		LastSnapshotIncludeTerm:  r.lastSnapshotTerm,
		Data:                     r.persister.ReadSnapshot(),
	}
	term := r.currentTerm
	r.mutex.Unlock()

	reply := &InstallSnapshotResponse{}
	ctx, cancel := context.WithTimeout(context.Background(), r.heartbeat*4)
	defer cancel()
	if err := r.peerStub.InstallSnapshot(ctx, peer, args, reply); err != nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.role != leader || r.currentTerm != term {
		return
	}
	if reply.Term > r.currentTerm {
		r.stepDown(reply.Term)
		return
	}

	if args.LastSnapshotIncludeIndex > r.matchIndex[peer] {
		r.matchIndex[peer] = args.LastSnapshotIncludeIndex
	}
	if args.LastSnapshotIncludeIndex+1 > r.nextIndex[peer] {
		r.nextIndex[peer] = args.LastSnapshotIncludeIndex + 1
	}
}

// InstallSnapshot is the receiver-side InstallSnapshot RPC handler.
func (r *Raft) InstallSnapshot(args *InstallSnapshotRequest, reply *InstallSnapshotResponse) error {
	r.mutex.Lock()

	if args.Term < r.currentTerm {
		reply.Term = r.currentTerm
		r.mutex.Unlock()
		return nil
	}
	if args.Term > r.currentTerm {
		r.stepDown(args.Term)
	}
	r.lastResetElection = time.Now()
	reply.Term = r.currentTerm

	if args.LastSnapshotIncludeIndex <= r.commitIndex {
		r.mutex.Unlock()
		return nil // stale: we already committed past this snapshot
	}

	if args.LastSnapshotIncludeIndex <= r.lastLogIndex() &&
		r.logTermSafe(args.LastSnapshotIncludeIndex) == args.LastSnapshotIncludeTerm {
		r.logs = append([]Log(nil), r.logs[r.sliceIndex(args.LastSnapshotIncludeIndex)+1:]...)
	} else {
		r.logs = nil
	}
	r.lastSnapshotIndex = args.LastSnapshotIncludeIndex
	r.lastSnapshotTerm = args.LastSnapshotIncludeTerm

	if r.commitIndex < r.lastSnapshotIndex {
		r.commitIndex = r.lastSnapshotIndex
	}
	if r.lastApplied < r.lastSnapshotIndex {
		r.lastApplied = r.lastSnapshotIndex
	}

	r.persistStateAndSnapshot(args.Data)

	msg := ApplyMsg{
		SnapshotValid: true,
		Snapshot:      args.Data,
		SnapshotIndex: args.LastSnapshotIncludeIndex,
		SnapshotTerm:  args.LastSnapshotIncludeTerm,
	}
	// Handed to the applier rather than sent on applyCh directly: the
	// applier is the only goroutine allowed to send on applyCh, so a
	// snapshot message can never race a concurrently-delivered batch of
	// command messages and arrive out of order (see apply.go).
	if r.pendingSnapshot == nil || msg.SnapshotIndex > r.pendingSnapshot.SnapshotIndex {
		r.pendingSnapshot = &msg
	}
	r.mutex.Unlock()

	return nil
}

// logTermSafe is logTerm without the panic-on-compacted-index guard, for
// use when the queried index might legitimately sit before the snapshot
// boundary we are about to move past.
func (r *Raft) logTermSafe(i int) int {
	if i <= r.lastSnapshotIndex {
		return r.lastSnapshotTerm
	}
	if i > r.lastLogIndex() {
		return -1
	}
	return r.logs[r.sliceIndex(i)].Term
}

// CondInstallSnapshot reports whether a snapshot up to lastIncludedIndex is
// still more recent than this node's commitIndex; the upper service calls
// this to confirm whether installing it would move the baseline forward.
func (r *Raft) CondInstallSnapshot(lastIncludedTerm, lastIncludedIndex int, snapshot []byte) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return lastIncludedIndex > r.commitIndex
}
