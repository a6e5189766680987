package raft

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// leaderHeartbeatTicker sleeps for the fixed heartbeat interval and, while
// Leader, dispatches doHeartbeat on every wake.
func (r *Raft) leaderHeartbeatTicker() {
	for {
		if r.killed() {
			return
		}

		r.mutex.Lock()
		due := time.Until(r.lastResetHeartbeat.Add(r.heartbeat))
		r.mutex.Unlock()

		if due > 0 {
			time.Sleep(due)
		}

		r.mutex.Lock()
		if r.role != leader {
			r.lastResetHeartbeat = time.Now()
			r.mutex.Unlock()
			time.Sleep(r.heartbeat)
			continue
		}
		r.lastResetHeartbeat = time.Now()
		r.mutex.Unlock()

		r.doHeartbeat()
	}
}

// doHeartbeat dispatches one round of AppendEntries (or InstallSnapshot, for
// peers that have fallen behind the snapshot boundary) to every peer.
func (r *Raft) doHeartbeat() {
	r.mutex.Lock()
	if r.role != leader {
		r.mutex.Unlock()
		return
	}
	term := r.currentTerm
	peers := append([]int(nil), r.peers...)
	r.mutex.Unlock()

	for _, peer := range peers {
		if peer == r.me {
			continue
		}

		r.mutex.Lock()
		if r.role != leader || r.currentTerm != term {
			r.mutex.Unlock()
			return
		}
		next := r.nextIndex[peer]

		if next <= r.lastSnapshotIndex {
			r.mutex.Unlock()
			go r.leaderSendSnapshot(peer)
			continue
		}

		prevLogIndex := next - 1
		prevLogTerm := r.logTerm(prevLogIndex)
		entries := append([]Log(nil), r.logs[r.sliceIndex(next):]...)
		args := &AppendEntryArg{
			Term:         term,
			LeaderID:     r.me,
			PrevLogIndex: prevLogIndex,
			PrevLogTerm:  prevLogTerm,
			Logs:         entries,
			LeaderCommit: r.commitIndex,
		}
		r.mutex.Unlock()

		go r.sendAppendEntries(peer, args)
	}
}

// sendAppendEntries issues one AppendEntries RPC and processes the reply.
func (r *Raft) sendAppendEntries(peer int, args *AppendEntryArg) {
	reply := &AppendEntryRes{}

	ctx, cancel := context.WithTimeout(context.Background(), r.heartbeat)
	defer cancel()
	if err := r.peerStub.AppendEntries(ctx, peer, args, reply); err != nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.role != leader || r.currentTerm != args.Term {
		return
	}
	if reply.Term > r.currentTerm {
		r.stepDown(reply.Term)
		return
	}

	if reply.Success {
		matched := args.PrevLogIndex + len(args.Logs)
		if matched > r.matchIndex[peer] {
			r.matchIndex[peer] = matched
		}
		if matched+1 > r.nextIndex[peer] {
			r.nextIndex[peer] = matched + 1
		}
		r.leaderUpdateCommit()
		return
	}

	// Accelerated back-off: rewind nextIndex to the last entry in our log
	// with the conflicting term, or to the conflict index if we have none.
	if reply.ConflictTerm != 0 {
		if last := r.lastIndexWithTerm(reply.ConflictTerm); last != 0 {
			r.nextIndex[peer] = last + 1
			return
		}
	}
	r.nextIndex[peer] = reply.ConflictIndex
	if r.nextIndex[peer] < 1 {
		r.nextIndex[peer] = 1
	}
}

// leaderUpdateCommit advances commitIndex to the largest N for which a
// quorum's matchIndex (including self) is >= N and logTerm(N) ==
// currentTerm. Caller must hold the mutex.
func (r *Raft) leaderUpdateCommit() {
	selfLast := r.lastLogIndex()
	for n := selfLast; n > r.commitIndex; n-- {
		if r.logTerm(n) != r.currentTerm {
			continue
		}
		count := 1 // self
		for _, peer := range r.peers {
			if peer == r.me {
				continue
			}
			if r.matchIndex[peer] >= n {
				count++
			}
		}
		if count >= r.quorum() {
			r.commitIndex = n
			r.log.WithFields(logrus.Fields{"commit_index": n}).Info("advanced commit index")
			return
		}
	}
}

// AppendEntries is the receiver-side AppendEntries RPC handler.
func (r *Raft) AppendEntries(args *AppendEntryArg, reply *AppendEntryRes) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reply.AppState = AppNormal

	if args.Term < r.currentTerm {
		reply.Term = r.currentTerm
		reply.Success = false
		return nil
	}

	if args.Term > r.currentTerm || r.role == candidate {
		r.stepDown(args.Term)
	}
	r.lastResetElection = time.Now()

	if args.PrevLogIndex > r.lastLogIndex() {
		reply.Success = false
		reply.ConflictIndex = r.lastLogIndex() + 1
		reply.ConflictTerm = 0
		reply.Term = r.currentTerm
		return nil
	}

	prevLogIndex := args.PrevLogIndex
	entries := args.Logs
	if prevLogIndex < r.lastSnapshotIndex {
		skip := r.lastSnapshotIndex - prevLogIndex
		if skip > len(entries) {
			skip = len(entries)
		}
		entries = entries[skip:]
		prevLogIndex = r.lastSnapshotIndex
		if len(entries) == 0 {
			reply.Success = true
			reply.Term = r.currentTerm
			return nil
		}
	} else if r.logTerm(prevLogIndex) != args.PrevLogTerm {
		reply.Success = false
		conflictTerm := r.logTerm(prevLogIndex)
		reply.ConflictTerm = conflictTerm
		reply.ConflictIndex = r.firstIndexWithTerm(conflictTerm)
		reply.Term = r.currentTerm
		return nil
	}

	for i, entry := range entries {
		idx := prevLogIndex + 1 + i
		if idx <= r.lastLogIndex() {
			if r.logTerm(idx) != entry.Term {
				r.logs = r.logs[:r.sliceIndex(idx)]
				r.logs = append(r.logs, entry)
			}
			continue
		}
		r.logs = append(r.logs, entry)
	}
	r.persist()

	if args.LeaderCommit > r.commitIndex {
		if args.LeaderCommit < r.lastLogIndex() {
			r.commitIndex = args.LeaderCommit
		} else {
			r.commitIndex = r.lastLogIndex()
		}
	}

	reply.Success = true
	reply.Term = r.currentTerm
	return nil
}
