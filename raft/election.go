package raft

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// electionTimeoutTicker is the dedicated election-timeout activity. Each
// iteration sleeps for D, freshly randomized every time, and then triggers
// doElection if this node is not the Leader and nothing reset the timer
// during the last D. The sleep is counted from the start of the iteration,
// not from lastResetElection, so after a reset in mid-sleep the next check
// comes a full fresh D after the wake-up rather than D after the reset.
func (r *Raft) electionTimeoutTicker() {
	for {
		if r.killed() {
			return
		}

		d := r.electionMin + time.Duration(r.rand.Int63n(int64(r.electionMax-r.electionMin)))
		time.Sleep(d)

		r.mutex.Lock()
		elapsed := time.Since(r.lastResetElection)
		if elapsed >= d && r.role != leader {
			r.mutex.Unlock()
			r.doElection()
			continue
		}
		r.mutex.Unlock()
	}
}

// doElection transitions this node to Candidate, bumps the term, votes for
// itself, and solicits votes from every peer concurrently.
func (r *Raft) doElection() {
	r.mutex.Lock()
	r.role = candidate
	r.currentTerm++
	r.votedFor = r.me
	r.lastResetElection = time.Now()
	r.persist()

	currentTerm := r.currentTerm
	lastLogIndex := r.lastLogIndex()
	lastLogTerm := r.lastLogTerm()
	r.log.WithFields(logrus.Fields{"term": currentTerm}).Info("starting election")

	votes := int32(1) // self-vote
	if int(votes) >= r.quorum() {
		r.becomeLeader()
	}
	r.mutex.Unlock()

	for _, peer := range r.peers {
		if peer == r.me {
			continue
		}
		go r.sendRequestVote(peer, currentTerm, lastLogIndex, lastLogTerm, &votes)
	}
}

// sendRequestVote issues RequestVote to one peer and processes the reply.
func (r *Raft) sendRequestVote(peer int, term, lastLogIndex, lastLogTerm int, votes *int32) {
	args := &ReqVoteArg{
		Term:         term,
		CandidateID:  r.me,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}
	reply := &ReqVoteRes{}

	ctx, cancel := context.WithTimeout(context.Background(), r.electionMin/2)
	defer cancel()
	if err := r.peerStub.RequestVote(ctx, peer, args, reply); err != nil {
		return // transport error: treated as no reply, retried next tick
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if reply.Term > r.currentTerm {
		r.stepDown(reply.Term)
		return
	}
	if r.role != candidate || r.currentTerm != term {
		return // stale response: our state moved on
	}
	if !reply.VoteGranted {
		return
	}

	*votes++
	if int(*votes) == r.quorum() {
		r.becomeLeader()
	}
}

// stepDown transitions to Follower at the given (higher) term. Caller must
// hold the mutex.
func (r *Raft) stepDown(term int) {
	r.role = follower
	r.currentTerm = term
	r.votedFor = noVote
	r.persist()
	r.log.WithFields(logrus.Fields{"term": term}).Info("stepping down to follower")
}

// becomeLeader transitions to Leader and arms the heartbeat ticker to fire
// immediately. Caller must hold the mutex.
func (r *Raft) becomeLeader() {
	r.role = leader
	next := r.lastLogIndex() + 1
	for _, peer := range r.peers {
		if peer == r.me {
			continue
		}
		r.nextIndex[peer] = next
		r.matchIndex[peer] = 0
	}
	r.lastResetHeartbeat = time.Time{} // force immediate heartbeat on next tick
	r.log.WithFields(logrus.Fields{"term": r.currentTerm}).Info("became leader")
}

// RequestVote is the receiver-side RequestVote RPC handler.
func (r *Raft) RequestVote(args *ReqVoteArg, reply *ReqVoteRes) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if args.Term < r.currentTerm {
		reply.Term = r.currentTerm
		reply.VoteGranted = false
		reply.VoteState = Expired
		return nil
	}

	if args.Term > r.currentTerm {
		r.stepDown(args.Term)
	}

	lastLogIndex := r.lastLogIndex()
	lastLogTerm := r.lastLogTerm()
	upToDate := args.LastLogTerm > lastLogTerm ||
		(args.LastLogTerm == lastLogTerm && args.LastLogIndex >= lastLogIndex)

	if (r.votedFor == noVote || r.votedFor == args.CandidateID) && upToDate {
		r.votedFor = args.CandidateID
		r.persist()
		r.lastResetElection = time.Now()
		reply.VoteGranted = true
		reply.VoteState = Voted
	} else {
		reply.VoteGranted = false
		reply.VoteState = Normal
	}

	reply.Term = r.currentTerm
	return nil
}
