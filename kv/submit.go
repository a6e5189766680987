package kv

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v3"
)

func (s *Store) track(id string) chan error {
	ch := make(chan error, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	return ch
}

func (s *Store) complete(id string, err error) {
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- err
	}
}

// Submit appends a command through raft.Start and blocks (bounded by ctx)
// until the apply loop has applied it. It returns errNotLeader immediately
// if this node is not the leader, and errDropped if ctx expires first
// (e.g. because this leader stepped down before the entry committed).
func (s *Store) Submit(ctx context.Context, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = shortuuid.New()
	}

	ch := s.track(cmd.ID)
	_, _, isLeader := s.raft.Start(encodeCommand(cmd))
	if !isLeader {
		s.pendingMu.Lock()
		delete(s.pending, cmd.ID)
		s.pendingMu.Unlock()
		return errNotLeader
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, cmd.ID)
		s.pendingMu.Unlock()
		return errDropped
	case <-time.After(5 * time.Second):
		s.pendingMu.Lock()
		delete(s.pending, cmd.ID)
		s.pendingMu.Unlock()
		return errDropped
	}
}
