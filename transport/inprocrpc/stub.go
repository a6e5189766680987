// Package inprocrpc is the reference RPC transport for raft.PeerStub,
// adapted from the teacher's net/rpc-over-HTTP RaftServer. It is kept and
// exercised by cmd/raftnode rather than deleted: the core's spec places
// transport framing out of scope, but something concrete still has to
// carry RequestVote/AppendEntries/InstallSnapshot over the wire, and the
// teacher already shows the idiomatic net/rpc shape for doing that.
package inprocrpc

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thoas/go-funk"

	"github.com/gwdistsys/raftcore/raft"
)

// ServiceName is the net/rpc registration name under which a node's
// RequestVote/AppendEntries/InstallSnapshot handlers are exposed.
const ServiceName = "Raft"

// Stub implements raft.PeerStub over net/rpc-over-HTTP connections, one
// persistent *rpc.Client per peer, dialed lazily and cached.
type Stub struct {
	mutex   sync.Mutex
	addrs   map[int]string
	clients map[int]*rpc.Client
	log     logrus.FieldLogger
}

// NewStub builds a Stub over the given peer-index -> "host:port" map.
func NewStub(addrs map[int]string) *Stub {
	return &Stub{
		addrs:   addrs,
		clients: make(map[int]*rpc.Client),
		log:     logrus.WithField("component", "inprocrpc.Stub"),
	}
}

func (s *Stub) clientFor(peer int) (*rpc.Client, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c, ok := s.clients[peer]; ok {
		return c, nil
	}
	addr, ok := s.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("inprocrpc: no address for peer %d", peer)
	}
	client, err := rpc.DialHTTP("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.clients[peer] = client
	return client, nil
}

func (s *Stub) invalidate(peer int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c, ok := s.clients[peer]; ok {
		c.Close()
		delete(s.clients, peer)
		s.log.WithField("peer", peer).Debug("invalidated rpc client after failed call")
	}
}

// call performs one RPC bounded by ctx, treating timeout/disconnect as a
// transport error (spec §7) rather than a protocol-level failure.
func (s *Stub) call(ctx context.Context, peer int, method string, args, reply interface{}) error {
	client, err := s.clientFor(peer)
	if err != nil {
		return err
	}

	call := client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			s.invalidate(peer)
			return done.Error
		}
		return nil
	}
}

func (s *Stub) RequestVote(ctx context.Context, peer int, args *raft.ReqVoteArg, reply *raft.ReqVoteRes) error {
	return s.call(ctx, peer, "RequestVote", args, reply)
}

func (s *Stub) AppendEntries(ctx context.Context, peer int, args *raft.AppendEntryArg, reply *raft.AppendEntryRes) error {
	return s.call(ctx, peer, "AppendEntries", args, reply)
}

func (s *Stub) InstallSnapshot(ctx context.Context, peer int, args *raft.InstallSnapshotRequest, reply *raft.InstallSnapshotResponse) error {
	return s.call(ctx, peer, "InstallSnapshot", args, reply)
}

// WaitForQuorum blocks (retrying once a second, like the teacher's
// ContactPeers) until addrs other than self contain enough reachable peers
// to form a majority of the full cluster, or returns false after attempts
// dialing attempts.
func WaitForQuorum(addrs map[int]string, self int, attempts int) bool {
	required := len(addrs)/2 + 1
	var reachable []int

	for i := 0; i < attempts; i++ {
		for peer, addr := range addrs {
			if peer == self || funk.ContainsInt(reachable, peer) {
				continue
			}
			client, err := rpc.DialHTTP("tcp", addr)
			if err != nil {
				continue
			}
			client.Close()
			reachable = append(reachable, peer)
		}
		if len(reachable)+1 >= required {
			return true
		}
		time.Sleep(time.Second)
	}
	return false
}
