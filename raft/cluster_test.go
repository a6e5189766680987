package raft

import (
	"context"
	"sync"
	"time"

	"github.com/gwdistsys/raftcore/persister"
)

// network is an in-process PeerStub fake: calls are dispatched directly to
// the target node's handler methods, with optional partitioning. Grounded
// on koss756-golang_personal_projects/dkvStore/raft/node_test.go's
// mockClient, generalized from one fixed peer to a full N-node cluster.
type network struct {
	mutex     sync.Mutex
	nodes     map[int]*Raft
	connected map[int]bool
}

func newNetwork() *network {
	return &network{nodes: make(map[int]*Raft), connected: make(map[int]bool)}
}

func (n *network) register(id int, r *Raft) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.nodes[id] = r
	n.connected[id] = true
}

func (n *network) setConnected(id int, connected bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.connected[id] = connected
}

func (n *network) reachable(a, b int) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.connected[a] && n.connected[b]
}

func (n *network) target(id int) *Raft {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.nodes[id]
}

// stubFor returns a PeerStub whose calls appear to originate from `from`,
// so reachability partitioning is symmetric.
func (n *network) stubFor(from int) PeerStub {
	return &networkStub{net: n, from: from}
}

type networkStub struct {
	net  *network
	from int
}

func (s *networkStub) RequestVote(ctx context.Context, peer int, args *ReqVoteArg, reply *ReqVoteRes) error {
	if !s.net.reachable(s.from, peer) {
		return errUnreachable
	}
	target := s.net.target(peer)
	if target == nil {
		return errUnreachable
	}
	time.Sleep(time.Millisecond)
	return target.RequestVote(args, reply)
}

func (s *networkStub) AppendEntries(ctx context.Context, peer int, args *AppendEntryArg, reply *AppendEntryRes) error {
	if !s.net.reachable(s.from, peer) {
		return errUnreachable
	}
	target := s.net.target(peer)
	if target == nil {
		return errUnreachable
	}
	time.Sleep(time.Millisecond)
	return target.AppendEntries(args, reply)
}

func (s *networkStub) InstallSnapshot(ctx context.Context, peer int, args *InstallSnapshotRequest, reply *InstallSnapshotResponse) error {
	if !s.net.reachable(s.from, peer) {
		return errUnreachable
	}
	target := s.net.target(peer)
	if target == nil {
		return errUnreachable
	}
	time.Sleep(time.Millisecond)
	return target.InstallSnapshot(args, reply)
}

type unreachableError struct{}

func (unreachableError) Error() string { return "peer unreachable" }

var errUnreachable error = unreachableError{}

// testCluster wires n nodes through a shared network fake, each with its
// own MemoryPersister and apply channel.
type testCluster struct {
	net     *network
	nodes   []*Raft
	applyCh []chan ApplyMsg
}

func newTestCluster(n int) *testCluster {
	net := newNetwork()
	peers := make([]int, n)
	for i := range peers {
		peers[i] = i
	}

	tc := &testCluster{net: net, nodes: make([]*Raft, n), applyCh: make([]chan ApplyMsg, n)}
	for i := 0; i < n; i++ {
		tc.applyCh[i] = make(chan ApplyMsg, 256)
		r := NewRaft(i, peers, net.stubFor(i), persister.NewMemoryPersister(), tc.applyCh[i], 60*time.Millisecond, 120*time.Millisecond, 15*time.Millisecond)
		net.register(i, r)
		tc.nodes[i] = r
	}
	return tc
}

func (tc *testCluster) shutdown() {
	for _, r := range tc.nodes {
		r.Kill()
	}
}

// leader polls until exactly one connected node reports itself leader, or
// returns -1 after timeout. Nodes cut off with setConnected(id, false) are
// skipped: an isolated leader keeps its role until it hears a higher term.
func (tc *testCluster) leader(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		found := -1
		for i, r := range tc.nodes {
			if !tc.net.reachable(i, i) {
				continue
			}
			if _, isLeader := r.GetState(); isLeader {
				if found != -1 {
					return -2 // more than one leader: safety violation
				}
				found = i
			}
		}
		if found != -1 {
			return found
		}
		time.Sleep(5 * time.Millisecond)
	}
	return -1
}
