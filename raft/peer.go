package raft

import "context"

// PeerStub is the remote-call abstraction the core consumes. The RPC
// transport (framing, connection management, serialization) lives outside
// this package; PeerStub is the seam. A non-nil error means the call could
// not be completed (transport failure or timeout), distinct from a
// protocol-level reply carrying Success/VoteGranted = false.
type PeerStub interface {
	RequestVote(ctx context.Context, peer int, args *ReqVoteArg, reply *ReqVoteRes) error
	AppendEntries(ctx context.Context, peer int, args *AppendEntryArg, reply *AppendEntryRes) error
	InstallSnapshot(ctx context.Context, peer int, args *InstallSnapshotRequest, reply *InstallSnapshotResponse) error
}
