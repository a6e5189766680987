package kv

import "errors"

var (
	// errNotLeader mirrors the spec's "on non-leader start, returns
	// is_leader=false without side effects; clients retry against
	// another node" contract, surfaced as an error at the kv layer.
	errNotLeader = errors.New("kv: not the leader")

	errCasMismatch = errors.New("kv: compare-and-swap value mismatch")

	// errDropped covers the "in-flight commands may be dropped" case from
	// spec §7: a leader step-down mid-operation leaves a pending command
	// uncommitted; the client must retry.
	errDropped = errors.New("kv: command dropped, leader changed before commit")
)
