// Package config generalizes the teacher's process-wide, flag-built
// singleton config into a ClusterConfig value that callers construct and
// pass explicitly, rather than reaching for a package-level instance.
package config

import "time"

// ClusterConfig describes one node's view of the fixed cluster: its own
// index, the full set of peer indices (this node's own index included, the
// shape raft.NewRaft expects), and the timing parameters the election and
// heartbeat tickers use. Peer index -> address resolution is a transport
// concern and lives outside this struct (see transport/inprocrpc.Stub).
type ClusterConfig struct {
	Me    int
	Peers []int

	ElectionMin time.Duration
	ElectionMax time.Duration
	Heartbeat   time.Duration

	DataDir string
}

// DefaultTiming returns the timing recommended by the spec: a 150-300ms
// election timeout range and a 25ms heartbeat interval (the low end of the
// recommended 25-50ms range).
func DefaultTiming() (electionMin, electionMax, heartbeat time.Duration) {
	return 150 * time.Millisecond, 300 * time.Millisecond, 25 * time.Millisecond
}

// New builds a ClusterConfig from explicit values, taking the timing fields
// from DefaultTiming.
func New(me int, peers []int, dataDir string) ClusterConfig {
	emin, emax, hb := DefaultTiming()
	return ClusterConfig{
		Me:          me,
		Peers:       peers,
		ElectionMin: emin,
		ElectionMax: emax,
		Heartbeat:   hb,
		DataDir:     dataDir,
	}
}
