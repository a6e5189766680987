// Command raftnode boots one replica of the cluster: a raft.Raft core over
// the inprocrpc transport and a persister (a persister.FilePersister under
// -data-dir, or a persister.MemoryPersister when it is empty), fronted by a
// kv.Server. Structure follows the teacher's main.go (flags -> config ->
// wire the raft server -> contact peers -> start the broker) generalized
// from a fixed three-port broker cluster to an arbitrary peer list.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/gwdistsys/raftcore/config"
	"github.com/gwdistsys/raftcore/kv"
	"github.com/gwdistsys/raftcore/persister"
	"github.com/gwdistsys/raftcore/raft"
	"github.com/gwdistsys/raftcore/transport/inprocrpc"
)

func main() {
	var (
		me        = flag.Int("id", 0, "this node's peer index")
		raftAddrs = flag.String("raft-peers", "", "comma-separated id=host:port list for raft RPCs, e.g. 0=127.0.0.1:7000,1=127.0.0.1:7001")
		kvAddr    = flag.String("kv-addr", ":8080", "address for the kv client server")
		dataDir   = flag.String("data-dir", "", "directory for the raft state/snapshot files; empty means in-memory")
	)
	flag.Parse()

	addrs, peers := parsePeers(*raftAddrs)
	if _, ok := addrs[*me]; !ok {
		log.Fatalf("id %d is not present in -raft-peers", *me)
	}

	cfg := config.New(*me, peers, *dataDir)

	var p persister.Persister
	if cfg.DataDir == "" {
		p = persister.NewMemoryPersister()
	} else {
		p = persister.NewFilePersister(cfg.DataDir)
	}

	stub := inprocrpc.NewStub(addrs)
	applyCh := make(chan raft.ApplyMsg, 64)

	r := raft.NewRaft(cfg.Me, cfg.Peers, stub, p, applyCh, cfg.ElectionMin, cfg.ElectionMax, cfg.Heartbeat)

	if _, err := inprocrpc.Serve(addrs[*me], r); err != nil {
		logrus.WithError(err).Fatal("failed to start raft rpc server")
	}

	if len(peers) > 1 && !inprocrpc.WaitForQuorum(addrs, *me, 60) {
		logrus.Fatal("failed to reach a quorum of peers")
	}

	store := kv.NewStore(r)
	go store.Run(applyCh)

	kvServer := kv.NewServer(*kvAddr, store)
	go func() {
		if err := kvServer.Start(); err != nil {
			logrus.WithError(err).Fatal("kv server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutting down")
	r.Kill()
}

// parsePeers turns "0=host:port,1=host:port" into an address map and the
// ordered peer-index slice raft.NewRaft expects.
func parsePeers(spec string) (map[int]string, []int) {
	addrs := make(map[int]string)
	var peers []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parts := strings.SplitN(part, "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid -raft-peers entry %q", part)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			log.Fatalf("invalid peer id %q", parts[0])
		}
		addrs[id] = parts[1]
		peers = append(peers, id)
	}
	return addrs, peers
}
