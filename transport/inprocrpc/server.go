package inprocrpc

import (
	"net"
	"net/http"
	"net/rpc"

	"github.com/sirupsen/logrus"
)

// Serve registers handlers (expected to be a *raft.Raft, exposing
// RequestVote/AppendEntries/InstallSnapshot in the net/rpc shape) under
// ServiceName and serves net/rpc-over-HTTP on addr, in the background.
// Grounded on the teacher's raft.NewServer, generalized away from the
// package-level singleton it used.
func Serve(addr string, handlers interface{}) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(ServiceName, handlers); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logrus.WithField("addr", addr).Info("raft rpc server listening")
	go http.Serve(l, mux)
	return l, nil
}
