package kv

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is a line-oriented TCP front door for the Store, generalizing the
// teacher's broker.Server (which served CRTP/PUBS/SUBS/CONS over the same
// shape of connection loop) down to a plain KV protocol over one map: PUT,
// GET, DEL and CAS, plus a KEYS diagnostics command.
type Server struct {
	addr  string
	store *Store
	log   logrus.FieldLogger
}

// NewServer builds a Server bound to addr, backed by store.
func NewServer(addr string, store *Store) *Server {
	return &Server{addr: addr, store: store, log: logrus.WithField("component", "kv.Server")}
}

// Start listens and serves until the listener is closed or accept fails.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.WithField("addr", s.addr).Info("kv server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	c := newClient(bufio.NewWriter(conn), bufio.NewReader(conn))
	connLog := s.log.WithField("session", c.sessionID)

	for {
		fields, err := c.read()
		if err != nil {
			return
		}
		if len(fields) == 0 {
			continue
		}

		cmd := strings.ToUpper(fields[0])
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.dispatch(ctx, c, cmd, fields[1:])
		cancel()
		connLog.WithField("cmd", cmd).Debug("handled command")
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd string, args []string) {
	switch cmd {
	case "PUT":
		if len(args) < 2 {
			c.writeLine("ERR PUT requires key and value")
			return
		}
		err := s.store.Submit(ctx, Command{Op: OpPut, Key: args[0], Value: args[1]})
		s.replyOK(c, err)
	case "DEL":
		if len(args) < 1 {
			c.writeLine("ERR DEL requires key")
			return
		}
		err := s.store.Submit(ctx, Command{Op: OpDel, Key: args[0]})
		s.replyOK(c, err)
	case "CAS":
		if len(args) < 3 {
			c.writeLine("ERR CAS requires key, old value, new value")
			return
		}
		err := s.store.Submit(ctx, Command{Op: OpCas, Key: args[0], OldVal: args[1], Value: args[2]})
		s.replyOK(c, err)
	case "GET":
		if len(args) < 1 {
			c.writeLine("ERR GET requires key")
			return
		}
		v, ok := s.store.Get(args[0])
		if !ok {
			c.writeLine("NOTFOUND")
			return
		}
		c.writeLine(fmt.Sprintf("OK %s", v))
	case "KEYS":
		keys := s.store.Keys()
		sort.Strings(keys)
		c.writeLine(fmt.Sprintf("OK %s", strings.Join(keys, " ")))
	default:
		c.writeLine("ERR unknown command")
	}
}

func (s *Server) replyOK(c *client, err error) {
	if err != nil {
		c.writeLine("ERR " + err.Error())
		return
	}
	c.writeLine("OK")
}
