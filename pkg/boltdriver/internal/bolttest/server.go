// Package bolttest provides an in-process fake Bolt server so the pool,
// routing, and session layers can be tested without a live database. It
// speaks just enough of the protocol (handshake, HELLO/LOGON, scripted
// responses to RUN/PULL/DISCARD/BEGIN/COMMIT/ROLLBACK/ROUTE) over a
// net.Pipe, mirroring pkg/bolt/server.go's handling loop and
// pkg/bolt/server_test.go's mockConn/net.Pipe test pattern.
package bolttest

import (
	"net"
	"sync"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/packstream"
)

// Handler answers one request message with zero or more RECORD field
// lists plus a terminal summary map, or a failure map. Returning a
// non-nil failure takes precedence over summary.
type Handler func(tag byte, fields []any) (records [][]any, summary map[string]any, failure map[string]any)

// Server is a fake Bolt endpoint bound to an in-process net.Pipe.
type Server struct {
	mu          sync.Mutex
	Version     conn.Version
	Handler     Handler
	clientConn  net.Conn
	serverConn  net.Conn
	utcPatched  bool
}

// NewServer returns a Server that negotiates version v and answers
// post-auth requests with h. HELLO/LOGON always succeed.
func NewServer(v conn.Version, h Handler) *Server {
	client, server := net.Pipe()
	s := &Server{Version: v, Handler: h, clientConn: client, serverConn: server}
	s.utcPatched = v.AtLeast(5, 0)
	go s.serve()
	return s
}

// ClientConn is the net.Conn half the driver under test should dial
// against, in place of a real TCP connection.
func (s *Server) ClientConn() net.Conn { return s.clientConn }

// CloseServer closes the server half of the pipe without sending a
// response, simulating a dropped connection so tests can exercise the
// driver's network-error path.
func (s *Server) CloseServer() error { return s.serverConn.Close() }

func (s *Server) serve() {
	if err := s.handshake(); err != nil {
		return
	}
	for {
		tag, fields, err := s.readMessage()
		if err != nil {
			return
		}
		if s.dispatchAuth(tag, fields) {
			continue
		}
		var records [][]any
		var summary, failure map[string]any
		if s.Handler != nil {
			records, summary, failure = s.Handler(tag, fields)
		}
		for _, r := range records {
			if err := s.writeMessage(conn.TagRecord, []any{any(r)}); err != nil {
				return
			}
		}
		if failure != nil {
			if err := s.writeMessage(conn.TagFailure, []any{any(failure)}); err != nil {
				return
			}
			continue
		}
		if summary == nil {
			summary = map[string]any{}
		}
		if err := s.writeMessage(conn.TagSuccess, []any{any(summary)}); err != nil {
			return
		}
	}
}

// dispatchAuth answers HELLO and LOGON internally so callers only need to
// script post-auth behavior. Returns true if it handled the message.
func (s *Server) dispatchAuth(tag byte, fields []any) bool {
	switch tag {
	case conn.TagHello:
		meta := map[string]any{
			"server":        "bolttest/1.0",
			"connection_id": "bolttest-1",
		}
		if !s.Version.AtLeast(5, 0) {
			meta["hints"] = map[string]any{"patch_bolt": []any{"utc"}}
			s.utcPatched = true
		}
		_ = s.writeMessage(conn.TagSuccess, []any{any(meta)})
		return true
	case conn.TagLogon:
		_ = s.writeMessage(conn.TagSuccess, []any{any(map[string]any{})})
		return true
	default:
		_ = fields
		return false
	}
}

func (s *Server) handshake() error {
	var buf [20]byte
	if err := readFull(s.serverConn, buf[:]); err != nil {
		return err
	}
	resp := s.Version.Encode()
	_, err := s.serverConn.Write(resp[:])
	return err
}

func (s *Server) readMessage() (byte, []any, error) {
	raw, err := packstream.NewChunkReader(s.serverConn).ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	dec := packstream.NewDecoder(raw, s.utcPatched)
	v, err := dec.ReadValue()
	if err != nil {
		return 0, nil, err
	}
	st, ok := v.(packstream.Struct)
	if !ok {
		return 0, nil, err
	}
	return st.Tag, st.Fields, nil
}

func (s *Server) writeMessage(tag byte, fields []any) error {
	enc := packstream.NewEncoder()
	if err := enc.WriteStruct(tag, fields); err != nil {
		return err
	}
	return packstream.NewChunkWriter(s.serverConn).WriteMessage(enc.Bytes())
}

func readFull(r net.Conn, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
