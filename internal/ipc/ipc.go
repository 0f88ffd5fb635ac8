// Package ipc is the local control channel of the daemon: one JSON request
// and one JSON reply per unix socket connection.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"limone/pkg/protocol"
)

const DefaultSocketPath = "/tmp/limone.sock"

const ioTimeout = 10 * time.Second

type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type ControlReply struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Message   string            `json:"message,omitempty"`
	State     string            `json:"state,omitempty"`
	Status    string            `json:"status,omitempty"`
	Connected *bool             `json:"connected,omitempty"`
	Tasks     []protocol.Task   `json:"tasks,omitempty"`
	Insights  protocol.Insights `json:"insights,omitempty"`
}

func Fail(err error) ControlReply {
	return ControlReply{Error: err.Error()}
}

type Handler func(ControlMessage) ControlReply

type Server struct {
	path    string
	ln      net.Listener
	handler Handler
	log     *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// StartServer replaces any stale socket at path and serves handler on it.
func StartServer(path string, handler Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{
		path:    path,
		ln:      ln,
		handler: handler,
		log:     logger.With("component", "ipc"),
	}

	s.wg.Add(1)
	go s.serve()

	s.log.Info("Control socket ready", "path", path)
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("Accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		s.log.Warn("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode request: %w", err)))
		return
	}

	s.log.Debug("Control message", "cmd", msg.Cmd, "args", msg.Args)

	if err := json.NewEncoder(conn).Encode(s.handler(msg)); err != nil {
		s.log.Warn("Failed to write reply", "cmd", msg.Cmd, "err", err)
	}
}

// Close stops accepting, waits for open connections and removes the socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
		s.wg.Wait()
		_ = os.Remove(s.path)
	})
	return err
}

func SendCommand(path string, msg ControlMessage) (ControlReply, error) {
	conn, err := net.DialTimeout("unix", path, ioTimeout)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send request: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
