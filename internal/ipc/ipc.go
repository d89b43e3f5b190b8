package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"

	"multizone/internal/zone"
)

const DefaultSocketPath = "/tmp/multizone.sock"

const (
	CmdStatus     = "status"
	CmdConnect    = "connect"
	CmdDisconnect = "disconnect"
	CmdZone       = "zone"
	CmdProcessing = "processing"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Zone string `json:"zone,omitempty"`
	Port string `json:"port,omitempty"`
}

type Reply struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Status *zone.Snapshot `json:"status,omitempty"`
}

type Handler func(ControlMessage) Reply

// Server accepts one control message per connection and answers with one
// reply.
type Server struct {
	ln   net.Listener
	path string
}

func StartServer(path string, handler Handler) (*Server, error) {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	srv := &Server{ln: ln, path: path}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("Failed to accept control connection", "err", err)
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return srv, nil
}

func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		log.Warn("Malformed control message", "err", err)
		json.NewEncoder(conn).Encode(Reply{Error: "malformed message"})
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd, "zone", msg.Zone, "port", msg.Port)

	if err := json.NewEncoder(conn).Encode(handler(msg)); err != nil {
		log.Warn("Failed to write reply", "err", err)
	}
}

// SendCommand delivers msg to the daemon listening on path and waits for
// its reply. Connect may take as long as a firmware upload, so timeout
// bounds the whole exchange.
func SendCommand(path string, msg ControlMessage, timeout time.Duration) (Reply, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var rep Reply
	if err := json.NewDecoder(conn).Decode(&rep); err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	return rep, nil
}
