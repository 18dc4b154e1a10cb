// Package ipc implements the watcher daemon's local control socket
// (component C11). No example in the retrieval pack wires a dedicated
// RPC framework for a socket this small and local-only, so this is
// the one adapter built directly on the standard library: net for the
// unix-domain listener/dialer and encoding/gob for length-implicit
// framing of usecase.IPCRequest/IPCResponse (see DESIGN.md).
package ipc

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/reidond/hometree/internal/usecase"
)

// Server accepts connections on a unix socket and dispatches each
// decoded IPCRequest to Handler, writing back its IPCResponse.
type Server struct {
	logger  *slog.Logger
	ln      net.Listener
	Handler func(usecase.IPCRequest) usecase.IPCResponse
}

// Listen creates (or recreates) the control socket at path.
func Listen(logger *slog.Logger, path string) (*Server, error) {
	if logger == nil {
		panic("ipc server requires logger")
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	return &Server{logger: logger, ln: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)

	var req usecase.IPCRequest
	if err := dec.Decode(&req); err != nil {
		s.logger.Warn("ipc: decode request", "error", err)
		return
	}

	resp := usecase.IPCResponse{OK: true}
	if s.Handler != nil {
		resp = s.Handler(req)
	}
	if err := enc.Encode(&resp); err != nil {
		s.logger.Warn("ipc: encode response", "error", err)
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Call dials path, sends req, and returns the daemon's response. Used
// by the CLI's `daemon pause|resume|flush|reload|status` subcommands.
func Call(path string, req usecase.IPCRequest) (usecase.IPCResponse, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return usecase.IPCResponse{}, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	defer conn.Close()

	if err := gob.NewEncoder(conn).Encode(&req); err != nil {
		return usecase.IPCResponse{}, fmt.Errorf("ipc: encode request: %w", err)
	}

	var resp usecase.IPCResponse
	if err := gob.NewDecoder(conn).Decode(&resp); err != nil {
		return usecase.IPCResponse{}, fmt.Errorf("ipc: decode response: %w", err)
	}
	return resp, nil
}
