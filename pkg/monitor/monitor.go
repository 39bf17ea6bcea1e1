// Package monitor implements the TCP "pickled monitor channel" of spec.md
// §1/§4.G/§6: a netstring-framed sink that publishes live configuration and
// call-activity snapshots to connected report clients, and replies to an
// on-demand configuration request.
//
// It is grounded on original_source/hblink.py's Twisted report server
// (NetstringReceiver, class report, REPORT_OPCODES): that server frames
// each message as a netstring, prefixes it with a single opcode byte, and
// pickles the payload. This package keeps the netstring framing and opcode
// convention but serializes with encoding/json rather than pickle, since
// JSON is the wire format every other event-publishing collaborator in this
// module (pkg/mqtt) already uses.
package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/dbehnke/dmr-nexus/pkg/logger"
)

// Opcode identifies the single leading byte of every netstring-framed
// message, mirroring HBlink's REPORT_OPCODES table.
type Opcode byte

const (
	// OpConfigReq is sent by a client to request an immediate CONFIG_SND.
	OpConfigReq Opcode = iota + 1
	// OpConfigSnd carries an endpoint configuration snapshot.
	OpConfigSnd
	// OpBridgeSnd carries a bridge/membership snapshot.
	OpBridgeSnd
	// OpBrdgEvent carries one call-start or call-end record.
	OpBrdgEvent
)

func (o Opcode) String() string {
	switch o {
	case OpConfigReq:
		return "CONFIG_REQ"
	case OpConfigSnd:
		return "CONFIG_SND"
	case OpBridgeSnd:
		return "BRIDGE_SND"
	case OpBrdgEvent:
		return "BRDG_EVENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(o))
	}
}

// EndpointSnapshot is one row of a CONFIG_SND payload.
type EndpointSnapshot struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
}

// MembershipSnapshot is one rule within a BRIDGE_SND bridge's membership.
type MembershipSnapshot struct {
	System   string `json:"system"`
	TGID     uint32 `json:"tgid"`
	Timeslot int    `json:"timeslot"`
	Active   bool   `json:"active"`
}

// BridgeSnapshot is one bridge's worth of a BRIDGE_SND payload.
type BridgeSnapshot struct {
	Name        string               `json:"name"`
	Memberships []MembershipSnapshot `json:"memberships"`
}

// CallEvent is a BRDG_EVENT payload: one call-start or call-end record.
type CallEvent struct {
	Endpoint        string  `json:"endpoint"`
	StreamID        uint32  `json:"stream_id"`
	PeerID          uint32  `json:"peer_id"`
	RFSrc           uint32  `json:"rf_src"`
	Slot            int     `json:"slot"`
	DstID           uint32  `json:"dst_id"`
	Event           string  `json:"event"` // "start" or "end"
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// ConfigProvider supplies the live endpoint snapshot on demand.
type ConfigProvider func() []EndpointSnapshot

// BridgeProvider supplies the live bridge/membership snapshot on demand.
type BridgeProvider func() []BridgeSnapshot

// Server is a TCP netstring sink. It stays decoupled from pkg/config and
// pkg/bridge by taking its snapshots through ConfigProvider/BridgeProvider
// callbacks, matching hblink.py's reportFactory pulling from self._config.
type Server struct {
	addr string
	log  *logger.Logger

	configProvider ConfigProvider
	bridgeProvider BridgeProvider

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	ln net.Listener
}

// NewServer creates a monitor sink bound to host:port, not yet listening.
func NewServer(host string, port int, log *logger.Logger) *Server {
	return &Server{
		addr:    fmt.Sprintf("%s:%d", host, port),
		log:     log.WithComponent("monitor"),
		clients: make(map[net.Conn]struct{}),
	}
}

// SetConfigProvider wires the callback used to answer CONFIG_REQ and to
// publish CONFIG_SND via PublishConfig.
func (s *Server) SetConfigProvider(f ConfigProvider) *Server {
	s.configProvider = f
	return s
}

// SetBridgeProvider wires the callback used by PublishBridges.
func (s *Server) SetBridgeProvider(f BridgeProvider) *Server {
	s.bridgeProvider = f
	return s
}

// Start listens for report clients and serves them until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	defer ln.Close()

	s.log.Info("Monitor sink started", logger.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("Failed to accept monitor client", logger.Error(err))
			continue
		}

		s.addClient(conn)
		go s.serveClient(conn)
	}
}

func (s *Server) addClient(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn] = struct{}{}
	s.log.Info("Monitor client connected", logger.String("addr", conn.RemoteAddr().String()))
}

func (s *Server) removeClient(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
	s.log.Info("Monitor client disconnected", logger.String("addr", conn.RemoteAddr().String()))
}

func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()
	defer s.removeClient(conn)

	r := bufio.NewReader(conn)
	for {
		msg, err := readNetstring(r)
		if err != nil {
			return
		}
		if len(msg) == 0 {
			continue
		}

		switch Opcode(msg[0]) {
		case OpConfigReq:
			s.log.Debug("Received CONFIG_REQ", logger.String("addr", conn.RemoteAddr().String()))
			s.sendTo(conn, OpConfigSnd, s.snapshotConfig())
		default:
			s.log.Warn("Unknown monitor opcode",
				logger.String("opcode", Opcode(msg[0]).String()),
				logger.String("addr", conn.RemoteAddr().String()))
		}
	}
}

func (s *Server) snapshotConfig() []EndpointSnapshot {
	if s.configProvider == nil {
		return nil
	}
	return s.configProvider()
}

// PublishConfig broadcasts a CONFIG_SND snapshot to every connected client.
func (s *Server) PublishConfig() {
	s.broadcast(OpConfigSnd, s.snapshotConfig())
}

// PublishBridges broadcasts a BRIDGE_SND snapshot to every connected client.
func (s *Server) PublishBridges() {
	if s.bridgeProvider == nil {
		return
	}
	s.broadcast(OpBridgeSnd, s.bridgeProvider())
}

// PublishCallEvent broadcasts one BRDG_EVENT record (call-start or
// call-end) to every connected client.
func (s *Server) PublishCallEvent(ev CallEvent) {
	s.broadcast(OpBrdgEvent, ev)
}

func (s *Server) broadcast(op Opcode, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to serialize monitor payload", logger.Error(err))
		return
	}
	msg := append([]byte{byte(op)}, data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := writeNetstring(conn, msg); err != nil {
			s.log.Debug("Failed to write to monitor client",
				logger.String("addr", conn.RemoteAddr().String()),
				logger.Error(err))
		}
	}
}

func (s *Server) sendTo(conn net.Conn, op Opcode, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to serialize monitor payload", logger.Error(err))
		return
	}
	msg := append([]byte{byte(op)}, data...)
	if err := writeNetstring(conn, msg); err != nil {
		s.log.Debug("Failed to write to monitor client",
			logger.String("addr", conn.RemoteAddr().String()),
			logger.Error(err))
	}
}

// Stop closes the listener, terminating Accept. Connections already
// accepted are not closed; each is served until its client disconnects.
func (s *Server) Stop() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// readNetstring reads one "<length>:<payload>," frame, the wire format
// Twisted's NetstringReceiver implements and this sink inherits.
func readNetstring(r *bufio.Reader) ([]byte, error) {
	lenStr, err := r.ReadString(':')
	if err != nil {
		return nil, err
	}
	lenStr = strings.TrimSuffix(lenStr, ":")

	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid netstring length %q: %w", lenStr, err)
	}

	buf := make([]byte, n+1) // +1 for the trailing comma
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != ',' {
		return nil, fmt.Errorf("netstring missing trailing comma")
	}
	return buf[:n], nil
}

// writeNetstring writes payload as a "<length>:<payload>," frame.
func writeNetstring(w io.Writer, payload []byte) error {
	_, err := fmt.Fprintf(w, "%d:%s,", len(payload), payload)
	return err
}
