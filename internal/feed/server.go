// Package feed exposes the registry over websocket: clients stream agent
// positions in and receive enter/exit events and tick summaries.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/regionsys/internal/config"
	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/region"
)

// Server owns the connected clients and fans out registry events.
type Server struct {
	reg       *region.Registry
	positions *region.PositionTable
	cfg       config.Feed

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	// ownMu serializes agent ownership together with the position and
	// tracking changes that go with it.
	ownMu  sync.Mutex
	owners map[region.AgentHandle]*client
}

// ErrAgentOwned is reported when a client sends updates for an agent that
// another connected client reports.
var ErrAgentOwned = errors.New("agent is reported by another client")

type client struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
	done chan struct{}

	// agents owned by this client, guarded by Server.ownMu
	agents map[region.AgentHandle]struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewServer creates a feed server. positions must be the table reg reads from.
func NewServer(reg *region.Registry, positions *region.PositionTable, cfg config.Feed) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Server{
		reg:       reg,
		positions: positions,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		owners:  make(map[region.AgentHandle]*client),
	}
}

// Attach subscribes the server to registry events and runner tick reports.
func (s *Server) Attach(rn *region.Runner) (detach func()) {
	cancel := s.reg.SubscribeAll(s.publishEvent)
	rn.OnTick(s.publishTick)
	return cancel
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler upgrades requests to websocket sessions.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := s.reg.Query()
		fmt.Fprintf(w, "ok tick=%d generation=%d\n", snap.Tick(), snap.Generation())
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	slog.Info("feed listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving feed: %w", err)
	}
	return ctx.Err()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		conn:   conn,
		out:    make(chan []byte, s.cfg.SendQueueSize),
		done:   make(chan struct{}),
		agents: make(map[region.AgentHandle]struct{}),
	}

	snap := s.reg.Query()
	s.send(c, WelcomeMsg{
		Type:       TypeWelcome,
		Generation: snap.Generation(),
		Tick:       snap.Tick(),
		Regions:    len(snap.Regions().Value),
	})

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	slog.Info("feed client connected", "remote", r.RemoteAddr, "clients", s.Clients())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(c)
	}()

	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	wg.Wait()

	released := s.releaseAll(c)
	slog.Info("feed client disconnected", "remote", r.RemoteAddr, "agents", released)
}

func (s *Server) readLoop(c *client) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		if err := s.handle(c, msg); err != nil {
			s.send(c, ErrorMsg{Type: TypeError, Message: err.Error()})
		}
	}
}

func (s *Server) handle(c *client, msg []byte) error {
	var base Base
	if err := json.Unmarshal(msg, &base); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}

	switch base.Type {
	case TypePosition:
		var m PositionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return fmt.Errorf("decoding position: %w", err)
		}
		for _, v := range m.Pos {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("agent %d: non-finite position", m.Agent)
			}
		}
		return s.report(c, region.AgentHandle(m.Agent), m.Pos)

	case TypeLeave:
		var m LeaveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return fmt.Errorf("decoding leave: %w", err)
		}
		return s.leave(c, region.AgentHandle(m.Agent))

	default:
		return fmt.Errorf("unknown message type %q", base.Type)
	}
}

// report updates an agent owned by c, claiming it on first sight.
func (s *Server) report(c *client, h region.AgentHandle, pos geom.Point3) error {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	owner, ok := s.owners[h]
	if ok && owner != c {
		return fmt.Errorf("agent %d: %w", h, ErrAgentOwned)
	}
	s.positions.Set(h, pos)
	if !ok {
		s.owners[h] = c
		c.agents[h] = struct{}{}
		s.reg.Track(h)
	}
	return nil
}

// leave stops tracking an agent owned by c. Unknown agents are ignored.
func (s *Server) leave(c *client, h region.AgentHandle) error {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	owner, ok := s.owners[h]
	if !ok {
		return nil
	}
	if owner != c {
		return fmt.Errorf("agent %d: %w", h, ErrAgentOwned)
	}
	s.untrack(c, h)
	return nil
}

func (s *Server) releaseAll(c *client) int {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	n := len(c.agents)
	for h := range c.agents {
		s.untrack(c, h)
	}
	return n
}

// untrack requires ownMu.
func (s *Server) untrack(c *client, h region.AgentHandle) {
	delete(s.owners, h)
	delete(c.agents, h)
	s.positions.Delete(h)
	s.reg.Unregister(h)
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		}
	}
}

// send queues v for c. A client whose queue is full is disconnected.
func (s *Server) send(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding feed message", "error", err)
		return
	}
	s.enqueue(c, b)
}

func (s *Server) enqueue(c *client, b []byte) {
	select {
	case c.out <- b:
	default:
		slog.Warn("feed client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		c.close()
		_ = c.conn.Close()
	}
}

func (s *Server) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding feed message", "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		s.enqueue(c, b)
	}
}

func (s *Server) publishEvent(ev region.Event) {
	s.broadcast(EventMsg{
		Type:      TypeEvent,
		Kind:      ev.Kind.String(),
		Region:    uint64(ev.Region),
		Agent:     uint64(ev.Agent),
		Tick:      ev.Tick,
		Synthetic: ev.Synthetic,
	})
}

func (s *Server) publishTick(r region.TickReport) {
	s.broadcast(TickMsg{
		Type:       TypeTick,
		Tick:       r.Tick,
		Generation: r.Generation,
		Agents:     r.Agents,
		Enters:     r.Enters,
		Exits:      r.Exits,
	})
}

func (s *Server) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.close()
		_ = c.conn.Close()
	}
}
