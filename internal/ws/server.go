// Package ws serves stream dashboards over WebSocket. Each attached
// dashboard is a session with its own notification queue, drained to the
// socket on a short timer; dashboards may ask for a full roster resync.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/arachnobot/companion/internal/metrics"
	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/protocol"
	"github.com/arachnobot/companion/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the dashboard server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read workers
	MaxConnections int           // hard cap on attached dashboards
	ReadTimeout    time.Duration // timeout for a frame read once the socket is readable
	WriteTimeout   time.Duration // timeout for a frame write
	DrainInterval  time.Duration // how often queued notifications are flushed
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 16,
		MaxConnections: 64,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		DrainInterval:  time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades dashboard connections and pushes hub notifications to them.
type Server struct {
	config       ServerConfig
	hub          *notify.Hub
	poll         *poller
	conns        *ConnectionManager
	limiter      ratelimit.Allower
	workerPool   chan struct{} // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a server that drains hub queues to dashboards and hands
// inbound text frames to onMessage from a worker goroutine.
func NewServer(config ServerConfig, hub *notify.Hub, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = time.Second
	}
	return &Server{
		config:     config,
		hub:        hub,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetLimiter throttles upgrade attempts per client address.
func (s *Server) SetLimiter(l ratelimit.Allower) {
	s.limiter = l
}

// SetOnDisconnect registers a callback invoked after a dashboard is removed.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Handler returns the HTTP routes: the WebSocket endpoint, a health probe
// and Prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// init starts the poller loop and the heartbeat. It must run before the
// first upgrade.
func (s *Server) init() error {
	var err error
	s.poll, err = newPoller(s.handleConn)
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}
	s.startedAt = time.Now()

	go func() {
		if err := s.poll.run(s.done, s.dispatch); err != nil {
			log.Printf("ws: poller stopped: %v", err)
		}
	}()
	go s.heartbeat()
	return nil
}

// Start begins accepting dashboards and blocks until the listener stops.
func (s *Server) Start() error {
	if err := s.init(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("ws: dashboard server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), ip, ratelimit.RuleDashboard)
		if err != nil {
			log.Printf("ws: rate limit check for %s: %v", ip, err)
		} else if !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for %s: %v", ip, err)
		return
	}

	c := newConnection(uuid.NewString(), conn, ip)
	ctx, cancel := context.WithCancel(context.Background())
	c.stopDrain = cancel
	s.conns.Add(c)
	if err := s.poll.add(c); err != nil {
		log.Printf("ws: poller add failed for session %s: %v", c.ID, err)
		cancel()
		s.conns.Remove(c.ID)
		return
	}

	frame, err := protocol.NewFrame(protocol.ActionSession, protocol.SessionPayload{SessionID: c.ID})
	if err == nil {
		err = s.write(c, frame)
	}
	if err != nil {
		log.Printf("ws: failed to send session frame to %s: %v", c.ID, err)
		s.RemoveConnection(c)
		return
	}

	q := s.hub.Subscribe(c.ID)
	if s.conns.Get(c.ID) == nil {
		// detached while subscribing
		s.hub.Unsubscribe(c.ID)
		return
	}
	go s.drainLoop(ctx, c, q)

	log.Printf("ws: dashboard attached session=%s ip=%s (total=%d)", c.ID, ip, s.conns.Count())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Backlog     int    `json:"backlog"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Backlog:     s.hub.Backlog(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// dispatch hands a readable connection to a pooled worker.
func (s *Server) dispatch(c *Connection) {
	s.workerPool <- struct{}{}
	go func() {
		defer func() { <-s.workerPool }()
		s.handleConn(c)
	}()
}

// handleConn reads one frame from a readable connection. Read failures
// other than a timeout detach the dashboard.
func (s *Server) handleConn(c *Connection) {
	if !c.processing.CompareAndSwap(false, true) {
		return
	}
	defer c.processing.Store(false)

	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = c.Conn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// drainLoop flushes the session queue right away and then on every tick
// until the dashboard detaches.
func (s *Server) drainLoop(ctx context.Context, c *Connection, q *notify.Queue) {
	s.flush(c, q)

	ticker := time.NewTicker(s.config.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(c, q)
		}
	}
}

// flush writes queued notifications in order. A failed write detaches the
// dashboard; the notification being written is lost with it.
func (s *Server) flush(c *Connection, q *notify.Queue) {
	for n := range q.All() {
		data, err := n.Encode()
		if err != nil {
			log.Printf("ws: encode %s notification for %s: %v", n.Action, c.ID, err)
			continue
		}
		if err := s.write(c, data); err != nil {
			log.Printf("ws: push to session %s failed: %v", c.ID, err)
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			s.RemoveConnection(c)
			return
		}
		metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	}
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// RemoveConnection detaches a dashboard: its socket is closed, its drain
// timer stopped and its notification queue discarded.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poll != nil {
		_ = s.poll.remove(c)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	c.stopDrain()
	s.hub.Unsubscribe(c.ID)

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	log.Printf("ws: dashboard detached session=%s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage writes a text frame to the dashboard with the given session id.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return s.write(c, data)
}

// Connections returns the attached dashboards.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the listener and detaches every dashboard.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")
	close(s.done)

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	if s.poll != nil {
		_ = s.poll.close()
	}

	log.Printf("ws: server stopped, all dashboards detached")
	return err
}

// clientIP prefers the first X-Forwarded-For hop set by a fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
