// Package server implements the relay core: the accept loop and
// per-connection workers, the authentication state machine, the live-client
// registry, and the broadcast router.
package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/laila2005/messaging-system/pkg/codec"
	"github.com/laila2005/messaging-system/pkg/store"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on per-connection debug output.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// ServerConfig holds the runtime server configuration
type ServerConfig struct {
	TCPPort           int
	WSPort            int // 0 = WebSocket transport disabled
	MetricsPort       int // 0 = metrics endpoint disabled
	MinUsernameLength int
	MaxAuthAttempts   int
	MaxMessageLength  int
	HistoryReplay     int
	TLSConfig         *tls.Config // non-nil wraps the TCP listener in TLS
}

// ConfigFromTOML maps the file configuration onto the runtime configuration.
// The TLS config is built by the caller from the security section.
func ConfigFromTOML(t TOMLConfig) ServerConfig {
	return ServerConfig{
		TCPPort:           t.Server.TCPPort,
		WSPort:            t.Server.WSPort,
		MetricsPort:       t.Server.MetricsPort,
		MinUsernameLength: t.Auth.MinUsernameLength,
		MaxAuthAttempts:   t.Auth.MaxAttempts,
		MaxMessageLength:  t.Limits.MaxMessageLength,
		HistoryReplay:     t.Limits.HistoryReplay,
	}
}

// Server owns the accept loop and the shared relay state. One goroutine per
// connection; the registry is the only structure they mutate concurrently.
type Server struct {
	store    store.CredentialStore
	codec    codec.Codec
	registry *Registry
	router   *Router
	auth     *Authenticator
	config   ServerConfig
	metrics  *Metrics

	listener      net.Listener
	wsServer      *http.Server
	metricsServer *http.Server

	connMu sync.Mutex
	conns  map[*SafeConn]struct{} // every open connection, registered or not

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer wires the relay components together. The credential store and
// codec are injected; the server owns the registry, router, and
// authenticator it builds from them.
func NewServer(credStore store.CredentialStore, c codec.Codec, config ServerConfig) *Server {
	metrics := NewMetrics()
	registry := NewRegistry()
	router := NewRouter(registry, c, metrics)

	return &Server{
		store:    credStore,
		codec:    c,
		registry: registry,
		router:   router,
		auth:     NewAuthenticator(credStore, registry, config.MinUsernameLength, config.MaxAuthAttempts),
		config:   config,
		metrics:  metrics,
		conns:    make(map[*SafeConn]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Registry exposes the live-client registry (read-only use intended).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router exposes the broadcast router, e.g. to install a delivery listener.
func (s *Server) Router() *Router {
	return s.router
}

// Addr returns the address the relay listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins listening and accepting connections. It returns once the
// listener is bound; accepting happens on background goroutines.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)

	var listener net.Listener
	var err error
	if s.config.TLSConfig != nil {
		listener, err = tls.Listen("tcp", addr, s.config.TLSConfig)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("Relay listening on %s", listener.Addr())

	// Metrics HTTP server (internal only - never expose publicly!)
	if s.config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler: mux,
		}
		go func() {
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// WebSocket transport
	if s.config.WSPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.HandleWebSocket)
		s.wsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.WSPort),
			Handler: mux,
		}
		go func() {
			log.Printf("WebSocket transport listening on %s (/ws)", s.wsServer.Addr)
			if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("WebSocket server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully stops the server: no new connections, all live
// connections closed (which unblocks their workers' pending reads), all
// workers joined.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.wsServer != nil {
		s.wsServer.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	log.Println("Graceful shutdown complete")
	return nil
}

// HealthHandler reports liveness and the current connection count.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","connections":%d}`+"\n", s.registry.Count())
}

// acceptLoop accepts incoming connections until shutdown. One worker's
// failure never reaches this loop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection is the worker owning one connection's full lifecycle:
// authentication, registration, message loop, and unconditional teardown.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			errorLog.Printf("Connection worker panic (%s): %v", netConn.RemoteAddr(), r)
			netConn.Close()
		}
	}()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	conn := NewSafeConn(netConn)
	if !s.trackConn(conn) {
		conn.Close()
		return
	}
	defer s.untrackConn(conn)
	defer conn.Close()

	s.metrics.RecordConnection()
	debugLog.Printf("New connection from %s", conn.RemoteAddr())

	username, err := s.auth.Run(conn)
	if err != nil {
		s.metrics.RecordAuthFailure()
		debugLog.Printf("Connection from %s not authenticated: %v", conn.RemoteAddr(), err)
		return
	}

	// Run registered the connection; from here teardown must deregister
	// and announce the departure on every exit path.
	defer func() {
		s.registry.Deregister(conn)
		s.metrics.RecordActiveConnections(s.registry.Count())
		s.router.Deliver(fmt.Sprintf("[SERVER] %s left the chat", username), conn)
	}()

	s.metrics.RecordAuthSuccess()
	s.metrics.RecordActiveConnections(s.registry.Count())
	log.Printf("%s authenticated from %s", username, conn.RemoteAddr())

	s.router.Deliver(fmt.Sprintf("[SERVER] %s joined the chat", username), conn)
	s.replayHistory(conn)

	s.messageLoop(conn, username)
}

// messageLoop reads chat payloads until the stream closes, a fatal read
// error occurs, the payload fails to decode, or the client quits.
func (s *Server) messageLoop(conn *SafeConn, username string) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("%s disconnected", username)
			} else {
				debugLog.Printf("%s read error: %v", username, err)
			}
			return
		}
		if line == "" {
			continue
		}

		payload, err := s.codec.Decode(line)
		if err != nil {
			// Tampered or malformed payloads fault the connection; they
			// are never silently ignored and never reach other clients.
			errorLog.Printf("Dropping connection of %s (%s): %v", username, conn.RemoteAddr(), err)
			return
		}

		text := string(payload)
		if strings.EqualFold(strings.TrimSpace(text), "QUIT") {
			debugLog.Printf("%s quit", username)
			return
		}
		if s.config.MaxMessageLength > 0 && len(text) > s.config.MaxMessageLength {
			debugLog.Printf("Dropping oversized message from %s (%d bytes)", username, len(text))
			continue
		}

		s.metrics.RecordMessageReceived()

		// History is best effort: chat availability takes priority over
		// durability.
		if err := s.store.AppendHistory(username, text, time.Now()); err != nil {
			errorLog.Printf("History append failed for %s: %v", username, err)
		}

		s.router.Deliver(fmt.Sprintf("%s: %s", username, text), conn)
	}
}

// replayHistory sends the most recent persisted messages to a newly
// authenticated client.
func (s *Server) replayHistory(conn *SafeConn) {
	if s.config.HistoryReplay <= 0 {
		return
	}

	entries, err := s.store.RecentHistory(s.config.HistoryReplay)
	if err != nil {
		errorLog.Printf("History replay failed: %v", err)
		return
	}

	for _, e := range entries {
		if err := s.router.SendDirect(conn, fmt.Sprintf("%s: %s", e.Username, e.Body)); err != nil {
			return
		}
	}
}

// trackConn records an open connection so Stop can close it. Refuses new
// connections once shutdown has begun; otherwise a worker racing Stop could
// be left blocked on a read nobody will ever close.
func (s *Server) trackConn(conn *SafeConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn *SafeConn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}
