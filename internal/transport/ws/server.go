// Package ws serves the relay over WebSocket: one reader goroutine feeds the
// relay router and one writer goroutine drains the connection's outbox.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/config"
	"github.com/cory-johannsen/dungeon-relay/internal/observability"
	"github.com/cory-johannsen/dungeon-relay/internal/relay"
	"github.com/cory-johannsen/dungeon-relay/internal/server"
	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

// Server is the HTTP/WebSocket front of the relay.
type Server struct {
	cfg      config.ServerConfig
	state    *relay.State
	router   *relay.Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine
	sessions sync.WaitGroup

	mu      sync.Mutex
	closing bool
	live    map[session.ConnID]*session.Conn
}

// NewServer wires the gin routes for state.
//
// Precondition: cfg must be valid; state, router, and logger must be non-nil.
func NewServer(cfg config.ServerConfig, state *relay.State, router *relay.Router, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		state:  state,
		router: router,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		live: make(map[session.ConnID]*session.Conn),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(observability.GinLogger(s.logger))
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))

	r.GET("/ws", s.serveWS)
	r.GET("/healthz", s.health)
	r.GET("/rooms", s.listRooms)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if allowsAll(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func allowsAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func originChecker(origins []string) func(*http.Request) bool {
	if allowsAll(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Service runs the listener on cfg.Addr(). Stopping it stops accepting
// connections, closes every live session, and waits for their cleanup.
func (s *Server) Service() server.Service {
	httpSvc := server.HTTPService(&http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}, s.cfg.WriteTimeout)
	return &server.FuncService{
		StartFn: httpSvc.Start,
		StopFn: func() {
			httpSvc.Stop()
			s.CloseSessions()
		},
	}
}

// CloseSessions refuses new sessions, closes every live one, and waits for
// their cleanup. Sessions still upgrading are closed as soon as they register.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	s.closing = true
	for _, c := range s.live {
		c.Outbox().Close()
	}
	s.mu.Unlock()
	s.sessions.Wait()
}

// admit counts a new session unless the server is closing.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) track(rc *session.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		rc.Outbox().Close()
		return
	}
	s.live[rc.ID] = rc
}

func (s *Server) untrack(id session.ConnID) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Server) health(c *gin.Context) {
	st := s.state.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": st.Connections,
		"rooms":       st.Rooms,
	})
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.ListRooms())
}

func (s *Server) serveWS(c *gin.Context) {
	if !s.admit() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		s.logger.Debug("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	rc := s.state.Connect(c.ClientIP())
	s.track(rc)
	defer s.untrack(rc.ID)
	log := s.logger.With(zap.String("conn", string(rc.ID)))
	log.Info("client connected", zap.String("remote", rc.Remote))

	writerDone := make(chan struct{})
	go s.writeLoop(conn, rc, log, writerDone)

	s.readLoop(conn, rc, log)

	s.state.Disconnect(rc.ID)
	<-writerDone
	_ = conn.Close()
	log.Info("client disconnected", zap.Duration("elapsed", time.Since(rc.ConnectedAt)))
}

// readLoop dispatches frames until the peer goes away, the idle deadline
// passes, or the writer closes the socket.
func (s *Server) readLoop(conn *websocket.Conn, rc *session.Conn, log *zap.Logger) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(log, err)
			return
		}
		_ = extend()
		s.router.Dispatch(rc.ID, frame)
	}
}

func (s *Server) logReadError(log *zap.Logger, err error) {
	var netErr interface{ Timeout() bool }
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug("client closed connection")
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("client frame exceeds size limit", zap.Int64("limit", s.cfg.MaxMessageBytes))
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("client idle, dropping connection", zap.Duration("idle_timeout", s.cfg.IdleTimeout))
	default:
		log.Debug("connection read ended", zap.Error(err))
	}
}

// writeLoop drains the outbox and pings on an interval. A closed outbox
// (disconnect, kick, or takeover) ends the session with a close frame.
func (s *Server) writeLoop(conn *websocket.Conn, rc *session.Conn, log *zap.Logger, done chan<- struct{}) {
	defer close(done)
	// Closing the socket unblocks the reader whatever ended the writer.
	defer conn.Close()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-rc.Outbox().Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
