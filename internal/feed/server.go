package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nileshpandit/optionflow/internal/ledger"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second
	// pongWait bounds how long a subscriber may stay silent.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound control messages.
	maxMessageSize = 512
)

// Config holds the feed server settings.
type Config struct {
	Port         int
	PushInterval time.Duration
	Location     *time.Location
}

// Server exposes the valuation feed over websockets plus a JSON reporting API.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	valuator *Valuator
	ledger   *ledger.Ledger
	upgrader websocket.Upgrader
	logger   *logrus.Logger
	interval time.Duration
	loc      *time.Location
	port     int
}

// NewServer wires the routes and returns a feed server.
func NewServer(cfg Config, valuator *Valuator, led *ledger.Ledger, logger *logrus.Logger) *Server {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		router:   chi.NewRouter(),
		valuator: valuator,
		ledger:   led,
		logger:   logger,
		interval: cfg.PushInterval,
		loc:      loc,
		port:     cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleAllPositions)
	s.router.Get("/api/positions/open", s.handleOpenPositions)
	s.router.Get("/api/summary", s.handleSummary)
	s.router.Get("/ws", s.handleWebsocket)
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("port", s.port).Info("starting valuation feed server")
	return s.server.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleAllPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.ledger.ListAll()
	if err != nil {
		s.logger.WithError(err).Error("failed to load positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleOpenPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.ledger.ListOpen()
	if err != nil {
		s.logger.WithError(err).Error("failed to load open positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, s.loc)
		if err != nil {
			http.Error(w, "date must be yyyy-mm-dd", http.StatusBadRequest)
			return
		}
		date = &parsed
	}

	summary, err := s.ledger.Summarize(date)
	if err != nil {
		s.logger.WithError(err).Error("failed to summarize positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, summary)
}

// clientMessage is the inbound control protocol: an immediate refresh or a
// scope change for this subscriber only.
type clientMessage struct {
	Action string `json:"action"` // "refresh" | "scope"
	Scope  Scope  `json:"scope,omitempty"`
}

// subscriber is one websocket connection with its own push timer and scope.
type subscriber struct {
	conn    *websocket.Conn
	refresh chan struct{}

	mu    sync.Mutex
	scope Scope
}

func (c *subscriber) getScope() Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

func (c *subscriber) setScope(scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scope = scope
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn:    conn,
		refresh: make(chan struct{}, 1),
		scope:   ScopeSession,
	}
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("feed subscriber connected")

	// The connection's lifetime scopes both pumps; either one failing
	// tears down only this subscriber.
	ctx, cancel := context.WithCancel(r.Context())
	go s.readPump(cancel, sub)
	s.writePump(ctx, sub)
}

// readPump consumes control messages until the connection drops.
func (s *Server) readPump(cancel context.CancelFunc, sub *subscriber) {
	defer cancel()
	sub.conn.SetReadLimit(maxMessageSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := sub.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("feed subscriber read error")
			}
			return
		}
		switch msg.Action {
		case "refresh":
			select {
			case sub.refresh <- struct{}{}:
			default:
			}
		case "scope":
			if msg.Scope.Valid() {
				sub.setScope(msg.Scope)
				select {
				case sub.refresh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// writePump pushes a snapshot immediately on connect, then on every tick of
// this subscriber's own timer, plus on demand after refresh requests.
func (s *Server) writePump(ctx context.Context, sub *subscriber) {
	pushTicker := time.NewTicker(s.interval)
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pushTicker.Stop()
		pingTicker.Stop()
		_ = sub.conn.Close()
		s.logger.WithField("remote", sub.conn.RemoteAddr().String()).Info("feed subscriber disconnected")
	}()

	if err := s.push(ctx, sub); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-pushTicker.C:
			if err := s.push(ctx, sub); err != nil {
				return
			}
		case <-sub.refresh:
			if err := s.push(ctx, sub); err != nil {
				return
			}
		case <-pingTicker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, sub *subscriber) error {
	snapshot, err := s.valuator.Snapshot(ctx, sub.getScope())
	if err != nil {
		s.logger.WithError(err).Error("snapshot failed, skipping push")
		return nil
	}
	_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sub.conn.WriteJSON(snapshot)
}
