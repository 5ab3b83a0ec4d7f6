// Package api provides the admin/observability HTTP, WebSocket, and
// Prometheus metrics surface: a read-only window onto the pipeline's
// state for dashboards and on-call tooling, not a control plane.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Store is the read-only persistence surface the admin server exposes.
type Store interface {
	GetStrategy(ctx context.Context, id string) (*types.Strategy, error)
	ListActiveByScore(ctx context.Context) ([]store.ActiveCandidate, error)
	CountActive(ctx context.Context) (int, error)
	CountLive(ctx context.Context) (int, error)
	CountAvailable(ctx context.Context, queue store.WorkQueue, retestInterval time.Duration) (int, error)
}

// Server is the HTTP/WebSocket admin server plus its sibling metrics
// listener.
type Server struct {
	mu            sync.RWMutex
	logger        *zap.Logger
	cfg           types.ServerConfig
	retestInterval time.Duration
	store         Store

	router        *mux.Router
	httpServer    *http.Server
	metricsServer *http.Server
	upgrader      websocket.Upgrader
	clients       map[string]*Client

	metrics *metricSet
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
}

// Event is a broadcast notification pushed to every connected client by
// Server.Broadcast.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type metricSet struct {
	activePoolSize prometheus.Gauge
	liveCount      prometheus.Gauge
	newWorkDepth   prometheus.Gauge
	reWorkDepth    prometheus.Gauge
	wsClients      prometheus.Gauge
}

func newMetricSet() *metricSet {
	return &metricSet{
		activePoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_engine_active_pool_size",
			Help: "Current number of strategies held in the ACTIVE leaderboard.",
		}),
		liveCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_engine_live_count",
			Help: "Current number of strategies trading LIVE.",
		}),
		newWorkDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_engine_new_work_queue_depth",
			Help: "Claimable rows in the new-work queue.",
		}),
		reWorkDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_engine_re_work_queue_depth",
			Help: "Claimable rows in the re-work queue.",
		}),
		wsClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strategy_engine_admin_ws_clients",
			Help: "Connected admin WebSocket clients.",
		}),
	}
}

// New builds the admin server. Call Start to begin serving.
func New(logger *zap.Logger, cfg types.ServerConfig, retestInterval time.Duration, st Store) *Server {
	s := &Server{
		logger:         logger.Named("api"),
		cfg:            cfg,
		retestInterval: retestInterval,
		store:          st,
		router:         mux.NewRouter(),
		clients:        make(map[string]*Client),
		metrics:        newMetricSet(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/strategies/{id}", s.handleGetStrategy).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/pool", s.handlePool).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/pipeline", s.handlePipelineStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the admin HTTP/WS listener and the sibling Prometheus metrics
// listener, both blocking until Stop is called. Each runs in its own
// goroutine; the first error from either is returned.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.MetricsPort),
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("admin server listening", zap.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api: admin server: %w", err)
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api: metrics server: %w", err)
		}
	}()

	go s.refreshMetricsLoop(ctx)

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts both listeners down and closes every WebSocket
// connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.metricsServer.Shutdown(ctx)
}

func (s *Server) refreshMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshMetrics(ctx)
		}
	}
}

func (s *Server) refreshMetrics(ctx context.Context) {
	if active, err := s.store.CountActive(ctx); err == nil {
		s.metrics.activePoolSize.Set(float64(active))
	}
	if live, err := s.store.CountLive(ctx); err == nil {
		s.metrics.liveCount.Set(float64(live))
	}
	if n, err := s.store.CountAvailable(ctx, store.QueueNewWork, s.retestInterval); err == nil {
		s.metrics.newWorkDepth.Set(float64(n))
	}
	if n, err := s.store.CountAvailable(ctx, store.QueueReWork, s.retestInterval); err == nil {
		s.metrics.reWorkDepth.Set(float64(n))
	}

	s.mu.RLock()
	clients := len(s.clients)
	s.mu.RUnlock()
	s.metrics.wsClients.Set(float64(clients))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	strat, err := s.store.GetStrategy(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.store.ListActiveByScore(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, _ := s.store.CountActive(ctx)
	live, _ := s.store.CountLive(ctx)
	newWork, _ := s.store.CountAvailable(ctx, store.QueueNewWork, s.retestInterval)
	reWork, _ := s.store.CountAvailable(ctx, store.QueueReWork, s.retestInterval)

	writeJSON(w, http.StatusOK, map[string]any{
		"active":     active,
		"live":       live,
		"newWork":    newWork,
		"reWork":     reWork,
		"observedAt": time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: uuid.NewString(), conn: conn, send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	s.logger.Info("admin websocket client connected", zap.String("id", client.ID))

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Info("admin websocket client disconnected", zap.String("id", client.ID))
	}()

	client.conn.SetReadLimit(64 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes an event to every connected admin client. No other
// package in this repository calls it.
func (s *Server) Broadcast(eventType string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: eventType, Payload: payload, Timestamp: time.Now().Unix()})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
