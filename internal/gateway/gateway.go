// Package gateway implements the admin HTTP surface mentioned in spec
// §1 as an external driver of control-plane inputs: manual scale
// triggers, forecast-mode overrides, and read-only observability
// (snapshot, health, Prometheus metrics, a live WebSocket feed).
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fleetwatch/controlplane/internal/metrics"
)

// Controller is the subset of scaling.Controller the gateway drives.
type Controller interface {
	Snapshot() metrics.Snapshot
	ManualScaleUp()
	ManualScaleDown()
	SetForecastMode(enabled bool)
	Fleet() int
}

// Config holds gateway listen/timeout/rate-limit tunables.
type Config struct {
	Addr            string
	JWTSecret       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Gateway is the admin HTTP façade.
type Gateway struct {
	router      *gin.Engine
	server      *http.Server
	controller  Controller
	jwtSecret   string
	rateLimiter *RateLimiter
	log         zerolog.Logger

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*wsClient
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New creates a Gateway wired to controller.
func New(cfg Config, controller Controller, log zerolog.Logger) *Gateway {
	g := &Gateway{
		router:      gin.New(),
		controller:  controller,
		jwtSecret:   cfg.JWTSecret,
		rateLimiter: NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		log:         log,
		wsClients:   make(map[uuid.UUID]*wsClient),
	}
	g.router.Use(gin.Recovery())
	g.setupRoutes()

	g.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      g.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)
	g.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := g.router.Group("/admin")
	{
		admin.GET("/snapshot", g.getSnapshot)
		admin.GET("/ws", g.handleWebSocket)
		admin.POST("/scale/up", g.authMiddleware(), g.scaleUp)
		admin.POST("/scale/down", g.authMiddleware(), g.scaleDown)
		admin.POST("/forecast-mode", g.authMiddleware(), g.setForecastMode)
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "fleet": g.controller.Fleet()})
}

func (g *Gateway) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, g.controller.Snapshot())
}

func (g *Gateway) scaleUp(c *gin.Context) {
	g.controller.ManualScaleUp()
	c.JSON(http.StatusAccepted, gin.H{"fleet": g.controller.Fleet()})
}

func (g *Gateway) scaleDown(c *gin.Context) {
	g.controller.ManualScaleDown()
	c.JSON(http.StatusAccepted, gin.H{"fleet": g.controller.Fleet()})
}

type forecastModeRequest struct {
	Enabled bool `json:"enabled"`
}

func (g *Gateway) setForecastMode(c *gin.Context) {
	var req forecastModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	g.controller.SetForecastMode(req.Enabled)
	c.JSON(http.StatusAccepted, gin.H{"enabled": req.Enabled})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and starts a write pump that
// pushes a MetricsSnapshot every second until the client disconnects.
func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 8),
		done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.id] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
	go g.wsSnapshotPump(client)
}

func (g *Gateway) wsReadPump(client *wsClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.id)
		g.wsMu.Unlock()
		close(client.done)
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) wsWritePump(client *wsClient) {
	for {
		select {
		case message := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (g *Gateway) wsSnapshotPump(client *wsClient) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload, err := json.Marshal(g.controller.Snapshot())
			if err != nil {
				continue
			}
			select {
			case client.send <- payload:
			default:
				// Slow consumer; drop this tick rather than block the pump.
			}
		case <-client.done:
			return
		}
	}
}

// Handler exposes the gateway's router for embedding in a larger mux or
// for driving requests directly in tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start begins serving the admin HTTP surface; it blocks until Shutdown
// is called or the listener fails.
func (g *Gateway) Start() error {
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and closes any open
// WebSocket connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.wsMu.Lock()
	for _, client := range g.wsClients {
		client.conn.Close()
	}
	g.wsMu.Unlock()
	return g.server.Shutdown(ctx)
}
