package api

import (
	"net/http"
	"time"

	"mt5-trader/internal/engine"
	"mt5-trader/internal/events"
	"mt5-trader/internal/monitor"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the trading engine.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Prom      *monitor.Prom
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes the running instance.
type SystemMeta struct {
	Env     string `json:"env"`
	Paper   bool   `json:"paper_trading"`
	Symbol  string `json:"symbol"`
	Version string `json:"version"`
	HostID  string `json:"host_id,omitempty"`
}

// NewServer builds the router. rps limits each client IP.
func NewServer(svc engine.Service, bus *events.Bus, prom *monitor.Prom, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string, rps float64) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(NewIPLimiter(rps, int(rps*2)+1)))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    svc,
		Bus:       bus,
		Prom:      prom,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/status", s.getStatus)
	s.Router.GET("/positions", s.getPositions)
	s.Router.GET("/executions", s.getExecutions)
	s.Router.GET("/ws/events", s.websocket)
	if s.Prom != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Prom.Handler()))
	}

	admin := s.Router.Group("/trading")
	admin.Use(AdminMiddleware(s.JWTSecret))
	{
		admin.POST("/enable", s.enableTrading)
		admin.POST("/disable", s.disableTrading)
		admin.POST("/emergency-stop", s.emergencyStop)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HTTPServer returns a server for addr so the caller controls shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
