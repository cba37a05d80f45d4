package http

import (
	"net/http"
	"time"

	"rolechat/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectionCounter reports open realtime connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	connections ConnectionCounter
	gatherer    prometheus.Gatherer
}

// NewHealthHandler creates the probe and metrics endpoints. A nil gatherer
// disables /metrics.
func NewHealthHandler(checker *monitoring.HealthChecker, connections ConnectionCounter, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		connections: connections,
		gatherer:    gatherer,
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())

	resp := gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp.Unix(),
		"checks":    status.Checks,
	}
	if h.connections != nil {
		resp["connections"] = h.connections.ConnectionCount()
	}

	code := http.StatusOK
	if status.Status == monitoring.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.checker.IsReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "timestamp": time.Now().Unix()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now().Unix()})
}
