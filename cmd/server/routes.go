// Package main provides the order-taking bot server entry point.
package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talkorder/talkorder-go/internal/config"
	"github.com/talkorder/talkorder-go/internal/storage"
	"github.com/talkorder/talkorder-go/internal/webhook"
)

// setupRoutes configures all HTTP routes.
func setupRoutes(router *gin.Engine, webhookHandler *webhook.Handler, db *storage.DB, registry *prometheus.Registry, cfg *config.Config) {
	// Liveness probe: only that the process is serving. No dependency
	// checks here.
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/healthz", healthHandler)
	router.HEAD("/healthz", healthHandler)

	// Readiness probe: database reachable plus a few live counts for
	// operators eyeballing the endpoint.
	readyHandler := func(c *gin.Context) {
		if err := db.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}

		active, _ := db.CountActiveConversations(c.Request.Context())
		orderCount, _ := db.CountOrders(c.Request.Context())

		c.JSON(http.StatusOK, gin.H{
			"status":   "ready",
			"database": "connected",
			"counts": gin.H{
				"active_conversations": active,
				"orders":               orderCount,
			},
		})
	}
	router.GET("/ready", readyHandler)
	router.HEAD("/ready", readyHandler)

	// LINE webhook callback. One endpoint for every merchant; the
	// handler resolves the tenant from the body's destination field.
	router.POST("/callback", webhookHandler.Handle)

	metricsHandler := gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if cfg.MetricsPassword != "" {
		authorized := router.Group("/", gin.BasicAuth(gin.Accounts{
			cfg.MetricsUsername: cfg.MetricsPassword,
		}))
		authorized.GET("/metrics", metricsHandler)
	} else {
		router.GET("/metrics", metricsHandler)
	}
}
