// Package main provides the order-taking bot server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/talkorder/talkorder-go/internal/config"
	"github.com/talkorder/talkorder-go/internal/conversation"
	"github.com/talkorder/talkorder-go/internal/extract"
	"github.com/talkorder/talkorder-go/internal/linebot"
	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
	"github.com/talkorder/talkorder-go/internal/orders"
	"github.com/talkorder/talkorder-go/internal/sentry"
	"github.com/talkorder/talkorder-go/internal/storage"
	"github.com/talkorder/talkorder-go/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("Starting TalkOrder server")

	if !cfg.HasLLMProvider() {
		log.Error("No extraction provider configured; set OPENAI_API_KEY or GEMINI_API_KEY")
		os.Exit(1)
	}

	if err := sentry.Initialize(sentry.Config{
		Token:       cfg.SentryToken,
		Host:        cfg.SentryHost,
		Environment: cfg.SentryEnvironment,
	}); err != nil {
		log.WithError(err).Warn("Failed to initialize Sentry, error tracking disabled")
	} else if sentry.IsEnabled() {
		log.Info("Sentry error tracking enabled")
		defer sentry.Flush(2 * time.Second)
	}

	db, err := storage.New(cfg.SQLitePath())
	if err != nil {
		log.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	log.WithField("path", cfg.SQLitePath()).Info("Database connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewBuildInfoCollector())
	m := metrics.New(registry)
	log.Info("Metrics initialized")

	// Extraction providers: OpenAI primary, Gemini fallback. At least
	// one must be configured or every message would dead-end.
	var providers []extract.Extractor
	if oa := extract.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL); oa != nil {
		providers = append(providers, oa)
		log.WithField("model", cfg.OpenAIModel).Info("OpenAI extractor enabled")
	}
	if ge, err := extract.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel); err != nil {
		log.WithError(err).Warn("Failed to create Gemini extractor")
	} else if ge != nil {
		providers = append(providers, ge)
		log.WithField("model", cfg.GeminiModel).Info("Gemini extractor enabled")
	}
	chain := extract.NewChain(log, m, providers...)
	if !chain.IsEnabled() {
		// A key can be set yet its client still fail to construct.
		log.Error("No extraction provider initialized")
		os.Exit(1)
	}

	manager := conversation.NewManager(db, log, m, cfg.HistoryLimit)
	materializer := orders.NewMaterializer(db, log, m)
	clients := linebot.NewClientCache(log)

	pipeline := webhook.NewPipeline(webhook.PipelineConfig{
		DB:            db,
		Manager:       manager,
		Materializer:  materializer,
		Chain:         chain,
		Clients:       clients,
		Metrics:       m,
		Logger:        log,
		ReplyCooldown: cfg.ReplyCooldown,
	})
	webhookHandler := webhook.NewHandler(webhook.HandlerConfig{
		DB:           db,
		Pipeline:     pipeline,
		Metrics:      m,
		Logger:       log,
		EventTimeout: cfg.WebhookTimeout,
	})
	log.Info("Webhook handler created")

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentryMiddleware())
	router.Use(securityHeadersMiddleware())
	router.Use(loggingMiddleware(log))
	setupRoutes(router, webhookHandler, db, registry, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Stale-conversation sweep: collecting_info conversations idle past
	// the TTL are abandoned so the next message starts fresh.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Panic in stale-conversation sweep goroutine")
			}
		}()
		sweepStaleConversations(ctx, db, m, cfg.StaleConversationTTL, log)
	}()

	// Expired reply slots are garbage; the reservation query works
	// without this sweep, it only keeps the table small.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Panic in reply-slot cleanup goroutine")
			}
		}()
		cleanupReplySlots(ctx, db, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Panic in gauge updater goroutine")
			}
		}()
		updateConversationGauge(ctx, db, m, log)
	}()

	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Drain in-flight webhook event processing before anything else so
	// half-processed messages are not cut off mid-pipeline.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := webhookHandler.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("Timeout draining webhook events")
	}
	drainCancel()

	cancel()
	jobsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
		log.Info("All background goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn("Timeout waiting for goroutines to stop")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	if err := db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}

	log.Info("Server stopped")
}
