package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/api"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/config"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/reaper"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/session"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/store"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer st.Close()

	registry := session.NewRegistry(st, cfg.CheckpointBatch)
	flusher := session.NewFlusher(st)

	hub := ws.NewHub(registry, flusher)
	go hub.Run()

	reap := reaper.New(st, reaper.Config{
		Interval:  cfg.ReapInterval,
		Retention: cfg.RetentionWindow,
	})
	reap.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	api.New(hub, st).Register(router)

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(hub, c.Writer, c.Request, cfg.MessagesPerSecond, cfg.MessageBurst)
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-sigCtx.Done()

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	// Hijacked websocket connections survive srv.Shutdown; stop the hub
	// first so no read pump can enqueue into a stopped flusher.
	hub.Stop()
	reap.Stop()
	// Drain any pending checkpoints before the store closes.
	flusher.Stop()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
