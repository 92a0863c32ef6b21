package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/config"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/db"
	clog "github.com/Emmagit999/meme-chat-social-hub-sub001/internal/log"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/realtime"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库与消息总线并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := realtime.NewHub()
	var broker realtime.Broker = realtime.NewLocalBroker(hub)
	if cfg.NatsURL != "" {
		nb, err := realtime.NewNATSBroker(cfg.NatsURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		broker = nb
	}
	defer broker.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
