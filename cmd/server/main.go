package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"phantom_chat/internal/config"
	"phantom_chat/internal/metrics"
	roomRepo "phantom_chat/internal/repository/room"
	redisSvc "phantom_chat/internal/service/redis"
	roomSvc "phantom_chat/internal/service/room"
	"phantom_chat/internal/service/server"
	"phantom_chat/internal/utils/log"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "phantom-server",
		Short:         "Relay for ephemeral end-to-end encrypted rooms",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				var err error
				if cfg, err = config.LoadFile(configFile); err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "", "TOML config file, defaults apply when omitted")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if err := log.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return err
	}
	defer log.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redis := redisSvc.Dial(redisSvc.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redis.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := redis.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
	}

	repo := roomRepo.NewRoomRepo(redis, cfg.Redis.KeyPrefix)
	rooms := roomSvc.NewRoomService(repo, roomSvc.NewRedisBroker(redis, repo), roomSvc.Options{
		DefaultTTL:    cfg.Server.DefaultTTL(),
		MaxTTL:        cfg.Server.MaxTTL(),
		SweepInterval: cfg.Server.Sweep(),
	})
	defer rooms.Close()
	go rooms.Run(ctx)

	if cfg.Metrics.Address != "" {
		metrics.Init()
		go serveMetrics(ctx, cfg.Metrics.Address)
	}

	srv := server.NewHttpServer(rooms, server.Options{
		MaxBodyBytes:   cfg.Server.MaxEnvelopeBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	err = srv.Run(ctx, cfg.Server.Address)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info("relay stopped")
	return err
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", zap.Error(err))
	}
}
