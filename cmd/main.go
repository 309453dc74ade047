package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ordersync/internal/admin"
	"ordersync/internal/audit"
	"ordersync/internal/broadcast"
	"ordersync/internal/cache"
	"ordersync/internal/channel"
	"ordersync/internal/config"
	"ordersync/internal/logger"
	"ordersync/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	lg := logger.New(cfg.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trail := audit.NewTrail(audit.PoolConfig{
		BatchSize:   cfg.Audit.BatchSize,
		Timeout:     cfg.Audit.Timeout(),
		ChannelSize: cfg.Audit.QueueSize,
	}, lg, &audit.LogProcessor{Log: lg})
	trail.Start(ctx, cfg.Audit.Workers)

	cl, err := channel.Dial(ctx, cfg.Channel.URL, lg)
	if err != nil {
		lg.Fatal("channel dial failed", zap.String("url", cfg.Channel.URL), zap.Error(err))
	}
	defer cl.Close()

	pages := cache.NewPageCache()
	ctrl := admin.New(admin.Config{Debounce: cfg.Admin.Debounce()},
		cl, pages, admin.LogNotifier{Log: lg}, trail, lg)
	ctrl.Attach(cl)
	defer ctrl.Close()

	bc := broadcast.New(lg)
	poller := tracker.New(tracker.Config{
		BaseURL:  cfg.API.BaseURL,
		Interval: cfg.Tracker.Interval(),
	}, bc, trail, lg)
	poller.SetToken(cfg.API.Token)
	go poller.Start(ctx)

	ctrl.Start()
	lg.Info("ordersync started",
		zap.String("channel_url", cfg.Channel.URL),
		zap.String("api_base_url", cfg.API.BaseURL))

	<-ctx.Done()
	lg.Info("shutting down")
	trail.Wait()
}
