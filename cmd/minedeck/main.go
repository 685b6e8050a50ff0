package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/minedeck/minedeck/internal/api"
	"github.com/minedeck/minedeck/internal/broadcast"
	"github.com/minedeck/minedeck/internal/mail"
	"github.com/minedeck/minedeck/internal/protocol"
	"github.com/minedeck/minedeck/internal/store"
	"github.com/minedeck/minedeck/internal/supervisor"
	"github.com/minedeck/minedeck/pkg/config"
	"github.com/minedeck/minedeck/pkg/logger"
	"github.com/minedeck/minedeck/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("MINEDECK_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_ = logger.Init(logger.Config{Level: "info"})
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		_ = logger.Init(logger.Config{Level: cfg.LogLevel})
		logger.Warnf("file logging disabled: %v", err)
	}

	st, err := store.OpenBadger(cfg.DataDir)
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}

	sup := supervisor.New(st, protocol.Dial, supervisor.Options{ReconnectDelay: cfg.ReconnectDelay.Std()})
	bc := broadcast.New(st, cfg.Heartbeat.Std())
	sup.OnChange(bc.BotsChanged)

	srv := api.New(st, sup, bc, mail.LogMailer{})

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("minedeck listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
	})
	mgr.OnShutdown(sup.ShutdownAll)
	mgr.OnShutdown(func(context.Context) {
		if err := st.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)

	logger.Info("server stopped")
}
