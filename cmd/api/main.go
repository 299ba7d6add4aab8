package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/config"
	"github.com/zhouzirui/quotesync/internal/handler"
	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/repository/session"
	"github.com/zhouzirui/quotesync/internal/service/quoting"
	"github.com/zhouzirui/quotesync/internal/service/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Debug("no .env file, using process environment", zap.Error(envErr))
	}

	sessions, err := session.New(cfg.Server)
	if err != nil {
		log.Fatal("failed to open session store", zap.String("driver", cfg.Server.SessionStore), zap.Error(err))
	}
	defer sessions.Close()
	log.Info("session store ready", zap.String("driver", cfg.Server.SessionStore))

	var opts []quoting.Option
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Fatal("failed to create chat model", zap.Error(err))
		}
		assistant, err := quoting.NewModelAssistant(ctx, chatModel)
		if err != nil {
			log.Fatal("failed to build assistant", zap.Error(err))
		}
		opts = append(opts, quoting.WithAssistant(assistant))
		log.Info("assistant replies enabled", zap.String("model", cfg.AI.Model))
	} else {
		log.Warn("ARK credentials or ARK_MODEL missing, assistant replies fall back to acknowledgements")
	}

	quotes := quoting.NewService(sessions, log, opts...)
	issuer := token.NewIssuer(cfg.Server.JWTSecret, cfg.Server.TokenTTL, cfg.Server.Users)
	router := handler.NewRouter(quotes, issuer, log)

	startServer(ctx, cfg.Server, router, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("quote dev server listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
