// Command quotewatch follows a quote session over the push channel and
// prints each confirmed version with its changed cells highlighted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/auth"
	"github.com/zhouzirui/quotesync/internal/channel"
	"github.com/zhouzirui/quotesync/internal/config"
	"github.com/zhouzirui/quotesync/internal/lifecycle"
	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/quoteapi"
	"github.com/zhouzirui/quotesync/internal/service/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	sessionID := flag.String("session", cfg.Client.SessionID, "session id to load; empty starts a new chat")
	qty := flag.String("qty", "", "quantity edit as item=N or scenario/item=N")
	message := flag.String("message", "", "chat message to send after connecting")
	save := flag.Bool("save", false, "save the session after the edits are confirmed")
	duration := flag.Duration("for", 0, "stop after this long (0 waits for Ctrl-C)")
	flag.Parse()

	var edit *quantityEdit
	if *qty != "" {
		parsed, err := parseQuantityEdit(*qty)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		edit = &parsed
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx, cfg.Client, *sessionID, edit, *message, *save, log); err != nil {
		log.Error("quotewatch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ClientConfig, sessionID string, edit *quantityEdit, message string, save bool, log *zap.Logger) error {
	provider := auth.NewProvider(nil, log)
	defer provider.Close()

	api := quoteapi.New(cfg.APIURL, provider, &quoteapi.Options{
		Timeout:        cfg.HTTPTimeout,
		OnUnauthorized: provider.HandleUnauthorized,
	}, log)

	switch {
	case cfg.Token != "":
		provider.SetToken(cfg.Token, "bearer")
	case cfg.HasCredentials():
		resp, err := api.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		provider.SetToken(resp.AccessToken, resp.TokenType)
	default:
		return fmt.Errorf("set QUOTE_TOKEN or QUOTE_USERNAME/QUOTE_PASSWORD")
	}

	ch := channel.New(cfg.WSURL, channel.NewWebsocketDialer(nil), log)
	store := session.NewStore(session.Options{
		Fetcher: api,
		Saver:   api,
		Emitter: ch,
		UserID:  provider.Current().Subject,
	}, log)

	view := newWatcher(os.Stdout, cfg.HighlightDuration)
	unsubscribe := store.Subscribe(view.Render)
	defer unsubscribe()

	opened := make(chan struct{})
	var once sync.Once
	defer ch.OnStateChange(func(s channel.State) {
		if s == channel.Open {
			once.Do(func() { close(opened) })
		}
	})()

	ctrl := lifecycle.New(store, ch, provider, log)
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	if err := ctrl.Bootstrap(ctx, sessionID); err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		return nil
	case <-time.After(cfg.HTTPTimeout):
		log.Warn("channel not open yet, edits stay queued")
	}

	if edit != nil {
		if err := edit.apply(store); err != nil {
			return err
		}
	}
	if message != "" {
		if err := store.AppendUserMessage(message); err != nil {
			return err
		}
	}

	if save {
		if err := waitConfirmed(ctx, store); err != nil {
			return err
		}
		if err := store.SaveSession(ctx, store.Snapshot().Session); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}

	<-ctx.Done()
	return nil
}

// waitConfirmed blocks until the server has answered the last update.
func waitConfirmed(ctx context.Context, store *session.Store) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s := store.Snapshot().Session; s != nil && !s.Thinking {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

