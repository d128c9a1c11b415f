package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/relay/internal/account"
	"github.com/whisper/relay/internal/ban"
	"github.com/whisper/relay/internal/call"
	"github.com/whisper/relay/internal/chat"
	"github.com/whisper/relay/internal/config"
	"github.com/whisper/relay/internal/handler"
	"github.com/whisper/relay/internal/logging"
	"github.com/whisper/relay/internal/messaging"
	"github.com/whisper/relay/internal/moderation"
	"github.com/whisper/relay/internal/presence"
	"github.com/whisper/relay/internal/ratelimit"
	"github.com/whisper/relay/internal/session"
	"github.com/whisper/relay/internal/store"
	"github.com/whisper/relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	// --- Store ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.Open(ctx, store.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL})
	cancel()
	if err != nil {
		return err
	}
	defer st.Close()

	creds, err := account.NewCredentials(cfg.PasswordScheme)
	if err != nil {
		return err
	}

	// --- WebSocket server ---
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	dispatcher := ws.NewMessageDispatcher(cfg.RequestTimeout, log)
	server := ws.NewServer(serverConfig, dispatcher.Dispatch, log)

	online := presence.NewRegistry()
	fan := chat.NewFanOut(server, online, log)
	sessions := session.NewRegistry(st, log)

	chatService := chat.NewService(st, fan, log)
	if cfg.ContentFilter {
		terms := cfg.BlockedTerms
		if len(terms) == 0 {
			terms = moderation.DefaultTerms
		}
		chatService.SetScreener(moderation.NewFilterWithTerms(terms))
	}

	deps := handler.Deps{
		Accounts: account.NewService(st, sessions, creds, log),
		Sessions: sessions,
		Bans:     ban.NewGuard(st, time.Now, log),
		Mods:     ban.NewAuthorizer(cfg.Moderators),
		Presence: online,
		Chat:     chatService,
		FanOut:   fan,
		Calls:    call.NewMachine(st, online, log),
	}

	// --- Redis ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			// The limiter fails open, so an unreachable Redis only costs throttling.
			log.Warn("redis unreachable, rate limits fail open", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		deps.Limiter = ratelimit.NewLimiter(rdb, log)
		defer rdb.Close()
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return err
		}
		err = natsClient.SubscribePublic(func(data []byte) {
			if err := fan.DeliverRelayed(data); err != nil {
				log.Warn("dropping relayed message", zap.Error(err))
			}
		})
		if err != nil {
			natsClient.Close()
			return err
		}
		fan.SetRelay(natsClient, cfg.ServerName)
	}

	h := handler.New(deps, log)
	h.Register(dispatcher)
	server.SetOnDisconnect(h.OnDisconnect)

	log.Info("relay starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("db_driver", st.Driver()),
		zap.Int("worker_pool", cfg.WorkerPoolSize),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Bool("rate_limits", cfg.RedisAddr != ""),
		zap.Bool("relay", cfg.NATSURL != ""),
		zap.Bool("content_filter", cfg.ContentFilter),
		zap.String("server_name", cfg.ServerName))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		if natsClient != nil {
			natsClient.Close()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}()

	return server.Start()
}
