package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/auth"
	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/config"
	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/livequery"
	"github.com/vovakirdan/roomfeed/internal/media"
	"github.com/vovakirdan/roomfeed/internal/push"
	"github.com/vovakirdan/roomfeed/internal/store"
	"github.com/vovakirdan/roomfeed/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomfeed/internal/transport/http"
)

// App wires together storage, services and transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *livequery.Hub
	relay           *livequery.RedisNotifier
	redis           *redis.Client
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	storage, err := media.NewStorage(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init media: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := livequery.NewHub(st, logger)
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}

	// Without Redis, writes refresh the local hub directly.
	var notifier livequery.Notifier = hub
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = a.redis.Close()
			_ = st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.relay = livequery.NewRedisNotifier(a.redis, cfg.RedisChannel, logger)
		notifier = a.relay
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("room changes fan out through redis")
	}

	dispatcher := push.NewDispatcher(st, nil, logger)
	chatService := chat.NewService(st, notifier, storage, dispatcher, chat.Options{
		MaxMessageBytes: int(cfg.MaxMessageBytes),
		MaxUploadBytes:  cfg.MaxUploadBytes,
	}, logger)

	gifs := gif.NewClient(cfg.TenorBaseURL, cfg.TenorAPIKey, cfg.TenorClientKey, nil)

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Auth:   authService,
		Chat:   chatService,
		Push:   dispatcher,
		GIFs:   gifs,
		Stream: hub,
	}, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(relayCtx, a.hub); err != nil {
				a.log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Close releases resources without running the server.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes subscriptions, redis and the database.
func (a *App) cleanup() {
	a.hub.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
