package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/locachat/chatsync/api/ws"
	"github.com/locachat/chatsync/config"
	"github.com/locachat/chatsync/internal/auth"
	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/internal/fanout"
	rediswrap "github.com/locachat/chatsync/internal/redis"
	"github.com/locachat/chatsync/internal/websocket"
	"github.com/locachat/chatsync/pkg/logger"
	"github.com/locachat/chatsync/service"
)

// App holds every dependency of one gateway process. The process is
// identified by a generated instance id carried in published envelopes.
type App struct {
	cfg         config.Config
	logger      logger.Logger
	instanceID  string
	redisClient *rediswrap.RedisClient
	fanout      fanout.Fanout
	registry    *websocket.Registry
	gateway     service.Gateway
	httpServer  *http.Server
	rootCtx     context.Context
	cancel      context.CancelFunc
	fatal       chan error
}

// NewApp initializes and connects all application dependencies.
func NewApp(cfg config.Config) (*App, error) {
	baseLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFile)
	rootCtx := logger.NewContext(context.Background(), baseLogger)
	rootCtx, rootCancel := context.WithCancel(rootCtx)

	log := logger.FromContext(rootCtx).WithModule("app")
	instanceID := uuid.NewString()
	log.Infof("Initializing instance %s...", instanceID)

	fatal := make(chan error, 1)
	onFatal := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	redisClient, err := rediswrap.NewRedisClient(rootCtx, cfg.RedisURL)
	if err != nil {
		rootCancel()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	fan, err := newFanout(rootCtx, cfg, baseLogger, onFatal)
	if err != nil {
		rootCancel()
		redisClient.Close()
		return nil, err
	}

	registry := websocket.NewRegistry(baseLogger)

	gateway := service.NewGateway(service.GatewayConfig{
		Registry:         registry,
		Fanout:           fan,
		Membership:       rediswrap.NewMembershipStore(redisClient),
		Store:            rediswrap.NewHistoryStore(redisClient, baseLogger),
		Presence:         rediswrap.NewPresenceStore(redisClient),
		Logger:           baseLogger,
		InstanceID:       instanceID,
		MaxMessageLength: cfg.MaxMessageLength,
		HistoryPageSize:  cfg.HistoryPageSize,
	})

	// Every envelope comes back through the subscriber, this process's own
	// included; the registry filters by locality. Typing indicators skip the
	// originating connection.
	err = fan.Subscribe(rootCtx, func(env domain.Envelope) {
		exclude := ""
		if env.OriginInstance == instanceID {
			exclude = env.OriginConn
		}
		registry.DeliverLocal(env.RoomID, env.Event(), exclude)
	})
	if err != nil {
		rootCancel()
		fan.Close()
		redisClient.Close()
		return nil, fmt.Errorf("failed to subscribe to fan-out: %w", err)
	}

	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret)
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: ws.SetupWebSocketRoutes(ws.WSConfig{
			Registry:      registry,
			Gateway:       gateway,
			Authenticator: authenticator,
			RootCtx:       rootCtx,
		}),
	}

	app := &App{
		cfg:         cfg,
		logger:      log,
		instanceID:  instanceID,
		redisClient: redisClient,
		fanout:      fan,
		registry:    registry,
		gateway:     gateway,
		httpServer:  httpServer,
		rootCtx:     rootCtx,
		cancel:      rootCancel,
		fatal:       fatal,
	}

	log.Infof("Application initialized successfully")
	return app, nil
}

func newFanout(ctx context.Context, cfg config.Config, logg logger.Logger, onFatal func(error)) (fanout.Fanout, error) {
	switch cfg.Broker {
	case "nats":
		return fanout.NewNATSFanout(ctx, cfg.NATSURL, logg, onFatal)
	case "memory":
		return fanout.NewMemoryFanout(), nil
	default:
		return fanout.NewRedisFanout(ctx, cfg.RedisURL, logg, onFatal)
	}
}

// Start runs the application until a shutdown signal arrives or the fan-out
// reports a fatal broker failure, then shuts down gracefully.
func (a *App) Start() error {
	log := a.logger.WithFields(map[string]interface{}{
		"port":     a.cfg.Port,
		"instance": a.instanceID,
	})

	log.Infof("Starting gateway server")

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Warnf("Received shutdown signal %s", sig)
	case err := <-a.fatal:
		log.Errorf("Fatal broker failure, shutting down: %v", err)
	}

	return a.Stop()
}

// Stop stops accepting new connections, then closes the broker connections;
// shutdown is bounded and always completes.
func (a *App) Stop() error {
	log := a.logger.WithFields(map[string]interface{}{
		"shutdown_timeout": "5s",
	})

	log.Infof("Initiating graceful shutdown")
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	log.Infof("Closing fan-out connections")
	if err := a.fanout.Close(); err != nil {
		log.Errorf("Fan-out close reported: %v", err)
	}

	log.Infof("Closing Redis connection")
	if err := a.redisClient.Close(); err != nil {
		log.Errorf("Redis close reported: %v", err)
	}

	log.Infof("Shutdown completed")
	return nil
}
