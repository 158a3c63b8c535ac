package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/auth"
	"github.com/developerYeasin/blood-donation-backend/internal/config"
	"github.com/developerYeasin/blood-donation-backend/internal/daemon"
	"github.com/developerYeasin/blood-donation-backend/internal/httpapi"
	"github.com/developerYeasin/blood-donation-backend/internal/logging"
	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/notify"
	"github.com/developerYeasin/blood-donation-backend/internal/realtime"
	"github.com/developerYeasin/blood-donation-backend/internal/schema"
	"github.com/developerYeasin/blood-donation-backend/internal/store"
	"github.com/developerYeasin/blood-donation-backend/internal/websocket"
)

func serveCmd() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime socket server",
		Long: `Run the HTTP API, the realtime socket endpoint at /socket and the
notification dispatcher until SIGINT or SIGTERM.

The database schema is migrated on startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServer(ctx, cfg, log, pidFile)
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID here and refuse to start if it is held")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, log *zap.Logger, pidFile string) error {
	metrics.Register()

	db, err := schema.OpenDB(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := schema.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st := store.New(db)

	pushHTTP := &http.Client{Timeout: cfg.PushTimeout}
	var web notify.WebSender
	if cfg.WebPushEnabled() {
		web = notify.NewWebPushClient(notify.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.VAPIDSubject,
			HTTPClient: pushHTTP,
		})
	} else {
		log.Warn("web push disabled: VAPID keys not configured")
	}
	mobile := notify.NewExpoClient(cfg.ExpoPushURL, cfg.ExpoAccessToken, pushHTTP)
	dispatcher := notify.NewDispatcher(st, web, mobile, log.Named("notify"), notify.Options{
		Concurrency: cfg.PushConcurrency,
		Timeout:     cfg.PushTimeout,
	})

	rooms := realtime.NewRegistry(log.Named("rooms"))
	var broadcaster realtime.Broadcaster = rooms
	var bus *realtime.RedisBus
	if cfg.RedisEnabled() {
		client, err := realtime.NewRedisClient(realtime.RedisSettings{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		bus = realtime.NewRedisBus(client, cfg.RedisChannel, rooms, log.Named("bus"))
		broadcaster = bus
	}
	relay := realtime.NewRelay(st, broadcaster, dispatcher, log.Named("relay"))

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if !verifier.Enabled() {
		log.Warn("JWT_SECRET not set: REST API rejects every request and sockets are anonymous")
	}

	router := websocket.NewRouter()
	websocket.RegisterChatHandlers(router, rooms, relay)
	sockets := websocket.NewServer(router, verifier, log.Named("socket"), websocket.Options{
		EventRate:   cfg.SocketEventRate,
		EventBurst:  cfg.SocketEventBurst,
		RequireAuth: cfg.SocketRequireAuth,
	})
	sockets.SetDisconnectHook(func(sessionID string) {
		rooms.Disconnect(sessionID)
	})

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.NewRouter(httpapi.Deps{
		Store:         st,
		Dispatcher:    dispatcher,
		Verifier:      verifier,
		Socket:        sockets,
		Rooms:         rooms,
		Sessions:      sockets.Clients().Count,
		DB:            db,
		InternalToken: cfg.InternalToken,
		Log:           log.Named("http"),
	})

	lc := daemon.NewLifecycle(&http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}, log)
	lc.SetSocketServer(sockets)
	lc.AddDrainer(relay)
	if bus != nil {
		lc.AddBackground(bus.Run)
	}
	if pidFile != "" {
		lc.SetPIDFile(pidFile)
	}

	log.Info("starting bloodlink",
		zap.String("version", Version),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("web_push", web != nil),
		zap.Bool("redis", bus != nil))
	return lc.Run(ctx)
}
