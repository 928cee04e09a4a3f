package app

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelinkbridge/internal/carelink"
	"carelinkbridge/internal/config"
	"carelinkbridge/internal/forwarder"
	httpserver "carelinkbridge/internal/http"
	"carelinkbridge/internal/http/handlers"
	"carelinkbridge/internal/http/middleware"
	"carelinkbridge/internal/nightscout"
	"carelinkbridge/internal/poller"
	"carelinkbridge/internal/redisstore"
	"carelinkbridge/internal/repository"
	"carelinkbridge/internal/ws"
	libdb "carelinkbridge/libs/db"
	libredis "carelinkbridge/libs/redis"
)

// App wires the bridge dependencies.
type App struct {
	server    *httpserver.Server
	poller    *poller.Poller
	refresher *carelink.Refresher
	hub       *ws.Hub
	logger    *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	db, err := libdb.NewPostgresDB(cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}

	telemetryRepo := repository.NewTelemetryRepository(db)
	ledger := repository.NewUploadLedger(db)

	var redisClient *redis.Client
	var cache *redisstore.Store
	if cfg.Redis.Addr != "" {
		redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, running without cache", zap.Error(err))
		} else {
			cache = redisstore.NewStore(redisClient, 0, 0, logger)
		}
	}

	credentials := carelink.NewCredentialStore(cfg.Carelink.LogindataFile)
	if err := credentials.Load(); err != nil {
		// The file may appear later; the refresher keeps checking.
		logger.Warn("carelink credentials not loaded yet", zap.Error(err))
	}

	refresher := carelink.NewRefresher(credentials, httpClient, cfg.Carelink.Country, cfg.Carelink.TokenRefreshMargin, logger)
	client := carelink.NewClient(cfg.Carelink.Country, cfg.Carelink.PatientID, refresher, httpClient, logger)

	var fwd poller.Forwarder
	if cfg.NightscoutEnabled() {
		uploader := nightscout.NewUploader(cfg.Nightscout.URL, cfg.Nightscout.APISecret, httpClient, logger)
		var seen forwarder.SeenCache
		if cache != nil {
			seen = cache
		}
		fwd = forwarder.New(uploader, ledger, seen, logger)
	} else {
		logger.Info("nightscout forwarding disabled")
	}

	hub := ws.NewHub(0, logger)

	var snapshotCache poller.SnapshotCache
	if cache != nil {
		snapshotCache = cache
	}
	p := poller.New(client, telemetryRepo, fwd, snapshotCache, hub, cfg.PollInterval(), logger)
	if cache != nil {
		if snapshot := cache.Snapshot(context.Background()); snapshot != nil {
			p.Prime(*snapshot)
		}
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		StatusHandler:  handlers.NewStatusHandler(p, logger),
		EntriesHandler: handlers.NewEntriesHandler(telemetryRepo, logger),
		HealthHandler:  handlers.NewHealthHandler(),
		StreamHandler:  hub.HandleWS,
	}, middleware.SecretMiddleware(cfg.HTTP.APISecretHash))

	server := httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	return &App{
		server:      server,
		poller:      p,
		refresher:   refresher,
		hub:         hub,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
	}, nil
}

// Run starts the background loops and serves HTTP until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.refresher.Run(ctx)
	go a.poller.Run(ctx)
	defer a.hub.Shutdown()
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
}
