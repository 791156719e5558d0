package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/admin"
	"github.com/rohitpatil2845/BAATKANE/internal/auth"
	"github.com/rohitpatil2845/BAATKANE/internal/bot"
	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/chat"
	"github.com/rohitpatil2845/BAATKANE/internal/config"
	"github.com/rohitpatil2845/BAATKANE/internal/httpapi"
	"github.com/rohitpatil2845/BAATKANE/internal/lock"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"github.com/rohitpatil2845/BAATKANE/internal/paths"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/scheduler"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance settings passed to the fx module.
type Params struct {
	Instance   string
	ConfigPath string // optional; empty = paths.ConfigPath()
	SocketPath string // optional override for testing; empty = use default
	ListenAddr string // optional override of listen_addr
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			realtime.NewHub,
			provideBroadcaster,
			provideAuth,
			provideGenerator,
			provideResponder,
			provideGateway,
			provideScheduler,
			provideChatService,
			provideRouter,
			provideHTTPServer,
			provideAdminService,
			provideAdminServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath(p.Instance), p.Instance, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(paths.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = paths.DBPath(p.Instance)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	if err := db.EnsureBotUser(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBroadcaster(hub *realtime.Hub, b *bus.Bus, logger *zap.Logger) *realtime.Broadcaster {
	return realtime.NewBroadcaster(hub, b, logger)
}

func provideAuth(cfg *config.Config) *auth.Authenticator {
	return auth.New(cfg.JWTSecret, cfg.TokenTTL.Duration)
}

func provideGenerator(cfg *config.Config, logger *zap.Logger) (bot.Generator, error) {
	gen, err := bot.NewGenerator(context.Background(), cfg.Bot.APIKey, cfg.Bot.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Bot.APIKey == "" {
		logger.Warn("no Gemini API key configured, bot replies will use fallbacks")
	}
	return gen, nil
}

func provideResponder(cfg *config.Config, db *store.DB, hub *realtime.Hub, out *realtime.Broadcaster, gen bot.Generator, b *bus.Bus, logger *zap.Logger) *bot.Responder {
	bc := cfg.Bot
	return bot.New(db, hub, out, gen, b, logger, bot.Options{
		Mention:       bc.Mention,
		HistorySize:   bc.HistorySize,
		Timeout:       bc.Timeout.Duration,
		MinDelay:      bc.MinDelay.Duration,
		MaxDelay:      bc.MaxDelay.Duration,
		PerChar:       time.Duration(bc.MsPerChar) * time.Millisecond,
		RatePerSecond: bc.RatePerSecond,
	})
}

func provideGateway(cfg *config.Config, db *store.DB, hub *realtime.Hub, out *realtime.Broadcaster, authn *auth.Authenticator, responder *bot.Responder, b *bus.Bus, logger *zap.Logger) *realtime.Gateway {
	opts := realtime.Options{
		TypingTTL:  cfg.Realtime.TypingTTL.Duration,
		SendBuffer: cfg.Realtime.SendBuffer,
	}
	if cfg.Bot.Enabled {
		opts.Hook = responder
	}
	return realtime.NewGateway(db, hub, out, authn, b, logger, opts)
}

func provideScheduler(cfg *config.Config, db *store.DB, hub *realtime.Hub, out *realtime.Broadcaster, b *bus.Bus, logger *zap.Logger) (*scheduler.Loop, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(db, hub, out, b, logger, scheduler.Options{
		Interval: cfg.Scheduler.Interval.Duration,
		Location: loc,
	}), nil
}

func provideChatService(db *store.DB, hub *realtime.Hub, out *realtime.Broadcaster, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, hub, out, logger)
}

func provideRouter(chats *chat.Service, authn *auth.Authenticator, gw *realtime.Gateway, logger *zap.Logger) http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Chats:    chats,
		Verifier: authn,
		Realtime: gw,
		Log:      logger,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler, logger *zap.Logger) (*httpapi.Server, error) {
	return httpapi.NewServer(cfg.ListenAddr, h, logger)
}

func provideAdminService(p Params, cfg *config.Config, db *store.DB, hub *realtime.Hub, authn *auth.Authenticator, responder *bot.Responder, httpSrv *httpapi.Server, b *bus.Bus, logger *zap.Logger) *admin.Service {
	var welcomer admin.Welcomer
	if cfg.Bot.Enabled {
		welcomer = responder
	}
	info := admin.Info{Instance: p.Instance, ListenAddr: httpSrv.Addr()}
	return admin.NewService(info, db, hub, authn, welcomer, b, logger)
}

func provideAdminServer(p Params, svc *admin.Service, logger *zap.Logger) (*admin.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketPath(p.Instance)
	}
	return admin.NewServer(socketPath, svc, logger)
}

type lifecycleDeps struct {
	fx.In

	Config    *config.Config
	Lock      *lock.Lock
	DB        *store.DB
	Gateway   *realtime.Gateway
	Scheduler *scheduler.Loop
	Responder *bot.Responder
	HTTP      *httpapi.Server
	Admin     *admin.Server
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if d.Config.Bot.Enabled {
				if _, err := d.Responder.EnsureBotChats(ctx); err != nil {
					logger.Warn("ensure bot chats", zap.Error(err))
				}
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			d.Gateway.Start(runCtx)
			d.Scheduler.Start(runCtx)

			// Start servers in background.
			go func() {
				if err := d.HTTP.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			go func() {
				if err := d.Admin.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Admin.Stop(ctx)
			d.HTTP.Stop(ctx)
			d.Gateway.Shutdown()
			d.Gateway.Stop()
			d.Scheduler.Stop()
			d.Responder.Stop()
			if cancel != nil {
				cancel()
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
