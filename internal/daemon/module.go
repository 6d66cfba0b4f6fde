package daemon

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/api"
	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/config"
	"github.com/master-rogerio/VCZapO-sub001/internal/lock"
	"github.com/master-rogerio/VCZapO-sub001/internal/logging"
	"github.com/master-rogerio/VCZapO-sub001/internal/mediacache"
	"github.com/master-rogerio/VCZapO-sub001/internal/notify"
	"github.com/master-rogerio/VCZapO-sub001/internal/outbox"
	"github.com/master-rogerio/VCZapO-sub001/internal/profile"
	"github.com/master-rogerio/VCZapO-sub001/internal/remote"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcache"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcrypt"
	"github.com/master-rogerio/VCZapO-sub001/internal/session"
	"github.com/master-rogerio/VCZapO-sub001/internal/status"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
	intsync "github.com/master-rogerio/VCZapO-sub001/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // optional; nil = load ~/.vczap/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideStore,
			provideRoomCache,
			provideMediaCache,
			provideDecrypter,
			provideRemote,
			provideReconciler,
			provideSender,
			provideBuffer,
			provideActions,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config.WithDefaults(), nil
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideDB takes the lock first so two daemons never migrate the same file.
func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(db, b, logger.Named("store"))
}

func provideRoomCache(p Params, logger *zap.Logger) (*roomcache.Cache, error) {
	return roomcache.New(profile.RoomIndexDir(p.Profile), logger.Named("roomcache"))
}

func provideMediaCache(p Params, cfg *config.Config, logger *zap.Logger) (*mediacache.Cache, error) {
	dir := cfg.Media.Dir
	if dir == "" {
		dir = profile.MediaDir(p.Profile)
	}
	var fetcher mediacache.Fetcher = &mediacache.HTTPFetcher{}
	if cfg.Media.S3Region != "" {
		s3f, err := mediacache.NewS3Fetcher(context.Background(), cfg.Media.S3Region, cfg.Media.S3Endpoint)
		if err != nil {
			return nil, err
		}
		httpf := &mediacache.HTTPFetcher{}
		fetcher = mediacache.SchemeRouter{"http": httpf, "https": httpf, "s3": s3f}
	}
	return mediacache.New(mediacache.Options{
		Dir:          dir,
		MaxBytes:     cfg.Media.MaxBytes,
		FetchTimeout: cfg.Media.FetchTimeout.Duration,
		FetchRate:    cfg.Media.FetchRate,
		Fetcher:      fetcher,
		Logger:       logger.Named("media"),
	})
}

// roomKey derives the content key from the shared secret, or nil when
// content is not encrypted.
func roomKey(cfg *config.Config) (*roomcrypt.RoomKey, error) {
	if cfg.Crypto.SharedSecret == "" {
		return nil, nil
	}
	return roomcrypt.NewRoomKey(cfg.Crypto.SharedSecret)
}

func provideDecrypter(cfg *config.Config) (roomcrypt.Decrypter, error) {
	key, err := roomKey(cfg)
	if err != nil || key == nil {
		return roomcrypt.None{}, err
	}
	return key, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) (*remote.Client, error) {
	key, err := roomKey(cfg)
	if err != nil {
		return nil, err
	}
	return remote.New(remote.Config{
		FeedURL: cfg.Remote.FeedURL,
		APIURL:  cfg.Remote.APIURL,
		Token:   cfg.Remote.Token,
		Key:     key,
	}, logger.Named("remote"))
}

func provideReconciler(rc *remote.Client, st *store.Store, rooms *roomcache.Cache, dec roomcrypt.Decrypter, b *bus.Bus, m *status.Machine, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(rc, st, rooms, dec, b, m, logger.Named("sync"))
}

func provideSender(st *store.Store, rc *remote.Client, recon *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(st, rc, b, logger.Named("outbox"), outbox.WithDisplayNames(recon.DisplayName))
}

func provideBuffer() *notify.Buffer {
	return notify.NewBuffer()
}

func provideActions(buf *notify.Buffer, sender *outbox.Sender, st *store.Store, rc *remote.Client, logger *zap.Logger) *notify.Actions {
	return notify.NewActions(buf, sender, st, rc, logger.Named("notify"))
}

func provideService(p Params, recon *intsync.Reconciler, st *store.Store, media *mediacache.Cache, actions *notify.Actions, sender *outbox.Sender, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, recon, st, media, actions, sender, m, b, logger.Named("api"))
}

type lifecycleDeps struct {
	fx.In

	Config     *config.Config
	Server     *Server
	Metrics    *MetricsServer
	Lock       *lock.Lock
	DB         *store.DB
	Store      *store.Store
	Reconciler *intsync.Reconciler
	Buffer     *notify.Buffer
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Store.Start()

			go func() {
				if err := d.Metrics.Start(); err != nil {
					d.Logger.Error("metrics server error", zap.Error(err))
				}
			}()

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Resume the configured user's session; otherwise wait for Login.
			if userID := d.Config.Remote.UserID; userID != "" {
				sess, err := session.Begin(userID)
				if err != nil {
					return err
				}
				if err := d.Reconciler.Start(context.Background(), sess); err != nil {
					return err
				}
				d.Logger.Info("session resumed", zap.String("user_id", userID))
			} else {
				d.Logger.Info("no user configured, waiting for login")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Server.Stop(ctx)
			d.Reconciler.Stop()
			d.Buffer.Close()
			d.Store.Stop()
			d.Metrics.Stop(ctx)
			var errs []error
			if err := d.DB.Close(); err != nil {
				errs = append(errs, err)
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return errors.Join(errs...)
		},
	})
}
