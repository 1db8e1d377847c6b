package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"

	"github.com/rl1809/coop-exchange/internal/adapter/handler"
	"github.com/rl1809/coop-exchange/internal/adapter/storage"
	"github.com/rl1809/coop-exchange/internal/config"
	"github.com/rl1809/coop-exchange/internal/core/service"
	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

var log = obs.Logger("server")

func main() {
	app := &cli.App{
		Name:  "coopx",
		Usage: "cooperative raw-material exchange",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				EnvVars: []string{"COOPX_CONFIG"},
			},
		},
		Commands: []*cli.Command{serveCmd, migrateCmd},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "coopx: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if err := obs.InitLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply the database schema and exit",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if cfg.DBDriver == config.DriverMemory {
			return xerrors.New("migrate needs a mysql or postgres db_driver")
		}
		db, dialect, err := openDB(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.NewSQLStore(db, dialect).Migrate(cctx.Context); err != nil {
			return err
		}
		log.Infow("schema applied", "driver", dialect.String())
		return nil
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP and gRPC servers",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "migrate", Usage: "apply the schema before serving"},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, cctx.Bool("migrate"))
	},
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, storage.Dialect, error) {
	dialect, err := storage.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, 0, err
	}
	dsn, err := dialect.NormalizeDSN(cfg.DSN)
	if err != nil {
		return nil, 0, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, 0, xerrors.Errorf("open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, 0, xerrors.Errorf("ping %s: %w", dialect, err)
	}
	log.Infow("connected to database", "driver", dialect.String())
	return db, dialect, nil
}

type backends struct {
	repo port.DatabaseRepository
	dir  interface {
		port.MemberDirectory
		port.AuthorizationRegistry
	}
	cache   port.CacheRepository
	closers []func() error
}

func (b *backends) Close() error {
	var result *multierror.Error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func openBackends(ctx context.Context, cfg config.Config, migrate bool) (*backends, error) {
	b := &backends{}
	if cfg.DBDriver == config.DriverMemory {
		log.Warnw("using in-memory store, data is lost on exit")
		b.repo = storage.NewMemoryStore()
		b.dir = storage.NewMemoryDirectory()
	} else {
		db, dialect, err := openDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		store := storage.NewSQLStore(db, dialect)
		if migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, multierror.Append(err, b.Close())
			}
		}
		b.repo = store
		b.dir = storage.NewSQLDirectory(db, dialect)
	}

	if cfg.RedisAddr == "" {
		b.cache = storage.NewMemoryCache(nil)
		return b, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, multierror.Append(xerrors.Errorf("connect redis: %w", err), rdb.Close(), b.Close())
	}
	b.closers = append(b.closers, rdb.Close)
	b.cache = storage.NewRedisAdapter(rdb)
	log.Infow("connected to redis", "addr", cfg.RedisAddr)
	return b, nil
}

func resolveMarketMaker(ctx context.Context, cfg config.Config, dir port.MemberDirectory) (string, error) {
	if cfg.MarketMakerEmail == "" {
		return cfg.MarketMakerID, nil
	}
	m, err := dir.FindMemberByEmail(ctx, cfg.MarketMakerEmail)
	if err != nil {
		return "", xerrors.Errorf("resolve market maker %s: %w", cfg.MarketMakerEmail, err)
	}
	return m.ID, nil
}

func serve(ctx context.Context, cfg config.Config, migrate bool) (err error) {
	b, err := openBackends(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	marketMaker, err := resolveMarketMaker(ctx, cfg, b.dir)
	if err != nil {
		return err
	}
	mp := service.NewMarketplace(service.Deps{
		Repo:                b.repo,
		Cache:               b.cache,
		Directory:           b.dir,
		Authorizations:      b.dir,
		MarketMakerID:       marketMaker,
		LiquidationDiscount: &cfg.LiquidationDiscount,
		PriceWindow:         cfg.PriceWindow,
		SubmitGuardTTL:      cfg.SubmitGuardTTL,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := obs.Register(reg); err != nil {
		return err
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryServerInterceptor))
	handler.RegisterMarketplaceServer(grpcServer, handler.NewGRPCHandler(mp))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return xerrors.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(mp).Router(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infow("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- xerrors.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Infow("HTTP server listening", "addr", cfg.HTTPAddr, "market_maker", marketMaker)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- xerrors.Errorf("http server: %w", err)
		}
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err := <-errCh:
		result = multierror.Append(result, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, xerrors.Errorf("http shutdown: %w", err))
	}
	log.Infow("HTTP server stopped")

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	log.Infow("gRPC server stopped")

	return result.ErrorOrNil()
}
