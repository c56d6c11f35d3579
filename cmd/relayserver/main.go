// Command relayserver runs the dungeon relay: the WebSocket relay itself,
// plus the optional admin gRPC API, Lua room hooks, and match archive.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/admin"
	"github.com/cory-johannsen/dungeon-relay/internal/archive"
	"github.com/cory-johannsen/dungeon-relay/internal/config"
	"github.com/cory-johannsen/dungeon-relay/internal/content"
	"github.com/cory-johannsen/dungeon-relay/internal/observability"
	"github.com/cory-johannsen/dungeon-relay/internal/relay"
	"github.com/cory-johannsen/dungeon-relay/internal/scripting"
	"github.com/cory-johannsen/dungeon-relay/internal/server"
	"github.com/cory-johannsen/dungeon-relay/internal/session"
	"github.com/cory-johannsen/dungeon-relay/internal/storage/postgres"
	"github.com/cory-johannsen/dungeon-relay/internal/transport/ws"
)

// dbHealthInterval is how often the archive database is pinged.
const dbHealthInterval = 30 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server", zap.String("addr", cfg.Server.Addr()))

	catalog, err := loadCatalog(cfg.Content)
	if err != nil {
		logger.Fatal("loading level catalog", zap.Error(err))
	}
	logger.Info("level catalog loaded",
		zap.Int("levels", catalog.Len()),
		zap.Int("max_level", catalog.MaxLevel()),
	)

	lifecycle := server.NewLifecycle(logger)
	var levels relay.LevelSource = catalog
	var opts []relay.Option

	if cfg.Content.ScriptsDir != "" {
		scriptMgr := scripting.NewManager(logger)
		scriptMgr.MaxLevel = catalog.MaxLevel
		scriptMgr.LevelName = levelName(catalog)
		if err := scriptMgr.Load(cfg.Content.ScriptsDir, cfg.Content.ScriptInstructionLimit); err != nil {
			logger.Fatal("loading room scripts", zap.Error(err))
		}
		defer scriptMgr.Close()
		hooks := scripting.NewRoomHooks(scriptMgr, catalog)
		levels = hooks
		opts = append(opts, relay.WithObserver(hooks))
	}

	var history admin.MatchHistory
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		repo := postgres.NewArchiveRepository(pool.DB())
		history = repo
		recorder := archive.NewRecorder(repo, cfg.Database.QueueSize, logger)
		opts = append(opts, relay.WithObserver(recorder))

		// Registered before the relay so they stop after it: the final
		// room_closed records drain before the pool closes.
		lifecycle.Add("postgres", healthService(pool, logger))
		lifecycle.Add("archive", recorder.Service())
	}
	opts = append(opts, relay.WithLevels(levels))

	state := relay.NewState(cfg.Rooms, session.NewRegistry(cfg.Server.OutboxSize), logger, opts...)
	router := relay.NewRouter(state, logger)
	wsServer := ws.NewServer(cfg.Server, state, router, logger)
	lifecycle.Add("relay", wsServer.Service())

	if cfg.Admin.Enabled {
		adminOpts := []admin.Option{admin.WithLevelNames(levelName(catalog))}
		if history != nil {
			adminOpts = append(adminOpts, admin.WithHistory(history))
		}
		grpcServer := admin.NewGRPCServer(admin.NewServer(state, logger, adminOpts...), cfg.Admin.TokenHash, logger)
		lifecycle.Add("admin", server.GRPCService(grpcServer, cfg.Admin.Addr()))
	}

	logger.Info("relay server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("admin", cfg.Admin.Enabled),
		zap.Bool("archive", cfg.Database.Enabled),
		zap.Bool("scripts", cfg.Content.ScriptsDir != ""),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func loadCatalog(cfg config.ContentConfig) (*content.Catalog, error) {
	if cfg.LevelsFile == "" {
		return content.Default(), nil
	}
	return content.LoadFromFile(cfg.LevelsFile)
}

func levelName(cat *content.Catalog) func(int) (string, bool) {
	return func(n int) (string, bool) {
		l, ok := cat.Level(n)
		return l.Name, ok
	}
}

// healthService pings the pool until stopped, then closes it.
func healthService(pool *postgres.Pool, logger *zap.Logger) server.Service {
	stop := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(dbHealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return nil
				case <-ticker.C:
					if err := pool.Health(context.Background(), 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			close(stop)
			pool.Close()
		},
	}
}
