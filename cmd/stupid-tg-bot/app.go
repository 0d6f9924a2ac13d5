package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ilvi89/stupid-tg-bot/internal/adapters/file"
	"github.com/ilvi89/stupid-tg-bot/internal/adapters/memory"
	redisadapter "github.com/ilvi89/stupid-tg-bot/internal/adapters/redis"
	"github.com/ilvi89/stupid-tg-bot/internal/adapters/sqlite"
	"github.com/ilvi89/stupid-tg-bot/internal/auth"
	"github.com/ilvi89/stupid-tg-bot/internal/config"
	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/internal/metrics"
	"github.com/ilvi89/stupid-tg-bot/internal/runtime"
	"github.com/ilvi89/stupid-tg-bot/internal/scenarios"
	"github.com/ilvi89/stupid-tg-bot/internal/users"
	"github.com/ilvi89/stupid-tg-bot/pkg/bot"
	"github.com/ilvi89/stupid-tg-bot/pkg/compose"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/ports"
	"github.com/ilvi89/stupid-tg-bot/pkg/registry"
	"github.com/ilvi89/stupid-tg-bot/pkg/session"
)

// components is everything a command needs, wired once from config.
type components struct {
	cfg    *config.Config
	logger *slog.Logger
	app    *bot.App
	engine *runtime.Engine
	users  *users.Store

	closers []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func buildComponents(cmd *cobra.Command) (*components, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Log.Level)
	var logger *slog.Logger
	if cfg.Log.Format == "json" {
		logger = logging.NewJSON(level)
	} else {
		logger = logging.New(level)
	}

	c := &components{cfg: cfg, logger: logger}

	store, mgrOpts, err := c.buildStore()
	if err != nil {
		return nil, err
	}
	mgrOpts = append(mgrOpts, session.WithLogger(logger))

	userStore, err := c.buildUsers(store)
	if err != nil {
		return nil, err
	}
	c.users = userStore

	authMgr := auth.New(cfg.Auth.ManagerPassword, cfg.Auth.SessionTTL, auth.WithLogger(logger))

	sender := func(ctx context.Context, identity dialog.Identity, text string) error {
		logger.Info("broadcast delivery", "identity", identity.Key(), "text", text)
		return nil
	}
	broadcaster := users.NewBroadcaster(userStore, sender,
		cfg.Broadcast.RatePerSecond, cfg.Broadcast.Burst,
		users.WithBroadcastLogger(logger))

	reg := registry.New(registry.WithLogger(logger))
	if err := scenarios.Register(reg, scenarios.Deps{
		Users:       userStore,
		Auth:        authMgr,
		Broadcaster: broadcaster,
	}); err != nil {
		return nil, err
	}

	comps, err := scenarios.Compositions(reg)
	if err != nil {
		return nil, err
	}
	orch := compose.NewOrchestrator(comps, compose.WithLogger(logger))

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	c.engine = runtime.New(reg, session.NewManager(store, mgrOpts...),
		runtime.WithLogger(logger),
		runtime.WithPermissionChecker(authMgr),
		runtime.WithObserver(collector),
		runtime.OnCompletion(orch.OnChainCompleted))
	orch.Bind(c.engine)

	c.app, err = bot.New(c.engine, reg,
		bot.WithLogger(logger),
		bot.WithOrchestrator(orch),
		bot.WithCompositionTrigger(scenarios.TriggerOnboarding, "onboarding"),
		bot.WithCompositionTrigger(scenarios.TriggerAdmin, "admin"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *components) buildStore() (ports.SessionStore, []session.Option, error) {
	cfg := c.cfg
	switch cfg.Store.Backend {
	case "memory":
		return memory.NewStore(), nil, nil
	case "file":
		return file.New(cfg.Store.Path), nil, nil
	case "sqlite":
		store, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, store)
		return store, nil, nil
	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client)
		store := redisadapter.NewFromClient(client)
		var opts []session.Option
		if cfg.Redis.Lock {
			opts = append(opts, session.WithLocker(redisadapter.NewLocker(client, "dialog:")))
		}
		return store, opts, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildUsers opens the user database. When sessions already live in SQLite
// the handle is shared; otherwise users get their own database file.
func (c *components) buildUsers(store ports.SessionStore) (*users.Store, error) {
	if s, ok := store.(*sqlite.Store); ok {
		return users.NewStore(s.DB())
	}

	path := filepath.Join(".dialogs", "bot.db")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open users database: %w", err)
	}
	c.closers = append(c.closers, db)
	return users.NewStore(db)
}
