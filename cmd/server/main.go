package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/minigame-host/internal/config"
	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/internal/games/defense"
	"github.com/DoyleJ11/minigame-host/internal/games/freeforall"
	"github.com/DoyleJ11/minigame-host/internal/games/redlight"
	"github.com/DoyleJ11/minigame-host/internal/httpapi"
	"github.com/DoyleJ11/minigame-host/internal/hub"
	"github.com/DoyleJ11/minigame-host/internal/logging"
	"github.com/DoyleJ11/minigame-host/internal/minigame"
	"github.com/DoyleJ11/minigame-host/internal/router"
	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/internal/stats"
	"github.com/DoyleJ11/minigame-host/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	queue := stats.NewQueue(store, cfg.StatsBuffer, logger)

	h := hub.NewHub(logger)
	dir := session.NewDirectory()
	rt := router.New(h, dir, logger)

	// Instances outlive the signal until Shutdown has torn them down.
	gameCtx, cancelGames := context.WithCancel(context.Background())
	defer cancelGames()

	var regs []*session.Registry
	for _, g := range []struct {
		name    string
		limits  config.Game
		factory engine.Factory
	}{
		{"defense", cfg.Defense, defense.New(defense.DefaultRules())},
		{"freeforall", cfg.FreeForAll, freeforall.New(freeforall.DefaultRules())},
		{"redlight", cfg.RedLight, redlight.New(redlight.DefaultRules())},
	} {
		if !g.limits.Enabled {
			logger.Info("game disabled", zap.String("game", g.name))
			continue
		}
		reg := session.NewRegistry(gameCtx, session.Options{
			Config:    cfg.Instance(g.name, g.limits),
			Factory:   g.factory,
			Directory: dir,
			Scope:     rt,
			Out:       h,
			Stats:     queue.Recorder(g.name),
			Logger:    logger,
		})
		h.Subscribe(minigame.New(minigame.Options{
			Trigger:     g.limits.Trigger,
			Registry:    reg,
			Host:        h,
			Main:        rt,
			Leaderboard: queue.Store(),
			Logger:      logger,
		}))
		regs = append(regs, reg)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			WS:          ws.Handler(h, logger),
			Registries:  regs,
			Leaderboard: queue.Store(),
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Upgraded connections are hijacked, so Shutdown does not wait for
		// them; the signal context closes them instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Int("games", len(regs)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		for _, reg := range regs {
			err = multierr.Append(err, reg.Shutdown(sctx))
		}
		return multierr.Append(err, queue.Close(sctx))
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (stats.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("stats kept in memory")
		return stats.NewMemory(), nil
	}
	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	p, err := stats.OpenPostgres(octx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
