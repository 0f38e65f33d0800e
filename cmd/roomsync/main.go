package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drpcorg/roomsync"
	"github.com/drpcorg/roomsync/config"
	"github.com/drpcorg/roomsync/game"
	"github.com/drpcorg/roomsync/journal"
	"github.com/drpcorg/roomsync/network"
	"github.com/drpcorg/roomsync/policy"
	"github.com/drpcorg/roomsync/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rulesLoader rereads the rules file when its modification time changes.
func rulesLoader(path string) policy.LoadFunc[game.State] {
	var (
		modTime time.Time
		current policy.Policy[game.State]
	)
	return func() (policy.Policy[game.State], error) {
		if path == "" {
			if current == nil {
				current = game.New(game.DefaultRules())
			}
			return current, nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if current != nil && info.ModTime().Equal(modTime) {
			return current, nil
		}
		rules, err := game.LoadRules(path)
		if err != nil {
			return nil, err
		}
		modTime, current = info.ModTime(), game.New(rules)
		return current, nil
	}
}

func run() error {
	configPath := flag.String("config", "roomsync.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := utils.NewLogger(os.Stderr, utils.ParseLevel(cfg.Logger.Level), cfg.Logger.Format)

	provider, err := policy.NewReloadable(log, rulesLoader(cfg.Server.RulesFile))
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(roomsync.Collectors()...)
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	netOpts, err := cfg.Server.Link.NetOpts()
	if err != nil {
		return err
	}

	opts := roomsync.Options{
		BroadcastInterval: cfg.Server.BroadcastInterval,
		IdleSessions:      cfg.Server.IdleSessions,
		Retention:         cfg.Server.JournalRetention,
	}
	if cfg.Server.JournalPath != "" {
		j, err := journal.Open(cfg.Server.JournalPath, journal.Options{Sync: cfg.Server.JournalSync})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		registry.MustRegister(journal.NewCollector(j))
		opts.Journal = j
	}

	store, err := roomsync.NewStore[game.State](log, provider, opts)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := roomsync.Register(ctx, log, cfg.Server.DispatcherAddr, cfg.Server.AppSecret, store, netOpts...)
	if err != nil {
		return fmt.Errorf("register with %s: %w", cfg.Server.DispatcherAddr, err)
	}
	defer d.Close()
	registry.MustRegister(network.NewCollector("dispatcher", d))

	var metrics *http.Server
	if cfg.Server.MetricsAddr != "" {
		metrics = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics: listen failed", "err", err)
			}
		}()
		defer metrics.Close()
	}

	go store.Run(ctx)
	log.Info("roomsync: serving", "dispatcher", cfg.Server.DispatcherAddr)

	select {
	case <-ctx.Done():
		log.Info("roomsync: shutting down")
		return nil
	case <-d.Done():
		return d.Err()
	}
}
