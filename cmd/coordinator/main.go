package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drpcorg/roomsync/config"
	"github.com/drpcorg/roomsync/coordinator"
	"github.com/drpcorg/roomsync/network"
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

func run() error {
	configPath := flag.String("config", "roomsync.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := utils.NewLogger(os.Stderr, utils.ParseLevel(cfg.Logger.Level), cfg.Logger.Format)

	netOpts, err := cfg.Coordinator.Link.NetOpts()
	if err != nil {
		return err
	}
	c := coordinator.New(log, netOpts...)
	if err := c.Listen(cfg.Coordinator.ListenAddr); err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Coordinator.ListenAddr, err)
	}
	defer c.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(network.NewCollector("coordinator", c))
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", c.Handler())
	srv := &http.Server{Addr: cfg.Coordinator.HTTPAddr, Handler: mux}
	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	log.Info("coordinator: serving", "http", cfg.Coordinator.HTTPAddr, "processes", cfg.Coordinator.ListenAddr,
		"app", coordinator.AppID(cfg.Server.AppSecret))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Info("coordinator: signal caught", "sig", sig)
	case err := <-errs:
		return err
	}
	return srv.Close()
}
