package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/archiver"
	"github.com/mblsha/zipforge/internal/config"
	"github.com/mblsha/zipforge/internal/discovery"
	"github.com/mblsha/zipforge/internal/engine"
	"github.com/mblsha/zipforge/internal/metrics"
	"github.com/mblsha/zipforge/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] != "server" {
		usage()
		os.Exit(2)
	}
	if err := runServer(); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}

func runServer() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	arch := newArchiver(cfg, log)
	var rec metrics.Recorder = metrics.Noop{}
	var metricsHandler http.Handler
	if cfg.Metrics {
		prom := metrics.NewProm("zipforge")
		rec, metricsHandler = prom, prom.Handler()
	}

	eng, err := engine.New(engine.Options{
		SourceDir: cfg.SourceDir,
		OutputDir: cfg.OutputDir,
		Archiver:  arch,
		Log:       log,
		Metrics:   rec,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := server.New(cfg, eng, server.WithLogger(log), server.WithMetrics(rec, metricsHandler))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Discovery {
		advertiser := startAdvertiser(cfg, arch.Name(), log)
		defer advertiser.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"source":   eng.SourceRoot().Path(),
			"output":   eng.OutputRoot().Path(),
			"archiver": arch.Name(),
		}).Info("zipforge server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// newArchiver relies on config validation having rejected unknown backends.
func newArchiver(cfg config.Config, log logrus.FieldLogger) archiver.Archiver {
	if backend, _ := archiver.NormalizeBackend(cfg.Archiver); backend == archiver.BackendNative {
		return archiver.NewNative(cfg.ExtractionLimits(), log)
	}
	return archiver.NewSevenZip(cfg.SevenZipBin, archiver.OSRunner{}, cfg.ArchiverTimeout, log)
}

// startAdvertiser never fails the server: a missing mDNS responder only
// disables discovery.
func startAdvertiser(cfg config.Config, backend string, log logrus.FieldLogger) *discovery.Advertiser {
	port, err := discovery.ParseListenPort(cfg.ListenAddr)
	if err != nil {
		log.WithError(err).Warn("discovery advertisement disabled")
		return nil
	}
	instance := cfg.DiscoveryInstance
	if instance == "" {
		instance = hostFallback()
	}
	adv, err := discovery.StartAdvertiser(discovery.AdvertiseOptions{
		Instance: instance,
		Service:  cfg.DiscoveryService,
		Domain:   cfg.DiscoveryDomain,
		Port:     port,
		Meta:     map[string]string{"proto": "http", "path": "/health", "backend": backend},
	}, log)
	if err != nil {
		log.WithError(err).Warn("failed to start discovery advertisement")
		return nil
	}
	return adv
}

func usage() {
	_, _ = os.Stderr.WriteString("zipforge usage:\n")
	_, _ = os.Stderr.WriteString("  zipforge\n")
	_, _ = os.Stderr.WriteString("  zipforge server\n")
}

func hostFallback() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return "zipforge"
	}
	return strings.TrimSpace(hostname)
}
