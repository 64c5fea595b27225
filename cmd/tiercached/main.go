// Command tiercached serves a multi-level cache over HTTP backed by redis.
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

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tiercache/tiercache"
	"github.com/tiercache/tiercache/breaker"
	"github.com/tiercache/tiercache/codec"
	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/httpapi"
	"github.com/tiercache/tiercache/local"
	logruslog "github.com/tiercache/tiercache/log/logrus"
	zaplog "github.com/tiercache/tiercache/log/zap"
	"github.com/tiercache/tiercache/metrics"
	"github.com/tiercache/tiercache/replica"
	"github.com/tiercache/tiercache/store"
)

func main() {
	configPath := flag.String("config", "tiercached.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "tiercached:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, flush, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer flush()

	st, err := store.New(store.Config{
		Mode:         store.Mode(cfg.Store.Mode),
		Addrs:        cfg.Store.Addrs,
		MasterName:   cfg.Store.MasterName,
		Username:     cfg.Store.Username,
		Password:     cfg.Store.Password,
		DB:           cfg.Store.DB,
		PoolSize:     cfg.Store.PoolSize,
		MinIdleConns: cfg.Store.MinIdleConns,
		DialTimeout:  cfg.Store.DialTimeout,
		ReadTimeout:  cfg.Store.ReadTimeout,
		WriteTimeout: cfg.Store.WriteTimeout,
	})
	if err != nil {
		return err
	}

	var repl *replica.Manager
	if len(cfg.Replication.Targets) > 0 {
		rr, err := replica.NewRedisReplicator(replica.RedisConfig{
			Targets:  cfg.Replication.Targets,
			Username: cfg.Store.Username,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
			PoolSize: cfg.Store.PoolSize,
		})
		if err != nil {
			return err
		}
		defer rr.Close()
		repl = replica.NewManager(replica.Config{
			Targets:      cfg.Replication.Targets,
			QueueSize:    cfg.Replication.QueueSize,
			Workers:      cfg.Replication.Workers,
			MaxAttempts:  cfg.Replication.MaxAttempts,
			RetryBackoff: cfg.Replication.RetryBackoff,
			ApplyTimeout: cfg.Replication.ApplyTimeout,
		}, rr)
	}

	cache, err := tiercache.New[[]byte](tiercache.Options[[]byte]{
		Store: st,
		Codec: codec.Raw{},
		Local: local.Config{
			Capacity:      cfg.Cache.LocalCapacity,
			Shards:        cfg.Cache.LocalShards,
			SweepInterval: cfg.Cache.SweepInterval,
		},
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			FailureWindow:    cfg.Breaker.FailureWindow,
			Cooldown:         cfg.Breaker.Cooldown,
			MaxCooldown:      cfg.Breaker.MaxCooldown,
		},
		Replication:       repl,
		Logger:            log,
		DefaultTTL:        cfg.Cache.DefaultTTL,
		CompressThreshold: cfg.Cache.CompressThreshold,
		BatchConcurrency:  cfg.Cache.BatchConcurrency,
		ScanPageSize:      cfg.Cache.ScanPageSize,
		OpTimeout:         cfg.Cache.OpTimeout,
	})
	if err != nil {
		return err
	}

	m, err := metrics.New(cache)
	if err != nil {
		return err
	}

	api := httpapi.New(cache, m, log, httpapi.Config{
		FlushBlocking: cfg.Cache.FlushBlocking,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", tiercache.Fields{"addr": cfg.Server.Addr, "store_mode": cfg.Store.Mode})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", tiercache.Fields{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", tiercache.Fields{"error": err.Error()})
	}
	// Close after the listener stops so in-flight requests keep a live cache.
	// Cache.Close drains replication and closes the store.
	if err := cache.Close(ctx); err != nil {
		return err
	}
	log.Info("stopped", nil)
	return nil
}

// buildLogger constructs the configured backend behind the cache's Logger
// interface. The returned func flushes buffered output on exit.
func buildLogger(cfg config.LoggingConfig) (tiercache.Logger, func(), error) {
	switch cfg.Backend {
	case "logrus":
		l := logrus.New()
		l.SetFormatter(&logrus.JSONFormatter{})
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		l.SetLevel(lvl)
		return logruslog.Logger{L: l}, func() {}, nil

	default: // zap
		var lvl zapcore.Level
		if err := lvl.Set(cfg.Level); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zl, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return zaplog.Logger{L: zl}, func() { _ = zl.Sync() }, nil
	}
}
