// Command cachecored runs a standalone cache-core handle: it opens the
// LMDB-backed cache per its flags, serves Prometheus metrics over
// HTTP, and blocks until it receives a termination signal, at which
// point it syncs and closes the backend before exiting. It does not
// resolve or validate anything itself; resolution, validation, and
// query serving are the resolver's job.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/knotresolver/cachecore/internal/cache"
	"github.com/knotresolver/cachecore/internal/config"
	"github.com/knotresolver/cachecore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaults := config.NewConfig()

	var (
		cachePath   = flag.String("cache-path", defaults.LMDBPath, "Directory the LMDB-backed cache opens its map file(s) in")
		mapSize     = flag.Int64("cache-map-size-bytes", defaults.LMDBMapSizeBytes, "Memory-mapped region size LMDB pre-allocates")
		minTTLSecs  = flag.Int("cache-min-ttl-secs", int(defaults.CacheMinTTL.Seconds()), "Floor applied to every stashed entry's TTL")
		maxTTLSecs  = flag.Int("cache-max-ttl-secs", int(defaults.CacheMaxTTL.Seconds()), "Ceiling applied to every stashed entry's TTL")
		metricsAddr = flag.String("metrics-addr", defaults.MetricsAddr, "Listen address for the /metrics endpoint; empty disables it")
	)
	flag.Parse()

	cfg := &config.Config{
		LMDBPath:         *cachePath,
		LMDBMapSizeBytes: *mapSize,
		CacheMinTTL:      time.Duration(*minTTLSecs) * time.Second,
		CacheMaxTTL:      time.Duration(*maxTTLSecs) * time.Second,
		MetricsAddr:      *metricsAddr,
	}

	collector := metrics.NewCollector()

	c, err := cache.OpenWithBackend(cfg, backend.NewLMDB(cfg.LMDBPath, cfg.LMDBMapSizeBytes), collector)
	if err != nil {
		log.Fatalf("cache open failed: %v", err)
	}
	defer c.Close()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Printf("Serving metrics on %s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down, syncing cache")
	if err := c.Sync(); err != nil {
		log.Printf("final sync failed: %v", err)
	}
}
