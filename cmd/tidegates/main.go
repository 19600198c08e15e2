package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tidegates/internal/api"
	"github.com/banshee-data/tidegates/internal/config"
	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/optipass"
	"github.com/banshee-data/tidegates/internal/version"
)

var (
	listen     = flag.String("listen", ":8000", "Listen address")
	configFile = flag.String("config", "", "Path to the JSON config file (defaults are used when empty)")
	dataRoot   = flag.String("data", "", "Project data root (overrides data_root from the config)")
	debug      = flag.Bool("debug", false, "Log optimizer command lines and output")
)

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.OptiPassConfig, error) {
	if path == "" {
		return config.DefaultOptiPassConfig(), nil
	}
	return config.LoadOptiPassConfig(path)
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataRoot != "" {
		cfg.DataRoot = dataRoot
	}
	if !cfg.GetKeepWorkDirs() {
		log.Printf("keep_work_dirs is false: /tables and /chart will not find finished runs")
	}

	fs := fsutil.OSFileSystem{}
	catalog, err := api.LoadCatalog(fs, cfg.GetDataRoot())
	if err != nil {
		log.Fatalf("failed to load project catalog: %v", err)
	}
	pipeline := optipass.NewPipelineFromConfig(cfg, fs, optipass.NewRealCommandBuilder())
	if err := optipass.NewOptimizer(cfg.GetOptimizerPath(), cfg.GetLauncher(), fs, nil).CheckInstalled(); err != nil {
		log.Printf("warning: %v; /optipass requests will fail", err)
	}

	log.Printf("tidegates %s: data %s, work %s", version.Info(), cfg.GetDataRoot(), cfg.GetWorkRoot())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(catalog, pipeline, fs, cfg.GetWorkRoot()).ServeMux()
		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Sweeps in flight see their request context cancelled, which
		// kills the running optimizer process.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
