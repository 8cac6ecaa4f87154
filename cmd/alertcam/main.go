package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/alertcam/internal/api"
	"github.com/banshee-data/alertcam/internal/config"
	"github.com/banshee-data/alertcam/internal/version"
)

var (
	configFile = flag.String("config", config.DefaultConfigPath, "Path to JSON config file (built-in defaults are used when empty, or when the default file is absent)")
	devMode    = flag.Bool("dev", false, "Run in dev mode (static detector, looping playback sources)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	source     = flag.String("source", "", "Camera index, stream URL, image directory or .mjpeg recording (overrides config)")
	autoStart  = flag.Bool("start", false, "Start the pipeline immediately")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads the config file, if any, and applies flag overrides. A
// missing file at config.DefaultConfigPath falls back to built-in defaults
// so the binary also runs outside the repository root.
func loadConfig(path, listenAddr, sourceID string) (*config.Config, error) {
	cfg := config.EmptyConfig()
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Printf("no config at %s, using built-in defaults", path)
			path = ""
		}
	}
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	return cfg.WithOverrides(listenAddr, sourceID), nil
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(*configFile, *listen, *source)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctrl, store, err := buildController(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Printf("pipeline close error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autoStart {
		if err := ctrl.Start(ctx); err != nil {
			log.Printf("failed to start pipeline: %v", err)
		}
	}

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(ctx, ctrl, store.Dir())
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s (source %q)", cfg.GetListen(), cfg.GetSource())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		// Streaming handlers only return once the pipeline publishes or the
		// request is cancelled, so a failed graceful shutdown is expected
		// while clients are watching.
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
