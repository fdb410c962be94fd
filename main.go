package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playcore/work/buffer"
	"playcore/work/cache"
	"playcore/work/captions"
	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/database"
	"playcore/work/handlers"
	"playcore/work/logger"
	"playcore/work/middleware"
	"playcore/work/prefetch"
	"playcore/work/progress"
	"playcore/work/resolver"
	"playcore/work/scrape"
	"playcore/work/session"
	"playcore/work/subtitles"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// stdlib logger for the database layer
	dbLogger := log.New(os.Stdout, "[PLAYCORE] ", log.LstdFlags)

	// Initialize buffer pool for segment prefetch drains
	bufferPool := buffer.NewPool(64 * 1024)

	// Initialize HTTP client
	httpClient := client.New(cfg)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Open the document store
	db, err := database.Open(cfg.DatabasePath, dbLogger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Prefetched scrape results, swept periodically
	prefetched := cache.NewPrefetchedResults(cfg.PrefetchedResultTTL)
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.PrefetchedResultTTL)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				prefetched.Sweep()
			}
		}
	}()
	defer close(sweepDone)

	// Shared collaborators
	captionEngine := captions.NewEngine(cfg, httpClient)
	defer captionEngine.Close()
	warmer := prefetch.NewWarmer(cfg, httpClient, workerPool, bufferPool)
	scraper := scrape.NewHTTPScraper(cfg, httpClient)
	subtitleService := subtitles.NewService(cfg, httpClient)

	var progressStore progress.Store = db
	manager := session.NewManager(session.Deps{
		Cfg:        cfg,
		HTTPClient: httpClient,
		Captions:   captionEngine,
		Warmer:     warmer,
		Progress:   progressStore,
		Party:      db,
		NewResolver: func() *resolver.Resolver {
			return resolver.New(cfg, scraper, prefetched, subtitleService)
		},
	})
	defer manager.CloseAll()

	// Setup HTTP routes
	router := mux.NewRouter()

	// Session lifecycle
	router.HandleFunc("/api/sessions", middleware.Gzip(handlers.HandleOpenSession(manager))).Methods("POST")
	router.HandleFunc("/api/sessions/{id}", middleware.Gzip(handlers.HandleSessionStatus(manager))).Methods("GET")
	router.HandleFunc("/api/sessions/{id}", handlers.HandleCloseSession(manager)).Methods("DELETE")

	// Playback control and remote element reporting
	router.HandleFunc("/api/sessions/{id}/report", handlers.HandleReport(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/error", handlers.HandleReportError(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/play", handlers.HandlePlay(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/pause", handlers.HandlePause(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/seek", handlers.HandleSeek(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/episode", handlers.HandleChangeEpisode(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/quality", handlers.HandleSelectQuality(manager)).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/captions", handlers.HandleSelectCaption(manager)).Methods("POST")

	// Watch parties
	router.HandleFunc("/api/party", handlers.HandleCreateRoom(db)).Methods("POST")
	router.HandleFunc("/api/party/{room}", middleware.Gzip(handlers.HandleRoomState(db))).Methods("GET")
	router.HandleFunc("/api/party/{room}/chat", handlers.HandleSendChat(db)).Methods("POST")
	router.HandleFunc("/api/party/{room}/chat", middleware.Gzip(handlers.HandleListChat(db))).Methods("GET")

	// Watch progress
	router.HandleFunc("/api/profiles/{profile}/progress", middleware.Gzip(handlers.HandleListProgress(db))).Methods("GET")
	router.HandleFunc("/api/profiles/{profile}/progress", handlers.HandleDeleteProgress(db)).Methods("DELETE")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// show info
	logger.Info("Starting Playcore %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Scrape Endpoint: %s", cfg.ScrapeEndpoint)
	logger.Info("  - Target/Max Height: %dp/%dp", cfg.TargetHeight, cfg.MaxHeight)
	logger.Info("  - Prefetch Window: %s", cfg.PrefetchWindow)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// shut down cleanly on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("Shutdown requested, draining sessions...")
		manager.CloseAll()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
