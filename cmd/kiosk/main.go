// Package main is the entry point for the print kiosk agent
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/checkout"
	"github.com/example/printkiosk/internal/config"
	"github.com/example/printkiosk/internal/coordinate"
	"github.com/example/printkiosk/internal/events"
	"github.com/example/printkiosk/internal/handlers"
	"github.com/example/printkiosk/internal/kvstore"
	"github.com/example/printkiosk/internal/middleware"
	"github.com/example/printkiosk/internal/pricing"
	"github.com/example/printkiosk/internal/session"
	"github.com/example/printkiosk/internal/storage"
	"github.com/example/printkiosk/internal/upload"
	"github.com/example/printkiosk/internal/worker"
)

var (
	configFile = flag.String("config", "printkiosk.json", "Configuration file path")
	testConfig = flag.Bool("test-config", false, "Test configuration and exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	if err := config.LoadConfig(*configFile); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *testConfig {
		fmt.Println("Configuration test successful")
		return
	}
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg := config.AppConfig
	fmt.Printf("Print Kiosk Agent v%s\n", version)
	fmt.Printf("Backend pool: %v\n", cfg.Backend.Servers)
	fmt.Printf("Storage provider: %s\n", cfg.Storage.Provider)

	store, err := kvstore.Open(cfg.Server.DataDir)
	if err != nil {
		log.Fatalf("Failed to open data store: %v", err)
	}

	client, err := backend.New(cfg.Backend.Servers, store)
	if err != nil {
		log.Fatalf("Failed to build backend client: %v", err)
	}
	client.SetTimeout(time.Duration(cfg.Backend.TimeoutSeconds) * time.Second)
	api := backend.NewAPI(client)

	provider, err := storage.NewFactory().Create(cfg.Storage.Provider, cfg.Storage.Options)
	if err != nil {
		log.Fatalf("Failed to initialize storage provider: %v", err)
	}

	coord := coordinate.New()
	bus := events.NewBus()
	defer bus.Close()

	pool := worker.NewPool(cfg.Upload.Workers, cfg.Upload.QueueSize)
	defer pool.Stop()

	uploads, err := upload.New(upload.Config{
		StagingDir:  cfg.Server.StagingDir,
		Provider:    provider,
		API:         api,
		Pool:        pool,
		Bus:         bus,
		Concurrency: cfg.Upload.Concurrency,
		MaxFileSize: int64(cfg.Upload.MaxFileSizeMB) << 20,
	})
	if err != nil {
		log.Fatalf("Failed to build upload orchestrator: %v", err)
	}

	sessions := session.NewManager(api, store, coord, bus,
		time.Duration(cfg.Session.TTLHours)*time.Hour)
	pricingSvc := pricing.NewService(api, store, coord,
		time.Duration(cfg.Pricing.TTLMinutes)*time.Minute)
	checkoutSvc := checkout.NewService(api, sessions, uploads, store, bus,
		cfg.Payment.RazorpayKeySecret)

	rootCtx, stopAgent := context.WithCancel(context.Background())
	defer stopAgent()

	hub := handlers.NewHub(bus, cfg.Server.AllowedOrigins)
	go hub.Run(rootCtx)

	// Establish the session in the background so the first UI request
	// finds it ready. The shop being closed just means we poll.
	go bootstrap(rootCtx, sessions)

	httpAPI := handlers.NewAPI(sessions, uploads, pricingSvc, checkoutSvc, hub,
		int64(cfg.Upload.MaxFileSizeMB)<<20)
	handler := middleware.Chain(
		httpAPI.Router(),
		middleware.Logger(),
		middleware.Recover(),
		middleware.CORS(cfg.Server.AllowedOrigins),
	)

	server := &http.Server{
		Addr:    config.Address(),
		Handler: handler,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting kiosk agent on %s", server.Addr)
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down agent...")
	stopAgent()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Agent shutdown complete")
}

// bootstrap polls shop status until the shop opens, then establishes
// the customer session. Requests arriving before this finishes trigger
// their own initialization; the coordinator collapses the duplicates.
func bootstrap(ctx context.Context, sessions *session.Manager) {
	backoff := 5 * time.Second
	for {
		open, err := sessions.ShopOpen(ctx)
		if err != nil {
			log.Printf("Shop status check failed: %v", err)
		} else if open {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}

	if _, err := sessions.Initialize(ctx); err != nil {
		log.Printf("Session initialization failed, the UI will retry: %v", err)
	}
}
