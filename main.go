package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/handlers"
	"polymarket-copytrader/models"
	"polymarket-copytrader/service"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("COPYTRADER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	// Live trading needs a signing key; without one the engine still
	// observes and records, it just cannot execute.
	var executor syncer.OrderExecutor
	var monitor *syncer.Monitor

	auth, err := api.NewAuth()
	if err != nil {
		if cfg.Copy.TradingActive {
			log.Fatalf("trading_active but no signing key: %v", err)
		}
		log.Printf("[main] no signing key (%v), running in observe mode", err)
		executor = noopExecutor{}
	} else {
		clob := api.NewClobClient(os.Getenv("POLYMARKET_CLOB_URL"), auth)
		executor = syncer.NewClobExecutor(clob, func(marketID string) (float64, bool) {
			return monitor.PositionSize(marketID)
		})
	}

	feed := api.NewFeedClient(os.Getenv("POLYMARKET_DATA_URL"))
	monitor = syncer.NewMonitor(feed, executor, store, cfg.Copy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("failed to start monitor: %v", err)
	}

	var userFeed *api.UserFeed
	if cfg.Copy.RealtimeFeedEnabled {
		userFeed = api.NewUserFeed(monitor.HandleRealtimeFill)
		userFeed.SetWatched(monitor.TraderAddresses())
		userFeed.Start(ctx)
		log.Println("[main] realtime user feed enabled")
	}

	refresher := syncer.NewTraderRefresher(api.NewDiscoveryClient(), monitor, cfg.Analytics)
	if err := refresher.Start(ctx); err != nil {
		log.Fatalf("failed to start trader refresher: %v", err)
	}

	svc := service.NewService(store, monitor)

	r := gin.Default()
	h := handlers.NewHandler(svc)
	h.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.Printf("Server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[main] shutting down")

	// Order matters: stop ingesting first, then cancel scheduled intents
	// and wait for in-flight orders, then close the outer surfaces.
	if userFeed != nil {
		userFeed.Stop()
	}
	refresher.Stop()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] server shutdown: %v", err)
	}
}

// noopExecutor rejects every order; used when no signing key is present.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, intent models.CopyIntent) (string, float64, float64, error) {
	return "", 0, 0, errors.New("no signing key configured")
}

func openStore(cfg *config.Config) (storage.RecordStore, error) {
	if cfg.Data.Backend == "postgres" {
		return storage.NewPostgres()
	}
	return storage.New(cfg.Data.DBPath)
}
