package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/bloomstock/backoffice/internal/api"
	"github.com/bloomstock/backoffice/internal/config"
	"github.com/bloomstock/backoffice/internal/currency"
	"github.com/bloomstock/backoffice/internal/importlog"
	"github.com/bloomstock/backoffice/internal/inbox"
	"github.com/bloomstock/backoffice/internal/inventory"
	"github.com/bloomstock/backoffice/internal/invoice"
	"github.com/bloomstock/backoffice/internal/pkg/distlock"
	"github.com/bloomstock/backoffice/internal/pricing"
)

// checkPortAvailable verifies that the target port is not already in
// use, which otherwise surfaces as a confusing bind error mid-startup.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Bloomstock back-office server starting")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check failed: %v", err)
	}

	// Postgres: import log, checksum guard, audit trail
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("Ping database at %s: %v", extractHost(cfg.Database.URL), err)
	}
	log.Printf("[db] connected to %s", extractHost(cfg.Database.URL))

	store := importlog.NewStore(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Ensure schema: %v", err)
	}

	// Redis: currency rate cache + manual override
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[redis] ping %s failed (rate cache degraded): %v", cfg.Redis.Addr, err)
	}

	rates := currency.NewProvider(currency.Config{
		RateURL:        cfg.Currency.RateURL,
		CacheTTL:       cfg.Currency.CacheTTL(),
		FallbackRate:   cfg.Currency.FallbackRate,
		TimeoutSeconds: cfg.Currency.TimeoutSeconds,
	}, rdb)

	catalog := inventory.NewClient(inventory.Config{
		BaseURL:        cfg.Inventory.BaseURL,
		APIToken:       cfg.Inventory.APIToken,
		TimeoutSeconds: cfg.Inventory.TimeoutSeconds,
	})

	importer := invoice.NewService(catalog, store)
	importer.SetDistLock(distlock.NewLock(rdb, db, "invoice:apply", 2*time.Minute))
	pricingSvc := pricing.NewService(catalog)

	var watcher *inbox.Watcher
	if cfg.Inbox.Enabled && cfg.Inbox.S3Bucket != "" {
		watcher, err = inbox.NewWatcher(store, importer, inbox.Config{
			Bucket:     cfg.Inbox.S3Bucket,
			Region:     cfg.Inbox.S3Region,
			AWSProfile: cfg.Inbox.AWSProfile,
			Interval:   time.Duration(cfg.Inbox.IntervalMinutes) * time.Minute,
		})
		if err != nil {
			log.Printf("[inbox] watcher disabled: %v", err)
			watcher = nil
		} else {
			watcher.Start()
			log.Printf("[inbox] watching s3://%s every %dm", cfg.Inbox.S3Bucket, cfg.Inbox.IntervalMinutes)
		}
	}

	handlers := api.NewHandlers(importer, store, rates, pricingSvc, watcher, cfg.Import)
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	if watcher != nil {
		watcher.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	store.Close()
	rdb.Close()

	log.Println("Server stopped")
}
