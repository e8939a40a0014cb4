package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/krakenlabs/kraken-relay/internal/completion"
	"github.com/krakenlabs/kraken-relay/internal/completion/gemini"
	"github.com/krakenlabs/kraken-relay/internal/completion/loopback"
	"github.com/krakenlabs/kraken-relay/internal/config"
	"github.com/krakenlabs/kraken-relay/internal/httpserver"
	"github.com/krakenlabs/kraken-relay/internal/ledger"
	ledgerpg "github.com/krakenlabs/kraken-relay/internal/ledger/postgres"
	ledgersql "github.com/krakenlabs/kraken-relay/internal/ledger/sqlite"
	"github.com/krakenlabs/kraken-relay/internal/logging"
	"github.com/krakenlabs/kraken-relay/internal/metrics"
	"github.com/krakenlabs/kraken-relay/internal/session"
	sessionmem "github.com/krakenlabs/kraken-relay/internal/session/memory"
	sessionredis "github.com/krakenlabs/kraken-relay/internal/session/redis"
	"github.com/krakenlabs/kraken-relay/internal/tick"
	"github.com/krakenlabs/kraken-relay/internal/version"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize rotating file logging (default enabled when log_file provided)
	logTarget := strings.TrimSpace(cfg.LogFileDaemon)
	if logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, logging.DefaultMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[relayd] ")
		defer rot.Close()
	}
	log.Printf("kraken-relay %s starting env=%s", version.FullInfo(), cfg.Environment)

	store := buildStore(cfg)
	defer store.Close()

	ledgerStore := buildLedger(cfg)
	if ledgerStore != nil {
		defer ledgerStore.Close()
	}

	source := buildSource(cfg)

	collector := metrics.NewCollector()

	processor := tick.New(store, source)
	processor.SetLogger(log.New(log.Writer(), "[relayd/tick] ", log.LstdFlags|log.Lmicroseconds))
	processor.SetMetrics(collector)
	if ledgerStore != nil {
		processor.SetLedger(ledgerStore)
	}

	httpSrv := httpserver.New(processor, store)
	httpSrv.SetMetrics(collector)
	httpSrv.SetPingInterval(cfg.SSEPingInterval)
	if ledgerStore != nil {
		httpSrv.SetLedger(ledgerStore)
	}
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpSrv.Router(),
		// No WriteTimeout: watch streams stay open for the session lifetime.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("relay server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func buildStore(cfg config.RelayConfig) session.Store {
	switch cfg.StoreBackend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis unreachable at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("session store: redis addr=%s db=%d", cfg.RedisAddr, cfg.RedisDB)
		return sessionredis.New(client, 0)
	default:
		log.Printf("session store: memory (single-node)")
		return sessionmem.New()
	}
}

func buildLedger(cfg config.RelayConfig) ledger.Store {
	switch cfg.LedgerBackend {
	case "none":
		log.Printf("tick ledger disabled by configuration")
		return nil
	case "postgres":
		store, err := ledgerpg.New(cfg.LedgerDSN)
		if err != nil {
			log.Fatalf("open postgres ledger: %v", err)
		}
		log.Printf("tick ledger: postgres")
		return store
	default:
		store, err := ledgersql.New(cfg.LedgerPath)
		if err != nil {
			log.Fatalf("open sqlite ledger: %v", err)
		}
		log.Printf("tick ledger: sqlite path=%s", cfg.LedgerPath)
		return store
	}
}

func buildSource(cfg config.RelayConfig) completion.Source {
	useGemini := cfg.CompletionSource == "gemini" ||
		(cfg.CompletionSource == "auto" && strings.TrimSpace(cfg.GeminiAPIKey) != "")
	if useGemini {
		src, err := gemini.New(gemini.Config{
			APIKey:         cfg.GeminiAPIKey,
			BaseURL:        cfg.GeminiBaseURL,
			Model:          cfg.GeminiModel,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			log.Fatalf("gemini source init failed: %v", err)
		}
		log.Printf("completion source: gemini model=%s", cfg.GeminiModel)
		return src
	}
	log.Printf("completion source: loopback (no provider credentials)")
	return loopback.New()
}
