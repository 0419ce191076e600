package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/gamedayhq/gameday/internal/api"
	"github.com/gamedayhq/gameday/internal/channel"
	"github.com/gamedayhq/gameday/internal/config"
	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/offline"
	"github.com/gamedayhq/gameday/internal/participation"
	"github.com/gamedayhq/gameday/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	cacheDir       string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&cacheDir, "cache-dir", "", "directory for offline snapshots, empty disables the cache endpoints")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[gameday] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, cacheDir)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgGamedayRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.EnsureSchema(); err != nil {
		logger.Fatal("ensure schema:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.RegisterMetric(stats.ActiveConnections)
	statsUpdater.RegisterMetric(stats.LoadedChannels)
	statsUpdater.RegisterMetric(stats.MessagesTotal)
	statsUpdater.RegisterMetric(stats.JoinsTotal)

	ledger := participation.NewLedger(logger, dbConn, statsUpdater)
	channelServer := channel.NewChannelServer(logger, dbConn, ledger, statsUpdater)

	var cache *offline.Cache
	if cfg.CacheDir != "" {
		storage, err := offline.NewFileStorage(cfg.CacheDir)
		if err != nil {
			logger.Fatal("cache storage:", err)
		}
		cache = offline.NewCache(logger, storage)
	}

	srv := api.NewGamedayApp(mux, logger, channelServer, ledger, cache, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down channel server...")
	channelServer.Shutdown()

	logger.Println("shutdown complete")
}
