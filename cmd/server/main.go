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

	"github.com/joho/godotenv"
	"github.com/npezzotti/campus-connect/internal/api"
	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/config"
	"github.com/npezzotti/campus-connect/internal/database"
	"github.com/npezzotti/campus-connect/internal/presence"
	"github.com/npezzotti/campus-connect/internal/server"
	"github.com/npezzotti/campus-connect/internal/stats"
	"github.com/redis/go-redis/v9"
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
	redisAddr      string
	allowedOrigins stringSliceFlag
)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	logger := log.New(os.Stderr, "[campus-connect] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), `database connection string, or "memory" for the in-memory store`)
	flag.StringVar(&signingKey, "signing-key", envOr("JWT_SECRET", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", envOr("REDIS_ADDR", ""), "redis address for last-active tracking, disabled when empty")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := envOr("ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, redisAddr)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.ChatRepository
	if cfg.InMemory() {
		logger.Println("using in-memory chat store")
		repo = database.NewMemChatRepository()
	} else {
		pg, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()

		if err := pg.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
		repo = pg
	}

	var recorder presence.ActivityRecorder
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping:", err)
		}
		recorder = presence.NewRedisActivityRecorder(rdb)
	}

	registry := presence.NewRegistry(logger, recorder)
	registry.Start()
	defer registry.Stop()

	matches := chat.NewMatches(repo)
	store := chat.NewStore(repo, matches)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, store, matches, registry, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, store, matches, registry, cfg)

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
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
