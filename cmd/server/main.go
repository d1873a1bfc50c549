package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-gateway/internal/apidir"
	apirepo "auth-gateway/internal/apidir/repository"
	"auth-gateway/internal/cache"
	clientrepo "auth-gateway/internal/client/repository"
	"auth-gateway/internal/config"
	"auth-gateway/internal/db"
	"auth-gateway/internal/gateway"
	"auth-gateway/internal/mailer"
	"auth-gateway/internal/proxy"
	"auth-gateway/internal/ratelimit"
	"auth-gateway/internal/security"
	"auth-gateway/internal/server"
	sessionhandler "auth-gateway/internal/session/handler"
	sessionrepo "auth-gateway/internal/session/repository"
	sessionservice "auth-gateway/internal/session/service"
	"auth-gateway/internal/throttle"
	userrepo "auth-gateway/internal/user/repository"
	"auth-gateway/internal/verification"
	verifrepo "auth-gateway/internal/verification/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	var store cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		store = redisCache
	} else {
		store = cache.NewMemory()
	}

	var asserter *security.Asserter
	if cfg.SignAssertions {
		asserter, err = security.NewAsserter(cfg.AssertionKey, cfg.ServiceName, 30*time.Second)
		if err != nil {
			log.Fatalf("assertion key: %v", err)
		}
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.MailerURL != "" {
		mail = mailer.NewHTTPMailer(cfg.MailerURL, cfg.MailerAPIKey, cfg.MailerFrom)
	} else {
		slog.Warn("MAILER_URL is not set; emailed codes will be written to the log")
	}

	clients := clientrepo.NewPostgresRepository(database)
	users := userrepo.NewPostgresRepository(database)
	sessions := sessionrepo.NewPostgresRepository(database)
	apis := apidir.NewService(apirepo.NewPostgresRepository(database), store, cfg.CacheLifetime())
	codes := verification.NewService(verifrepo.NewPostgresRepository(database))
	hasher := security.NewHasher(cfg.BcryptCost)

	lifecycle := sessionservice.New(sessionservice.Config{
		Sessions:     sessions,
		Users:        users,
		Codes:        codes,
		Mail:         mail,
		Hasher:       hasher,
		Throttle:     throttle.New(cfg.ThrottleReqs, cfg.ThrottleWindow()),
		SessionTTL:   cfg.SessionLifetime(),
		TokenTTL:     cfg.SessionTokenLifetime(),
		LoginCodeTTL: cfg.LoginCodeLifetime(),
	})

	pipeline := gateway.New(gateway.Options{
		Clients:            clients,
		Users:              users,
		Sessions:           sessions,
		APIs:               apis,
		Cache:              store,
		Hasher:             hasher,
		Limiter:            ratelimit.New(),
		CacheTTL:           cfg.CacheLifetime(),
		SecretTTL:          cfg.SecretCacheLifetime(),
		DebugKey:           cfg.DebugKey,
		UnidentifiedPerSec: cfg.UnidentifiedReqsPerSec,
		SkipPaths:          []string{"/healthz", "/metrics"},
	})

	forwarder := proxy.New(apis, asserter, cfg.AuthHeaderName, cfg.ProxyResponseTimeout())

	router := server.NewRouter(server.Options{
		Gateway:          pipeline,
		Sessions:         sessionhandler.New(lifecycle),
		Proxy:            forwarder.Handler(),
		MetricsEnabled:   cfg.MetricsEnabled,
		AllowCorsCookies: cfg.AllowCorsCookies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("gateway listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}
