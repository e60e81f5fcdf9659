// Command dynaproxy is the entry point: load configuration, build the
// Store/Router/Proxy/Management-API/Error-Handler components, and run the
// proxy and management HTTP servers side by side until signaled to drain.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/dynaproxy/internal/api"
	"github.com/skywalker-88/dynaproxy/internal/errorhandler"
	"github.com/skywalker-88/dynaproxy/internal/pidfile"
	"github.com/skywalker-88/dynaproxy/internal/proxy"
	"github.com/skywalker-88/dynaproxy/internal/router"
	"github.com/skywalker-88/dynaproxy/internal/store"
	"github.com/skywalker-88/dynaproxy/pkg/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfgPath := os.Getenv("DYNAPROXY_CONFIG")
	cfg, err := config.Load(cfgPath, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := pidfile.Write(cfg.PidFile); err != nil {
		log.Fatal().Err(err).Msg("write pid file")
	}
	defer func() {
		if err := pidfile.Remove(cfg.PidFile); err != nil {
			log.Warn().Err(err).Msg("remove pid file")
		}
	}()

	ctx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := buildStore(ctx, cfg)
	cancelBoot()
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("build storage backend")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage backend")
		}
	}()

	rt := router.New(st)
	if cfg.DefaultTarget != "" {
		seedCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.SeedDefault(seedCtx, cfg.DefaultTarget); err != nil {
			log.Error().Err(err).Msg("seed default route")
		}
		cancel()
	}

	eh := errorhandler.New(cfg.ErrorTarget, cfg.ErrorPath)
	engine := proxy.New(rt, cfg, eh)
	apiHandler := api.New(st, cfg.AuthToken)

	proxyAddr := net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port))
	apiAddr := net.JoinHostPort(cfg.APIIP, strconv.Itoa(cfg.APIPort))

	proxySrv := &http.Server{
		Addr:              proxyAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	apiSrv := &http.Server{
		Addr:              apiAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("proxy_addr", proxyAddr).
		Str("api_addr", apiAddr).
		Str("storage_backend", cfg.StorageBackend).
		Str("log_level", zerolog.GlobalLevel().String()).
		Msg("dynaproxy starting")

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", proxySrv.Addr).Msg("proxy listening")
		if err := proxySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() {
		log.Info().Str("addr", apiSrv.Addr).Msg("management api listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed; shutting down")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := proxySrv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("proxy server shutdown did not complete in time; forcing close")
		_ = proxySrv.Close()
	}
	if err := apiSrv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown did not complete in time; forcing close")
		_ = apiSrv.Close()
	}

	log.Info().Msg("dynaproxy exited")
}

// buildStore resolves cfg.StorageBackend through the store registry,
// wiring a Redis client when the backend needs one (spec.md §9's
// registered-factory design).
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	opts := store.Options{
		DatabaseURL:   cfg.DatabaseURL,
		DatabaseTable: cfg.DatabaseTable,
	}

	if cfg.StorageBackend == "redis" {
		addr := cfg.DatabaseURL
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis not reachable yet")
		}
		opts.RedisClient = rdb
		opts.RedisHashKey = cfg.DatabaseTable
	}

	return store.New(ctx, cfg.StorageBackend, opts)
}
