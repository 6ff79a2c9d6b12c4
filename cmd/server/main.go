/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points-economy engine server: loads
  configuration, opens the durable store, restores exemption windows,
  and serves the HTTP API with graceful shutdown.

CONFIGURATION (viper: flags < config file < environment):
  listen          HTTP listen address (default :8080)
  store.backend   "sqlite", "file", or "memory" (default sqlite)
  store.path      Database path or state directory (default ./points.db)
  log.level       zerolog level (default info)
  sweep.interval  Expiry sweep interval (default 30s)

  Environment variables use the POINTS_ prefix, e.g. POINTS_LISTEN,
  POINTS_STORE_BACKEND. An optional points.yaml in the working
  directory is honored.

STARTUP SEQUENCE:
  1. Load configuration
  2. Open store, load ledger
  3. Restore persisted exemption windows (deadlines only; callbacks
     are re-registered here)
  4. Start expiry sweeper and HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the sweeper, drain HTTP (30s timeout),
  close the store.
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/economy"
	memstore "github.com/warp/points-engine/economy/store"
	"github.com/warp/points-engine/store/file"
	"github.com/warp/points-engine/store/sqlite"
)

type backend interface {
	economy.Store
	economy.WindowStore
}

func main() {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "./points.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("sweep.interval", "30s")
	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("points")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			bootLog := zerolog.New(os.Stderr)
			bootLog.Fatal().Err(err).Msg("config file unreadable")
		}
	}

	level, err := zerolog.ParseLevel(v.GetString("log.level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	st, closeStore, err := openStore(v)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	ctx := context.Background()
	clock := economy.SystemClock{}

	ledger, err := economy.NewLedger(ctx, st, economy.NewLogAuditor(log), clock, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load ledger")
	}

	exemptions := economy.NewExemptionManager(clock, economy.SystemScheduler{}, st, log)
	exemptions.RestoreFromPersistence(ctx)

	// Shield re-application hook. The enforcement component subscribes
	// here; this binary only logs.
	onExpiry := economy.ExpiryCallback(func(childID economy.ChildID) {
		log.Info().Str("child_id", string(childID)).Msg("exemption window expired; shield should re-apply")
	})
	for _, child := range exemptions.ActiveChildren() {
		exemptions.SetExpiryCallback(child, onExpiry)
	}

	h := &api.Handler{
		Ledger:     ledger,
		Accrual:    economy.NewAccrualEngine(ledger, log),
		Redemption: economy.NewRedemptionEngine(ledger, clock, log),
		Exemptions: exemptions,
		Clock:      clock,
		OnExpiry:   onExpiry,
		Log:        log,
	}

	sweeper := api.NewExpirySweeper(exemptions, log)
	sweeper.CheckInterval = v.GetDuration("sweep.interval")
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         v.GetString("listen"),
		Handler:      api.NewRouter(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func openStore(v *viper.Viper) (backend, func(), error) {
	switch v.GetString("store.backend") {
	case "file":
		st, err := file.New(v.GetString("store.path"))
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "memory":
		return memstore.NewMemory(), func() {}, nil
	default:
		st, err := sqlite.New(v.GetString("store.path"))
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
}
