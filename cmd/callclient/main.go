package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/api"
	"github.com/atrium/callkit/internal/call"
	"github.com/atrium/callkit/internal/config"
	"github.com/atrium/callkit/internal/devices"
	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
	"github.com/atrium/callkit/internal/status"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	user, err := domain.NewUser(cfg.DisplayName)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid display name")
	}

	prefs, err := devices.OpenPrefStore(cfg.DevicePrefsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DevicePrefsPath).Msg("device pref store")
	}
	defer prefs.Close()

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.APIToken)
	source := devices.NewSource(prefs)

	manager := call.NewManager(call.Options{
		API:    apiClient,
		User:   user,
		Device: domain.DeviceInfo{Flag: "go", Name: "callkit", Version: "1.0"},
		NewEngine: func() (media.Engine, error) {
			return media.NewPionEngine()
		},
		Source:           source,
		Sounds:           call.LogSounds{},
		Lock:             call.NopWakeLock{},
		ConsumerReplicas: cfg.ConsumerReplicas,
	})

	r := status.SetupRouter(cfg.Mode, manager, apiClient, source)
	addr := fmt.Sprintf(":%d", cfg.StatusPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call client control endpoint started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	manager.LeaveCall()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
