package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/application/alarms"
	"github.com/caretech/alarm-sync/internal/pkg/application/config"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/router"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/tracing"
	"github.com/caretech/alarm-sync/internal/pkg/presentation/api"
)

const serviceName string = "alarm-kiosk"

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	configFile := flag.String("config", "/etc/alarm-sync/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	connect := database.NewSQLiteConnector(ctx, cfg.Database.FilePath)

	zones, err := database.NewZoneRepository(connect)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to zone repository")
	}

	alarmRepo, err := database.NewAlarmRepository(connect)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to alarm repository")
	}

	registry, err := database.NewRegistryRepository(connect)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to registry repository")
	}

	flags, err := database.NewControlFlags(connect)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to control flags")
	}

	alarmSvc := alarms.New(alarmRepo, zones, registry, flags, alarms.Config{
		CooldownDuration: cfg.Scanner.Cooldown(),
	})

	r := router.New(serviceName)
	api.RegisterHandlers(ctx, r, alarmSvc, alarmRepo, zones, registry, flags, api.Config{
		HeartbeatStale: cfg.Kiosk.HeartbeatStale(),
	})

	addr := net.JoinHostPort(cfg.Kiosk.ListenAddress, cfg.Kiosk.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", addr).Msg("listening for connections")

	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("failed to start request router")
	}

	logger.Info().Msg("shutting down")
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
