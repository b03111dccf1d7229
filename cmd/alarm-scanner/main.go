package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/caretech/alarm-sync/internal/pkg/application/alarms"
	"github.com/caretech/alarm-sync/internal/pkg/application/config"
	"github.com/caretech/alarm-sync/internal/pkg/application/scanner"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/logging"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/tracing"
	"github.com/caretech/alarm-sync/pkg/axpro"
)

const serviceName string = "alarm-scanner"

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

	panel := axpro.New(cfg.Panel.Host, cfg.Panel.Username, cfg.Panel.Password, cfg.Panel.RequestTimeout())

	s := scanner.New(panel, zones, alarmSvc, flags, scanner.Config{
		PollInterval:     cfg.Scanner.PollInterval(),
		PollJitter:       cfg.Scanner.PollJitter(),
		Debounce:         cfg.Scanner.Debounce(),
		BurstCount:       cfg.Scanner.BurstCount,
		BurstInterval:    cfg.Scanner.BurstInterval(),
		TransportBackoff: cfg.Scanner.TransportBackoff(),
		Subsystem:        cfg.Panel.Subsystem,
		Login: scanner.RetryPolicy{
			MaxAttempts: cfg.Scanner.LoginMaxAttempts,
			Delay:       cfg.Scanner.LoginDelay(),
			Cooldown:    cfg.Scanner.LoginCooldown(),
		},
	})

	err = s.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("scanner stopped unexpectedly")
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
