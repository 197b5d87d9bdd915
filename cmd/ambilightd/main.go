package main

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/app"
	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/engine"
)

// Exit codes, usable from automation wrappers to decide on restarts.
const (
	exitOK         = 0
	exitDeviceLost = 10 // TV disappeared after successful operation
	exitNeverFound = 11 // TV never answered within the startup window
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetSetup := flag.Bool("reset-setup", false, "Clear persisted pairing state on startup")
	discover := flag.Bool("discover", false, "Pair with the bridge and list entertainment areas, then exit")
	verify := flag.String("verify", "", "Check connectivity and exit: 'tv' or 'hue'")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	ctx := app.SignalContext()

	// One-shot modes
	switch {
	case *discover:
		if err := app.Discover(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Discovery failed")
		}
		return
	case *verify == "tv":
		if err := app.VerifyTV(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("TV verification failed")
		}
		return
	case *verify == "hue":
		if err := app.VerifyHue(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Bridge verification failed")
		}
		return
	case *verify != "":
		log.Fatal().Str("verify", *verify).Msg("Unknown verify target, expected 'tv' or 'hue'")
	}

	log.Info().Str("config", configPath).Msg("Starting ambilightd")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset flag
	if *resetSetup {
		log.Info().Msg("Clearing persisted pairing state (--reset-setup)")
		if err := application.ClearSetup(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear pairing state")
		}
	}

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	os.Exit(exitCode(application.RunError()))
}

// exitCode maps the engine's terminal error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, engine.ErrDeviceNeverFound):
		return exitNeverFound
	case errors.Is(err, engine.ErrDeviceLost):
		return exitDeviceLost
	default:
		return 1
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
