package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/db"
	"github.com/dokzlo13/ambilightd/internal/engine"
	"github.com/dokzlo13/ambilightd/internal/hue"
	"github.com/dokzlo13/ambilightd/internal/hue/stream"
	"github.com/dokzlo13/ambilightd/internal/kv"
	"github.com/dokzlo13/ambilightd/internal/mixer"
	"github.com/dokzlo13/ambilightd/internal/tv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB    *db.DB
	Setup *kv.SetupStore

	// Domain services, built in Start once pairing state is resolved
	TV     *tv.Client
	Bridge *hue.Client
	Stream *stream.Manager
	Engine *engine.Engine

	Health *HealthService

	mu        sync.Mutex
	engineErr error
}

// NewServices creates all services with proper dependency injection.
// Network-facing pieces (bridge connection, pairing) are deferred to Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize setup store (persisted pairing state)
	s.Setup = kv.NewSetupStore(kv.NewBucket(database.DB, kv.SetupBucketName()))

	// Initialize health service
	s.Health = NewHealthService(cfg)

	return s, nil
}

// Start resolves pairing state, connects to the TV and the bridge, and
// launches the sync loop. The onFatalError callback is called when the
// engine exits with a terminal error.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	tvClient, err := s.buildTVClient()
	if err != nil {
		return err
	}
	s.TV = tvClient

	setup, err := EnsureHueSetup(ctx, s.cfg, s.Setup)
	if err != nil {
		return err
	}

	s.Bridge = hue.NewClient(setup.Host, setup.Username, s.cfg.Hue.Timeout.Duration())
	if err := s.Bridge.Connect(ctx); err != nil {
		return fmt.Errorf("bridge connection failed: %w", err)
	}
	log.Info().Str("host", setup.Host).Str("bridge", setup.Identification).Msg("Connected to Hue bridge")

	areaID, err := s.resolveArea(ctx, setup)
	if err != nil {
		return err
	}

	s.Stream = stream.NewManager(stream.Config{
		Host:             setup.Host,
		AppKey:           setup.Username,
		ClientKey:        setup.ClientKey,
		AreaID:           areaID,
		HandshakeTimeout: s.cfg.Stream.HandshakeTimeout.Duration(),
		SendTimeout:      s.cfg.Stream.SendTimeout.Duration(),
		MaxSendFailures:  s.cfg.Stream.MaxSendFailures,
	}, s.Bridge)

	s.Engine = engine.New(engine.Options{
		Fixtures:             fixturesFromConfig(s.cfg.Lights),
		ZoneCount:            s.cfg.TV.ZoneCount,
		RefreshRate:          time.Duration(s.cfg.Engine.RefreshRateMs) * time.Millisecond,
		IdleRefreshRate:      time.Duration(s.cfg.Engine.IdleRefreshRateMs) * time.Millisecond,
		RetryBackoff:         s.cfg.Engine.RetryBackoff.Duration(),
		Smoothing:            s.cfg.Engine.TransitionSmoothing,
		BlackScreenTimeout:   time.Duration(s.cfg.Engine.BlackScreenTimeoutS) * time.Second,
		BlackScreenThreshold: uint8(s.cfg.Engine.BlackScreenThreshold),
		WaitForStartup:       time.Duration(s.cfg.Engine.WaitForStartupS) * time.Second,
		PowerOnGrace:         time.Duration(s.cfg.Engine.PowerOnTimeS) * time.Second,
		ErrorThreshold:       s.cfg.Engine.RuntimeErrorThreshold,
	}, s.TV, s.Stream)

	go func() {
		err := s.Engine.Run(ctx)
		if err != nil {
			s.mu.Lock()
			s.engineErr = err
			s.mu.Unlock()
			onFatalError(err)
		}
	}()

	s.Health.SetSnapshotter(s.Engine)
	s.Health.Start(ctx)

	return nil
}

// buildTVClient merges persisted TV pairing state over the config and
// constructs the JointSpace client.
func (s *Services) buildTVClient() (*tv.Client, error) {
	tvCfg := tv.Config{
		Host:          s.cfg.TV.Host,
		Port:          s.cfg.TV.Port,
		APIVersion:    s.cfg.TV.APIVersion,
		User:          s.cfg.TV.User,
		Password:      s.cfg.TV.Password,
		SampleTimeout: s.cfg.TV.SampleTimeout.Duration(),
	}

	saved, err := s.Setup.TV()
	if err != nil {
		return nil, err
	}
	if saved != nil {
		if saved.Host != "" {
			tvCfg.Host = saved.Host
		}
		if saved.User != "" {
			tvCfg.User = saved.User
			tvCfg.Password = saved.Password
		}
	}

	if tvCfg.Host == "" {
		return nil, fmt.Errorf("no TV host configured: set tv.host")
	}

	return tv.NewClient(tvCfg), nil
}

// resolveArea picks the entertainment area to stream to: the persisted or
// configured id when present, otherwise the configured index into the
// bridge's area list. The choice is persisted so restarts skip the lookup.
func (s *Services) resolveArea(ctx context.Context, setup *kv.HueSetup) (string, error) {
	areaID := setup.AreaID
	if areaID == "" {
		areaID = s.cfg.Hue.AreaID
	}

	if areaID == "" {
		areas, err := s.Bridge.ListAreas(ctx)
		if err != nil {
			return "", err
		}
		idx := s.cfg.Hue.AreaIndex
		if idx < 0 || idx >= len(areas) {
			return "", fmt.Errorf("hue.area_index %d out of range, bridge has %d entertainment areas", idx, len(areas))
		}
		areaID = areas[idx].ID
		log.Info().Str("area", areas[idx].Name).Str("id", areaID).Msg("Selected entertainment area")

		setup.AreaID = areaID
		if err := s.Setup.SaveHue(setup); err != nil {
			log.Warn().Err(err).Msg("Failed to persist selected area")
		}
	}

	area, err := s.Bridge.GetEntertainmentConfiguration(ctx, areaID)
	if err != nil {
		return "", fmt.Errorf("entertainment area %s: %w", areaID, err)
	}

	known := make(map[uint8]bool, len(area.Channels))
	for _, ch := range area.Channels {
		known[ch.ChannelID] = true
	}
	for _, l := range s.cfg.Lights {
		if !known[uint8(l.Channel)] {
			log.Warn().
				Str("light", l.Name).
				Int("id", l.Channel).
				Str("area", area.Metadata.Name).
				Msg("Configured channel not present in entertainment area")
		}
	}

	return areaID, nil
}

// fixturesFromConfig converts the validated light list into mixer fixtures.
func fixturesFromConfig(lights []config.LightConfig) []mixer.Fixture {
	fixtures := make([]mixer.Fixture, 0, len(lights))
	for _, l := range lights {
		fixtures = append(fixtures, mixer.Fixture{
			Name:    l.Name,
			Channel: uint8(l.Channel),
			Zones:   append([]int(nil), l.Zones...),
		})
	}
	return fixtures
}

// EngineError returns the terminal engine error, if any.
func (s *Services) EngineError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineErr
}

// ClearSetup clears all persisted pairing state.
func (s *Services) ClearSetup() error {
	return s.Setup.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Stream != nil {
		s.Stream.Close()
	}
	if s.Bridge != nil {
		s.Bridge.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
