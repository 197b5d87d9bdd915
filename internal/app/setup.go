package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/hue"
	"github.com/dokzlo13/ambilightd/internal/kv"
)

// EnsureHueSetup returns usable bridge credentials, in priority order:
// persisted pairing state, complete config credentials, or a fresh pairing
// (discovering the bridge first when hue.host is unset). Fresh results are
// persisted so the next start skips the dance.
func EnsureHueSetup(ctx context.Context, cfg *config.Config, store *kv.SetupStore) (*kv.HueSetup, error) {
	saved, err := store.Hue()
	if err != nil {
		return nil, err
	}
	if saved != nil && saved.Host != "" && saved.Username != "" && saved.ClientKey != "" {
		log.Debug().Str("host", saved.Host).Msg("Using persisted bridge credentials")
		return saved, nil
	}

	if cfg.Hue.Host != "" && cfg.Hue.Username != "" && cfg.Hue.ClientKey != "" {
		setup := &kv.HueSetup{
			Host:           cfg.Hue.Host,
			Identification: cfg.Hue.Identification,
			Username:       cfg.Hue.Username,
			AppID:          cfg.Hue.AppID,
			ClientKey:      cfg.Hue.ClientKey,
			AreaID:         cfg.Hue.AreaID,
		}
		if err := store.SaveHue(setup); err != nil {
			log.Warn().Err(err).Msg("Failed to persist bridge credentials")
		}
		return setup, nil
	}

	host := cfg.Hue.Host
	if host == "" {
		log.Info().Msg("No bridge configured, discovering...")
		host, err = hue.DiscoverBridgeHost(ctx)
		if err != nil {
			return nil, fmt.Errorf("bridge discovery failed: %w", err)
		}
		log.Info().Str("host", host).Msg("Found Hue bridge")
	}

	creds, err := hue.Pair(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("bridge pairing failed: %w", err)
	}

	setup := &kv.HueSetup{
		Host:           creds.Host,
		Identification: creds.Identification,
		Username:       creds.Username,
		AppID:          creds.AppID,
		ClientKey:      creds.ClientKey,
		AreaID:         cfg.Hue.AreaID,
	}
	if err := store.SaveHue(setup); err != nil {
		log.Warn().Err(err).Msg("Failed to persist bridge credentials")
	}
	return setup, nil
}

// Discover runs the one-shot setup flow: pair with the bridge (discovering
// it if needed), persist the credentials and print the entertainment areas
// so the user can fill in the lights section of the config.
func Discover(ctx context.Context, cfg *config.Config) error {
	s, err := NewServices(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	setup, err := EnsureHueSetup(ctx, cfg, s.Setup)
	if err != nil {
		return err
	}

	bridge := hue.NewClient(setup.Host, setup.Username, cfg.Hue.Timeout.Duration())
	if err := bridge.Connect(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	areas, err := bridge.ListAreas(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Bridge: %s (%s)\n", setup.Host, setup.Identification)
	for i, area := range areas {
		fmt.Printf("\nArea %d: %s (%s)\n", i, area.Name, area.ID)
		for _, ch := range area.Channels {
			fmt.Printf("  channel %2d: %s\n", ch.ChannelID, ch.Name)
		}
	}
	return nil
}

// VerifyTV samples the TV once and prints the zone colors, for checking the
// connection settings and picking zone indices for the light mapping.
func VerifyTV(ctx context.Context, cfg *config.Config) error {
	s, err := NewServices(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := s.buildTVClient()
	if err != nil {
		return err
	}

	frame, err := client.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sample failed: %w", err)
	}

	fmt.Printf("TV answered with %d zones:\n", frame.Zones())
	for i, c := range frame {
		fmt.Printf("  zone %2d: %s (%s)\n", i, c.Hex(), c.Name())
	}

	if ps, err := client.PowerState(ctx); err == nil {
		fmt.Printf("powerstate: %s\n", ps)
	}
	return nil
}

// VerifyHue connects to the bridge and prints the configured entertainment
// area with its channels, without opening a streaming session.
func VerifyHue(ctx context.Context, cfg *config.Config) error {
	s, err := NewServices(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	setup, err := EnsureHueSetup(ctx, cfg, s.Setup)
	if err != nil {
		return err
	}

	s.Bridge = hue.NewClient(setup.Host, setup.Username, cfg.Hue.Timeout.Duration())
	if err := s.Bridge.Connect(ctx); err != nil {
		return err
	}

	areaID, err := s.resolveArea(ctx, setup)
	if err != nil {
		return err
	}

	area, err := s.Bridge.GetEntertainmentConfiguration(ctx, areaID)
	if err != nil {
		return err
	}

	fmt.Printf("Bridge: %s (%s)\n", setup.Host, setup.Identification)
	fmt.Printf("Area: %s (%s), status: %s\n", area.Metadata.Name, area.ID, area.Status)
	for _, ch := range area.Channels {
		fmt.Printf("  channel %2d\n", ch.ChannelID)
	}
	return nil
}
