package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Pairing polls every pairPollInterval while waiting for the link button.
const pairPollInterval = 5 * time.Second

// Credentials is the result of a successful bridge pairing.
type Credentials struct {
	Host           string
	Identification string
	Username       string // hue-application-key
	AppID          string
	ClientKey      string // DTLS PSK, hex
}

// insecureHTTPClient talks to the bridge's self-signed endpoint.
func insecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// DiscoverBridgeHost finds a bridge on the local network via the Philips
// discovery portal. The portal works where mDNS does not (containers).
func DiscoverBridgeHost(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://discovery.meethue.com/", nil)
	if err != nil {
		return "", err
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", fmt.Errorf("discovery portal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery portal returned status %d", resp.StatusCode)
	}

	var bridges []struct {
		ID                string `json:"id"`
		InternalIPAddress string `json:"internalipaddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bridges); err != nil {
		return "", err
	}
	if len(bridges) == 0 || bridges[0].InternalIPAddress == "" {
		return "", fmt.Errorf("no bridges found via discovery portal")
	}

	log.Info().Str("host", bridges[0].InternalIPAddress).Msg("Found Hue bridge via discovery portal")
	return bridges[0].InternalIPAddress, nil
}

// Pair registers this application with the bridge at host. The user must
// press the link button; Pair polls until the bridge accepts or ctx expires.
func Pair(ctx context.Context, host string) (*Credentials, error) {
	appID := fmt.Sprintf("ambilightd#%s", uuid.NewString()[:8])
	httpClient := insecureHTTPClient(5 * time.Second)

	log.Warn().Str("host", host).Msg("Press the link button on the Hue bridge now")

	for {
		creds, err := tryPair(ctx, httpClient, host, appID)
		if err != nil {
			return nil, err
		}
		if creds != nil {
			log.Info().Str("host", host).Str("app_id", appID).Msg("Paired with Hue bridge")
			return creds, nil
		}

		log.Info().Msg("Waiting for bridge link button press...")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bridge pairing timed out: %w", ctx.Err())
		case <-time.After(pairPollInterval):
		}
	}
}

// tryPair does a single pairing attempt. Returns (nil, nil) while the link
// button has not been pressed (bridge error type 101).
func tryPair(ctx context.Context, httpClient *http.Client, host, appID string) (*Credentials, error) {
	payload, _ := json.Marshal(map[string]any{
		"devicetype":        appID,
		"generateclientkey": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("https://%s/api", host), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach bridge at %s: %w", host, err)
	}
	defer resp.Body.Close()

	var result []struct {
		Success *struct {
			Username  string `json:"username"`
			ClientKey string `json:"clientkey"`
		} `json:"success,omitempty"`
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("unexpected pairing response: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty pairing response")
	}

	item := result[0]
	if item.Success != nil && item.Success.Username != "" && item.Success.ClientKey != "" {
		creds := &Credentials{
			Host:      host,
			Username:  item.Success.Username,
			AppID:     appID,
			ClientKey: item.Success.ClientKey,
		}
		if bc, err := fetchBridgeConfig(ctx, httpClient, host, creds.Username); err == nil {
			creds.Identification = bc.BridgeID
		}
		return creds, nil
	}
	if item.Error != nil {
		// Type 101: link button not pressed yet
		if item.Error.Type == 101 {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge error: %s", item.Error.Description)
	}

	return nil, fmt.Errorf("unexpected pairing response")
}

func fetchBridgeConfig(ctx context.Context, httpClient *http.Client, host, username string) (*BridgeConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://%s/api/%s/config", host, username), nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cfg BridgeConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AreaChannel is one channel of a discovered entertainment area, resolved to
// a light name where the bridge exposes one.
type AreaChannel struct {
	ChannelID uint8
	Name      string
}

// DiscoveredArea is one entertainment area with its channels.
type DiscoveredArea struct {
	ID       string
	Name     string
	Channels []AreaChannel
}

// ListAreas returns all entertainment areas with their channels resolved to
// light names, for setup output.
func (c *Client) ListAreas(ctx context.Context) ([]DiscoveredArea, error) {
	configs, err := c.GetEntertainmentConfigurations(ctx)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no entertainment areas found; create one in the Hue app first")
	}

	names, err := c.GetLightNames(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch light names, channels will be unnamed")
		names = map[string]string{}
	}

	areas := make([]DiscoveredArea, 0, len(configs))
	for _, cfg := range configs {
		area := DiscoveredArea{ID: cfg.ID, Name: cfg.Metadata.Name}
		for i, ch := range cfg.Channels {
			name := fmt.Sprintf("Light %d", ch.ChannelID)
			for _, m := range ch.Members {
				if n, ok := names[m.Service.RID]; ok {
					name = n
					break
				}
			}
			// Fall back to light_services, same order as channels
			if name == fmt.Sprintf("Light %d", ch.ChannelID) && i < len(cfg.LightServices) {
				if n, ok := names[cfg.LightServices[i].RID]; ok {
					name = n
				}
			}
			area.Channels = append(area.Channels, AreaChannel{ChannelID: ch.ChannelID, Name: name})
		}
		areas = append(areas, area)
	}

	return areas, nil
}
