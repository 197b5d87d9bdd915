package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client provides access to the Hue bridge V2 (CLIP) API.
type Client struct {
	address    string
	appKey     string
	httpClient *http.Client
}

// NewClient creates a new Hue client
func NewClient(address, appKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	// Create HTTP client that ignores TLS verification (Hue bridge uses self-signed cert)
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		appKey:  appKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Connect verifies the bridge answers with the configured application key.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.v2Request(ctx, "GET", "resource/bridge", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("hue bridge rejected application key (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Str("address", c.address).Msg("Connected to Hue bridge")
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) v2URL(path string) string {
	return fmt.Sprintf("https://%s/clip/v2/%s", c.address, path)
}

func (c *Client) v2Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.v2URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("hue-application-key", c.appKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// GetEntertainmentConfigurations returns all entertainment areas on the bridge.
func (c *Client) GetEntertainmentConfigurations(ctx context.Context) ([]EntertainmentConfiguration, error) {
	resp, err := c.v2Request(ctx, "GET", "resource/entertainment_configuration", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Data []EntertainmentConfiguration `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Data, nil
}

// GetEntertainmentConfiguration returns one entertainment area by id.
func (c *Client) GetEntertainmentConfiguration(ctx context.Context, id string) (*EntertainmentConfiguration, error) {
	resp, err := c.v2Request(ctx, "GET", fmt.Sprintf("resource/entertainment_configuration/%s", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Data []EntertainmentConfiguration `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("entertainment area '%s' not found", id)
	}

	return &result.Data[0], nil
}

// SetStreamingActive starts or stops streaming ownership of an area. The
// bridge only opens port 2100 for the application that activated the area.
func (c *Client) SetStreamingActive(ctx context.Context, areaID string, active bool) error {
	action := "stop"
	if active {
		action = "start"
	}
	body := strings.NewReader(fmt.Sprintf(`{"action":"%s"}`, action))

	resp, err := c.v2Request(ctx, "PUT", fmt.Sprintf("resource/entertainment_configuration/%s", areaID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to %s streaming: %s", action, string(respBody))
	}

	log.Debug().
		Str("area", areaID).
		Str("action", action).
		Msg("Streaming state changed")

	return nil
}

// GetLightNames maps light and owner-device resource ids to display names,
// used when listing entertainment channels during setup.
func (c *Client) GetLightNames(ctx context.Context) (map[string]string, error) {
	resp, err := c.v2Request(ctx, "GET", "resource/light", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Data []Light `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(result.Data))
	for _, light := range result.Data {
		if light.Metadata.Name == "" {
			continue
		}
		names[light.ID] = light.Metadata.Name
		if light.Owner.RID != "" {
			names[light.Owner.RID] = light.Metadata.Name
		}
	}

	return names, nil
}

// Address returns the bridge address
func (c *Client) Address() string {
	return c.address
}

// AppKey returns the application key, used as the DTLS PSK identity.
func (c *Client) AppKey() string {
	return c.appKey
}
