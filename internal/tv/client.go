// Package tv provides the JointSpace ambilight sampler.
//
// Three API generations are in the field: v1 and v5 speak plain HTTP on port
// 1925 without authentication; v6 speaks HTTPS on port 1926 behind digest
// auth. All three serve the same ambilight/processed payload, so a single
// client covers them, configured at startup.
package tv

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/icholy/digest"
)

// Source is the sampling contract consumed by the sync engine.
type Source interface {
	// Sample fetches one ZoneFrame. Failures are reported as *SampleError;
	// no retries happen here, retry policy belongs to the caller.
	Sample(ctx context.Context) (ZoneFrame, error)
	// PowerState returns the TV's reported power state ("On", "Standby", ...).
	PowerState(ctx context.Context) (string, error)
}

// SampleError is a failed sample attempt. Unreachable means the TV is
// confirmed off or gone (connection refused, no route); everything else is a
// transient hiccup worth retrying.
type SampleError struct {
	Unreachable bool
	Err         error
}

func (e *SampleError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("tv unreachable: %v", e.Err)
	}
	return fmt.Sprintf("tv sample failed: %v", e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err marks the TV as confirmed unreachable.
func IsUnreachable(err error) bool {
	var se *SampleError
	return errors.As(err, &se) && se.Unreachable
}

// Config holds the JointSpace connection settings.
type Config struct {
	Host       string
	Port       int
	APIVersion int
	User       string // digest auth, v6 only
	Password   string

	// SampleTimeout bounds a single ambilight request. The TV answers in
	// ~50ms on a LAN; anything slower is treated as a failed sample.
	SampleTimeout time.Duration
}

// Client fetches ambilight data from a Philips TV.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	sampleTimeout time.Duration
}

// NewClient creates a JointSpace client for the configured API version.
func NewClient(cfg Config) *Client {
	scheme := "http"
	port := cfg.Port
	if cfg.APIVersion >= 6 {
		scheme = "https"
		if port == 0 {
			port = 1926
		}
	} else if port == 0 {
		port = 1925
	}

	timeout := cfg.SampleTimeout
	if timeout == 0 {
		timeout = 200 * time.Millisecond
	}

	// The TV uses a self-signed certificate
	var transport http.RoundTripper = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	if cfg.APIVersion >= 6 && cfg.User != "" {
		transport = &digest.Transport{
			Username:  cfg.User,
			Password:  cfg.Password,
			Transport: transport,
		}
	}

	return &Client{
		baseURL:       fmt.Sprintf("%s://%s:%d/%d", scheme, cfg.Host, port, cfg.APIVersion),
		httpClient:    &http.Client{Transport: transport},
		sampleTimeout: timeout,
	}
}

// Sample fetches one ambilight/processed frame within the sample timeout.
func (c *Client) Sample(ctx context.Context) (ZoneFrame, error) {
	body, err := c.get(ctx, "ambilight/processed", c.sampleTimeout)
	if err != nil {
		return nil, classify(err)
	}

	frame, err := ParseProcessed(body)
	if err != nil {
		return nil, &SampleError{Err: err}
	}
	return frame, nil
}

// PowerState queries system/powerstate. Used to tell standby from a paused
// black screen without waiting out the full black-screen timeout.
func (c *Client) PowerState(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "powerstate", 2*time.Second)
	if err != nil {
		return "", classify(err)
	}

	var payload struct {
		PowerState string `json:"powerstate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &SampleError{Err: fmt.Errorf("failed to decode powerstate: %w", err)}
	}
	return payload.PowerState, nil
}

func (c *Client) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// classify wraps a transport error into a SampleError, deciding whether the
// TV is confirmed unreachable or just glitching.
func classify(err error) *SampleError {
	var se *SampleError
	if errors.As(err, &se) {
		return se
	}

	// Connection refused / no route / host down: the TV is off or gone.
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTDOWN) {
		return &SampleError{Unreachable: true, Err: err}
	}

	// DNS failure on a LAN address means the host is gone too.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &SampleError{Unreachable: true, Err: err}
	}

	// Timeouts (including context deadline) are transient: the TV may be
	// powering on, or the network blipped.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &SampleError{Err: err}
	}

	return &SampleError{Err: err}
}
