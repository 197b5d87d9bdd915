// Package stream owns the low-latency entertainment channel to the Hue
// bridge: DTLS-PSK over UDP port 2100, fed HueStream frames. The session
// lifecycle is a small state machine; the sync engine decides when to open
// and close, the manager only protects the bridge from half-dead handles.
package stream

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/dtls/v2"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/mixer"
)

// State represents the session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionClosed is returned by Send when no session is open. The
	// caller reopens if it wants to keep streaming.
	ErrSessionClosed = errors.New("streaming session is closed")

	// ErrOpenInProgress is returned when Open is called while another open
	// attempt is still running.
	ErrOpenInProgress = errors.New("streaming session open already in progress")
)

// ConnectError wraps a failed session establishment: activation rejection,
// network unreachability or a failed DTLS handshake.
type ConnectError struct {
	Stage string // "activate" or "handshake"
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stream connect failed during %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is a failed frame transmission. Transient errors do not close
// the session by themselves; the manager auto-closes only after
// MaxSendFailures consecutive ones.
type SendError struct {
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("stream send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Activator flips streaming ownership of an entertainment area on the
// bridge. Implemented by the hue.Client.
type Activator interface {
	SetStreamingActive(ctx context.Context, areaID string, active bool) error
}

// Config holds the session settings.
type Config struct {
	Host      string
	Port      int    // 0 = 2100
	AppKey    string // hue-application-key, doubles as the DTLS PSK identity
	ClientKey string // PSK, hex encoded
	AreaID    string // entertainment configuration id

	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	MaxSendFailures  int // consecutive transient failures before auto-close
}

// Dialer establishes the DTLS connection. Replaceable in tests.
type Dialer func(ctx context.Context, cfg Config) (net.Conn, error)

// Manager owns one streaming session.
// State machine: Closed -> Opening -> Open -> Closing -> Closed.
type Manager struct {
	cfg       Config
	activator Activator
	dial      Dialer

	mu        sync.Mutex
	state     State
	conn      net.Conn
	seq       uint8
	failures  int
	sessionID string
}

// NewManager creates a session manager. No connection is made until Open.
func NewManager(cfg Config, activator Activator) *Manager {
	if cfg.Port == 0 {
		cfg.Port = 2100
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 1 * time.Second
	}
	if cfg.MaxSendFailures == 0 {
		cfg.MaxSendFailures = 3
	}

	return &Manager{
		cfg:       cfg,
		activator: activator,
		dial:      dialDTLS,
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open activates the entertainment area on the bridge and performs the DTLS
// handshake. Only one open attempt may run at a time; a second concurrent
// call fails with ErrOpenInProgress. Opening an already-open session is a
// no-op. A Close landing during the handshake wins: Open drops the fresh
// connection and reports ErrSessionClosed.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateOpening:
		m.mu.Unlock()
		return ErrOpenInProgress
	case StateClosing:
		m.mu.Unlock()
		return ErrOpenInProgress
	}
	m.state = StateOpening
	m.mu.Unlock()

	if err := m.activator.SetStreamingActive(ctx, m.cfg.AreaID, true); err != nil {
		m.abortOpen()
		return &ConnectError{Stage: "activate", Err: err}
	}

	conn, err := m.dial(ctx, m.cfg)
	if err != nil {
		// Release area ownership so the next attempt can re-activate.
		m.deactivate()
		m.abortOpen()
		return &ConnectError{Stage: "handshake", Err: err}
	}

	m.mu.Lock()
	if m.state != StateOpening {
		// A Close ran while the handshake was in flight; it already
		// released the area, only the fresh conn is left to drop.
		m.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	m.conn = conn
	m.seq = 0
	m.failures = 0
	m.sessionID = uuid.NewString()
	m.state = StateOpen
	m.mu.Unlock()

	log.Info().
		Str("area", m.cfg.AreaID).
		Str("session", m.sessionID).
		Msg("Entertainment session open")

	return nil
}

// Send transmits one frame of fixture colors. Fails fast with
// ErrSessionClosed when no session is open. A transient transport failure
// is reported to the caller; after MaxSendFailures consecutive ones the
// manager closes the session itself rather than keep a half-dead handle.
func (m *Manager) Send(ctx context.Context, colors []mixer.FixtureColor) error {
	m.mu.Lock()

	if m.state != StateOpen {
		m.mu.Unlock()
		return ErrSessionClosed
	}

	msg := encodeMessage(m.cfg.AreaID, m.seq, colors)
	m.seq++
	conn := m.conn

	deadline := time.Now().Add(m.cfg.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	_, err := conn.Write(msg)
	if err == nil {
		m.failures = 0
		m.mu.Unlock()
		return nil
	}

	m.failures++
	exhausted := m.failures >= m.cfg.MaxSendFailures
	failures := m.failures
	sessionID := m.sessionID
	m.mu.Unlock()

	if exhausted {
		log.Warn().
			Err(err).
			Int("failures", failures).
			Str("session", sessionID).
			Msg("Consecutive send failures exhausted, closing session")
		m.Close()
	}

	return &SendError{Transient: true, Err: err}
}

// Close tears the session down: Closing -> Closed. Idempotent, safe on an
// already-closed session.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateClosing {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	conn := m.conn
	m.conn = nil
	sessionID := m.sessionID
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.deactivate()

	m.mu.Lock()
	m.state = StateClosed
	m.failures = 0
	m.mu.Unlock()

	log.Info().
		Str("area", m.cfg.AreaID).
		Str("session", sessionID).
		Msg("Entertainment session closed")

	return nil
}

// abortOpen rolls Opening back to Closed after a failed establishment.
func (m *Manager) abortOpen() {
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
}

// deactivate releases streaming ownership on the bridge, best effort. Uses
// its own context: Close must work even when the caller's context is gone.
func (m *Manager) deactivate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.activator.SetStreamingActive(ctx, m.cfg.AreaID, false); err != nil {
		log.Debug().Err(err).Str("area", m.cfg.AreaID).Msg("Streaming deactivation failed")
	}
}

// dialDTLS performs the PSK handshake against the bridge streaming port.
func dialDTLS(ctx context.Context, cfg Config) (net.Conn, error) {
	psk, err := hex.DecodeString(cfg.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("client key is not valid hex: %w", err)
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, err
	}

	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	dtlsConfig := &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint:      []byte(cfg.AppKey),
		CipherSuites:         []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, cfg.HandshakeTimeout)
		},
	}

	conn, err := dtls.Client(udpConn, dtlsConfig)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	return conn, nil
}
