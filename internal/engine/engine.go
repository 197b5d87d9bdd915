// Package engine contains the sync loop: the single sequential worker that
// pulls ambilight frames from the TV, mixes and smooths them per fixture,
// and pushes them through the entertainment session. It is the only
// component holding cross-cutting state, and the only place deciding
// retry versus terminate.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ambilightd/internal/hue/stream"
	"github.com/dokzlo13/ambilightd/internal/mixer"
	"github.com/dokzlo13/ambilightd/internal/tv"
)

// defaultPowerProbeAfter is how long a black screen lasts before the engine
// asks the TV for its power state, catching standby faster than the full
// black-screen timeout.
const defaultPowerProbeAfter = 5 * time.Second

// defaultStatusInterval paces the periodic status line.
const defaultStatusInterval = 60 * time.Second

// Session is the streaming session contract consumed by the engine,
// implemented by stream.Manager.
type Session interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, colors []mixer.FixtureColor) error
	Close() error
	State() stream.State
}

// Options configures the sync loop. Zero RefreshRate means unpaced ("as
// fast as the TV answers"); zero WaitForStartup and ErrorThreshold mean
// "wait forever" (automation mode).
type Options struct {
	Fixtures  []mixer.Fixture
	ZoneCount int

	RefreshRate     time.Duration
	IdleRefreshRate time.Duration
	RetryBackoff    time.Duration

	Smoothing            float64
	BlackScreenTimeout   time.Duration
	BlackScreenThreshold uint8
	PowerProbeAfter      time.Duration

	WaitForStartup time.Duration
	PowerOnGrace   time.Duration
	ErrorThreshold int

	StatusInterval time.Duration
}

// Snapshot is a point-in-time view of the engine for status endpoints.
type Snapshot struct {
	State        string `json:"state"`
	Session      string `json:"session"`
	FramesSent   uint64 `json:"frames_sent"`
	SampleErrors int    `json:"consecutive_sample_errors"`
}

// Engine is the sync loop. All mutable state is owned by the single Run
// goroutine; the mutex only guards the snapshot fields read by the health
// endpoint.
type Engine struct {
	opts     Options
	source   tv.Source
	session  Session
	smoother *mixer.Smoother
	limiter  *rate.Limiter

	mu         sync.Mutex
	state      State
	frames     uint64
	errorCount int

	// Run-goroutine-only state.
	blackSince    time.Time
	everConnected bool
	startedAt     time.Time
	lastStatus    time.Time
	windowFrames  int
}

// New creates the engine. Configuration has been validated: fixture zone
// indices fit ZoneCount and the smoothing factor is in range.
func New(opts Options, source tv.Source, session Session) *Engine {
	if opts.IdleRefreshRate == 0 {
		opts.IdleRefreshRate = 5 * time.Second
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 3 * time.Second
	}
	if opts.BlackScreenTimeout == 0 {
		opts.BlackScreenTimeout = 30 * time.Second
	}
	if opts.PowerProbeAfter == 0 {
		opts.PowerProbeAfter = defaultPowerProbeAfter
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = defaultStatusInterval
	}

	limit := rate.Inf
	if opts.RefreshRate > 0 {
		limit = rate.Every(opts.RefreshRate)
	}

	return &Engine{
		opts:     opts,
		source:   source,
		session:  session,
		smoother: mixer.NewSmoother(opts.Smoothing, opts.Fixtures),
		limiter:  rate.NewLimiter(limit, 1),
		state:    StateWaitingForDevice,
	}
}

// Snapshot returns the current engine state for status reporting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:        e.state.String(),
		Session:      e.session.State().String(),
		FramesSent:   e.frames,
		SampleErrors: e.errorCount,
	}
}

// Run executes the sync loop until ctx is cancelled or the error budget is
// exhausted. Returns nil on graceful shutdown, ErrDeviceNeverFound when
// the startup window expired, ErrDeviceLost when the runtime error
// threshold was reached. The session is closed before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()
	e.lastStatus = e.startedAt
	defer e.session.Close()

	log.Info().
		Int("fixtures", len(e.opts.Fixtures)).
		Int("zones", e.opts.ZoneCount).
		Msg("Sync loop started, waiting for TV")

	for {
		if err := e.pace(ctx); err != nil {
			return nil // cancelled
		}

		e.logStatus()

		frame, err := e.source.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if term := e.handleSampleError(err); term != nil {
				return term
			}
			continue
		}

		if frame.Zones() != e.opts.ZoneCount {
			if term := e.handleZoneMismatch(frame.Zones()); term != nil {
				return term
			}
			continue
		}

		isBlack := frame.IsBlack(e.opts.BlackScreenThreshold)
		e.handleConnected(ctx, isBlack)

		if isBlack {
			e.handleBlackFrame(ctx)
			continue
		}
		e.handleContentResumed()

		if e.session.State() != stream.StateOpen {
			if err := e.session.Open(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Msg("Failed to open entertainment session, will retry")
				e.sleep(ctx, e.opts.RetryBackoff)
				continue
			}
		}

		colors := e.smoother.ApplyAll(mixer.Mix(frame, e.opts.Fixtures))
		if err := e.session.Send(ctx, colors); err != nil {
			// Transient send errors are counted by the session manager; it
			// closes the handle itself when they persist and the next cycle
			// reopens. No engine-side bookkeeping needed.
			log.Debug().Err(err).Msg("Frame send failed")
			continue
		}

		e.mu.Lock()
		e.frames++
		e.mu.Unlock()
		e.windowFrames++
	}
}

// pace waits out the cadence for the current state: the frame limiter while
// streaming, slow polling while idle or disconnected, retry backoff while
// failing under threshold. A black screen drops to the idle cadence right
// away, not only after the Idle transition: there is nothing worth sampling
// fast while the black-screen window runs out.
func (e *Engine) pace(ctx context.Context) error {
	switch e.currentState() {
	case StateStreaming:
		if !e.blackSince.IsZero() {
			return e.sleep(ctx, e.opts.IdleRefreshRate)
		}
		return e.limiter.Wait(ctx)
	case StateIdle:
		return e.sleep(ctx, e.opts.IdleRefreshRate)
	case StateDisconnected, StateWaitingForDevice:
		if e.opts.ErrorThreshold == 0 {
			// Automation mode: no exit coming, poll at the reduced cadence.
			return e.sleep(ctx, e.opts.IdleRefreshRate)
		}
		return e.sleep(ctx, e.opts.RetryBackoff)
	default:
		return e.sleep(ctx, e.opts.RetryBackoff)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// handleSampleError applies the retry/exit policy for a failed sample.
// Returns a terminal error when the engine must exit.
func (e *Engine) handleSampleError(err error) error {
	e.mu.Lock()
	e.errorCount++
	count := e.errorCount
	e.mu.Unlock()

	state := e.currentState()

	switch state {
	case StateWaitingForDevice:
		// Startup wait is governed by its own deadline, not the runtime
		// error threshold.
		if e.opts.WaitForStartup > 0 && time.Since(e.startedAt) >= e.opts.WaitForStartup {
			log.Error().
				Dur("waited", time.Since(e.startedAt)).
				Msg("TV never responded, giving up")
			e.setState(StateTerminated)
			return ErrDeviceNeverFound
		}
		// Transition-only logging: the ongoing wait is reported by the
		// periodic status line instead.

	case StateStreaming, StateIdle:
		if tv.IsUnreachable(err) {
			log.Warn().Err(err).Msg("TV connection lost")
			e.session.Close()
		} else {
			// A glitch keeps the session: streaming resumes on the same
			// DTLS handshake once the TV answers again. The session manager
			// tears a truly dead handle down on its own send-failure budget.
			log.Warn().Err(err).Msg("TV stopped answering")
		}
		e.blackSince = time.Time{}
		e.setState(StateDisconnected)

	case StateDisconnected:
		// Already logged the transition; stay quiet per occurrence. A later
		// confirmed-unreachable error still releases the session.
		if tv.IsUnreachable(err) && e.session.State() == stream.StateOpen {
			e.session.Close()
		}
	}

	if e.everConnected && e.opts.ErrorThreshold > 0 && count >= e.opts.ErrorThreshold {
		log.Error().
			Int("errors", count).
			Int("threshold", e.opts.ErrorThreshold).
			Msg("Runtime error threshold exhausted, terminating")
		e.session.Close()
		e.setState(StateTerminated)
		return ErrDeviceLost
	}

	return nil
}

// handleZoneMismatch treats an unexpected frame size as a sample failure:
// the configured zone map cannot be applied to it, and silently clamping
// is worse than refusing.
func (e *Engine) handleZoneMismatch(got int) error {
	log.Warn().
		Int("got", got).
		Int("configured", e.opts.ZoneCount).
		Msg("TV reported unexpected zone count, check tv.zone_count and light zones")
	return e.handleSampleError(&tv.SampleError{
		Err: fmt.Errorf("frame has %d zones, configured for %d", got, e.opts.ZoneCount),
	})
}

// handleConnected resets the error budget and handles the transition out of
// WaitingForDevice/Disconnected. A reachable TV showing only black goes to
// Idle, not Streaming: there is no content to stream yet.
func (e *Engine) handleConnected(ctx context.Context, isBlack bool) {
	e.mu.Lock()
	hadErrors := e.errorCount > 0
	e.errorCount = 0
	e.mu.Unlock()

	state := e.currentState()
	if state != StateWaitingForDevice && state != StateDisconnected {
		return
	}

	if state == StateWaitingForDevice {
		log.Info().Msg("TV is ready")
	} else {
		log.Info().Msg("TV connection restored")
	}

	if hadErrors && e.opts.PowerOnGrace > 0 {
		// The TV answers before its ambilight pipeline settles right after
		// power-on; give it a moment.
		log.Debug().Dur("grace", e.opts.PowerOnGrace).Msg("Applying power-on grace")
		e.sleep(ctx, e.opts.PowerOnGrace)
	}

	e.everConnected = true
	if isBlack {
		e.setState(StateIdle)
	} else {
		e.setState(StateStreaming)
	}
}

// handleBlackFrame pauses sending immediately and transitions to Idle once
// the black screen is sustained (or the TV admits it left the "On" power
// state).
func (e *Engine) handleBlackFrame(ctx context.Context) {
	now := time.Now()

	if e.blackSince.IsZero() {
		e.blackSince = now
		if e.currentState() == StateStreaming {
			log.Info().Msg("TV screen is black, pausing light updates")
		}
		return
	}

	if e.currentState() != StateStreaming {
		return
	}

	blackFor := now.Sub(e.blackSince)

	if blackFor >= e.opts.PowerProbeAfter {
		if ps, err := e.source.PowerState(ctx); err == nil && ps != "" && ps != "On" {
			log.Info().Str("powerstate", ps).Msg("TV left On state, going idle")
			e.goIdle()
			return
		}
	}

	if blackFor >= e.opts.BlackScreenTimeout {
		log.Info().
			Dur("black_for", blackFor).
			Msg("Black screen timeout reached, going idle")
		e.goIdle()
	}
}

func (e *Engine) goIdle() {
	e.session.Close()
	e.setState(StateIdle)
}

// handleContentResumed transitions back to Streaming on the first non-black
// frame after black or idle.
func (e *Engine) handleContentResumed() {
	if !e.blackSince.IsZero() {
		log.Info().Msg("TV content resumed")
		e.blackSince = time.Time{}
	}
	if e.currentState() == StateIdle {
		e.setState(StateStreaming)
	}
}

// logStatus emits the periodic status line: achieved frame rate while
// streaming, the current state otherwise.
func (e *Engine) logStatus() {
	now := time.Now()
	elapsed := now.Sub(e.lastStatus)
	if elapsed < e.opts.StatusInterval {
		return
	}

	state := e.currentState()
	if state == StateStreaming && e.windowFrames > 0 {
		hz := float64(e.windowFrames) / elapsed.Seconds()
		log.Info().
			Float64("hz", hz).
			Int("frames", e.windowFrames).
			Msg("Status: streaming")
	} else {
		log.Info().Str("state", state.String()).Msg("Status")
	}

	e.windowFrames = 0
	e.lastStatus = now
}

func (e *Engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		log.Info().
			Str("from", prev.String()).
			Str("to", s.String()).
			Msg("State transition")
	}
}
