package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ambilightd/internal/color"
	"github.com/dokzlo13/ambilightd/internal/hue/stream"
	"github.com/dokzlo13/ambilightd/internal/mixer"
	"github.com/dokzlo13/ambilightd/internal/tv"
)

// fakeSource serves a scripted sequence of frames; the last step repeats
// forever.
type fakeSource struct {
	mu         sync.Mutex
	script     []sampleStep
	pos        int
	calls      int
	powerState string
}

type sampleStep struct {
	frame tv.ZoneFrame
	err   error
}

func (s *fakeSource) Sample(ctx context.Context) (tv.ZoneFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	step := s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	return step.frame, step.err
}

func (s *fakeSource) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) PowerState(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.powerState == "" {
		return "On", nil
	}
	return s.powerState, nil
}

// fakeSession is an in-memory Session: Open/Close flip the state, Send
// counts frames.
type fakeSession struct {
	mu      sync.Mutex
	state   stream.State
	opens   int
	closes  int
	sent    int
	openErr error
	sendErr error
}

func (s *fakeSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.state = stream.StateOpen
	s.opens++
	return nil
}

func (s *fakeSession) Send(ctx context.Context, colors []mixer.FixtureColor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stream.StateOpen {
		return stream.ErrSessionClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stream.StateOpen {
		s.closes++
	}
	s.state = stream.StateClosed
	return nil
}

func (s *fakeSession) State() stream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) stats() (opens, closes, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes, s.sent
}

func colorFrame(c color.RGB) tv.ZoneFrame { return tv.ZoneFrame{c, c, c} }
func blackFrame() tv.ZoneFrame            { return colorFrame(color.RGB{}) }
func contentFrame() tv.ZoneFrame          { return colorFrame(color.RGB{R: 200, G: 40, B: 10}) }

func unreachable() error {
	return &tv.SampleError{Unreachable: true, Err: errors.New("connection refused")}
}

func transient() error {
	return &tv.SampleError{Err: errors.New("request timed out")}
}

func testOptions() Options {
	return Options{
		Fixtures: []mixer.Fixture{
			{Name: "strip", Channel: 0, Zones: []int{0, 1, 2}},
		},
		ZoneCount:            3,
		IdleRefreshRate:      time.Millisecond,
		RetryBackoff:         time.Millisecond,
		BlackScreenTimeout:   20 * time.Millisecond,
		BlackScreenThreshold: 15,
	}
}

// runEngine starts Run and returns its eventual result on a channel.
func runEngine(ctx context.Context, e *Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return done
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunStreamsFrames(t *testing.T) {
	source := &fakeSource{script: []sampleStep{{frame: contentFrame()}}}
	session := &fakeSession{}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		_, _, sent := session.stats()
		return sent >= 10
	}, "engine never started streaming")

	snap := e.Snapshot()
	require.Equal(t, StateStreaming.String(), snap.State)
	require.Equal(t, stream.StateOpen.String(), snap.Session)

	cancel()
	require.NoError(t, <-done)

	// The session is torn down on the way out.
	require.Equal(t, stream.StateClosed, session.State())
}

func TestRunGivesUpWhenDeviceNeverAppears(t *testing.T) {
	source := &fakeSource{script: []sampleStep{{err: unreachable()}}}
	session := &fakeSession{}

	opts := testOptions()
	opts.WaitForStartup = 20 * time.Millisecond
	opts.ErrorThreshold = 3
	e := New(opts, source, session)

	done := runEngine(context.Background(), e)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDeviceNeverFound)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not give up within the startup window")
	}

	opens, _, sent := session.stats()
	require.Zero(t, opens)
	require.Zero(t, sent)
}

func TestRunWaitsForeverInAutomationMode(t *testing.T) {
	source := &fakeSource{script: []sampleStep{{err: unreachable()}}}
	session := &fakeSession{}

	// Zero WaitForStartup and ErrorThreshold: never exit.
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	done := runEngine(ctx, e)

	select {
	case err := <-done:
		t.Fatalf("engine exited in automation mode: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestRunTerminatesWhenDeviceLost(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{frame: contentFrame()},
		{err: unreachable()},
	}}
	session := &fakeSession{}

	opts := testOptions()
	opts.ErrorThreshold = 3
	e := New(opts, source, session)

	done := runEngine(context.Background(), e)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDeviceLost)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not terminate after exhausting the error budget")
	}

	opens, _, sent := session.stats()
	require.GreaterOrEqual(t, opens, 1)
	require.GreaterOrEqual(t, sent, 2)
	require.Equal(t, StateTerminated.String(), e.Snapshot().State)
	require.Equal(t, stream.StateClosed, session.State())
}

func TestRunGoesIdleOnSustainedBlack(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{frame: blackFrame()},
	}}
	session := &fakeSession{}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().State == StateIdle.String()
	}, "engine never went idle on sustained black")

	require.Equal(t, stream.StateClosed, session.State())

	// No frames flow while idle.
	_, _, sentBefore := session.stats()
	time.Sleep(20 * time.Millisecond)
	_, _, sentAfter := session.stats()
	require.Equal(t, sentBefore, sentAfter)

	cancel()
	require.NoError(t, <-done)
}

func TestRunPollsSlowlyWhileBlack(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{frame: blackFrame()},
	}}
	session := &fakeSession{}

	// Unpaced streaming, but a distinctly slower idle cadence: the black
	// span before the Idle transition must already run at the idle rate.
	opts := testOptions()
	opts.IdleRefreshRate = 25 * time.Millisecond
	opts.BlackScreenTimeout = 100 * time.Millisecond
	e := New(opts, source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().State == StateIdle.String()
	}, "engine never went idle on sustained black")

	// One content sample plus the black span at ~25ms cadence. Sampling at
	// the unpaced streaming rate would rack up hundreds of calls.
	if n := source.sampleCount(); n > 20 {
		t.Errorf("sampled %d times before going idle, want idle-cadence polling", n)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestRunKeepsSessionAcrossTransientErrors(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{err: transient()},
		{frame: contentFrame()},
	}}
	session := &fakeSession{}

	opts := testOptions()
	opts.ErrorThreshold = 10
	e := New(opts, source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		_, _, sent := session.stats()
		return sent >= 5 && e.Snapshot().State == StateStreaming.String()
	}, "engine never resumed streaming after the glitch")

	// A single timed-out sample must not cost a DTLS teardown and
	// re-handshake; the same session carries on.
	opens, closes, _ := session.stats()
	require.Equal(t, 1, opens)
	require.Zero(t, closes)

	cancel()
	require.NoError(t, <-done)
}

func TestRunGoesIdleWhenTVLeavesOnState(t *testing.T) {
	source := &fakeSource{
		script: []sampleStep{
			{frame: contentFrame()},
			{frame: blackFrame()},
		},
		powerState: "Standby",
	}
	session := &fakeSession{}

	// The black-screen timeout is far out of reach; only the power-state
	// probe can cut the black span short.
	opts := testOptions()
	opts.BlackScreenTimeout = time.Minute
	opts.PowerProbeAfter = 5 * time.Millisecond
	e := New(opts, source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().State == StateIdle.String()
	}, "engine never went idle on a standby TV")

	require.Equal(t, stream.StateClosed, session.State())

	cancel()
	require.NoError(t, <-done)
}

func TestRunResumesAfterIdle(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{frame: blackFrame()},
	}}
	session := &fakeSession{}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().State == StateIdle.String()
	}, "engine never went idle")

	// Content comes back: the engine must reopen and stream again.
	source.mu.Lock()
	source.script = []sampleStep{{frame: contentFrame()}}
	source.pos = 0
	source.mu.Unlock()

	waitFor(t, func() bool {
		opens, _, _ := session.stats()
		return opens >= 2 && e.Snapshot().State == StateStreaming.String()
	}, "engine never resumed streaming")

	cancel()
	require.NoError(t, <-done)
}

func TestRunTreatsZoneMismatchAsError(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: tv.ZoneFrame{{R: 100}, {R: 100}}}, // 2 zones, configured for 3
	}}
	session := &fakeSession{}

	opts := testOptions()
	opts.WaitForStartup = 20 * time.Millisecond
	opts.ErrorThreshold = 3
	e := New(opts, source, session)

	done := runEngine(context.Background(), e)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDeviceNeverFound)
	case <-time.After(2 * time.Second):
		t.Fatal("engine accepted frames with the wrong zone count")
	}

	_, _, sent := session.stats()
	require.Zero(t, sent)
}

func TestRunRetriesFailedSessionOpen(t *testing.T) {
	source := &fakeSource{script: []sampleStep{{frame: contentFrame()}}}
	session := &fakeSession{openErr: errors.New("bridge busy")}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	// Streaming state is reached, but no frames flow while the session
	// cannot be opened.
	waitFor(t, func() bool {
		return e.Snapshot().State == StateStreaming.String()
	}, "engine never reached streaming state")

	time.Sleep(10 * time.Millisecond)
	_, _, sent := session.stats()
	require.Zero(t, sent)

	// Once the bridge recovers, frames flow.
	session.mu.Lock()
	session.openErr = nil
	session.mu.Unlock()

	waitFor(t, func() bool {
		_, _, sent := session.stats()
		return sent > 0
	}, "engine never recovered from failed session open")

	cancel()
	require.NoError(t, <-done)
}

func TestRunDisconnectsAndRecovers(t *testing.T) {
	source := &fakeSource{script: []sampleStep{
		{frame: contentFrame()},
		{err: unreachable()},
	}}
	session := &fakeSession{}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().State == StateDisconnected.String()
	}, "engine never noticed the dropout")
	require.Equal(t, stream.StateClosed, session.State())

	// The TV comes back with content.
	source.mu.Lock()
	source.script = []sampleStep{{frame: contentFrame()}}
	source.pos = 0
	source.mu.Unlock()

	waitFor(t, func() bool {
		return e.Snapshot().State == StateStreaming.String()
	}, "engine never recovered from the dropout")

	cancel()
	require.NoError(t, <-done)
}

func TestSnapshotCountsConsecutiveErrors(t *testing.T) {
	source := &fakeSource{script: []sampleStep{{err: unreachable()}}}
	session := &fakeSession{}
	e := New(testOptions(), source, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runEngine(ctx, e)

	waitFor(t, func() bool {
		return e.Snapshot().SampleErrors >= 3
	}, "snapshot never accumulated sample errors")

	cancel()
	require.NoError(t, <-done)
}
