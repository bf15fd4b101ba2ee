package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"d4macro/internal/config"
	"d4macro/internal/input"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// step advances the clock in tick-sized increments, ticking after each one
func step(e *Engine, clk *manualClock, total time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += DefaultTickInterval {
		clk.Advance(DefaultTickInterval)
		e.Tick(clk.Now())
	}
}

func newTestEngine() (*Engine, *input.Recorder, *manualClock) {
	rec := input.NewRecorder()
	clk := newManualClock()
	e := New(rec, WithClock(clk), WithRand(rand.New(rand.NewPCG(1, 2))))
	return e, rec, clk
}

func profile(id string, slots ...config.SkillSlot) config.Profile {
	p := config.Profile{ID: id, Name: id, StartStopKey: "F1"}
	for i := range p.SkillSlots {
		p.SkillSlots[i].SlotNumber = i + 1
	}
	for i, s := range slots {
		s.SlotNumber = i + 1
		p.SkillSlots[i] = s
	}
	return p
}

func slot(key string, intervalMs int) config.SkillSlot {
	return config.SkillSlot{Key: key, IntervalMs: intervalMs, Enabled: true}
}

func indexOf(calls []input.Call, op input.Op, key string) int {
	for i, c := range calls {
		if c.Op == op && c.Key == key {
			return i
		}
	}
	return -1
}

// TestStartDoesNotActuate tests that the first press happens on a later tick
func TestStartDoesNotActuate(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 1000)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	e.Tick(clk.Now())

	if n := len(rec.Calls()); n != 0 {
		t.Errorf("Expected no driver calls at start, got %d", n)
	}
	if e.State("p1") != StateRunning {
		t.Errorf("Expected p1 running, got %s", e.State("p1"))
	}
}

// TestSinglePressAndRelease tests one press followed by its release within the hold window
func TestSinglePressAndRelease(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 1000)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}

	step(e, clk, 1000*time.Millisecond+DefaultTickInterval)
	if got := rec.Count(input.OpKeyDown, "1"); got != 1 {
		t.Fatalf("Expected exactly one KeyDown(1), got %d", got)
	}
	if !rec.Held("1") {
		t.Error("Expected 1 to be held right after the press")
	}

	step(e, clk, KeyHoldDuration)
	if got := rec.Count(input.OpKeyUp, "1"); got != 1 {
		t.Fatalf("Expected exactly one KeyUp(1), got %d", got)
	}

	calls := rec.Calls()
	if indexOf(calls, input.OpKeyDown, "1") > indexOf(calls, input.OpKeyUp, "1") {
		t.Error("Expected KeyDown before KeyUp")
	}
	if e.PendingReleases() != 0 {
		t.Errorf("Expected no pending releases, got %d", e.PendingReleases())
	}
}

// TestPeriodicity tests that actuations do not drift over many ticks
func TestPeriodicity(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 1000)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 10*time.Second)

	got := rec.Count(input.OpKeyDown, "1")
	if got < 9 || got > 11 {
		t.Errorf("Expected 10±1 actuations over 10s, got %d", got)
	}
}

// TestJitterBounds tests that jittered intervals stay inside the band
func TestJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 1000; i++ {
		v := Jitter(1000, 20, rng)
		if v < 800 || v > 1200 {
			t.Fatalf("Jitter(1000, 20) = %d, outside [800, 1200]", v)
		}
	}

	if v := Jitter(1000, 0, rng); v != 1000 {
		t.Errorf("Expected zero percent to return the interval, got %d", v)
	}
	if v := Jitter(0, 50, rng); v != 0 {
		t.Errorf("Expected zero interval to stay zero, got %d", v)
	}
	for i := 0; i < 100; i++ {
		if v := Jitter(100, 500, rng); v < 0 || v > 200 {
			t.Fatalf("Expected percent clamped to 100, got %d", v)
		}
	}
}

// TestStartAppliesJitter tests that random delay changes the scheduled interval within bounds
func TestStartAppliesJitter(t *testing.T) {
	e, _, _ := newTestEngine()

	opts := config.Options{RandomDelay: true, RandomDelayPercent: 20}
	if err := e.StartProfile(profile("p1", slot("1", 1000), slot("2", 500)), opts); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}

	slots := e.Profiles()[0].Slots
	if len(slots) != 2 {
		t.Fatalf("Expected 2 slots, got %d", len(slots))
	}
	if iv := slots[0].IntervalMs; iv < 800 || iv > 1200 {
		t.Errorf("Slot 1 interval %d outside [800, 1200]", iv)
	}
	if iv := slots[1].IntervalMs; iv < 400 || iv > 600 {
		t.Errorf("Slot 2 interval %d outside [400, 600]", iv)
	}
}

// TestProfileCap tests that a sixth profile is rejected without changing the running set
func TestProfileCap(t *testing.T) {
	e, _, _ := newTestEngine()

	for i := 1; i <= MaxRunningProfiles; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := e.StartProfile(profile(id, slot("1", 1000)), config.Options{}); err != nil {
			t.Fatalf("StartProfile(%s) failed: %v", id, err)
		}
	}
	before := e.RunningIDs()

	err := e.StartProfile(profile("p6", slot("2", 1000)), config.Options{})
	if !errors.Is(err, ErrProfileCap) {
		t.Errorf("Expected ErrProfileCap, got %v", err)
	}
	if e.RunningCount() != MaxRunningProfiles {
		t.Errorf("Expected %d running, got %d", MaxRunningProfiles, e.RunningCount())
	}
	if e.State("p6") != StateStopped {
		t.Error("Expected p6 to remain stopped")
	}

	after := e.RunningIDs()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("Running set changed: %v -> %v", before, after)
			break
		}
	}
}

// TestStartTwice tests that starting a running profile fails
func TestStartTwice(t *testing.T) {
	e, _, _ := newTestEngine()
	p := profile("p1", slot("1", 1000))

	if err := e.StartProfile(p, config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	if err := e.StartProfile(p, config.Options{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
	if err := e.StartProfile(config.Profile{}, config.Options{}); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile, got %v", err)
	}
}

// TestStopTwice tests that a second stop reports not running and changes nothing
func TestStopTwice(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 100)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 100*time.Millisecond)

	if err := e.StopProfile("p1"); err != nil {
		t.Fatalf("StopProfile failed: %v", err)
	}
	calls := len(rec.Calls())

	if err := e.StopProfile("p1"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if len(rec.Calls()) != calls {
		t.Error("Second stop must not touch the driver")
	}
	if e.State("p1") != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State("p1"))
	}
}

// TestStopMidPress tests that stop releases a held key once and cancels its pending release
func TestStopMidPress(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 100), slot("2", 5000)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 100*time.Millisecond)
	if !rec.Held("1") {
		t.Fatal("Expected 1 to be held")
	}

	if err := e.StopProfile("p1"); err != nil {
		t.Fatalf("StopProfile failed: %v", err)
	}

	if rec.Held("1") {
		t.Error("Expected 1 released synchronously by stop")
	}
	if got := rec.Count(input.OpKeyUp, "1"); got != 1 {
		t.Errorf("Expected one KeyUp(1), got %d", got)
	}
	if got := rec.Count(input.OpKeyUp, "2"); got != 1 {
		t.Errorf("Expected unconditional KeyUp(2) for an enabled slot, got %d", got)
	}
	if e.PendingReleases() != 0 {
		t.Errorf("Expected pending releases cancelled, got %d", e.PendingReleases())
	}

	step(e, clk, time.Second)
	if got := rec.Count(input.OpKeyUp, "1"); got != 1 {
		t.Errorf("Expected no late KeyUp(1) after stop, got %d", got)
	}
	if got := rec.Count(input.OpKeyDown, "1"); got != 1 {
		t.Errorf("Expected no presses after stop, got %d", got)
	}
}

// TestReleaseRearm tests that repeated presses re-arm a single release
func TestReleaseRearm(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 30)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 200*time.Millisecond)

	if got := rec.Count(input.OpKeyDown, "1"); got != 6 {
		t.Errorf("Expected 6 presses, got %d", got)
	}
	if got := rec.Count(input.OpKeyUp, "1"); got != 0 {
		t.Errorf("Expected release to keep being re-armed, got %d KeyUp", got)
	}
	if e.PendingReleases() != 1 {
		t.Errorf("Expected exactly one pending release, got %d", e.PendingReleases())
	}

	if err := e.StopProfile("p1"); err != nil {
		t.Fatalf("StopProfile failed: %v", err)
	}
	if got := rec.Count(input.OpKeyUp, "1"); got != 1 {
		t.Errorf("Expected one KeyUp on stop, got %d", got)
	}
}

// TestMouseSlot tests that mouse slots click without arming a release
func TestMouseSlot(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot(input.MouseLeft, 100)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 300*time.Millisecond)

	if got := rec.Count(input.OpClickMouse, input.MouseLeft); got != 3 {
		t.Errorf("Expected 3 clicks, got %d", got)
	}
	if rec.Count(input.OpKeyDown, input.MouseLeft) != 0 {
		t.Error("Mouse slots must not send KeyDown")
	}
	if e.PendingReleases() != 0 {
		t.Errorf("Expected no pending releases for mouse slots, got %d", e.PendingReleases())
	}

	if err := e.StopProfile("p1"); err != nil {
		t.Fatalf("StopProfile failed: %v", err)
	}
	if rec.Count(input.OpKeyUp, input.MouseLeft) != 0 {
		t.Error("Stop must not send KeyUp for mouse slots")
	}
}

// TestPauseReleasesAndResume tests pause releasing held keys and resume firing overdue slots
func TestPauseReleasesAndResume(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 100)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 100*time.Millisecond)
	if !rec.Held("1") {
		t.Fatal("Expected 1 to be held before pause")
	}

	if err := e.PauseProfile("p1"); err != nil {
		t.Fatalf("PauseProfile failed: %v", err)
	}
	if rec.Held("1") || rec.Count(input.OpKeyUp, "1") != 1 {
		t.Error("Expected KeyUp(1) immediately on pause")
	}
	if e.State("p1") != StatePaused {
		t.Errorf("Expected paused, got %s", e.State("p1"))
	}

	step(e, clk, time.Second)
	if got := rec.Count(input.OpKeyDown, "1"); got != 1 {
		t.Errorf("Expected no presses while paused, got %d total", got)
	}

	if err := e.ResumeProfile("p1"); err != nil {
		t.Fatalf("ResumeProfile failed: %v", err)
	}
	e.Tick(clk.Now())
	if got := rec.Count(input.OpKeyDown, "1"); got != 2 {
		t.Errorf("Expected overdue slot to fire on the first tick after resume, got %d presses", got)
	}

	if err := e.ResumeProfile("p1"); err != nil {
		t.Errorf("Expected resume of a running profile to be a no-op, got %v", err)
	}
	if err := e.PauseProfile("missing"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

// TestNoStuckKeys tests that no key of a non-running profile stays down
func TestNoStuckKeys(t *testing.T) {
	e, rec, clk := newTestEngine()
	opts := config.Options{RandomDelay: true, RandomDelayPercent: 30}

	p1 := profile("p1", slot("1", 40), slot("2", 70), slot("Q", 25))
	p2 := profile("p2", slot("3", 35), slot(input.MouseRight, 60), slot("Space", 90))

	ops := []func(){
		func() { _ = e.StartProfile(p1, opts) },
		func() { _ = e.StartProfile(p2, opts) },
		func() { _ = e.PauseProfile("p1") },
		func() { _ = e.ResumeProfile("p1") },
		func() { _ = e.StopProfile("p2") },
		func() { _ = e.StartProfile(p2, opts) },
		func() { _ = e.PauseProfile("p2") },
		func() { _ = e.StopProfile("p1") },
	}
	for _, op := range ops {
		op()
		step(e, clk, 130*time.Millisecond)
	}
	step(e, clk, 2*KeyHoldDuration)

	for _, p := range []config.Profile{p1, p2} {
		if e.State(p.ID) == StateRunning {
			continue
		}
		for _, s := range p.SkillSlots {
			if s.Key != "" && rec.IsKeyDown(s.Key) {
				t.Errorf("Key %s of %s profile %s is still down", s.Key, e.State(p.ID), p.ID)
			}
		}
	}
}

// TestStopAllShared tests stopping two profiles leaves nothing held
func TestStopAllShared(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 100)), config.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := e.StartProfile(profile("p2", slot("2", 100)), config.Options{}); err != nil {
		t.Fatal(err)
	}
	step(e, clk, 100*time.Millisecond)

	for _, id := range e.RunningIDs() {
		if err := e.StopProfile(id); err != nil {
			t.Errorf("StopProfile(%s) failed: %v", id, err)
		}
	}

	if e.RunningCount() != 0 {
		t.Errorf("Expected no running profiles, got %d", e.RunningCount())
	}
	if held := rec.HeldKeys(); len(held) != 0 {
		t.Errorf("Expected no held keys, got %v", held)
	}
}

// TestDriverFailureIsolated tests that one failing slot does not affect others
func TestDriverFailureIsolated(t *testing.T) {
	e, rec, clk := newTestEngine()
	rec.FailOn(input.OpKeyDown, "1", errors.New("injection refused"))

	if err := e.StartProfile(profile("p1", slot("1", 100), slot("2", 100)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}
	step(e, clk, 100*time.Millisecond)

	if rec.Count(input.OpKeyDown, "2") != 1 {
		t.Error("Expected slot 2 to fire despite slot 1 failing")
	}
	if e.PendingReleases() != 1 {
		t.Errorf("Expected only slot 2 to arm a release, got %d", e.PendingReleases())
	}

	rec.ClearFailures()
	step(e, clk, 90*time.Millisecond)
	if rec.Count(input.OpKeyDown, "1") != 0 {
		t.Error("Expected failed slot to wait a full interval, not retry on the next tick")
	}
	step(e, clk, 10*time.Millisecond)
	if rec.Count(input.OpKeyDown, "1") != 1 {
		t.Error("Expected failed slot to fire on its next period")
	}
}

type panicDriver struct {
	*input.Recorder
}

func (p panicDriver) KeyDown(key string) error {
	panic("driver exploded")
}

// TestDriverPanicRecovered tests that a panicking driver does not escape Tick
func TestDriverPanicRecovered(t *testing.T) {
	clk := newManualClock()
	e := New(panicDriver{input.NewRecorder()}, WithClock(clk))

	if err := e.StartProfile(profile("p1", slot("1", 10)), config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Tick panicked: %v", r)
		}
	}()
	step(e, clk, 50*time.Millisecond)
}

// TestUnknownSlotKeySkipped tests that unmapped slot keys are not scheduled
func TestUnknownSlotKeySkipped(t *testing.T) {
	e, _, _ := newTestEngine()

	p := profile("p1", slot("1", 100), slot("Hyper", 100), config.SkillSlot{Key: "3", IntervalMs: 100}, slot("MouseX4", 100))
	if err := e.StartProfile(p, config.Options{}); err != nil {
		t.Fatalf("StartProfile failed: %v", err)
	}

	slots := e.Profiles()[0].Slots
	if len(slots) != 1 || slots[0].Key != "1" {
		t.Errorf("Expected only slot 1 scheduled, got %+v", slots)
	}
}

type slowDriver struct {
	*input.Recorder
	delay time.Duration
}

func (d slowDriver) KeyDown(key string) error {
	time.Sleep(d.delay)
	return d.Recorder.KeyDown(key)
}

// TestTimedOutPressIsReleased tests that a press that outlives the driver
// timeout still gets a release, issued after the late press lands
func TestTimedOutPressIsReleased(t *testing.T) {
	rec := input.NewRecorder()
	clk := newManualClock()
	driver := input.WithTimeout(slowDriver{Recorder: rec, delay: 40 * time.Millisecond}, 10*time.Millisecond)
	e := New(driver, WithClock(clk))

	if err := e.StartProfile(profile("p1", slot("1", 100)), config.Options{}); err != nil {
		t.Fatal(err)
	}

	step(e, clk, 100*time.Millisecond)
	if got := e.PendingReleases(); got != 1 {
		t.Fatalf("Expected a release armed for the timed-out press, got %d", got)
	}

	step(e, clk, 60*time.Millisecond)
	if got := e.PendingReleases(); got != 0 {
		t.Errorf("Expected the release issued, got %d pending", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.Count(input.OpKeyUp, "1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	calls := rec.Calls()
	down, up := indexOf(calls, input.OpKeyDown, "1"), indexOf(calls, input.OpKeyUp, "1")
	if down < 0 || up < 0 || up < down {
		t.Fatalf("Expected KeyDown before KeyUp, got %+v", calls)
	}
	if rec.Held("1") {
		t.Error("Expected key 1 released after the late press")
	}
}

// TestShutdown tests that shutdown releases everything and refuses new starts
func TestShutdown(t *testing.T) {
	e, rec, clk := newTestEngine()

	if err := e.StartProfile(profile("p1", slot("1", 100)), config.Options{}); err != nil {
		t.Fatal(err)
	}
	step(e, clk, 100*time.Millisecond)

	e.Shutdown()
	if len(rec.HeldKeys()) != 0 {
		t.Errorf("Expected no held keys after shutdown, got %v", rec.HeldKeys())
	}
	if e.RunningCount() != 0 {
		t.Errorf("Expected no running profiles, got %d", e.RunningCount())
	}
	if err := e.StartProfile(profile("p2", slot("2", 100)), config.Options{}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	e.Shutdown()
}

// TestNextWake tests that the loop wakes early for a due release
func TestNextWake(t *testing.T) {
	rec := input.NewRecorder()
	clk := newManualClock()
	e := New(rec, WithClock(clk), WithTickInterval(100*time.Millisecond))

	if got := e.nextWake(clk.Now()); got != 100*time.Millisecond {
		t.Errorf("Expected idle wake of one tick, got %v", got)
	}

	if err := e.StartProfile(profile("p1", slot("1", 0)), config.Options{}); err != nil {
		t.Fatal(err)
	}
	e.Tick(clk.Now())

	if got := e.nextWake(clk.Now()); got != KeyHoldDuration {
		t.Errorf("Expected wake at the release deadline (%v), got %v", KeyHoldDuration, got)
	}
}

// TestRun tests the real-time loop against the system clock
func TestRun(t *testing.T) {
	rec := input.NewRecorder()
	e := New(rec, WithTickInterval(5*time.Millisecond))

	if err := e.StartProfile(profile("p1", slot("1", 20)), config.Options{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if rec.Count(input.OpKeyDown, "1") == 0 {
		t.Error("Expected at least one press from the run loop")
	}

	e.Shutdown()
	if rec.Held("1") {
		t.Error("Expected shutdown to release 1")
	}
}
