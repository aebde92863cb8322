package watchdog

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keepalive/config"
	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/heartbeat"
	"keepalive/internal/process"
	"keepalive/internal/scheduler"
)

type fakeProber struct {
	alive atomic.Bool
	err   error
	block bool
}

func (p *fakeProber) Alive(ctx context.Context, _ process.Identity) (bool, error) {
	if p.block {
		<-ctx.Done()
		return true, nil
	}
	return p.alive.Load(), p.err
}

type fakeLauncher struct {
	mu  sync.Mutex
	ids []process.Identity
	at  []time.Time
}

func (l *fakeLauncher) Launch(_ context.Context, id process.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
	l.at = append(l.at, time.Now())
	return nil
}

func (l *fakeLauncher) first() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.at) == 0 {
		return time.Time{}
	}
	return l.at[0]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

type fakeTerminator struct {
	ids []process.Identity
}

func (t *fakeTerminator) Terminate(_ context.Context, id process.Identity) error {
	t.ids = append(t.ids, id)
	return nil
}

type memStore struct {
	mu         sync.Mutex
	heartbeats map[process.Role]heartbeat.Record
	publishes  int
	standDown  map[process.Role]bool
}

func newMemStore() *memStore {
	return &memStore{heartbeats: map[process.Role]heartbeat.Record{}, standDown: map[process.Role]bool{}}
}

func (s *memStore) PublishHeartbeat(_ context.Context, role process.Role, rec heartbeat.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[role] = rec
	s.publishes++
	return nil
}

func (s *memStore) SetStandDown(_ context.Context, role process.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.standDown[role] = true
	return nil
}

func (s *memStore) ClearStandDown(_ context.Context, role process.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.standDown, role)
	return nil
}

func (s *memStore) publishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes
}

func (s *memStore) StandDown(_ context.Context, role process.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.standDown[role], nil
}

type fixture struct {
	w        *Watchdog
	prober   *fakeProber
	launcher *fakeLauncher
	term     *fakeTerminator
	store    *memStore
	sched    *scheduler.Scheduler
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		prober:   &fakeProber{},
		launcher: &fakeLauncher{},
		term:     &fakeTerminator{},
		store:    newMemStore(),
		sched:    scheduler.New(t.Context()),
	}
	t.Cleanup(f.sched.Stop)
	w, err := New(Config{
		Self:         process.Identity{Executable: "keepalive", Role: process.RolePrimary, Extra: []string{"--data-dir=/x"}},
		Interval:     interval,
		ProbeTimeout: interval / 2,
		Scheduler:    f.sched,
		Prober:       f.prober,
		Launcher:     f.launcher,
		Terminator:   f.term,
		Store:        f.store,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.w = w
	return f
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidation(t *testing.T) {
	sched := scheduler.New(t.Context())
	base := Config{
		Self:         process.Identity{Role: process.RolePrimary},
		Interval:     time.Second,
		ProbeTimeout: 100 * time.Millisecond,
		Scheduler:    sched,
		Prober:       &fakeProber{},
		Launcher:     &fakeLauncher{},
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"watcher has no counterpart", func(c *Config) { c.Self.Role = process.RoleWatcher }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"timeout not shorter than interval", func(c *Config) { c.ProbeTimeout = time.Second }},
		{"missing launcher", func(c *Config) { c.Launcher = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestCheck_AliveDoesNotLaunch(t *testing.T) {
	f := newFixture(t, time.Second)
	f.prober.alive.Store(true)
	if !f.w.Check(t.Context()) {
		t.Fatal("Check reported counterpart dead")
	}
	if got := f.launcher.count(); got != 0 {
		t.Fatalf("launches = %d, want 0", got)
	}
}

func TestCheck_DeadLaunchesCounterpart(t *testing.T) {
	f := newFixture(t, time.Second)
	if f.w.Check(t.Context()) {
		t.Fatal("Check reported counterpart alive")
	}
	if got := f.launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	id := f.launcher.ids[0]
	if id.Role != process.RoleCompanion {
		t.Errorf("launched role = %s, want companion", id.Role)
	}
	if !slices.Equal(id.Extra, []string{"--data-dir=/x"}) {
		t.Errorf("launched extra args = %v", id.Extra)
	}
}

func TestStart_PublishesHeartbeatsFasterThanProbes(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	f.prober.alive.Store(true)
	if err := f.w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := f.store.publishCount(); got != 1 {
		t.Fatalf("publishes after start = %d, want 1", got)
	}
	waitUntil(t, 2*time.Second, func() bool { return f.w.Checks() >= 1 }, "first check")
	if got := f.store.publishCount(); got < 3 {
		t.Errorf("publishes by the first check = %d, want at least 3", got)
	}

	f.w.Schedule(400 * time.Millisecond)
	if got := f.w.heartbeat.Interval(); got != PublishEvery(400*time.Millisecond) {
		t.Errorf("heartbeat cadence after Schedule = %s, want %s", got, PublishEvery(400*time.Millisecond))
	}
	if err := f.w.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	if f.sched.Len() != 0 {
		t.Error("tasks still scheduled after stop")
	}
}

func TestCheck_ProbeErrorCountsAsDead(t *testing.T) {
	f := newFixture(t, time.Second)
	f.prober.alive.Store(true)
	f.prober.err = errors.New("proc unreadable")
	f.w.Check(t.Context())
	if got := f.launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
}

func TestCheck_ProbeTimeoutCountsAsDead(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.prober.block = true
	start := time.Now()
	if f.w.Check(t.Context()) {
		t.Fatal("blocked probe reported alive")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %s, want bounded by the timeout", elapsed)
	}
	if got := f.launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
}

func TestStart_DelaysThenResurrects(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.store.standDown[process.RolePrimary] = true

	if err := f.w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := f.launcher.count(); got != 0 {
		t.Fatalf("launched before the first interval: %d", got)
	}
	if down, _ := f.store.StandDown(t.Context(), process.RolePrimary); down {
		t.Error("start did not clear own stand-down marker")
	}
	waitUntil(t, time.Second, func() bool { return f.launcher.count() >= 1 }, "resurrection")

	f.prober.alive.Store(true)
	n := f.launcher.count()
	time.Sleep(250 * time.Millisecond)
	if got := f.launcher.count(); got != n {
		t.Errorf("launched %d more times while counterpart alive", got-n)
	}
}

func TestStop_StandsDownAndTerminates(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	if err := f.w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := f.w.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	if f.sched.Len() != 0 {
		t.Error("watchdog task still scheduled after stop")
	}
	if !f.store.standDown[process.RoleCompanion] {
		t.Error("companion not asked to stand down")
	}
	if len(f.term.ids) != 1 || f.term.ids[0].Role != process.RoleCompanion {
		t.Errorf("terminated %v, want the companion", f.term.ids)
	}
	time.Sleep(120 * time.Millisecond)
	if got := f.launcher.count(); got != 0 {
		t.Errorf("launches after stop = %d, want 0", got)
	}
}

func TestDetach_FinalResurrection(t *testing.T) {
	f := newFixture(t, time.Second)
	f.prober.alive.Store(true)
	if err := f.w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	f.w.Detach(t.Context())
	if got := f.launcher.count(); got != 1 {
		t.Fatalf("final launches = %d, want 1", got)
	}
	if len(f.term.ids) != 0 {
		t.Error("detach terminated the counterpart")
	}
}

func TestDetach_SkippedWhenStandingDown(t *testing.T) {
	f := newFixture(t, time.Second)
	if err := f.store.SetStandDown(t.Context(), process.RolePrimary); err != nil {
		t.Fatal(err)
	}
	f.w.Detach(t.Context())
	if got := f.launcher.count(); got != 0 {
		t.Fatalf("launches = %d, want 0", got)
	}
}

func TestProberFor(t *testing.T) {
	cfg := config.Default()
	if p, err := ProberFor(cfg, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(process.Table); !ok {
		t.Errorf("default prober = %T, want process.Table", p)
	}

	cfg.Watchdog.Probe = config.ProbeHeartbeat
	if _, err := ProberFor(cfg, nil); err == nil {
		t.Error("heartbeat probe without a store accepted")
	}
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ka.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p, err := ProberFor(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	hp, ok := p.(sqlite.HeartbeatProber)
	if !ok {
		t.Fatalf("prober = %T, want sqlite.HeartbeatProber", p)
	}
	if want := StaleAfter(cfg.Watchdog.Interval); hp.StaleAfter != want {
		t.Errorf("stale after = %s, want %s", hp.StaleAfter, want)
	}
}

// Two watchdogs sharing a heartbeat store keep each other alive without
// launching anything.
func TestMutualHeartbeats(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ka.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	interval := 400 * time.Millisecond
	prober := sqlite.HeartbeatProber{Store: store, StaleAfter: StaleAfter(interval)}
	var launchers []*fakeLauncher
	var dogs []*Watchdog
	for _, role := range []process.Role{process.RolePrimary, process.RoleCompanion} {
		sched := scheduler.New(t.Context())
		t.Cleanup(sched.Stop)
		l := &fakeLauncher{}
		w, err := New(Config{
			Self:         process.Identity{Executable: "keepalive", Role: role},
			Interval:     interval,
			ProbeTimeout: interval * 3 / 4,
			Scheduler:    sched,
			Prober:       prober,
			Launcher:     l,
			Store:        store,
		})
		if err != nil {
			t.Fatal(err)
		}
		launchers = append(launchers, l)
		dogs = append(dogs, w)
	}
	for _, w := range dogs {
		if err := w.Start(t.Context()); err != nil {
			t.Fatal(err)
		}
	}
	waitUntil(t, 3*time.Second, func() bool { return dogs[0].Checks() >= 3 && dogs[1].Checks() >= 3 }, "checks")
	for i, l := range launchers {
		if got := l.count(); got != 0 {
			t.Errorf("watchdog %d launched %d times with a live counterpart", i, got)
		}
	}
}

func openSharedStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ka.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func startHeartbeatDog(t *testing.T, store *sqlite.Store, role process.Role, interval time.Duration) (*Watchdog, *fakeLauncher, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(t.Context())
	t.Cleanup(sched.Stop)
	l := &fakeLauncher{}
	w, err := New(Config{
		Self:         process.Identity{Executable: "keepalive", Role: role},
		Interval:     interval,
		ProbeTimeout: interval / 4,
		Scheduler:    sched,
		Prober:       sqlite.HeartbeatProber{Store: store, StaleAfter: StaleAfter(interval)},
		Launcher:     l,
		Store:        store,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	return w, l, sched
}

// A killed Primary is relaunched by the Companion's next probe: its
// heartbeat is still fresh, but the PID behind it is gone.
func TestHeartbeatLiveness_KilledPeerResurrectedWithinInterval(t *testing.T) {
	store := openSharedStore(t)
	interval := 400 * time.Millisecond

	peer := exec.Command("sleep", "30")
	if err := peer.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = peer.Process.Kill()
		_ = peer.Wait()
	})

	publisher := scheduler.New(t.Context())
	t.Cleanup(publisher.Stop)
	publish := func(ctx context.Context) {
		rec := heartbeat.Record{ProcessID: peer.Process.Pid, Timestamp: heartbeat.BootTime()}
		_ = store.PublishHeartbeat(ctx, process.RolePrimary, rec)
	}
	publish(t.Context())
	publisher.Every("primary", PublishEvery(interval), publish)

	companion, launcher, _ := startHeartbeatDog(t, store, process.RoleCompanion, interval)
	waitUntil(t, 3*time.Second, func() bool { return companion.Checks() >= 2 }, "companion checks")
	if got := launcher.count(); got != 0 {
		t.Fatalf("launched %d times while the primary was alive", got)
	}

	publisher.Stop()
	_ = peer.Process.Kill()
	_ = peer.Wait()
	killed := time.Now()

	waitUntil(t, 3*interval, func() bool { return launcher.count() >= 1 }, "resurrection")
	if elapsed := launcher.first().Sub(killed); elapsed > interval+interval/4 {
		t.Errorf("resurrected %s after the kill, want within %s", elapsed, interval+interval/4)
	}
}

// A Primary that stops heartbeating while its PID lives on goes stale after
// StaleAfter and is relaunched at the following probe.
func TestHeartbeatLiveness_StalledPeerResurrected(t *testing.T) {
	store := openSharedStore(t)
	interval := 400 * time.Millisecond

	_, _, primarySched := startHeartbeatDog(t, store, process.RolePrimary, interval)
	companion, launcher, _ := startHeartbeatDog(t, store, process.RoleCompanion, interval)
	waitUntil(t, 3*time.Second, func() bool { return companion.Checks() >= 2 }, "companion checks")
	if got := launcher.count(); got != 0 {
		t.Fatalf("launched %d times while the primary was heartbeating", got)
	}

	primarySched.Stop()
	stalled := time.Now()

	bound := interval + StaleAfter(interval) + interval/4
	waitUntil(t, 2*bound, func() bool { return launcher.count() >= 1 }, "resurrection")
	if elapsed := launcher.first().Sub(stalled); elapsed > bound {
		t.Errorf("resurrected %s after the stall, want within %s", elapsed, bound)
	}
}
