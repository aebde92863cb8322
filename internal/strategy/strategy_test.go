package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"keepalive/config"
	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/scheduler"
)

type countingTrigger struct {
	calls  atomic.Int64
	fail   atomic.Int64
	reason atomic.Pointer[string]
}

func (c *countingTrigger) lastReason() string {
	if r := c.reason.Load(); r != nil {
		return *r
	}
	return ""
}

func (c *countingTrigger) Check(ctx context.Context) error {
	r := Reason(ctx)
	c.reason.Store(&r)
	c.calls.Add(1)
	if c.fail.Load() > 0 {
		c.fail.Add(-1)
		return errors.New("busy")
	}
	return nil
}

func newTestEnv(t *testing.T) (Env, *countingTrigger, *LogPresenter) {
	t.Helper()
	sched := scheduler.New(t.Context())
	t.Cleanup(sched.Stop)
	trig := &countingTrigger{}
	pres := NewLogPresenter()
	return Env{Scheduler: sched, Trigger: trig, Presenter: pres}, trig, pres
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

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{30 * time.Hour, "30:00:00"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPresenceKeeper_Lifecycle(t *testing.T) {
	env, _, pres := newTestEnv(t)
	cfg := config.PresenceConfig{Enabled: true, MediaSession: true, AliveInterval: 10 * time.Millisecond}
	p := NewPresenceKeeper(env, cfg, config.Default().Notification)

	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []Surface{SurfaceMediaSession, SurfaceNotification}
	if got := pres.Active(); !slices.Equal(got, want) {
		t.Fatalf("active surfaces = %v, want %v", got, want)
	}
	waitUntil(t, time.Second, func() bool { return p.Checks() >= 2 }, "alive loop")

	if err := p.Restart(t.Context()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := p.Restarts(); got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}

	if err := p.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := pres.Active(); len(got) != 0 {
		t.Errorf("active surfaces after stop = %v", got)
	}
	if got := env.Scheduler.Len(); got != 0 {
		t.Errorf("tasks after stop = %d, want 0", got)
	}
	if got := p.Uptime(); got != 0 {
		t.Errorf("uptime after stop = %s, want 0", got)
	}
}

func TestPresenceKeeper_RestartWhenStoppedStarts(t *testing.T) {
	env, _, pres := newTestEnv(t)
	p := NewPresenceKeeper(env, config.PresenceConfig{AliveInterval: time.Hour}, config.Default().Notification)

	if err := p.Restart(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := pres.Active(); !slices.Equal(got, []Surface{SurfaceNotification}) {
		t.Errorf("active surfaces = %v", got)
	}
	if got := p.Restarts(); got != 0 {
		t.Errorf("restarts = %d, want 0", got)
	}
}

func TestJob_WakesPeriodically(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	j := NewJob(env, 10*time.Millisecond)
	if j.Kind() != KindJob {
		t.Fatalf("kind = %s", j.Kind())
	}
	if err := j.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, time.Second, func() bool { return trig.calls.Load() >= 2 }, "job wake-ups")
	if got := trig.lastReason(); got != string(KindJob) {
		t.Errorf("wake-up reason = %q, want %q", got, KindJob)
	}
	if err := j.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	if env.Scheduler.Len() != 0 {
		t.Error("job task still registered after stop")
	}
}

func TestPeriodic_RejectsNonPositiveInterval(t *testing.T) {
	env, _, _ := newTestEnv(t)
	if err := NewAlarm(env, 0).Start(t.Context()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestWork_RetriesFailedCheck(t *testing.T) {
	old := workRetryInterval
	workRetryInterval = time.Millisecond
	t.Cleanup(func() { workRetryInterval = old })

	env, trig, _ := newTestEnv(t)
	trig.fail.Store(2)
	w := NewWork(env, 20*time.Millisecond)
	if err := w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	// Two failures and a success inside the first run.
	waitUntil(t, 2*time.Second, func() bool { return trig.calls.Load() >= 3 }, "work retries")
	if got := w.Runs(); got < 1 {
		t.Errorf("runs = %d, want at least 1", got)
	}
}

func TestAlarm_ScheduleRearms(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	a := NewAlarm(env, time.Hour)
	if err := a.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	a.Schedule(10 * time.Millisecond)
	waitUntil(t, time.Second, func() bool { return trig.calls.Load() >= 2 }, "alarm after reschedule")
	if got := a.Interval(); got != 10*time.Millisecond {
		t.Errorf("interval = %s", got)
	}
	if got := a.Report()["runs"]; got == "0" {
		t.Error("report shows no runs")
	}
}

func TestSyncBeacon_CatchesUpAfterGap(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ka.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	env.Store = store

	stale := time.Now().Add(-2 * time.Hour)
	if err := store.SetLastSync(t.Context(), "acct", stale); err != nil {
		t.Fatal(err)
	}
	s := NewSyncBeacon(env, "acct", time.Hour)
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := trig.calls.Load(); got != 1 {
		t.Fatalf("checks after start = %d, want 1", got)
	}
	last, _, err := store.LastSync(t.Context(), "acct")
	if err != nil {
		t.Fatal(err)
	}
	if !last.After(stale) {
		t.Errorf("last sync not advanced: %v", last)
	}
}

func TestSyncBeacon_RecentSyncWaits(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ka.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	env.Store = store

	recent := time.Now().Add(-time.Minute)
	if err := store.SetLastSync(t.Context(), "acct", recent); err != nil {
		t.Fatal(err)
	}
	s := NewSyncBeacon(env, "acct", time.Hour)
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := trig.calls.Load(); got != 0 {
		t.Errorf("checks after start = %d, want 0", got)
	}
	if got := s.LastSync(); !got.Equal(recent) {
		t.Errorf("LastSync = %v, want %v", got, recent)
	}
}

func TestSyncBeacon_WithoutStoreSyncsImmediately(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	s := NewSyncBeacon(env, "acct", time.Hour)
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := trig.calls.Load(); got != 1 {
		t.Errorf("checks after start = %d, want 1", got)
	}
}

func TestBroadcastListener_SignalWakes(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	b := NewBroadcastListenerFrom(env, func() []Source {
		return []Source{NewSignalSource("test", syscall.SIGUSR2)}
	})
	if err := b.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop(t.Context())

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR2); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, time.Second, func() bool { return trig.calls.Load() >= 1 }, "signal wake-up")
	if got := b.Report()["events"]; got != "1" {
		t.Errorf("events = %s, want 1", got)
	}
}

func TestBroadcastListener_SkipsUnavailableSources(t *testing.T) {
	env, _, _ := newTestEnv(t)
	missing := filepath.Join(t.TempDir(), "missing")
	b := NewBroadcastListenerFrom(env, func() []Source {
		return []Source{
			NewPathSource("usb", missing),
			NewSignalSource("system", syscall.SIGUSR2),
		}
	})
	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := b.Active(); !slices.Equal(got, []string{"system"}) {
		t.Errorf("active = %v, want [system]", got)
	}
	if got := b.Report()["unavailable"]; got != "[usb]" {
		t.Errorf("unavailable = %q", got)
	}
	if err := b.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := b.Active(); len(got) != 0 {
		t.Errorf("active after stop = %v", got)
	}
}

func TestBroadcastListener_AllUnavailableFails(t *testing.T) {
	env, _, _ := newTestEnv(t)
	missing := filepath.Join(t.TempDir(), "missing")
	b := NewBroadcastListenerFrom(env, func() []Source {
		return []Source{NewPathSource("usb", missing)}
	})
	if err := b.Start(t.Context()); err == nil {
		t.Fatal("expected error when no source opens")
	}
}

func TestBroadcastSourcesFollowConfig(t *testing.T) {
	cfg := config.BroadcastConfig{
		USB:         true,
		MediaButton: true,
		Paths:       config.BroadcastPaths{USB: "/dev/bus/usb"},
	}
	var names []string
	for _, s := range broadcastSources(cfg) {
		names = append(names, s.Name())
	}
	if want := []string{"media-button", "usb"}; !slices.Equal(names, want) {
		t.Errorf("sources = %v, want %v", names, want)
	}
}

func TestFileObserver_WakesOnChange(t *testing.T) {
	env, trig, _ := newTestEnv(t)
	dir := filepath.Join(t.TempDir(), "observe", "file")
	o := NewFileObserver(env, dir)
	if err := o.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop(t.Context())

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("observed directory not created: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "touch"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool { return trig.calls.Load() >= 1 }, "file observer wake-up")
}

func TestContentObserver_WatchesEnabledKinds(t *testing.T) {
	env, _, _ := newTestEnv(t)
	root := t.TempDir()
	cfg := config.ObserverConfig{
		Media: true,
		SMS:   true,
		Paths: config.ObserverPaths{
			Media:    filepath.Join(root, "media"),
			Contacts: filepath.Join(root, "contacts"),
			SMS:      filepath.Join(root, "sms"),
		},
	}
	o := NewContentObserver(env, cfg)
	if err := o.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer o.Stop(t.Context())

	if got := o.Active(); !slices.Equal(got, []string{"media", "sms"}) {
		t.Errorf("active = %v", got)
	}
	if got := o.Paths(); len(got) != 2 {
		t.Errorf("paths = %v", got)
	}
}

func TestSurfacePresence(t *testing.T) {
	env, _, _ := newTestEnv(t)
	env.Presenter = NewLogPresenter(SurfaceOverlay)
	msg := config.Default().Notification

	overlay := NewOverlay(env, msg, true)
	if err := overlay.Start(t.Context()); err != nil {
		t.Fatalf("unavailable surface should not fail: %v", err)
	}
	if overlay.Shown() {
		t.Error("overlay shown without permission")
	}

	lock := NewLockScreen(env, msg)
	if err := lock.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !lock.Shown() {
		t.Fatal("lock screen not shown")
	}
	if err := lock.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	if lock.Shown() {
		t.Error("lock screen still shown after stop")
	}
	if got := env.Presenter.(*LogPresenter).Active(); len(got) != 0 {
		t.Errorf("active surfaces = %v", got)
	}
}
