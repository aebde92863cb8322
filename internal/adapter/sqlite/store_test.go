package sqlite

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"keepalive/internal/heartbeat"
	"keepalive/internal/process"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHeartbeatStore_PublishAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()

	if _, found, err := store.Heartbeat(ctx, process.RolePrimary); err != nil || found {
		t.Fatalf("Heartbeat on empty store = found %v, err %v", found, err)
	}

	if err := store.PublishHeartbeat(ctx, process.RolePrimary, heartbeat.Record{ProcessID: 10, Timestamp: 100}); err != nil {
		t.Fatalf("PublishHeartbeat: %v", err)
	}
	got, found, err := store.Heartbeat(ctx, process.RolePrimary)
	if err != nil || !found {
		t.Fatalf("Heartbeat: found %v, err %v", found, err)
	}
	if got.ProcessID != 10 || got.Timestamp != 100 {
		t.Errorf("got %+v, want pid 10 ts 100", got)
	}

	// A resurrected process publishes under the same role with a new pid.
	if err := store.PublishHeartbeat(ctx, process.RolePrimary, heartbeat.Record{ProcessID: 11, Timestamp: 200}); err != nil {
		t.Fatal(err)
	}
	got, _, _ = store.Heartbeat(ctx, process.RolePrimary)
	if got.ProcessID != 11 || got.Timestamp != 200 {
		t.Errorf("got %+v, want pid 11 ts 200", got)
	}
}

func TestHeartbeatStore_NeverMovesBackwards(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()

	if err := store.PublishHeartbeat(ctx, process.RoleCompanion, heartbeat.Record{ProcessID: 1, Timestamp: 500}); err != nil {
		t.Fatal(err)
	}
	if err := store.PublishHeartbeat(ctx, process.RoleCompanion, heartbeat.Record{ProcessID: 2, Timestamp: 400}); err != nil {
		t.Fatal(err)
	}
	got, _, err := store.Heartbeat(ctx, process.RoleCompanion)
	if err != nil {
		t.Fatal(err)
	}
	if got.Timestamp != 500 || got.ProcessID != 1 {
		t.Errorf("stale write applied: got %+v", got)
	}
}

func TestStandDownMarkers(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()

	down, err := store.StandDown(ctx, process.RoleCompanion)
	if err != nil || down {
		t.Fatalf("StandDown on empty store = %v, %v", down, err)
	}
	if err := store.SetStandDown(ctx, process.RoleCompanion); err != nil {
		t.Fatal(err)
	}
	// Setting twice is fine.
	if err := store.SetStandDown(ctx, process.RoleCompanion); err != nil {
		t.Fatal(err)
	}
	if down, _ := store.StandDown(ctx, process.RoleCompanion); !down {
		t.Fatal("expected stand-down marker")
	}
	if down, _ := store.StandDown(ctx, process.RolePrimary); down {
		t.Fatal("marker leaked to another role")
	}
	if err := store.ClearStandDown(ctx, process.RoleCompanion); err != nil {
		t.Fatal(err)
	}
	if down, _ := store.StandDown(ctx, process.RoleCompanion); down {
		t.Fatal("marker survived clear")
	}
}

func TestLastSync(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()

	if _, found, err := store.LastSync(ctx, "acct"); err != nil || found {
		t.Fatalf("LastSync on empty store = found %v, err %v", found, err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	if err := store.SetLastSync(ctx, "acct", at); err != nil {
		t.Fatal(err)
	}
	got, found, err := store.LastSync(ctx, "acct")
	if err != nil || !found {
		t.Fatalf("LastSync: found %v, err %v", found, err)
	}
	if !got.Equal(at) {
		t.Errorf("got %v, want %v", got, at)
	}
	if err := store.SetLastSync(ctx, " ", at); err == nil {
		t.Error("SetLastSync accepted an empty name")
	}
}

func TestHeartbeatProber(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()
	now := int64(10 * time.Second)
	prober := HeartbeatProber{Store: store, StaleAfter: 3 * time.Second, Now: func() int64 { return now }}
	id := process.Identity{Role: process.RolePrimary}

	alive, err := prober.Alive(ctx, id)
	if err != nil || alive {
		t.Fatalf("no record: alive %v, err %v", alive, err)
	}

	if err := store.PublishHeartbeat(ctx, process.RolePrimary, heartbeat.Record{ProcessID: 1, Timestamp: int64(8 * time.Second)}); err != nil {
		t.Fatal(err)
	}
	if alive, _ := prober.Alive(ctx, id); !alive {
		t.Fatal("2s-old record reported dead")
	}

	now = int64(12 * time.Second)
	if alive, _ := prober.Alive(ctx, id); alive {
		t.Fatal("4s-old record reported alive")
	}
}

func TestHeartbeatProber_DeadPublisher(t *testing.T) {
	store := openTestStore(t)
	ctx := t.Context()

	gone := exec.Command("true")
	if err := gone.Run(); err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	now := int64(10 * time.Second)
	prober := HeartbeatProber{Store: store, StaleAfter: 3 * time.Second, Now: func() int64 { return now }}
	rec := heartbeat.Record{ProcessID: gone.Process.Pid, Timestamp: now}
	if err := store.PublishHeartbeat(ctx, process.RoleCompanion, rec); err != nil {
		t.Fatal(err)
	}
	if alive, err := prober.Alive(ctx, process.Identity{Role: process.RoleCompanion}); err != nil || alive {
		t.Fatalf("fresh record of an exited process: alive %v, err %v", alive, err)
	}

	rec = heartbeat.Record{ProcessID: os.Getpid(), Timestamp: now + 1}
	if err := store.PublishHeartbeat(ctx, process.RoleCompanion, rec); err != nil {
		t.Fatal(err)
	}
	if alive, _ := prober.Alive(ctx, process.Identity{Role: process.RoleCompanion}); !alive {
		t.Fatal("fresh record of a live process reported dead")
	}
}

func TestStoreSharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.PublishHeartbeat(t.Context(), process.RoleCompanion, heartbeat.Record{ProcessID: 3, Timestamp: 9}); err != nil {
		t.Fatal(err)
	}
	got, found, err := b.Heartbeat(t.Context(), process.RoleCompanion)
	if err != nil || !found || got.ProcessID != 3 {
		t.Fatalf("second handle read %+v, found %v, err %v", got, found, err)
	}
}
