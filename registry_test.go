package tunnel

import (
	"testing"
	"time"
)

func TestRegistryCreateGeneratesUniqueID(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	t1, err := r.create(3000, "")
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	t2, err := r.create(3001, "")
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if t1.ID == t2.ID {
		t.Fatalf("expected distinct ids, got %q twice", t1.ID)
	}
}

func TestRegistryCreatePreferredID(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	got, err := r.create(3000, "myapp")
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	if got.ID != "myapp" {
		t.Fatalf("got id %q, want %q", got.ID, "myapp")
	}
}

func TestRegistryCreateDuplicatePreferredID(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	if _, err := r.create(3000, "myapp"); err != nil {
		t.Fatalf("create: %s", err)
	}
	_, err := r.create(3000, "myapp")
	tErr, ok := err.(*Error)
	if !ok || tErr.Kind != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	_, err := r.get("nope")
	tErr, ok := err.(*Error)
	if !ok || tErr.Kind != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryDeleteRemovesFromList(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	tun, _ := r.create(3000, "")
	if len(r.list()) != 1 {
		t.Fatalf("expected 1 tunnel, got %d", len(r.list()))
	}
	if _, err := r.delete(tun.ID); err != nil {
		t.Fatalf("delete: %s", err)
	}
	if len(r.list()) != 0 {
		t.Fatalf("expected 0 tunnels after delete, got %d", len(r.list()))
	}
}

func TestRegistryDeleteNotFound(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	_, err := r.delete("nope")
	tErr, ok := err.(*Error)
	if !ok || tErr.Kind != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistrySetConnectedAndRequestCount(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	tun, _ := r.create(3000, "")

	if !r.setConnected(tun.ID, true) {
		t.Fatal("setConnected should find the tunnel")
	}
	got, _ := r.get(tun.ID)
	if !got.Connected {
		t.Fatal("expected Connected=true")
	}

	r.incrementRequestCount(tun.ID)
	r.incrementRequestCount(tun.ID)
	got, _ = r.get(tun.ID)
	if got.RequestCount != 2 {
		t.Fatalf("expected RequestCount=2, got %d", got.RequestCount)
	}
}

func TestRegistrySweepIdleOnlyRemovesDisconnected(t *testing.T) {
	t.Parallel()

	r := newRegistry(nil)
	stale, _ := r.create(3000, "stale")
	live, _ := r.create(3001, "live")
	r.setConnected(live.ID, true)

	r.mu.Lock()
	r.tunnels[stale.ID].LastActivity = time.Now().Add(-48 * time.Hour)
	r.tunnels[live.ID].LastActivity = time.Now().Add(-48 * time.Hour)
	r.mu.Unlock()

	removed := r.sweepIdle(time.Now(), 24*time.Hour)
	if len(removed) != 1 || removed[0] != stale.ID {
		t.Fatalf("expected only %q swept, got %v", stale.ID, removed)
	}
	if _, err := r.get(live.ID); err != nil {
		t.Fatalf("connected tunnel should survive sweep: %s", err)
	}
}
