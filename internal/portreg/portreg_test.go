package portreg

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func allOpen(uint16) bool { return true }

func TestReserveAndRelease(t *testing.T) {
	r := NewWithProbe(allOpen)
	owner := uuid.New()
	if err := r.Reserve(owner, []uint16{25565, 25575}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got := r.OwnedPorts(owner)
	if len(got) != 2 || got[0] != 25565 || got[1] != 25575 {
		t.Fatalf("owned ports = %v", got)
	}
	r.Release(owner)
	if ports := r.OwnedPorts(owner); len(ports) != 0 {
		t.Fatalf("expected no ports after release, got %v", ports)
	}
	// Released ports are reservable again by another owner.
	if err := r.Reserve(uuid.New(), []uint16{25565}); err != nil {
		t.Fatalf("re-reserve after release: %v", err)
	}
}

func TestReserveConflictNamesOwner(t *testing.T) {
	r := NewWithProbe(allOpen)
	p1 := uuid.New()
	p2 := uuid.New()
	if err := r.Reserve(p1, []uint16{25565}); err != nil {
		t.Fatalf("reserve p1: %v", err)
	}
	err := r.Reserve(p2, []uint16{25565, 25576})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Port != 25565 || conflict.Owner != p1 {
		t.Fatalf("conflict = %+v", conflict)
	}
	// The non-conflicting port must not be left reserved.
	if _, taken := r.Owner(25576); taken {
		t.Fatal("port 25576 leaked from failed reservation")
	}
}

func TestReserveRollsBackOnProbeFailure(t *testing.T) {
	bad := uint16(30001)
	r := NewWithProbe(func(p uint16) bool { return p != bad })
	err := r.Reserve(uuid.New(), []uint16{30000, bad, 30002})
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if unavailable.Port != bad {
		t.Fatalf("unavailable port = %d", unavailable.Port)
	}
	for _, p := range []uint16{30000, bad, 30002} {
		if _, taken := r.Owner(p); taken {
			t.Fatalf("port %d left reserved after failed reservation", p)
		}
	}
}

func TestReleaseIdempotent(t *testing.T) {
	r := NewWithProbe(allOpen)
	owner := uuid.New()
	if err := r.Reserve(owner, []uint16{40000}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Release(owner)
	before := len(r.Assignments())
	r.Release(owner)
	if after := len(r.Assignments()); after != before {
		t.Fatalf("second release changed the map: %d -> %d", before, after)
	}
}

func TestConcurrentOverlappingReserve(t *testing.T) {
	r := NewWithProbe(allOpen)
	const workers = 16
	ports := []uint16{25565, 25566}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Reserve(uuid.New(), ports); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful reservation, got %d", succeeded)
	}
}

func TestFindAvailableSkipsReservedAndClosed(t *testing.T) {
	closed := map[uint16]bool{20001: true}
	r := NewWithProbe(func(p uint16) bool { return !closed[p] })
	if err := r.Reserve(uuid.New(), []uint16{20000}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got, err := r.FindAvailable(20000, 3)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []uint16{20002, 20003, 20004}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("find = %v, want %v", got, want)
		}
	}
}

func TestFindAvailableExhaustsRange(t *testing.T) {
	r := NewWithProbe(func(uint16) bool { return false })
	_, err := r.FindAvailable(65000, 5)
	var nep *NotEnoughPortsError
	if !errors.As(err, &nep) {
		t.Fatalf("expected NotEnoughPortsError, got %v", err)
	}
}

func TestValidateOwnedDetectsStalePort(t *testing.T) {
	stale := false
	r := NewWithProbe(func(uint16) bool { return !stale })
	owner := uuid.New()
	if err := r.Reserve(owner, []uint16{21000}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := r.ValidateOwned(owner); err != nil {
		t.Fatalf("validate while healthy: %v", err)
	}
	stale = true
	err := r.ValidateOwned(owner)
	var sp *StalePortError
	if !errors.As(err, &sp) {
		t.Fatalf("expected StalePortError, got %v", err)
	}
	if sp.Port != 21000 {
		t.Fatalf("stale port = %d", sp.Port)
	}
}

func TestSystemProbeSeesBoundPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	port := uint16(l.Addr().(*net.TCPAddr).Port)

	r := New()
	rerr := r.Reserve(uuid.New(), []uint16{port})
	var unavailable *UnavailableError
	if !errors.As(rerr, &unavailable) {
		t.Fatalf("expected UnavailableError for bound port %d, got %v", port, rerr)
	}
}
