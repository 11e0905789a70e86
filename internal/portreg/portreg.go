// Package portreg tracks port-to-owner assignments for managed processes and
// validates OS-level availability before committing a reservation.
package portreg

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// probeFunc reports whether a port can be bound on both TCP and UDP.
type probeFunc func(port uint16) bool

// Registry maps ports to owning process IDs. All operations are serialized by
// a single mutex; a reservation spans the map check, the OS probes, and the
// commit, so two overlapping Reserve calls can never both succeed.
type Registry struct {
	mu          sync.Mutex
	assignments map[uint16]uuid.UUID
	owned       map[uuid.UUID][]uint16
	probe       probeFunc
}

func New() *Registry {
	return &Registry{
		assignments: make(map[uint16]uuid.UUID),
		owned:       make(map[uuid.UUID][]uint16),
		probe:       probeSystem,
	}
}

// NewWithProbe returns a Registry using a custom availability probe.
// Tests use this to make OS availability deterministic.
func NewWithProbe(probe func(port uint16) bool) *Registry {
	r := New()
	if probe != nil {
		r.probe = probe
	}
	return r
}

// Reserve claims every port in ports for owner, all-or-nothing. It fails fast
// with ConflictError on the first port already assigned, then with
// UnavailableError on the first port that fails the OS bind probe. No partial
// reservation is ever visible to other callers.
func (r *Registry) Reserve(owner uuid.UUID, ports []uint16) error {
	if len(ports) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range ports {
		if existing, ok := r.assignments[p]; ok {
			return &ConflictError{Port: p, Owner: existing}
		}
	}
	for _, p := range ports {
		if !r.probe(p) {
			return &UnavailableError{Port: p}
		}
	}
	for _, p := range ports {
		r.assignments[p] = owner
	}
	r.owned[owner] = append(r.owned[owner], ports...)
	sort.Slice(r.owned[owner], func(i, j int) bool { return r.owned[owner][i] < r.owned[owner][j] })
	return nil
}

// Release removes every reservation held by owner. It is idempotent; releasing
// an unknown owner is a no-op.
func (r *Registry) Release(owner uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.owned[owner] {
		delete(r.assignments, p)
	}
	delete(r.owned, owner)
}

// ReleaseAll drops every reservation. Used by the shutdown sequence as a
// defensive sweep after all processes have stopped.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = make(map[uint16]uuid.UUID)
	r.owned = make(map[uuid.UUID][]uint16)
}

// FindAvailable scans linearly from start for count ports that pass the OS
// probe and are not reserved. It returns NotEnoughPortsError when the u16
// range is exhausted first.
func (r *Registry) FindAvailable(start uint16, count int) ([]uint16, error) {
	if count <= 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	found := make([]uint16, 0, count)
	for p := uint32(start); p < 65535 && len(found) < count; p++ {
		port := uint16(p)
		if _, taken := r.assignments[port]; taken {
			continue
		}
		if r.probe(port) {
			found = append(found, port)
		}
	}
	if len(found) < count {
		return nil, &NotEnoughPortsError{Start: start, Count: count, Found: len(found)}
	}
	return found, nil
}

// ValidateOwned re-probes every port recorded for owner to detect external
// interference (something else bound a supposedly owned port).
func (r *Registry) ValidateOwned(owner uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.owned[owner] {
		if !r.probe(p) {
			return &StalePortError{Port: p, Owner: owner}
		}
	}
	return nil
}

// Owner returns the process currently holding port.
func (r *Registry) Owner(port uint16) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.assignments[port]
	return id, ok
}

// OwnedPorts returns a copy of the ports assigned to owner, ascending.
func (r *Registry) OwnedPorts(owner uuid.UUID) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.owned[owner]...)
}

// Assignments returns a copy of the full port-to-owner map.
func (r *Registry) Assignments() map[uint16]uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint16]uuid.UUID, len(r.assignments))
	for p, id := range r.assignments {
		out[p] = id
	}
	return out
}

// probeSystem attempts to bind port on both stream and datagram transports.
// Both must succeed for the port to count as available.
func probeSystem(port uint16) bool {
	addr := fmt.Sprintf(":%d", port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = l.Close()
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return false
	}
	_ = pc.Close()
	return true
}
