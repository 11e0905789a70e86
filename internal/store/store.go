// Package store persists the last known status of each supervised process
// plus an append-only log of lifecycle transitions. It supports PID and
// state recovery after a daemon restart.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no status row exists for the process.
var ErrNotFound = errors.New("store: process not found")

// Record is the persisted status of one supervised process. Detail carries
// the exit error or a transition note, empty when there is none.
type Record struct {
	ProcessID uuid.UUID
	Name      string
	Kind      string
	State     string
	PID       int
	Ports     []uint16
	Restarts  int
	Detail    string
	UpdatedAt time.Time
}

// PortsString encodes the port list for a single TEXT column.
func (r Record) PortsString() string {
	if len(r.Ports) == 0 {
		return ""
	}
	parts := make([]string, len(r.Ports))
	for i, p := range r.Ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}

// ParsePorts decodes a PortsString value. Malformed entries are skipped.
func ParsePorts(s string) []uint16 {
	if s == "" {
		return nil
	}
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			continue
		}
		out = append(out, uint16(n))
	}
	return out
}

// Store is the persistence interface consumed by the manager.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// UpsertStatus replaces the current status row for the process.
	UpsertStatus(ctx context.Context, rec Record) error
	// RecordTransition appends one row to the transition log.
	RecordTransition(ctx context.Context, rec Record) error
	GetStatus(ctx context.Context, id uuid.UUID) (Record, error)
	ListStatuses(ctx context.Context) ([]Record, error)
	// Delete removes the status row; transition history is kept.
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}
