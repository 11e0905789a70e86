package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is an externally consumable snapshot of one managed process.
type Status struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	State         State     `json:"state"`
	PID           int       `json:"pid,omitempty"`
	Ports         []uint16  `json:"ports,omitempty"`
	Restarts      int       `json:"restarts"`
	LastRestartAt time.Time `json:"last_restart_at,omitzero"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	StoppedAt     time.Time `json:"stopped_at,omitzero"`
	ExitErr       string    `json:"exit_err,omitempty"`
}

// Process is the runtime record for one supervised OS process. All fields are
// guarded by mu; external packages interact only through methods.
type Process struct {
	mu            sync.Mutex
	spec          Spec
	state         State
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	outW          io.WriteCloser
	errW          io.WriteCloser
	pid           int
	startedAt     time.Time
	stoppedAt     time.Time
	exitErr       error
	restarts      int
	lastRestartAt time.Time
	waitDone      chan struct{} // closed by the waiter when cmd.Wait returns
	stopRequested bool
	onExit        func(err error)
}

func New(spec Spec) *Process {
	spec.Normalize()
	return &Process{spec: spec, state: StateStopped}
}

func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

func (p *Process) UpdateSpec(s Spec) {
	s.Normalize()
	p.mu.Lock()
	p.spec = s
	p.mu.Unlock()
}

// SetOnExit installs the exit callback invoked (outside the lock) whenever
// the waiter observes process exit. Used by the manager for crash detection.
func (p *Process) SetOnExit(fn func(err error)) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transition validates and applies a state edge.
func (p *Process) Transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !CanTransition(p.state, to) {
		return &InvalidTransitionError{ID: p.spec.ID, From: p.state, To: to}
	}
	p.state = to
	return nil
}

func (p *Process) SetStopRequested(v bool) {
	p.mu.Lock()
	p.stopRequested = v
	p.mu.Unlock()
}

func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopRequested
}

func (p *Process) IncRestarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	p.lastRestartAt = time.Now()
	return p.restarts
}

func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// ResetRestarts clears the restart counter; explicit operator intervention
// after the attempt cap was reached.
func (p *Process) ResetRestarts() {
	p.mu.Lock()
	p.restarts = 0
	p.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		ID:            p.spec.ID,
		Name:          p.spec.Name,
		Kind:          p.spec.Kind,
		State:         p.state,
		Restarts:      p.restarts,
		LastRestartAt: p.lastRestartAt,
		StartedAt:     p.startedAt,
		StoppedAt:     p.stoppedAt,
		Ports:         append([]uint16(nil), p.spec.Ports...),
	}
	if p.state == StateRunning || p.state == StateStopping {
		st.PID = p.pid
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}

// Spawn builds and starts the OS process. The caller must have moved the
// record to Starting; on success the record holds the PID and a waiter
// goroutine owns cmd.Wait.
func (p *Process) Spawn(mergedEnv []string) error {
	p.mu.Lock()
	spec := p.spec
	p.mu.Unlock()

	// #nosec G204 -- executable and flags come from operator configuration
	cmd := exec.Command(spec.Exec, spec.BuildArgs()...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{ID: spec.ID, Name: spec.Name, Err: err}
	}

	outW, errW := spec.Log.Writers(spec.Name)
	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return &SpawnError{ID: spec.ID, Name: spec.Name, Err: err}
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.outW = outW
	p.errW = errW
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.stoppedAt = time.Time{}
	p.exitErr = nil
	p.stopRequested = false
	p.waitDone = make(chan struct{})
	done := p.waitDone
	p.mu.Unlock()

	p.writePIDFile()
	go p.waiter(cmd, done)
	return nil
}

// waiter owns cmd.Wait for one run. It finalizes the record and fires the
// exit callback exactly once per run.
func (p *Process) waiter(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	p.stoppedAt = time.Now()
	p.exitErr = err
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.outW != nil {
		_ = p.outW.Close()
		p.outW = nil
	}
	if p.errW != nil {
		_ = p.errW.Close()
		p.errW = nil
	}
	onExit := p.onExit
	p.mu.Unlock()

	p.removePIDFile()
	close(done)
	if onExit != nil {
		onExit(err)
	}
}

// PID returns the recorded PID, 0 when not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.doneChanLocked():
		return 0
	default:
	}
	return p.pid
}

// doneChanLocked returns the wait channel, or a closed one when no run exists.
func (p *Process) doneChanLocked() chan struct{} {
	if p.waitDone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.waitDone
}

// Alive reports whether the current run's OS process has not yet exited.
func (p *Process) Alive() bool {
	p.mu.Lock()
	done := p.doneChanLocked()
	p.mu.Unlock()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// WriteStdin sends one line to the process's standard input; the primary
// graceful-stop channel.
func (p *Process) WriteStdin(line string) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("stdin unavailable")
	}
	_, err := io.WriteString(stdin, line+"\n")
	return err
}

// WaitExit blocks until the current run exits or timeout elapses. Returns
// true when the process exited.
func (p *Process) WaitExit(timeout time.Duration) bool {
	p.mu.Lock()
	done := p.doneChanLocked()
	p.mu.Unlock()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// KillGroup forcibly terminates the process group.
func (p *Process) KillGroup() {
	p.mu.Lock()
	pid := p.pid
	alive := p.cmd != nil
	p.mu.Unlock()
	if alive && pid > 0 {
		killGroup(pid)
	}
}

// ExitErr returns the error recorded from the last exit, if any.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) writePIDFile() {
	p.mu.Lock()
	pidFile := p.spec.PIDFile
	pid := p.pid
	p.mu.Unlock()
	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600)
}

func (p *Process) removePIDFile() {
	p.mu.Lock()
	pidFile := p.spec.PIDFile
	p.mu.Unlock()
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}
