package exec

import (
	"context"
	"io"
	"os/exec"
	"sync"
)

// Job is one in-flight interactive execution of a session's buffer. It is
// owned by the session, not by any connection: a participant dropping
// mid-run leaves the job untouched.
type Job struct {
	id        string
	sessionID string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	output  io.ReadCloser
	srcPath string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
}

// ID returns the job identifier broadcast with run_status events.
func (j *Job) ID() string { return j.id }

// SessionID returns the owning session.
func (j *Job) SessionID() string { return j.sessionID }

// Running reports whether the process is still alive.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Stop forcibly terminates the process. Safe to call at any point in the
// job's life, including after exit.
func (j *Job) Stop() {
	j.cancel()
}

// Done is closed once the process has exited and cleanup has run.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) setRunning(v bool) {
	j.mu.Lock()
	j.running = v
	j.mu.Unlock()
}
