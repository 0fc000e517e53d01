package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	osexec "os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/yichenzhou/coderoom/backend/internal/service/room"
)

var ErrNoActiveProcess = errors.New("no active process")

// Config controls how buffer contents are executed.
type Config struct {
	Command    string        // interpreter binary, e.g. "python3"
	Args       []string      // extra args placed before the source path
	FileSuffix string        // temp artifact suffix, e.g. ".py"
	Timeout    time.Duration // wall-clock ceiling per run, 0 = unbounded
	UsePTY     bool          // run on a pty instead of pipes
}

// SessionStore is the slice of the room service the engine needs: flipping
// the per-session run state on and off.
type SessionStore interface {
	BeginRun(sessionID string, job room.JobHandle) error
	EndRun(sessionID, jobID string)
}

// Publisher fans run events out to the session's room.
type Publisher interface {
	Publish(sessionID, event string, payload any, exclude string)
}

// Engine runs at most one interactive job per session. Output is streamed
// line-by-line to the room; stdin stays writable for the life of the process.
type Engine struct {
	cfg   Config
	rooms SessionStore
	pub   Publisher

	mu   sync.Mutex
	jobs map[string]*Job // keyed by session id
}

// NewEngine creates an execution engine backed by the given room service.
func NewEngine(cfg Config, rooms SessionStore, pub Publisher) *Engine {
	if cfg.Command == "" {
		cfg.Command = "python3"
	}
	if cfg.FileSuffix == "" {
		cfg.FileSuffix = ".py"
	}
	return &Engine{
		cfg:   cfg,
		rooms: rooms,
		pub:   pub,
		jobs:  make(map[string]*Job),
	}
}

// Run materializes source into a temp file, spawns the interpreter, and
// starts streaming its combined output to the room. Returns once the process
// has started; the caller is never blocked on the run itself. A second run
// for the same session is rejected while the first is live.
func (e *Engine) Run(sessionID, source string) (string, error) {
	j := &Job{
		id:        uuid.NewString(),
		sessionID: sessionID,
		done:      make(chan struct{}),
	}

	if err := e.rooms.BeginRun(sessionID, j); err != nil {
		return "", err
	}

	if err := e.start(j, source); err != nil {
		e.rooms.EndRun(sessionID, j.id)
		return "", fmt.Errorf("start run: %w", err)
	}

	e.mu.Lock()
	e.jobs[sessionID] = j
	e.mu.Unlock()

	log.Printf("[exec] job %s started for session %s", j.id, sessionID)
	e.pub.Publish(sessionID, "run_status", map[string]any{
		"running": true,
		"jobId":   j.id,
	}, "")

	go e.stream(j)
	return j.id, nil
}

// start writes the temp artifact and spawns the process with stdin piped and
// stdout/stderr merged into a single stream.
func (e *Engine) start(j *Job, source string) error {
	tmp, err := os.CreateTemp("", "coderoom-*"+e.cfg.FileSuffix)
	if err != nil {
		return err
	}
	j.srcPath = tmp.Name()
	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		e.removeArtifact(j)
		return err
	}
	if err := tmp.Close(); err != nil {
		e.removeArtifact(j)
		return err
	}

	if e.cfg.Timeout > 0 {
		j.ctx, j.cancel = context.WithTimeout(context.Background(), e.cfg.Timeout)
	} else {
		j.ctx, j.cancel = context.WithCancel(context.Background())
	}

	args := append(append([]string(nil), e.cfg.Args...), j.srcPath)
	cmd := osexec.CommandContext(j.ctx, e.cfg.Command, args...)
	j.cmd = cmd

	if e.cfg.UsePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			j.cancel()
			e.removeArtifact(j)
			return err
		}
		j.stdin = ptmx
		j.output = ptmx
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			j.cancel()
			e.removeArtifact(j)
			return err
		}
		pr, pw, err := os.Pipe()
		if err != nil {
			j.cancel()
			e.removeArtifact(j)
			return err
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		if err := cmd.Start(); err != nil {
			pw.Close()
			pr.Close()
			j.cancel()
			e.removeArtifact(j)
			return err
		}
		// Parent keeps only the read end; EOF arrives when the child exits.
		pw.Close()
		j.stdin = stdin
		j.output = pr
	}

	j.setRunning(true)
	return nil
}

// stream reads the combined output line-by-line and broadcasts each line to
// the room. Cleanup is deferred so the terminal run_status always goes out,
// even if the read loop fails mid-stream.
func (e *Engine) stream(j *Job) {
	defer e.finish(j)

	scanner := bufio.NewScanner(j.output)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.pub.Publish(j.sessionID, "run_output", map[string]string{"line": scanner.Text()}, "")
	}
	if err := scanner.Err(); err != nil && !ptyExitError(err) {
		log.Printf("[exec] job %s output read failed: %v", j.id, err)
		e.pub.Publish(j.sessionID, "run_output", map[string]string{"line": "output stream error: " + err.Error()}, "")
	}
}

// finish waits for the process, releases every run resource, and broadcasts
// the terminal status. Cleanup failures are logged, never propagated.
func (e *Engine) finish(j *Job) {
	waitErr := j.cmd.Wait()
	j.setRunning(false)

	if j.stdin != nil {
		_ = j.stdin.Close()
	}
	if j.output != nil {
		// In pty mode this is the same file as stdin; the double close is
		// harmless and the error is discarded either way.
		_ = j.output.Close()
	}
	e.removeArtifact(j)

	timedOut := errors.Is(j.ctx.Err(), context.DeadlineExceeded)
	j.cancel()

	e.mu.Lock()
	if e.jobs[j.sessionID] == j {
		delete(e.jobs, j.sessionID)
	}
	e.mu.Unlock()

	e.rooms.EndRun(j.sessionID, j.id)

	if waitErr != nil {
		log.Printf("[exec] job %s exited: %v", j.id, waitErr)
	} else {
		log.Printf("[exec] job %s exited cleanly", j.id)
	}

	status := map[string]any{
		"running": false,
		"jobId":   j.id,
	}
	if timedOut {
		status["timedOut"] = true
	}
	e.pub.Publish(j.sessionID, "run_status", status, "")
	close(j.done)
}

func (e *Engine) removeArtifact(j *Job) {
	if j.srcPath == "" {
		return
	}
	if err := os.Remove(j.srcPath); err != nil && !os.IsNotExist(err) {
		log.Printf("[exec] job %s failed to remove %s: %v", j.id, j.srcPath, err)
	}
}

// Input writes one line to the live process's stdin. jobID, when non-empty,
// must match the live job. Reports ErrNoActiveProcess after exit instead of
// writing into a dead pipe.
func (e *Engine) Input(sessionID, jobID, text string) error {
	e.mu.Lock()
	j := e.jobs[sessionID]
	e.mu.Unlock()

	if j == nil || !j.Running() {
		return ErrNoActiveProcess
	}
	if jobID != "" && jobID != j.id {
		return ErrNoActiveProcess
	}
	if _, err := io.WriteString(j.stdin, text+"\n"); err != nil {
		return ErrNoActiveProcess
	}
	return nil
}

// StopSession kills the session's live job, if any. Used on session
// teardown; the job's own streamer performs the cleanup and broadcast.
func (e *Engine) StopSession(sessionID string) {
	e.mu.Lock()
	j := e.jobs[sessionID]
	e.mu.Unlock()
	if j != nil {
		j.Stop()
	}
}

// Shutdown terminates every live job and waits briefly for their cleanup.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		j.Stop()
	}

	deadline := time.After(timeout)
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-deadline:
			log.Printf("[exec] shutdown timed out waiting for job %s", j.id)
			return
		}
	}
}
