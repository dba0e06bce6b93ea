package runner

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// termGrace is how long a cancelled process gets to exit after the
// graceful signal before the whole group is killed unconditionally.
const termGrace = 5 * time.Second

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the terminal notification for one task. Err is set for
// runner-level failures: the process could not be spawned, or reading
// its output failed.
type Result struct {
	Status   Status
	ExitCode int
	Err      error
}

// Sink receives output lines in arrival order, then exactly one Done.
// Done is always the last call for a task, whatever the outcome, so a
// caller always knows when starting the next task is safe.
type Sink interface {
	Line(line string)
	Done(res Result)
}

// Handle tracks one running external process.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	cancelled bool
	result    Result

	done chan struct{}
}

// Start launches command in dir with stdout and stderr merged into one
// line stream. It never returns an error: spawn failures surface as
// the terminal Done notification, like every other outcome. Done is
// always delivered off the caller's goroutine, so callers may finish
// registering the task after Start returns before Done can observe it.
func Start(command []string, dir string, sink Sink) *Handle {
	h := &Handle{done: make(chan struct{})}

	if len(command) == 0 {
		go h.finish(sink, Result{Status: StatusFailed, Err: fmt.Errorf("empty command")})
		return h
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		go h.finish(sink, Result{Status: StatusFailed, Err: fmt.Errorf("failed to open output pipe: %w", err)})
		return h
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		go h.finish(sink, Result{Status: StatusFailed, Err: fmt.Errorf("failed to start %s: %w", command[0], err)})
		return h
	}

	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()

	go h.pump(stdout, sink)
	return h
}

// pump reads merged output line by line on its own goroutine (the
// reads block for as long as the external tool runs), then waits for
// the process and emits the single terminal notification.
func (h *Handle) pump(out io.Reader, sink Sink) {
	scanner := bufio.NewScanner(out)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		sink.Line(scanner.Text())
	}
	readErr := scanner.Err()

	waitErr := h.cmd.Wait()

	res := Result{Status: StatusSucceeded}
	switch {
	case h.wasCancelled():
		res = Result{Status: StatusCancelled, ExitCode: h.cmd.ProcessState.ExitCode()}
	case waitErr != nil:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res = Result{Status: StatusFailed, ExitCode: exitErr.ExitCode()}
		} else {
			res = Result{Status: StatusFailed, Err: waitErr}
		}
	case readErr != nil:
		res = Result{Status: StatusFailed, Err: fmt.Errorf("failed reading output: %w", readErr)}
	}

	h.finish(sink, res)
}

func (h *Handle) finish(sink Sink, res Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	close(h.done)
	sink.Done(res)
}

// Cancel requests graceful termination of the process group and, if
// the process is still alive after the grace period, kills it
// unconditionally. Calling Cancel on a finished task is a no-op, and
// racing Cancel with normal completion never produces a second
// notification.
func (h *Handle) Cancel() {
	select {
	case <-h.done:
		return
	default:
	}

	h.mu.Lock()
	if h.cancelled || h.cmd == nil {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	cmd := h.cmd
	h.mu.Unlock()

	_ = terminateProcessGroup(cmd)

	go func() {
		select {
		case <-h.done:
		case <-time.After(termGrace):
			_ = killProcessGroup(cmd)
		}
	}()
}

func (h *Handle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Done is closed once the terminal notification has been emitted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the task reached a terminal state.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task finishes or the timeout elapses.
func (h *Handle) Wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Result returns the terminal result once the task has finished.
func (h *Handle) Result() (Result, bool) {
	if !h.Finished() {
		return Result{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true
}

// PID returns the child's process id while it is known.
func (h *Handle) PID() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}
