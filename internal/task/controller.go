package task

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wildeye/camtriage/internal/catalog"
	"github.com/wildeye/camtriage/internal/hook"
	"github.com/wildeye/camtriage/internal/models"
	"github.com/wildeye/camtriage/internal/reconcile"
	"github.com/wildeye/camtriage/internal/runner"
	"github.com/wildeye/camtriage/internal/storage"
)

// stopTimeout bounds how long Run waits for a previous task to die
// before starting the next one anyway.
const stopTimeout = 2 * time.Second

// outputTailLines is how many trailing output lines are kept on the
// task record for later inspection.
const outputTailLines = 40

// Notification is the single terminal message a controller delivers
// for each task it ran.
type Notification struct {
	Capability     models.Capability
	TaskID         int64
	TaskName       string
	Folder         string
	Status         models.TaskStatus
	ExitCode       int
	Err            error
	Artifacts      []string
	FolderReloaded bool
}

// Sink receives a task's output lines in arrival order, then exactly
// one Finished call.
type Sink interface {
	Line(capability models.Capability, line string)
	Finished(n Notification)
}

// Controller owns at most one in-flight task for a single capability.
// Starting a new task cancels and waits out the previous one. On
// success of a visualizer task it reconciles the folder's artifacts,
// then reloads the shared session so the UI sees fresh contents.
type Controller struct {
	capability models.Capability
	log        *logrus.Logger
	store      *storage.Storage
	reconciler *reconcile.Reconciler
	hooks      *hook.Runner
	session    *catalog.Session

	mu      sync.Mutex
	current *runner.Handle
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithStore records every task in the run history database.
func WithStore(store *storage.Storage) Option {
	return func(c *Controller) { c.store = store }
}

// WithReconciler enables post-success artifact reconciliation.
// Set on the visualizer controller only.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(c *Controller) { c.reconciler = r }
}

// WithHook runs the user's Lua hook after every terminal state.
func WithHook(h *hook.Runner) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithSession reloads the shared folder session after completion when
// the task ran on the open folder.
func WithSession(s *catalog.Session) Option {
	return func(c *Controller) { c.session = s }
}

func NewController(capability models.Capability, log *logrus.Logger, opts ...Option) *Controller {
	c := &Controller{capability: capability, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Capability() models.Capability {
	return c.capability
}

// Running reports whether a task is currently in flight.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.Finished()
}

// Cancel requests termination of the in-flight task, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	h := c.current
	c.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Run starts command in dir as this controller's task. If a task is
// still running it is cancelled first and given stopTimeout to exit;
// a task that refuses to die is logged and left behind, and the new
// one starts regardless. The sink receives every output line and then
// one Finished notification, after which Run may be called again.
func (c *Controller) Run(name string, command []string, dir string, sink Sink) *models.Task {
	// Wait out the predecessor without holding the lock so Running and
	// Cancel stay responsive while a stubborn task drains.
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()

	if prev != nil && !prev.Finished() {
		c.log.Warnf("cancelling running %s task before starting %q", c.capability, name)
		prev.Cancel()
		if !prev.Wait(stopTimeout) {
			c.log.Errorf("previous %s task did not terminate within %s; starting %q anyway, its process may leak",
				c.capability, stopTimeout, name)
		}
	}

	t := &models.Task{
		Capability: c.capability,
		Name:       name,
		Command:    command,
		Folder:     dir,
		Status:     models.TaskStatusRunning,
		CreatedAt:  time.Now(),
	}
	if c.store != nil {
		id, err := c.store.CreateTask(t)
		if err != nil {
			c.log.Errorf("failed to record %s task: %v", c.capability, err)
		} else {
			t.ID = id
		}
	}

	ts := &taskSink{ctrl: c, task: t, out: sink, ready: make(chan struct{})}
	if c.reconciler != nil {
		snap, err := reconcile.TakeSnapshot(dir)
		if err != nil {
			c.log.Errorf("failed to snapshot %s before run, reconciliation disabled for this task: %v", dir, err)
		} else {
			ts.before = snap
		}
	}

	c.log.Infof("starting %s on folder: %s", name, dir)
	h := runner.Start(command, dir, ts)

	c.mu.Lock()
	c.current = h
	c.mu.Unlock()

	if pid, ok := h.PID(); ok {
		p := pid
		t.PID = &p
		if c.store != nil && t.ID != 0 {
			if err := c.store.UpdateTaskPID(t.ID, pid); err != nil {
				c.log.Errorf("failed to record pid for task %d: %v", t.ID, err)
			}
		}
	}
	close(ts.ready)

	return t
}

// taskSink adapts the runner's per-line stream to the controller's
// post-processing and the caller's notification sink. ready is closed
// once Run has finished registering the task (PID recorded); Done
// blocks on it so a fast-exiting process never races those writes.
type taskSink struct {
	ctrl   *Controller
	task   *models.Task
	out    Sink
	before *reconcile.Snapshot
	ready  chan struct{}

	mu   sync.Mutex
	tail []string
}

func (s *taskSink) Line(line string) {
	s.ctrl.log.Info(line)

	s.mu.Lock()
	s.tail = append(s.tail, line)
	if len(s.tail) > outputTailLines {
		s.tail = s.tail[len(s.tail)-outputTailLines:]
	}
	s.mu.Unlock()

	s.out.Line(s.ctrl.capability, line)
}

func (s *taskSink) Done(res runner.Result) {
	<-s.ready

	c := s.ctrl
	t := s.task

	n := Notification{
		Capability: c.capability,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Folder:     t.Folder,
		ExitCode:   res.ExitCode,
		Err:        res.Err,
	}

	switch res.Status {
	case runner.StatusSucceeded:
		n.Status = models.TaskStatusSucceeded
		c.log.Infof("%s completed successfully", t.Name)
	case runner.StatusCancelled:
		n.Status = models.TaskStatusCancelled
		c.log.Warnf("%s was cancelled", t.Name)
	default:
		n.Status = models.TaskStatusFailed
		if res.Err != nil {
			c.log.Errorf("failed to run %s: %v", t.Name, res.Err)
		} else {
			c.log.Errorf("%s exited with code %d", t.Name, res.ExitCode)
		}
	}

	if n.Status == models.TaskStatusSucceeded && c.reconciler != nil && s.before != nil {
		artifacts, err := c.reconciler.Reconcile(s.before)
		if err != nil {
			c.log.Errorf("failed to reconcile output of %s: %v", t.Name, err)
		}
		n.Artifacts = artifacts
	}

	if n.Status.Terminal() && c.session != nil && c.session.Dir() == t.Folder {
		if err := c.session.Reload(); err != nil {
			c.log.Errorf("failed to reload folder after %s: %v", t.Name, err)
		} else {
			n.FolderReloaded = true
		}
	}

	s.record(n)

	if c.hooks != nil {
		if err := c.hooks.Run(t.Folder, string(n.Status), n.Artifacts); err != nil {
			c.log.Errorf("post-task hook failed: %v", err)
		}
	}

	s.out.Finished(n)
}

func (s *taskSink) record(n Notification) {
	c := s.ctrl
	t := s.task

	now := time.Now()
	t.CompletedAt = &now
	t.Status = n.Status
	code := n.ExitCode
	t.ExitCode = &code
	if n.Err != nil {
		t.Error = n.Err.Error()
	}
	t.Artifacts = n.Artifacts

	s.mu.Lock()
	t.OutputTail = strings.Join(s.tail, "\n")
	s.mu.Unlock()

	if c.store != nil && t.ID != 0 {
		if err := c.store.UpdateTask(t); err != nil {
			c.log.Errorf("failed to update task %d record: %v", t.ID, err)
		}
	}
}
