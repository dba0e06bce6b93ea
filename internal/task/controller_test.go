package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildeye/camtriage/internal/catalog"
	"github.com/wildeye/camtriage/internal/models"
	"github.com/wildeye/camtriage/internal/reconcile"
	"github.com/wildeye/camtriage/internal/storage"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// collectingSink buffers notifications so tests can wait for each task
// to reach its terminal state without racing the worker goroutine.
type collectingSink struct {
	mu            sync.Mutex
	lines         []string
	notifications chan Notification
}

func newCollectingSink() *collectingSink {
	return &collectingSink{notifications: make(chan Notification, 8)}
}

func (s *collectingSink) Line(capability models.Capability, line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *collectingSink) Finished(n Notification) {
	s.notifications <- n
}

func (s *collectingSink) lineSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func waitNotification(t *testing.T, sink *collectingSink) Notification {
	t.Helper()
	select {
	case n := <-sink.notifications:
		return n
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for task notification")
		return Notification{}
	}
}

func TestRunDeliversOutputAndOneNotification(t *testing.T) {
	ctrl := NewController(models.CapabilityClassifier, newTestLogger())
	sink := newCollectingSink()

	ctrl.Run("echo task", []string{"/bin/sh", "-c", "echo alpha; echo beta"}, t.TempDir(), sink)

	n := waitNotification(t, sink)
	assert.Equal(t, models.TaskStatusSucceeded, n.Status)
	assert.Equal(t, models.CapabilityClassifier, n.Capability)
	assert.Equal(t, "echo task", n.TaskName)
	assert.Equal(t, []string{"alpha", "beta"}, sink.lineSnapshot())
	assert.False(t, ctrl.Running())

	select {
	case extra := <-sink.notifications:
		t.Fatalf("unexpected second notification: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunPropagatesExitCode(t *testing.T) {
	ctrl := NewController(models.CapabilityClassifier, newTestLogger())
	sink := newCollectingSink()

	ctrl.Run("failing task", []string{"/bin/sh", "-c", "exit 5"}, t.TempDir(), sink)

	n := waitNotification(t, sink)
	assert.Equal(t, models.TaskStatusFailed, n.Status)
	assert.Equal(t, 5, n.ExitCode)
	assert.NoError(t, n.Err)
}

func TestRunSpawnFailureStillNotifies(t *testing.T) {
	ctrl := NewController(models.CapabilityClassifier, newTestLogger())
	sink := newCollectingSink()

	ctrl.Run("broken task", []string{"/no/such/binary"}, t.TempDir(), sink)

	n := waitNotification(t, sink)
	assert.Equal(t, models.TaskStatusFailed, n.Status)
	assert.Error(t, n.Err)

	// The controller stays usable after a spawn failure.
	ctrl.Run("recovery task", []string{"/bin/sh", "-c", "true"}, t.TempDir(), sink)
	n = waitNotification(t, sink)
	assert.Equal(t, models.TaskStatusSucceeded, n.Status)
}

func TestRunCancelsPreviousTask(t *testing.T) {
	ctrl := NewController(models.CapabilityClassifier, newTestLogger())
	first := newCollectingSink()
	second := newCollectingSink()

	ctrl.Run("slow task", []string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), first)
	require.True(t, ctrl.Running())

	ctrl.Run("next task", []string{"/bin/sh", "-c", "true"}, t.TempDir(), second)

	n1 := waitNotification(t, first)
	assert.Equal(t, models.TaskStatusCancelled, n1.Status)

	n2 := waitNotification(t, second)
	assert.Equal(t, models.TaskStatusSucceeded, n2.Status)
}

func TestCancelStopsRunningTask(t *testing.T) {
	ctrl := NewController(models.CapabilityVisualizer, newTestLogger())
	sink := newCollectingSink()

	ctrl.Run("slow task", []string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), sink)
	ctrl.Cancel()

	n := waitNotification(t, sink)
	assert.Equal(t, models.TaskStatusCancelled, n.Status)
}

func TestCancelWithoutTaskIsNoOp(t *testing.T) {
	ctrl := NewController(models.CapabilityVisualizer, newTestLogger())
	ctrl.Cancel()
	assert.False(t, ctrl.Running())
}

func TestSuccessfulVisualizerReconcilesArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IMG_0001.JPG"), []byte("original"), 0644))

	ctrl := NewController(models.CapabilityVisualizer, newTestLogger(),
		WithReconciler(reconcile.New("_bb", newTestLogger())))
	sink := newCollectingSink()

	// Stands in for the visualizer: drops an annotated copy under the
	// tilde naming convention.
	cmd := []string{"/bin/sh", "-c",
		fmt.Sprintf("cp %q %q", filepath.Join(dir, "IMG_0001.JPG"), filepath.Join(dir, "IMG_0001.JPG~IMG_0001.JPG"))}
	ctrl.Run("fake visualizer", cmd, dir, sink)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusSucceeded, n.Status)
	assert.Equal(t, []string{"IMG_0001_bb.JPG"}, n.Artifacts)

	_, err := os.Stat(filepath.Join(dir, "IMG_0001_bb.JPG"))
	assert.NoError(t, err)
}

func TestFailedTaskSkipsReconciliation(t *testing.T) {
	dir := t.TempDir()

	ctrl := NewController(models.CapabilityVisualizer, newTestLogger(),
		WithReconciler(reconcile.New("_bb", newTestLogger())))
	sink := newCollectingSink()

	cmd := []string{"/bin/sh", "-c",
		fmt.Sprintf("touch %q; exit 1", filepath.Join(dir, "orphan_md.jpg"))}
	ctrl.Run("failing visualizer", cmd, dir, sink)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusFailed, n.Status)
	assert.Empty(t, n.Artifacts)

	// The unreconciled tool output stays under its own name.
	_, err := os.Stat(filepath.Join(dir, "orphan_md.jpg"))
	assert.NoError(t, err)
}

func TestSessionReloadedWhenTaskRanOnOpenFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0644))

	session := catalog.NewSession()
	require.NoError(t, session.Open(dir))
	require.Equal(t, 1, session.Catalog().Len())

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithSession(session))
	sink := newCollectingSink()

	cmd := []string{"/bin/sh", "-c", fmt.Sprintf("touch %q", filepath.Join(dir, "b.jpg"))}
	ctrl.Run("folder task", cmd, dir, sink)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusSucceeded, n.Status)
	assert.True(t, n.FolderReloaded)
	assert.Equal(t, 2, session.Catalog().Len())
}

func TestSessionNotReloadedForOtherFolder(t *testing.T) {
	open := t.TempDir()
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(open, "a.jpg"), []byte("x"), 0644))

	session := catalog.NewSession()
	require.NoError(t, session.Open(open))

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithSession(session))
	sink := newCollectingSink()

	ctrl.Run("elsewhere task", []string{"/bin/sh", "-c", "true"}, other, sink)

	n := waitNotification(t, sink)
	assert.False(t, n.FolderReloaded)
}

func TestStoreRecordsTaskLifecycle(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithStore(store))
	sink := newCollectingSink()

	created := ctrl.Run("recorded task", []string{"/bin/sh", "-c", "echo hello; exit 0"}, t.TempDir(), sink)
	require.NotZero(t, created.ID)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusSucceeded, n.Status)
	assert.Equal(t, created.ID, n.TaskID)

	got, err := store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSucceeded, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "hello", got.OutputTail)
}

func TestFastExitingTasksRecordCleanly(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithStore(store))

	// Processes that exit almost instantly finish while Run is still
	// registering the task; the record must still come out complete.
	// Exercised under the race detector.
	for i := 0; i < 30; i++ {
		sink := newCollectingSink()
		created := ctrl.Run("quick task", []string{"/bin/sh", "-c", "true"}, t.TempDir(), sink)

		n := waitNotification(t, sink)
		require.Equal(t, models.TaskStatusSucceeded, n.Status)

		got, err := store.GetTask(created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusSucceeded, got.Status)
		require.NotNil(t, got.PID)
		assert.Greater(t, *got.PID, 0)
	}
}

func TestSpawnFailureNotifiesOffCallerGoroutine(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithStore(store))
	sink := newCollectingSink()

	created := ctrl.Run("broken task", []string{"/no/such/binary"}, t.TempDir(), sink)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusFailed, n.Status)
	require.Error(t, n.Err)

	got, err := store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestControllerResponsiveWhileStoppingPredecessor(t *testing.T) {
	ctrl := NewController(models.CapabilityClassifier, newTestLogger())
	first := newCollectingSink()
	second := newCollectingSink()

	// A task that ignores the graceful signal forces Run to sit out the
	// full stop wait before starting its replacement.
	ctrl.Run("stubborn task", []string{"/bin/sh", "-c", `trap '' TERM; sleep 30`}, t.TempDir(), first)
	require.True(t, ctrl.Running())

	go ctrl.Run("next task", []string{"/bin/sh", "-c", "true"}, t.TempDir(), second)

	queried := make(chan bool, 1)
	go func() { queried <- ctrl.Running() }()
	select {
	case <-queried:
	case <-time.After(time.Second):
		t.Fatal("Running blocked while the previous task was draining")
	}

	n := waitNotification(t, second)
	assert.Equal(t, models.TaskStatusSucceeded, n.Status)

	// The stubborn process dies on the kill escalation.
	n = waitNotification(t, first)
	assert.Equal(t, models.TaskStatusCancelled, n.Status)
}

func TestOutputTailBounded(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	ctrl := NewController(models.CapabilityClassifier, newTestLogger(), WithStore(store))
	sink := newCollectingSink()

	created := ctrl.Run("chatty task",
		[]string{"/bin/sh", "-c", "i=0; while [ $i -lt 100 ]; do echo line $i; i=$((i+1)); done"},
		t.TempDir(), sink)

	n := waitNotification(t, sink)
	require.Equal(t, models.TaskStatusSucceeded, n.Status)

	got, err := store.GetTask(created.ID)
	require.NoError(t, err)

	tail := got.OutputTail
	require.NotEmpty(t, tail)
	assert.NotContains(t, tail, "line 59\n")
	assert.Contains(t, tail, "line 60")
	assert.Contains(t, tail, "line 99")
}
