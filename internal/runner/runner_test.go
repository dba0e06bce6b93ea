package runner

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	lines   []string
	results []Result
	done    chan Result
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan Result, 4)}
}

func (s *recordingSink) Line(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *recordingSink) Done(res Result) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	s.done <- res
}

func (s *recordingSink) snapshot() ([]string, []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]string, len(s.lines))
	copy(lines, s.lines)
	results := make([]Result, len(s.results))
	copy(results, s.results)
	return lines, results
}

func waitDone(t *testing.T, sink *recordingSink) Result {
	t.Helper()
	select {
	case res := <-sink.done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for terminal notification")
		return Result{}
	}
}

func TestSuccessEmitsLinesInOrder(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/bin/sh", "-c", "echo one; echo two; echo three"}, t.TempDir(), sink)

	res := waitDone(t, sink)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)

	lines, results := sink.snapshot()
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Len(t, results, 1)
	assert.True(t, h.Finished())
}

func TestStderrMergedIntoStream(t *testing.T) {
	sink := newRecordingSink()
	Start([]string{"/bin/sh", "-c", "echo out; echo err 1>&2"}, t.TempDir(), sink)

	waitDone(t, sink)
	lines, _ := sink.snapshot()
	assert.ElementsMatch(t, []string{"out", "err"}, lines)
}

func TestNonZeroExitCarriesCode(t *testing.T) {
	sink := newRecordingSink()
	Start([]string{"/bin/sh", "-c", "echo before failure; exit 3"}, t.TempDir(), sink)

	res := waitDone(t, sink)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.NoError(t, res.Err)

	lines, results := sink.snapshot()
	assert.Equal(t, []string{"before failure"}, lines)
	assert.Len(t, results, 1)
}

func TestSpawnFailureStillNotifies(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/no/such/binary"}, t.TempDir(), sink)

	res := waitDone(t, sink)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
	assert.True(t, h.Finished())

	_, results := sink.snapshot()
	assert.Len(t, results, 1)
}

func TestEmptyCommandFails(t *testing.T) {
	sink := newRecordingSink()
	h := Start(nil, t.TempDir(), sink)

	res := waitDone(t, sink)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
	assert.True(t, h.Finished())
}

func TestCancelTerminatesProcess(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), sink)

	require.False(t, h.Finished())
	h.Cancel()

	res := waitDone(t, sink)
	assert.Equal(t, StatusCancelled, res.Status)

	_, results := sink.snapshot()
	assert.Len(t, results, 1)
}

func TestCancelAfterCompletionIsNoOp(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/bin/sh", "-c", "true"}, t.TempDir(), sink)

	res := waitDone(t, sink)
	require.Equal(t, StatusSucceeded, res.Status)

	h.Cancel()
	h.Cancel()

	time.Sleep(50 * time.Millisecond)
	_, results := sink.snapshot()
	assert.Len(t, results, 1)
	got, ok := h.Result()
	assert.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestWaitTimesOutOnRunningTask(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), sink)

	assert.False(t, h.Wait(50*time.Millisecond))

	h.Cancel()
	waitDone(t, sink)
	assert.True(t, h.Wait(time.Second))
}

func TestPIDAvailableWhileRunning(t *testing.T) {
	sink := newRecordingSink()
	h := Start([]string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), sink)

	pid, ok := h.PID()
	assert.True(t, ok)
	assert.Greater(t, pid, 0)

	h.Cancel()
	waitDone(t, sink)
}
