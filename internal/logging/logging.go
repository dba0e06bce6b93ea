package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const ringCapacity = 100

// Ring is a logrus hook that keeps the most recent log entries in
// memory for the TUI logs pane.
type Ring struct {
	mu      sync.Mutex
	entries []string
}

func NewRing() *Ring {
	return &Ring{}
}

func (r *Ring) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (r *Ring) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("[%s] %s: %s",
		entry.Time.Format("2006-01-02 15:04:05"),
		entry.Level.String(),
		entry.Message)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, line)
	if len(r.entries) > ringCapacity {
		r.entries = r.entries[len(r.entries)-ringCapacity:]
	}
	return nil
}

// Tail returns up to n of the most recent entries, oldest first.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]string, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}

// New builds the application logger: file output plus the in-memory
// ring. The TUI owns the terminal, so nothing is written to stderr.
func New(path string, ring *Ring) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	if ring != nil {
		log.AddHook(ring)
	}
	return log, nil
}
