package catalog

import (
	"errors"
	"sync"
)

// ErrNoFolder is returned when a session operation needs an open folder
// and none has been selected yet.
var ErrNoFolder = errors.New("no folder open")

// Session is the shared "current folder" state. The folder-open action
// and the task controllers write it; everything else reads.
type Session struct {
	mu  sync.RWMutex
	cat *Catalog
}

func NewSession() *Session {
	return &Session{}
}

// Open replaces the session's catalog with a fresh listing of dir.
func (s *Session) Open(dir string) error {
	cat, err := Load(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cat = cat
	s.mu.Unlock()
	return nil
}

// Catalog returns the current catalog, or nil when no folder is open.
func (s *Session) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat
}

// Dir returns the open folder's path, or "" when none is open.
func (s *Session) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cat == nil {
		return ""
	}
	return s.cat.dir
}

// Reload re-lists the open folder into a fresh catalog and swaps it
// in. The cursor position carries over, clamped by the new listing.
// Goes through the catalog's own accessors: the UI may be browsing the
// previous catalog while a task worker reloads.
func (s *Session) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cat == nil {
		return ErrNoFolder
	}
	fresh := &Catalog{dir: s.cat.Dir(), cursor: s.cat.Cursor()}
	if err := fresh.Reload(); err != nil {
		return err
	}
	s.cat = fresh
	return nil
}
