package sorter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// SlotCount is the number of destination shortcuts (keys 1..3).
const SlotCount = 3

var (
	ErrNoDestination = errors.New("no destination folder configured for this slot")
	ErrBadSlot       = errors.New("destination slot out of range")
)

// Destinations holds the configured target folders for the numbered
// sort shortcuts. Independent of catalog and task state.
type Destinations struct {
	mu    sync.RWMutex
	slots [SlotCount]string
}

// New seeds the slots from configured paths; extra paths are ignored.
func New(paths []string) *Destinations {
	d := &Destinations{}
	for i, p := range paths {
		if i >= SlotCount {
			break
		}
		d.slots[i] = p
	}
	return d
}

// Set assigns a folder to slot (1-based, matching the shortcut keys).
func (d *Destinations) Set(slot int, path string) error {
	if slot < 1 || slot > SlotCount {
		return ErrBadSlot
	}
	d.mu.Lock()
	d.slots[slot-1] = path
	d.mu.Unlock()
	return nil
}

// Get returns the folder for slot, or false when unset.
func (d *Destinations) Get(slot int) (string, bool) {
	if slot < 1 || slot > SlotCount {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slots[slot-1], d.slots[slot-1] != ""
}

// Copy duplicates imagePath into the slot's folder, creating the
// folder if needed. The source image stays in place. Returns the
// destination path.
func (d *Destinations) Copy(slot int, imagePath string) (string, error) {
	dir, ok := d.Get(slot)
	if !ok {
		return "", ErrNoDestination
	}
	return CopyTo(dir, imagePath)
}

// CopyTo copies imagePath into dir under its base name.
func CopyTo(dir, imagePath string) (string, error) {
	if dir == "" {
		return "", ErrNoDestination
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination folder %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(imagePath))
	if err := copyFile(imagePath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return out.Close()
}
