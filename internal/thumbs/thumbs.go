package thumbs

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// thumbSize bounds both thumbnail dimensions, preserving aspect ratio.
const thumbSize = 64

// Cache writes bounded thumbnails for catalog images into one folder,
// regenerating a thumbnail only when the source image is newer.
type Cache struct {
	dir string
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Path returns the cache location for an image's thumbnail. The name
// embeds a hash of the full source path so identically named images
// from different folders do not collide.
func (c *Cache) Path(imagePath string) string {
	base := filepath.Base(imagePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	h := fnv.New32a()
	h.Write([]byte(imagePath))
	return filepath.Join(c.dir, fmt.Sprintf("%s_%08x.png", base, h.Sum32()))
}

// Ensure returns the thumbnail path for imagePath, generating it if
// missing or stale.
func (c *Cache) Ensure(imagePath string) (string, error) {
	dst := c.Path(imagePath)

	srcInfo, err := os.Stat(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	if dstInfo, err := os.Stat(dst); err == nil && !srcInfo.ModTime().After(dstInfo.ModTime()) {
		return dst, nil
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", err
	}

	img, err := imaging.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", imagePath, err)
	}
	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)
	if err := imaging.Save(thumb, dst); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return dst, nil
}
