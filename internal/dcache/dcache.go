// Package dcache stores computed layouts of declaration files on disk.
package dcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"reclayout/internal/version"
)

// Digest is the SHA-256 cache key of a declaration file under one set of
// layout options.
type Digest [sha256.Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// KeyInput lists everything a cached layout set depends on.
type KeyInput struct {
	Content  [sha256.Size]byte
	Triple   string
	Language string
	MaxDepth int
}

// Key derives the cache key. The layout schema version is mixed in, so a
// new engine never reads layouts computed by an older one.
func Key(in KeyInput) Digest {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[:2], version.LayoutSchema)
	h.Write(buf[:2])
	h.Write(in.Content[:])
	h.Write([]byte(in.Triple))
	h.Write([]byte{0})
	h.Write([]byte(in.Language))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], uint64(in.MaxDepth))
	h.Write(buf[:])
	var d Digest
	h.Sum(d[:0])
	return d
}

// Cache keeps msgpack payloads under <dir>/layouts/<key>.mp.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// DefaultDir is $XDG_CACHE_HOME/<app>, falling back to ~/.cache/<app>.
func DefaultDir(app string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, app), nil
}

// Open initializes a cache rooted at dir, creating it when missing.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: failed to create cache directory: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "layouts", key.String()+".mp")
}

// Put serializes and writes a payload. The file is replaced atomically so
// concurrent readers never observe a partial write.
func (c *Cache) Put(key Digest, payload *Payload) (err error) {
	if c == nil || payload == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	payload.Schema = version.LayoutSchema
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	enc := msgpack.NewEncoder(f)
	if err = enc.Encode(payload); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads a payload. A missing entry, or one written with another layout
// schema, reports false.
func (c *Cache) Get(key Digest, out *Payload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	var p Payload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return false, fmt.Errorf("%s: corrupt cache entry: %w", key, err)
	}
	if p.Schema != version.LayoutSchema {
		return false, nil
	}
	*out = p
	return true, nil
}

// DropAll removes every cached entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Rename first so a concurrent run never reads a half-deleted tree.
	old := c.dir + ".old-" + time.Now().Format("20060102150405.000000000")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}
