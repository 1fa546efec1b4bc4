// Package cache stores emitted IR on disk, keyed by source content and
// compiler configuration.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cyclang/cyc/pkg/config"
	"github.com/cyclang/cyc/pkg/util"
	"github.com/vmihailenco/msgpack/v5"
)

// Bump when Entry changes shape; older entries then read as misses.
const schemaVersion uint16 = 1

type Key uint64

func (k Key) String() string { return fmt.Sprintf("%016x", uint64(k)) }

// BuildID names the compiler build that wrote an entry, so a rebuilt
// compiler never reads IR emitted by an older one.
var BuildID = sync.OnceValue(buildID)

func buildID() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return executableHash()
	}
	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	switch {
	case rev != "" && modified != "true":
		return info.Main.Version + "+" + rev
	case info.Main.Version != "" && info.Main.Version != "(devel)" && rev == "":
		return info.Main.Version
	}
	return executableHash()
}

// executableHash fingerprints the running binary for builds that carry no
// usable version or revision.
func executableHash() string {
	path, err := os.Executable()
	if err != nil {
		return "unknown"
	}
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "unknown"
	}
	return fmt.Sprintf("exe-%016x", d.Sum64())
}

// KeyFor hashes the source together with everything in cfg that can change
// the emitted text, the entry schema and the compiler build.
func KeyFor(src []byte, cfg *config.Config) Key {
	d := xxhash.New()
	var schema [2]byte
	binary.LittleEndian.PutUint16(schema[:], schemaVersion)
	d.Write(schema[:])
	d.WriteString(BuildID())
	d.Write([]byte{0})
	d.Write(src)
	d.Write([]byte{0})
	d.WriteString(cfg.Fingerprint())
	return Key(d.Sum64())
}

type Warning struct {
	Line, Column, Len int
	Kind              int
	Msg               string
}

type Entry struct {
	Schema   uint16
	Key      uint64
	Triple   string
	IR       []byte
	Warnings []Warning
}

// Cache is safe for concurrent use. A nil *Cache never hits and drops
// every Put.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, key.String()+".mp")
}

// Get returns the entry for key. Unreadable or stale entries are misses.
func (c *Cache) Get(key Key) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	if e.Schema != schemaVersion || e.Key != uint64(key) {
		return nil, false
	}
	return &e, true
}

// Put writes e under key, replacing any previous entry atomically.
func (c *Cache) Put(key Key, e *Entry) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e.Schema, e.Key = schemaVersion, uint64(key)
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return os.Rename(f.Name(), c.pathFor(key))
}

// FromDiagnostics converts warnings for storage.
func FromDiagnostics(ds []util.Diagnostic) []Warning {
	out := make([]Warning, len(ds))
	for i, d := range ds {
		out[i] = Warning{Line: d.Line, Column: d.Column, Len: d.Len, Kind: int(d.Warning), Msg: d.Msg}
	}
	return out
}

// Diagnostics restores stored warnings for the named file.
func (e *Entry) Diagnostics(file string) []util.Diagnostic {
	out := make([]util.Diagnostic, len(e.Warnings))
	for i, w := range e.Warnings {
		out[i] = util.Diagnostic{
			Pos:     util.Pos{File: file, Line: w.Line, Column: w.Column, Len: w.Len},
			Warning: config.Warning(w.Kind),
			Msg:     w.Msg,
		}
	}
	return out
}
