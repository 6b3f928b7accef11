// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package scriptcache caches compiled programs
// by the fingerprint of their IR.
//
// Entries are kept in memory in an LRU and,
// when the cache has a directory, persisted
// as compressed program binaries. Persisted
// programs are tied to the build that wrote
// them; entries from another build are
// discarded and recompiled.
package scriptcache

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dchest/siphash"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/SnellerInc/vecvm/compile"
	"github.com/SnellerInc/vecvm/compr"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/vm"
)

// Key is the fingerprint of a program.
type Key [16]byte

// Fingerprint returns the key of p: a siphash
// of the canonical text of p keyed by the
// build identifier.
func Fingerprint(p *ir.Program) Key {
	id := vm.BuildID()
	k0 := binary.LittleEndian.Uint64(id[:8])
	k1 := binary.LittleEndian.Uint64(id[8:16])
	lo, hi := siphash.Hash128(k0, k1, []byte(p.String()))
	var k Key
	binary.LittleEndian.PutUint64(k[:8], lo)
	binary.LittleEndian.PutUint64(k[8:], hi)
	return k
}

func (k Key) String() string { return base64.RawURLEncoding.EncodeToString(k[:]) }

type Logger interface {
	Printf(f string, args ...any)
}

type Option func(c *Cache)

// WithLogger sets the logger used to
// report cache fills and discarded entries.
func WithLogger(l Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithDir persists entries in dir,
// which is created if necessary.
func WithDir(dir string) Option {
	return func(c *Cache) { c.dir = dir }
}

// WithCompression selects the compression
// of persisted entries; the default is zstd.
func WithCompression(name string) Option {
	return func(c *Cache) { c.algo = name }
}

// WithCompileOptions sets the options
// passed to compile.Compile on a miss.
func WithCompileOptions(opts ...compile.Option) Option {
	return func(c *Cache) { c.copts = opts }
}

// Cache is a cache of compiled programs.
// It is safe for concurrent use; cached
// programs are shared and must not be modified.
type Cache struct {
	logger Logger
	dir    string
	algo   string
	comp   compr.Compressor
	copts  []compile.Option

	lock sync.Mutex
	lru  *simplelru.LRU[Key, *vm.Program]

	// statistics; accessed atomically
	hits, loads, misses int64
}

// New returns a cache holding at most size programs in memory.
func New(size int, opts ...Option) (*Cache, error) {
	c := &Cache{algo: "zstd"}
	for _, o := range opts {
		o(c)
	}
	c.comp = compr.Compression(c.algo)
	if c.comp == nil {
		return nil, fmt.Errorf("scriptcache: unknown compression %q", c.algo)
	}
	lru, err := simplelru.NewLRU[Key, *vm.Program](size, nil)
	if err != nil {
		return nil, fmt.Errorf("scriptcache: %w", err)
	}
	c.lru = lru
	if c.dir != "" {
		if err := os.MkdirAll(c.dir, 0750); err != nil {
			return nil, fmt.Errorf("scriptcache: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) errorf(f string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(f, args...)
	}
}

// Hits returns the number of lookups
// answered from memory.
func (c *Cache) Hits() int64 { return atomic.LoadInt64(&c.hits) }

// Loads returns the number of lookups
// answered from the cache directory.
func (c *Cache) Loads() int64 { return atomic.LoadInt64(&c.loads) }

// Misses returns the number of lookups
// that compiled the program.
func (c *Cache) Misses() int64 { return atomic.LoadInt64(&c.misses) }

// Len returns the number of programs held in memory.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Len()
}

// Purge drops every program held in memory.
// Persisted entries are kept.
func (c *Cache) Purge() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Purge()
}

func (c *Cache) get(k Key) (*vm.Program, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Get(k)
}

func (c *Cache) add(k Key, p *vm.Program) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Add(k, p)
}

func (c *Cache) path(k Key) string {
	return filepath.Join(c.dir, k.String()+".vvm")
}

// Get returns the compiled form of p, compiling
// it on a miss. Concurrent misses for the same
// program may compile it more than once.
func (c *Cache) Get(p *ir.Program) (*vm.Program, error) {
	k := Fingerprint(p)
	if prog, ok := c.get(k); ok {
		atomic.AddInt64(&c.hits, 1)
		return prog, nil
	}
	if c.dir != "" {
		prog, err := c.load(k)
		if err == nil {
			atomic.AddInt64(&c.loads, 1)
			c.add(k, prog)
			return prog, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			c.errorf("scriptcache: discarding %s: %s", k, err)
			os.Remove(c.path(k))
		}
	}
	atomic.AddInt64(&c.misses, 1)
	prog, err := compile.Compile(p, c.copts...)
	if err != nil {
		return nil, err
	}
	c.add(k, prog)
	if c.dir != "" {
		if err := c.store(k, prog); err != nil {
			c.errorf("scriptcache: storing %s: %s", k, err)
		}
	}
	return prog, nil
}

func (c *Cache) load(k Key) (*vm.Program, error) {
	frame, err := os.ReadFile(c.path(k))
	if err != nil {
		return nil, err
	}
	buf, err := compr.Unpack(frame)
	if err != nil {
		return nil, err
	}
	prog := new(vm.Program)
	if err := prog.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return prog, nil
}

// store writes the entry to a temporary
// file and renames it so that readers never
// observe a partially written entry
func (c *Cache) store(k Key, prog *vm.Program) error {
	buf, err := prog.MarshalBinary()
	if err != nil {
		return err
	}
	frame, err := compr.Pack(c.comp, buf)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(c.dir, k.String()+".*.tmp")
	if err != nil {
		return err
	}
	_, err = f.Write(frame)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(f.Name(), c.path(k))
	}
	if err != nil {
		os.Remove(f.Name())
	}
	return err
}
