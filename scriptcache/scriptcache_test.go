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

package scriptcache

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/SnellerInc/vecvm/compr"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

type testLogger struct {
	lock  sync.Mutex
	lines []string
}

func (t *testLogger) Printf(f string, args ...any) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(f, args...))
}

func (t *testLogger) has(s string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, l := range t.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func encode(t *testing.T, p *vm.Program) []byte {
	t.Helper()
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(scripts.Gravity())
	if b := Fingerprint(scripts.Gravity()); a != b {
		t.Fatalf("unstable fingerprint %s %s", a, b)
	}
	seen := map[Key]string{}
	for name, fn := range scripts.Named {
		k := Fingerprint(fn())
		if other, ok := seen[k]; ok {
			t.Fatalf("%s and %s share fingerprint %s", name, other, k)
		}
		seen[k] = name
	}
}

func TestMemory(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	p1, err := c.Get(scripts.Gravity())
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Get(scripts.Gravity())
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("second lookup did not return the cached program")
	}
	if c.Hits() != 1 || c.Misses() != 1 {
		t.Fatalf("hits %d misses %d", c.Hits(), c.Misses())
	}
	for _, name := range []string{"kill", "orbit", "bands"} {
		if _, err := c.Get(scripts.Named[name]()); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("len %d", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len %d after purge", c.Len())
	}
	if _, err := New(1, WithCompression("lz4")); err == nil {
		t.Fatal("unknown compression accepted")
	}
	if _, err := New(0); err == nil {
		t.Fatal("empty cache accepted")
	}
}

func TestPersist(t *testing.T) {
	for _, algo := range []string{"zstd", "s2", "none"} {
		t.Run(algo, func(t *testing.T) {
			dir := t.TempDir()
			first, err := New(4, WithDir(dir), WithCompression(algo))
			if err != nil {
				t.Fatal(err)
			}
			want, err := first.Get(scripts.Orbit())
			if err != nil {
				t.Fatal(err)
			}
			second, err := New(4, WithDir(dir))
			if err != nil {
				t.Fatal(err)
			}
			got, err := second.Get(scripts.Orbit())
			if err != nil {
				t.Fatal(err)
			}
			if second.Loads() != 1 || second.Misses() != 0 {
				t.Fatalf("loads %d misses %d", second.Loads(), second.Misses())
			}
			if !bytes.Equal(encode(t, got), encode(t, want)) {
				t.Fatal("loaded program differs")
			}
			if got.String() != want.String() {
				t.Fatalf("disassembly differs:\n%s\n%s", got, want)
			}
		})
	}
}

func TestBuildMismatch(t *testing.T) {
	dir := t.TempDir()
	var log testLogger
	c, err := New(4, WithDir(dir), WithLogger(&log))
	if err != nil {
		t.Fatal(err)
	}
	p := scripts.Kill()
	want, err := c.Get(p)
	if err != nil {
		t.Fatal(err)
	}
	// rewrite the entry as if another
	// build had produced it
	buf := encode(t, want)
	buf[len("VVMP")] ^= 0xff
	frame, err := compr.Pack(compr.Compression("none"), buf)
	if err != nil {
		t.Fatal(err)
	}
	k := Fingerprint(p)
	if err := os.WriteFile(c.path(k), frame, 0640); err != nil {
		t.Fatal(err)
	}
	c.Purge()
	got, err := c.Get(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Loads() != 0 || c.Misses() != 2 {
		t.Fatalf("loads %d misses %d", c.Loads(), c.Misses())
	}
	if !log.has("different opcode set") {
		t.Fatalf("mismatch not logged: %q", log.lines)
	}
	if got.String() != want.String() {
		t.Fatal("recompiled program differs")
	}
	// the recompiled entry replaces the rejected one
	c.Purge()
	if _, err := c.Get(p); err != nil {
		t.Fatal(err)
	}
	if c.Loads() != 1 {
		t.Fatalf("loads %d", c.Loads())
	}
}

func TestConcurrent(t *testing.T) {
	c, err := New(8, WithDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(scripts.Turbulence())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if total := c.Hits() + c.Loads() + c.Misses(); total != 16 {
		t.Fatalf("%d lookups counted", total)
	}
}
