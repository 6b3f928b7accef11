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

package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SnellerInc/vecvm/vm"
)

const sample = `
emitters:
  - name: rain
    update: gravity
    spawn: fountain
    spawn_count: 8
    instances: 3
  - name: sparks
    update: kill
    events: [burst]
ticks: 4
dt: 0.05
seed: 7
opt_level: wide
uniforms:
  gravity: [0, 0, -1]
curve:
  keys: [0, 1]
  values: [1, 2]
cache:
  size: 8
  compression: s2
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample), "sample.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Emitters) != 2 {
		t.Fatalf("%d emitters", len(c.Emitters))
	}
	rain, sparks := c.Emitters[0], c.Emitters[1]
	if rain.SpawnCount != 8 || rain.Instances != 3 {
		t.Errorf("rain: %+v", rain)
	}
	if sparks.Instances != 1 || len(sparks.Events) != 1 {
		t.Errorf("sparks: %+v", sparks)
	}
	if c.Ticks != 4 || c.DeltaTime != 0.05 || c.Seed != 7 {
		t.Errorf("ticks %d dt %g seed %d", c.Ticks, c.DeltaTime, c.Seed)
	}
	if c.Cache.Size != 8 || c.Cache.Compression != "s2" {
		t.Errorf("cache %+v", c.Cache)
	}
	u := c.UniformValues()
	if g := u["gravity"]; len(g) != 3 || math.Float32frombits(g[2]) != -1 {
		t.Errorf("gravity override not applied: %v", g)
	}
	if _, ok := u["lifetime"]; !ok {
		t.Error("default uniform missing")
	}
	curve, err := c.NewCurve()
	if err != nil {
		t.Fatal(err)
	}
	if got := curve.Sample(0.5); got != 1.5 {
		t.Errorf("curve(0.5) = %g", got)
	}
}

func TestDefaults(t *testing.T) {
	c, err := Parse([]byte("ticks: 2\n"), "short.yaml")
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if c.Ticks != 2 || c.DeltaTime != d.DeltaTime || c.Cache.Size != d.Cache.Size {
		t.Fatalf("defaults not kept: %+v", c)
	}
	if len(c.Emitters) != 1 || c.Emitters[0].Name != "fountain" {
		t.Fatalf("default emitters not kept: %+v", c.Emitters)
	}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	text, err := d.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "spawn_count: 16") {
		t.Fatalf("unexpected text:\n%s", text)
	}
}

func TestEmittersReplaceDefaults(t *testing.T) {
	c, err := Parse([]byte("emitters: [{name: a, update: gravity}]"), "one.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Emitters) != 1 {
		t.Fatalf("%d emitters", len(c.Emitters))
	}
	e := c.Emitters[0]
	if e.Name != "a" || e.Update != "gravity" || e.Instances != 1 {
		t.Errorf("emitter %+v", e)
	}
	if e.Spawn != "" || e.SpawnCount != 0 || len(e.Events) != 0 {
		t.Errorf("emitter inherited default fields: %+v", e)
	}
}

func TestErrors(t *testing.T) {
	cases := []struct {
		text, want string
	}{
		{"emitters: []", "no emitters"},
		{"emitters: [{name: a, update: nope}]", "does not exist"},
		{"emitters: [{update: gravity}]", "name is required"},
		{"emitters: [{name: a, update: gravity}, {name: a, update: kill}]", "duplicate"},
		{"emitters: [{name: a, update: gravity, spawn_count: 3}]", "without a spawn script"},
		{"emitters: [{name: a, update: gravity, events: [missing]}]", "event script"},
		{"emitters: [{name: a, update: gravity, instances: -1}]", "instance count"},
		{"dt: 0", "dt must be positive"},
		{"ticks: -1", "negative tick"},
		{"opt_level: fast", "optimization level"},
		{"curve: {keys: [0, 0, 1], values: [1, 2, 3]}", "curve"},
		{"cache: {size: 0}", "cache size"},
		{"cache: {size: 1, compression: lz4}", "compression"},
		{"uniforms: {gravity: []}", "no values"},
		{"unknown_field: 1", "unknown field"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.text), "bad.yaml")
		if err == nil {
			t.Errorf("%q: no error", tc.text)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error %q does not mention %q", tc.text, err, tc.want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Emitters[0].Name != "rain" {
		t.Fatalf("emitters %+v", c.Emitters)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file loaded")
	}
}

func TestLevel(t *testing.T) {
	c := Default()
	c.OptLevel = "none"
	if os.Getenv(optLevelEnv) == "" {
		if c.Level() != vm.OptimizationLevelNone {
			t.Fatalf("level %s", c.Level())
		}
	}
	t.Setenv(optLevelEnv, "wide")
	if c.Level() != vm.OptimizationLevelWide {
		t.Fatalf("environment not applied: %s", c.Level())
	}
	c.OptLevel = "detect"
	t.Setenv(optLevelEnv, "none")
	if c.Level() != vm.OptimizationLevelNone {
		t.Fatalf("level %s", c.Level())
	}
}
