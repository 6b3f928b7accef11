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

// Package config loads the description of a
// simulation from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/vecvm/binder"
	"github.com/SnellerInc/vecvm/compr"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

// Config describes a simulation.
type Config struct {
	// Emitters lists the particle systems to run.
	Emitters []Emitter `json:"emitters"`
	// Ticks is the number of ticks to run.
	Ticks int `json:"ticks"`
	// DeltaTime is the length of a tick in seconds.
	DeltaTime float32 `json:"dt"`
	Seed      uint64  `json:"seed"`
	// OptLevel is "none", "wide" or "detect".
	// The VECVM_OPT_LEVEL environment
	// variable takes precedence.
	OptLevel string `json:"opt_level,omitempty"`
	// Parallel limits the number of instances
	// ticked at once; 0 means no limit.
	Parallel int `json:"parallel,omitempty"`
	// Uniforms overrides the default uniform values.
	Uniforms map[string][]float32 `json:"uniforms,omitempty"`
	Curve    Curve                `json:"curve"`
	Cache    Cache                `json:"cache"`
}

// Emitter describes one particle system.
type Emitter struct {
	Name string `json:"name"`
	// Update is the script run over
	// the live particles every tick.
	Update string `json:"update"`
	// Spawn is the script creating
	// SpawnCount particles every tick.
	Spawn      string `json:"spawn,omitempty"`
	SpawnCount int    `json:"spawn_count,omitempty"`
	// Events lists the scripts run over
	// the events written by Update.
	Events []string `json:"events,omitempty"`
	// Instances is the number of
	// independent copies to simulate.
	Instances int `json:"instances,omitempty"`
}

// Curve is the piecewise linear
// curve served by curve::sample.
type Curve struct {
	Keys   []float32 `json:"keys"`
	Values []float32 `json:"values"`
}

// Cache configures the compiled program cache.
type Cache struct {
	Size int `json:"size"`
	// Dir, if set, persists compiled programs.
	Dir         string `json:"dir,omitempty"`
	Compression string `json:"compression,omitempty"`
}

const optLevelEnv = "VECVM_OPT_LEVEL"

// Default returns the configuration used
// when no file is given.
func Default() *Config {
	return &Config{
		Emitters: []Emitter{{
			Name:       "fountain",
			Update:     "kill",
			Spawn:      "fountain",
			SpawnCount: 16,
			Events:     []string{"burst"},
			Instances:  1,
		}},
		Ticks:     10,
		DeltaTime: 0.1,
		OptLevel:  "detect",
		Curve: Curve{
			Keys:   []float32{0, 0.5, 1},
			Values: []float32{0.5, 1, 0.75},
		},
		Cache: Cache{Size: 64, Compression: "zstd"},
	}
}

// Load reads and validates the configuration in path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes data over the defaults and validates
// the result. The default emitters are used only when
// data lists none, so listed emitters never inherit
// their fields. The path is used only in errors.
func Parse(data []byte, path string) (*Config, error) {
	c := Default()
	emitters := c.Emitters
	c.Emitters = nil
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if c.Emitters == nil {
		c.Emitters = emitters
	}
	for i := range c.Emitters {
		if c.Emitters[i].Instances == 0 {
			c.Emitters[i].Instances = 1
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks c for semantic errors.
func (c *Config) Validate() error {
	if len(c.Emitters) == 0 {
		return fmt.Errorf("no emitters defined")
	}
	seen := make(map[string]bool)
	for i := range c.Emitters {
		e := &c.Emitters[i]
		if e.Name == "" {
			return fmt.Errorf("emitters[%d]: name is required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("emitters[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
		if err := e.validate(); err != nil {
			return fmt.Errorf("emitter %s: %w", e.Name, err)
		}
	}
	if c.Ticks < 0 {
		return fmt.Errorf("negative tick count %d", c.Ticks)
	}
	if !(c.DeltaTime > 0) || math.IsInf(float64(c.DeltaTime), 0) {
		return fmt.Errorf("dt must be positive, have %g", c.DeltaTime)
	}
	if c.Parallel < 0 {
		return fmt.Errorf("negative parallelism %d", c.Parallel)
	}
	if _, err := parseLevel(c.OptLevel); err != nil {
		return err
	}
	for name, vals := range c.Uniforms {
		if name == "" || len(vals) == 0 {
			return fmt.Errorf("uniform %q: no values", name)
		}
	}
	if _, err := c.NewCurve(); err != nil {
		return err
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive, have %d", c.Cache.Size)
	}
	if c.Cache.Compression != "" && compr.Compression(c.Cache.Compression) == nil {
		return fmt.Errorf("unknown cache compression %q", c.Cache.Compression)
	}
	return nil
}

func script(kind, name string) error {
	if _, ok := scripts.Named[name]; !ok {
		return fmt.Errorf("%s script %q does not exist", kind, name)
	}
	return nil
}

func (e *Emitter) validate() error {
	if err := script("update", e.Update); err != nil {
		return err
	}
	if e.Spawn != "" {
		if err := script("spawn", e.Spawn); err != nil {
			return err
		}
	}
	if e.SpawnCount < 0 {
		return fmt.Errorf("negative spawn count %d", e.SpawnCount)
	}
	if e.SpawnCount > 0 && e.Spawn == "" {
		return fmt.Errorf("spawn count without a spawn script")
	}
	for _, name := range e.Events {
		if err := script("event", name); err != nil {
			return err
		}
	}
	if e.Instances < 1 {
		return fmt.Errorf("instance count must be positive, have %d", e.Instances)
	}
	return nil
}

func parseLevel(s string) (vm.OptimizationLevel, error) {
	switch strings.ToLower(s) {
	case "", "detect":
		return vm.OptimizationLevelDetect, nil
	case "none":
		return vm.OptimizationLevelNone, nil
	case "wide":
		return vm.OptimizationLevelWide, nil
	}
	return 0, fmt.Errorf("unknown optimization level %q", s)
}

// Level returns the optimization level to run with.
// A set VECVM_OPT_LEVEL overrides the configuration.
func (c *Config) Level() vm.OptimizationLevel {
	lvl, err := parseLevel(c.OptLevel)
	if _, ok := os.LookupEnv(optLevelEnv); ok || err != nil || lvl == vm.OptimizationLevelDetect {
		return vm.DetectOptimizationLevel()
	}
	return lvl
}

// NewCurve returns the curve described by c.Curve.
func (c *Config) NewCurve() (*binder.Curve, error) {
	curve, err := binder.NewCurve(c.Curve.Keys, c.Curve.Values)
	if err != nil {
		return nil, fmt.Errorf("curve: %w", err)
	}
	return curve, nil
}

// UniformValues returns the default uniforms
// with the configured overrides applied.
func (c *Config) UniformValues() map[string][]uint32 {
	out := scripts.Uniforms()
	for name, vals := range c.Uniforms {
		w := make([]uint32, len(vals))
		for i := range vals {
			w[i] = math.Float32bits(vals[i])
		}
		out[name] = w
	}
	return out
}

// YAML returns the text of c.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
