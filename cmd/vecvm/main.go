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

// Command vecvm compiles particle scripts and
// runs them on the bytecode interpreter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/SnellerInc/vecvm/binder"
	"github.com/SnellerInc/vecvm/compile"
	"github.com/SnellerInc/vecvm/config"
	"github.com/SnellerInc/vecvm/internal/noise"
	"github.com/SnellerInc/vecvm/scriptcache"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/sim"
	"github.com/SnellerInc/vecvm/vm"
)

var (
	dashconfig string
	dashscript string
	dashn      int
	dashticks  int
	dashdt     float64
	dashdis    bool
	dashir     bool
	dashv      bool
	dashshow   bool
)

func init() {
	flag.StringVar(&dashconfig, "config", "", "simulation config file (YAML)")
	flag.StringVar(&dashscript, "script", "", "run a single script (gravity, kill, fountain, ...) instead of the configured emitters")
	flag.IntVar(&dashn, "n", 16, "number of instances for -script")
	flag.IntVar(&dashticks, "ticks", -1, "number of ticks (default: from config)")
	flag.Float64Var(&dashdt, "dt", 0, "tick length in seconds (default: from config)")
	flag.BoolVar(&dashdis, "dis", false, "print the disassembly of every compiled script")
	flag.BoolVar(&dashir, "ir", false, "print the lowered IR of every compiled script")
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.BoolVar(&dashshow, "show-config", false, "print the effective config and exit")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg := config.Default()
	if dashconfig != "" {
		var err error
		cfg, err = config.Load(dashconfig)
		if err != nil {
			exitf("%s", err)
		}
	}
	if dashticks >= 0 {
		cfg.Ticks = dashticks
	}
	if dashdt != 0 {
		cfg.DeltaTime = float32(dashdt)
	}
	if err := cfg.Validate(); err != nil {
		exitf("%s", err)
	}
	if dashscript != "" {
		if err := single(cfg, logger, dashscript, dashn); err != nil {
			exitf("%s", err)
		}
		return
	}
	if dashshow {
		text, err := cfg.YAML()
		if err != nil {
			exitf("%s", err)
		}
		os.Stdout.Write(text)
		return
	}

	r, err := newRun(cfg, logger)
	if err != nil {
		exitf("%s", err)
	}
	w, err := r.world()
	if err != nil {
		exitf("%s", err)
	}
	out := bufio.NewWriter(os.Stdout)
	ctx := context.Background()
	for t := 0; t < cfg.Ticks; t++ {
		if err := w.Tick(ctx, cfg.DeltaTime); err != nil {
			exitf("tick %d: %s", t, err)
		}
		fmt.Fprintf(out, "tick %d: %d particles\n", t+1, w.Len())
	}
	summarize(out, w)
	if err := out.Flush(); err != nil {
		exitf("%s", err)
	}
}

// run holds what every emitter of a
// simulation shares
type run struct {
	cfg    *config.Config
	logger *log.Logger
	loader *sim.Loader
}

func newRun(cfg *config.Config, logger *log.Logger) (*run, error) {
	var copts []compile.Option
	if dashv {
		copts = append(copts, compile.WithLogger(logger))
	}
	if dashir {
		copts = append(copts, compile.WithDumpIR(os.Stdout))
	}
	opts := []scriptcache.Option{
		scriptcache.WithLogger(logger),
		scriptcache.WithCompileOptions(copts...),
	}
	if cfg.Cache.Dir != "" {
		opts = append(opts, scriptcache.WithDir(cfg.Cache.Dir))
	}
	if cfg.Cache.Compression != "" {
		opts = append(opts, scriptcache.WithCompression(cfg.Cache.Compression))
	}
	cache, err := scriptcache.New(cfg.Cache.Size, opts...)
	if err != nil {
		return nil, err
	}
	curve, err := cfg.NewCurve()
	if err != nil {
		return nil, err
	}
	var bopts []binder.Option
	if dashv {
		bopts = append(bopts, binder.WithLogger(logger))
	}
	reg := binder.NewRegistry(bopts...)
	reg.Register(binder.CurveCapability, curve.Provider())
	vmcfg := &vm.Config{
		Level: cfg.Level(),
		Noise: noise.New(int64(cfg.Seed)),
	}
	return &run{
		cfg:    cfg,
		logger: logger,
		loader: sim.NewLoader(cache, reg, vmcfg, scripts.Particle, sim.WithLogger(logger)),
	}, nil
}

func (r *run) load(name string, role sim.Role) (*sim.Script, error) {
	if name == "" {
		return nil, nil
	}
	s, err := r.loader.Load(name, scripts.Named[name](), role)
	if err != nil {
		return nil, err
	}
	if dashdis && s.Program != nil {
		fmt.Printf("# %s (%s)\n%s\n", name, role, s.Program)
	}
	return s, nil
}

func (r *run) emitter(ec *config.Emitter) (*sim.Emitter, error) {
	e := &sim.Emitter{
		Name:       ec.Name,
		Particles:  scripts.Particle,
		Events:     scripts.Death,
		SpawnCount: ec.SpawnCount,
	}
	var err error
	if e.Update, err = r.load(ec.Update, sim.Update); err != nil {
		return nil, err
	}
	if e.Spawn, err = r.load(ec.Spawn, sim.Spawn); err != nil {
		return nil, err
	}
	for _, name := range ec.Events {
		h, err := r.load(name, sim.Event)
		if err != nil {
			return nil, err
		}
		e.Handlers = append(e.Handlers, h)
	}
	return e, nil
}

func (r *run) world() (*sim.World, error) {
	w := &sim.World{Parallel: r.cfg.Parallel}
	uniforms := r.cfg.UniformValues()
	seed := r.cfg.Seed
	for i := range r.cfg.Emitters {
		e, err := r.emitter(&r.cfg.Emitters[i])
		if err != nil {
			return nil, err
		}
		for j := 0; j < r.cfg.Emitters[i].Instances; j++ {
			in, err := sim.NewInstance(e, uniforms, seed)
			if err != nil {
				return nil, err
			}
			seed++
			w.Instances = append(w.Instances, in)
		}
	}
	return w, nil
}

func summarize(out *bufio.Writer, w *sim.World) {
	for _, in := range w.Instances {
		fmt.Fprintf(out, "%s %s: %d particles after %d ticks\n", in.Emitter.Name, in.ID, in.Particles.Len(), in.Ticks())
		for _, s := range in.Emitter.Disabled() {
			fmt.Fprintf(out, "  %s script %s disabled: %s\n", s.Role, s.Name, s.Err)
		}
	}
}
