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

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/SnellerInc/vecvm/config"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/sim"
)

// roleOf picks the stage a script can run in
// from the data sets it reads.
func roleOf(p *ir.Program) sim.Role {
	role := sim.Spawn
	for i := range p.Vars {
		v := &p.Vars[i]
		if v.Mode != ir.Input {
			continue
		}
		if v.DataSet == sim.EventSet {
			return sim.Event
		}
		role = sim.Update
	}
	return role
}

// populate adds n particles spread over
// positions and ages; with dying set every
// particle crosses an age of 1 on the next tick
func populate(in *sim.Instance, n int, dying bool) error {
	in.Particles.Append(n)
	cols := []struct {
		name string
		comp int
		val  func(i int) float32
	}{
		{"pos", 0, func(i int) float32 { return float32(i) }},
		{"vel", 2, func(int) float32 { return 1 }},
		{"age", 0, func(i int) float32 {
			if dying {
				return 0.95
			}
			return 2 * float32(i) / float32(n)
		}},
		{"color", 0, func(int) float32 { return 1 }},
	}
	for _, c := range cols {
		dst, err := in.Particles.Float32s(c.name, c.comp)
		if err != nil {
			return err
		}
		for i := range dst {
			dst[i] = c.val(i)
		}
	}
	state, err := in.Particles.Int32s("state", 0)
	if err != nil {
		return err
	}
	for i := range state {
		state[i] = scripts.StateAlive
	}
	return nil
}

// single runs one script over n instances
func single(cfg *config.Config, logger *log.Logger, name string, n int) error {
	fn, ok := scripts.Named[name]
	if !ok {
		names := maps.Keys(scripts.Named)
		sort.Strings(names)
		return fmt.Errorf("unknown script %q (have %s)", name, strings.Join(names, ", "))
	}
	r, err := newRun(cfg, logger)
	if err != nil {
		return err
	}
	role := roleOf(fn())
	s, err := r.load(name, role)
	if err != nil {
		return err
	}
	e := &sim.Emitter{
		Name:      name,
		Particles: scripts.Particle,
		Events:    scripts.Death,
	}
	switch role {
	case sim.Update:
		e.Update = s
	case sim.Spawn:
		e.Spawn = s
		e.SpawnCount = n
	case sim.Event:
		// events are written by particles
		// dying during the update
		if e.Update, err = r.load("kill", sim.Update); err != nil {
			return err
		}
		e.Handlers = []*sim.Script{s}
	}
	in, err := sim.NewInstance(e, cfg.UniformValues(), cfg.Seed)
	if err != nil {
		return err
	}
	if role != sim.Spawn {
		if err := populate(in, n, role == sim.Event); err != nil {
			return err
		}
	}
	w := &sim.World{Instances: []*sim.Instance{in}}
	out := bufio.NewWriter(os.Stdout)
	for t := 0; t < cfg.Ticks; t++ {
		if err := w.Tick(context.Background(), cfg.DeltaTime); err != nil {
			return fmt.Errorf("tick %d: %w", t, err)
		}
		fmt.Fprintf(out, "tick %d: %d particles\n", t+1, w.Len())
	}
	if err := dump(out, in, 8); err != nil {
		return err
	}
	summarize(out, w)
	return out.Flush()
}

// dump prints up to limit particles of in
func dump(out *bufio.Writer, in *sim.Instance, limit int) error {
	n := in.Particles.Len()
	if n > limit {
		n = limit
	}
	for _, f := range in.Particles.Attrs() {
		fmt.Fprintf(out, "%-6s", f.Name)
		for c := 0; c < f.Type.Components(); c++ {
			col, err := in.Particles.Column(f.Name, c)
			if err != nil {
				return err
			}
			fmt.Fprint(out, " [")
			for i := 0; i < n; i++ {
				if i > 0 {
					fmt.Fprint(out, " ")
				}
				fmt.Fprint(out, ir.FormatScalar(f.Type.Base, col[i]))
			}
			fmt.Fprint(out, "]")
		}
		fmt.Fprintln(out)
	}
	return nil
}
