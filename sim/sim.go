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

// Package sim runs particle systems made of
// compiled scripts over double-buffered data sets.
//
// Every tick of an instance runs its scripts in order:
// the update script over the committed particles, the
// spawn script, then the event scripts over the events
// the update wrote. A World ticks independent
// instances in parallel.
package sim

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SnellerInc/vecvm/dataset"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/vm"
)

type Logger interface {
	Printf(f string, args ...any)
}

type Option func(l *Loader)

// WithLogger sets the logger used to
// report disabled scripts.
func WithLogger(l Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// Emitter is the read-only definition of a
// particle system shared by its instances.
type Emitter struct {
	Name string
	// Particles and Events are the
	// attribute layouts of the data sets.
	Particles, Events []ir.Field

	Update     *Script
	Spawn      *Script
	SpawnCount int
	Handlers   []*Script
}

// Disabled returns the scripts of e
// that failed to bind.
func (e *Emitter) Disabled() []*Script {
	var out []*Script
	for _, s := range append([]*Script{e.Update, e.Spawn}, e.Handlers...) {
		if s != nil && s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Instance is one running copy of an emitter.
// An Instance is not safe for concurrent use.
type Instance struct {
	ID      uuid.UUID
	Emitter *Emitter

	Particles *dataset.DataSet
	Events    *dataset.DataSet
	Uniforms  map[string][]uint32
	Seed      uint64

	ticks   int
	spawned int
	sets    []*dataset.DataSet
	exec    vm.Exec
}

// NewInstance returns an instance of e with no particles.
func NewInstance(e *Emitter, uniforms map[string][]uint32, seed uint64) (*Instance, error) {
	id := uuid.New()
	parts, err := dataset.New(fmt.Sprintf("%s/%s/particles", e.Name, id), e.Particles...)
	if err != nil {
		return nil, err
	}
	events, err := dataset.New(fmt.Sprintf("%s/%s/events", e.Name, id), e.Events...)
	if err != nil {
		return nil, err
	}
	in := &Instance{
		ID:        id,
		Emitter:   e,
		Particles: parts,
		Events:    events,
		Uniforms:  uniforms,
		Seed:      seed,
	}
	in.sets = []*dataset.DataSet{parts, events}
	return in, nil
}

// Ticks returns the number of completed ticks.
func (in *Instance) Ticks() int { return in.ticks }

// run executes s over n instances starting at
// input start; global is the index of the
// first instance seen by the program.
func (in *Instance) run(s *Script, dt float32, n, start, global int) error {
	consts, err := s.Program.Constants(dt, in.Uniforms)
	if err != nil {
		return fmt.Errorf("%s script %s: %w", s.Role, s.Name, err)
	}
	e := &in.exec
	if err := dataset.Bind(s.Program, in.sets, start, e); err != nil {
		return fmt.Errorf("%s script %s: %w", s.Role, s.Name, err)
	}
	e.N = n
	e.Start = global
	e.Constants = consts
	e.Seed = in.Seed
	if err := s.Bound.Execute(e); err != nil {
		return fmt.Errorf("%s script %s: %w", s.Role, s.Name, err)
	}
	dataset.Commit(in.sets, e)
	return nil
}

// Tick advances the instance by dt.
func (in *Instance) Tick(dt float32) error {
	e := in.Emitter
	live := in.Particles.Len()
	capacity := live + e.SpawnCount
	if len(e.Handlers) > 0 {
		capacity += live * len(e.Handlers)
	}
	in.Particles.Allocate(capacity)
	in.Events.Allocate(live)

	if e.Update.Enabled() {
		if err := in.run(e.Update, dt, live, 0, 0); err != nil {
			return err
		}
	} else {
		in.Particles.Carry()
	}
	in.Events.Swap()

	if e.Spawn.Enabled() && e.SpawnCount > 0 {
		if err := in.run(e.Spawn, dt, e.SpawnCount, 0, in.spawned); err != nil {
			return err
		}
		in.spawned += e.SpawnCount
	}
	if events := in.Events.Len(); events > 0 {
		for _, h := range e.Handlers {
			if !h.Enabled() {
				continue
			}
			if err := in.run(h, dt, events, 0, in.spawned); err != nil {
				return err
			}
			in.spawned += events
		}
	}
	in.Particles.Swap()
	in.ticks++
	return nil
}

// World is a set of independent instances.
type World struct {
	Instances []*Instance
	// Parallel limits the number of instances
	// ticked at once; 0 means no limit.
	Parallel int
}

// Tick advances every instance by dt.
func (w *World) Tick(ctx context.Context, dt float32) error {
	g, ctx := errgroup.WithContext(ctx)
	if w.Parallel > 0 {
		g.SetLimit(w.Parallel)
	}
	for _, in := range w.Instances {
		in := in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := in.Tick(dt); err != nil {
				return fmt.Errorf("%s instance %s: %w", in.Emitter.Name, in.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run ticks w n times, stopping at the first error.
func (w *World) Run(ctx context.Context, n int, dt float32) error {
	for i := 0; i < n; i++ {
		if err := w.Tick(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live
// particles over every instance.
func (w *World) Len() int {
	n := 0
	for _, in := range w.Instances {
		n += in.Particles.Len()
	}
	return n
}
