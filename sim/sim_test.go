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

package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/vecvm/binder"
	"github.com/SnellerInc/vecvm/compile"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scriptcache"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

type testLogger struct {
	lines []string
}

func (t *testLogger) Printf(f string, args ...any) {
	t.lines = append(t.lines, fmt.Sprintf(f, args...))
}

func registry(t *testing.T) *binder.Registry {
	t.Helper()
	curve, err := binder.NewCurve([]float32{0, 0.5, 1}, []float32{0.5, 1, 0.75})
	if err != nil {
		t.Fatal(err)
	}
	r := binder.NewRegistry()
	r.Register(binder.CurveCapability, curve.Provider())
	return r
}

func loader(t *testing.T, r *binder.Registry, opts ...Option) *Loader {
	t.Helper()
	c, err := scriptcache.New(16)
	if err != nil {
		t.Fatal(err)
	}
	return NewLoader(c, r, &vm.Config{Level: vm.OptimizationLevelNone}, scripts.Particle, opts...)
}

func load(t *testing.T, l *Loader, name string, role Role) *Script {
	t.Helper()
	if name == "" {
		return nil
	}
	s, err := l.Load(name, scripts.Named[name](), role)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func emitter(t *testing.T, l *Loader, update, spawn string, count int, handlers ...string) *Emitter {
	t.Helper()
	e := &Emitter{
		Name:       update,
		Particles:  scripts.Particle,
		Events:     scripts.Death,
		Update:     load(t, l, update, Update),
		Spawn:      load(t, l, spawn, Spawn),
		SpawnCount: count,
	}
	for _, h := range handlers {
		e.Handlers = append(e.Handlers, load(t, l, h, Event))
	}
	return e
}

func instance(t *testing.T, e *Emitter, seed uint64) *Instance {
	t.Helper()
	in, err := NewInstance(e, scripts.Uniforms(), seed)
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func TestComplete(t *testing.T) {
	for _, tc := range []struct {
		name        string
		role        Role
		inputs      int
		passthrough bool
	}{
		// kill writes age and state and reads
		// pos itself, so vel and color are added
		{"kill", Update, 10, true},
		{"gravity", Update, 11, true},
		{"fountain", Spawn, 0, false},
		{"burst", Event, 3, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := scripts.Named[tc.name]()
			q := complete(p, tc.role, scripts.Particle)
			prog, err := compile.Compile(q)
			if err != nil {
				t.Fatal(err)
			}
			particles := 0
			for _, a := range prog.Outputs {
				if a.DataSet == ParticleSet {
					particles++
				}
			}
			if particles != 11 {
				t.Errorf("%d particle outputs, want 11", particles)
			}
			if len(prog.Inputs) != tc.inputs {
				t.Errorf("%d inputs, want %d", len(prog.Inputs), tc.inputs)
			}
			reads := 0
			for _, a := range prog.Inputs {
				if a.DataSet == ParticleSet {
					reads++
				}
			}
			if tc.passthrough != (reads > 0) {
				t.Errorf("%d particle inputs", reads)
			}
			again := complete(q, tc.role, scripts.Particle)
			if again != q {
				t.Error("completed twice")
			}
		})
	}
}

func TestSpawn(t *testing.T) {
	l := loader(t, registry(t))
	e := emitter(t, l, "kill", "fountain", 16)
	in := instance(t, e, 1)
	const dt = 0.1
	if err := in.Tick(dt); err != nil {
		t.Fatal(err)
	}
	if n := in.Particles.Len(); n != 16 {
		t.Fatalf("%d particles after one tick", n)
	}
	if err := in.Tick(dt); err != nil {
		t.Fatal(err)
	}
	if n := in.Particles.Len(); n != 32 {
		t.Fatalf("%d particles after two ticks", n)
	}
	age, err := in.Particles.Float32s("age", 0)
	if err != nil {
		t.Fatal(err)
	}
	state, err := in.Particles.Int32s("state", 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range age {
		want := float32(0)
		if i < 16 {
			want = dt
		}
		if age[i] != want || state[i] != scripts.StateAlive {
			t.Fatalf("particle %d: age %g state %d", i, age[i], state[i])
		}
	}
	color, _ := in.Particles.Float32s("color", 1)
	for i := range color {
		if color[i] != 1 {
			t.Fatalf("particle %d: color not passed through: %g", i, color[i])
		}
	}
	if in.Ticks() != 2 {
		t.Fatalf("ticks %d", in.Ticks())
	}
}

func set(t *testing.T, in *Instance, name string, comp int, vals ...float32) {
	t.Helper()
	col, err := in.Particles.Float32s(name, comp)
	if err != nil {
		t.Fatal(err)
	}
	copy(col, vals)
}

func TestEvents(t *testing.T) {
	l := loader(t, registry(t))
	e := emitter(t, l, "kill", "", 0, "burst")
	in := instance(t, e, 1)
	in.Particles.Append(3)
	set(t, in, "age", 0, 0.95, 0.5, 4.95)
	set(t, in, "pos", 0, 10, 11, 12)
	set(t, in, "vel", 2, 3, 4, 5)
	if err := in.Tick(0.1); err != nil {
		t.Fatal(err)
	}
	if in.Events.Len() != 1 {
		t.Fatalf("%d events", in.Events.Len())
	}
	if in.Particles.Len() != 3 {
		t.Fatalf("%d particles", in.Particles.Len())
	}
	x, _ := in.Particles.Float32s("pos", 0)
	vz, _ := in.Particles.Float32s("vel", 2)
	cy, _ := in.Particles.Float32s("color", 1)
	state, _ := in.Particles.Int32s("state", 0)
	if !slices.Equal(x, []float32{10, 11, 10}) {
		t.Errorf("pos.x = %v", x)
	}
	if !slices.Equal(vz, []float32{3, 4, 5}) {
		t.Errorf("vel.z = %v", vz)
	}
	if !slices.Equal(state, []int32{scripts.StateDead, scripts.StateAlive, scripts.StateAlive}) {
		t.Errorf("state = %v", state)
	}
	if cy[2] != 0.5 {
		t.Errorf("burst color %g", cy[2])
	}
}

func TestDisabled(t *testing.T) {
	var log testLogger
	l := loader(t, binder.NewRegistry(), WithLogger(&log))
	e := emitter(t, l, "gravity", "fountain", 4)
	dis := e.Disabled()
	if len(dis) != 1 || dis[0].Name != "fountain" {
		t.Fatalf("disabled %v", dis)
	}
	var be *binder.BindError
	if !errors.As(dis[0].Err, &be) || be.Capability != binder.CurveCapability {
		t.Fatalf("error %v", dis[0].Err)
	}
	if len(log.lines) != 1 || !strings.Contains(log.lines[0], "disabled") {
		t.Fatalf("log %q", log.lines)
	}
	in := instance(t, e, 1)
	in.Particles.Append(2)
	for i := 0; i < 3; i++ {
		if err := in.Tick(0.1); err != nil {
			t.Fatal(err)
		}
	}
	if in.Particles.Len() != 2 {
		t.Fatalf("%d particles", in.Particles.Len())
	}

	// a disabled update keeps the particles unchanged
	e.Update.Err, e.Update.Bound = fmt.Errorf("unbound"), nil
	vz, _ := in.Particles.Float32s("vel", 2)
	before := slices.Clone(vz)
	if err := in.Tick(0.1); err != nil {
		t.Fatal(err)
	}
	vz, _ = in.Particles.Float32s("vel", 2)
	if !slices.Equal(vz, before) {
		t.Fatalf("vel.z %v, want %v", vz, before)
	}
}

func TestCompileError(t *testing.T) {
	l := loader(t, registry(t))
	b := ir.NewBuilder()
	m := b.Temp("m", ir.Matrix(2, 2))
	i := b.Input("i", ir.IntType, 0)
	out := b.Output("pos", ir.Vector(ir.Float, 2), 0)
	b.Assign(out, b.Column(b.Ref(m), b.Ref(i)))
	p, err := b.Program()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load("dynamic", p, Update); err == nil {
		t.Fatal("dynamic index of a temporary matrix compiled")
	}
}

func world(t *testing.T, parallel int) *World {
	l := loader(t, registry(t))
	rain := emitter(t, l, "gravity", "fountain", 10)
	sparks := emitter(t, l, "kill", "fountain", 6, "burst")
	w := &World{Parallel: parallel}
	for seed := uint64(1); seed <= 4; seed++ {
		w.Instances = append(w.Instances, instance(t, rain, seed), instance(t, sparks, seed))
	}
	return w
}

func TestParallel(t *testing.T) {
	ctx := context.Background()
	par, seq := world(t, 0), world(t, 1)
	const ticks = 12
	if err := par.Run(ctx, ticks, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := seq.Run(ctx, ticks, 0.1); err != nil {
		t.Fatal(err)
	}
	if par.Len() != seq.Len() || par.Len() == 0 {
		t.Fatalf("%d particles in parallel, %d sequentially", par.Len(), seq.Len())
	}
	for k := range par.Instances {
		a, b := par.Instances[k].Particles, seq.Instances[k].Particles
		for _, f := range scripts.Particle {
			for c := 0; c < f.Type.Components(); c++ {
				x, _ := a.Column(f.Name, c)
				y, _ := b.Column(f.Name, c)
				if !slices.Equal(x, y) {
					t.Fatalf("instance %d: %s[%d] differs", k, f.Name, c)
				}
			}
		}
	}
	x0, _ := par.Instances[0].Particles.Column("vel", 0)
	x1, _ := par.Instances[2].Particles.Column("vel", 0)
	if slices.Equal(x0, x1) {
		t.Error("instances with different seeds agree")
	}
}

func TestCancel(t *testing.T) {
	w := world(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Tick(ctx, 0.1); !errors.Is(err, context.Canceled) {
		t.Fatalf("tick of a cancelled world: %v", err)
	}
}
