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

package compile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/internal/scripttest"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/lower"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

var levels = []vm.OptimizationLevel{vm.OptimizationLevelNone, vm.OptimizationLevelWide}

// execute runs p over n instances laid out
// with scripttest.Env and returns the bindings
// and the output buffers.
func execute(t *testing.T, p *ir.Program, prog *vm.Program, n int, level vm.OptimizationLevel, funcs []vm.ExternalFunc) (*vm.Exec, error) {
	t.Helper()
	bound, err := vm.NewBound(prog, funcs, &vm.Config{Level: level})
	if err != nil {
		t.Fatal(err)
	}
	envs := make([]*ir.Env, n)
	for i := range envs {
		envs[i] = scripttest.Env(p, i)
	}
	consts, err := prog.Constants(scripttest.DeltaTime, scripttest.Env(p, 0).Uniforms)
	if err != nil {
		t.Fatal(err)
	}
	e := &vm.Exec{
		N:         n,
		Start:     scripttest.FirstIndex,
		Inputs:    make([][]uint32, len(prog.Inputs)),
		Outputs:   make([][]uint32, len(prog.Outputs)),
		DataSets:  make([]vm.DataSetBinding, prog.DataSets),
		Constants: consts,
	}
	for k, a := range prog.Inputs {
		buf := make([]uint32, n)
		for i := range buf {
			buf[i] = envs[i].Inputs[ir.AttrKey{DataSet: a.DataSet, Name: a.Name}][a.Component]
		}
		e.Inputs[k] = buf
	}
	for k := range prog.Outputs {
		e.Outputs[k] = make([]uint32, n)
	}
	return e, bound.Execute(e)
}

func TestCompileMatchesEval(t *testing.T) {
	const n = 13
	for _, tc := range scripttest.Cases() {
		for _, level := range levels {
			t.Run(fmt.Sprintf("%s/%s", tc.Name, level), func(t *testing.T) {
				p := tc.Build()
				prog, err := Compile(p)
				if err != nil {
					t.Fatal(err)
				}
				e, err := execute(t, p, prog, n, level, nil)
				if err != nil {
					t.Fatal(err)
				}
				// only data sets with outputs
				// or a keep acquire indices
				indexed := make([]bool, prog.DataSets)
				for _, a := range prog.Outputs {
					indexed[a.DataSet] = true
				}
				for _, k := range p.Keeps {
					indexed[k.DataSet] = true
				}
				cursor := make([]int, prog.DataSets)
				for i := 0; i < n; i++ {
					want, err := p.Eval(scripttest.Env(p, i))
					if err != nil {
						t.Fatal(err)
					}
					for ds := range cursor {
						if !indexed[ds] {
							continue
						}
						if kept, ok := want.Keep[ds]; ok && !kept {
							continue
						}
						j := cursor[ds]
						cursor[ds]++
						for k, a := range prog.Outputs {
							if a.DataSet != ds {
								continue
							}
							w := want.Outputs[ir.AttrKey{DataSet: ds, Name: a.Name}][a.Component]
							if got := e.Outputs[k][j]; got != w {
								t.Errorf("instance %d: %s = %#x, want %#x", i, a.String(), got, w)
							}
						}
					}
				}
				for ds := range cursor {
					if e.DataSets[ds].Cursor != cursor[ds] {
						t.Errorf("data set %d: cursor %d, want %d", ds, e.DataSets[ds].Cursor, cursor[ds])
					}
				}
			})
		}
	}
}

func TestDeterministic(t *testing.T) {
	for _, tc := range scripttest.Cases() {
		a, err := Compile(tc.Build())
		if err != nil {
			t.Fatal(err)
		}
		b, err := Compile(tc.Build())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Code, b.Code) || a.String() != b.String() {
			t.Errorf("%s: compiled twice to different code:\n%s\n%s", tc.Name, a, b)
		}
	}
}

func TestGravity(t *testing.T) {
	p := scripts.Gravity()
	prog, err := Compile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prog.String(), "mad.f") {
		t.Errorf("no fused multiply-add:\n%s", prog)
	}
	bound, err := vm.NewBound(prog, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	const n = 5
	consts, err := prog.Constants(0.1, scripts.Uniforms())
	if err != nil {
		t.Fatal(err)
	}
	e := &vm.Exec{
		N:         n,
		Inputs:    make([][]uint32, len(prog.Inputs)),
		Outputs:   make([][]uint32, len(prog.Outputs)),
		DataSets:  make([]vm.DataSetBinding, prog.DataSets),
		Constants: consts,
	}
	for k, a := range prog.Inputs {
		buf := make([]uint32, n)
		if a.Name == "pos" && a.Component == 0 {
			for i := range buf {
				buf[i] = fmath.W(float32(i))
			}
		}
		e.Inputs[k] = buf
	}
	for k := range e.Outputs {
		e.Outputs[k] = make([]uint32, n)
	}
	if err := bound.Execute(e); err != nil {
		t.Fatal(err)
	}
	// velocity (0, 0, -0.98), position (i, 0, -0.098)
	dt, g := float32(0.1), float32(-9.8)
	vz := float32(dt * g)
	pz := float32(vz * dt)
	for k, a := range prog.Outputs {
		for i := 0; i < n; i++ {
			want := float32(0)
			switch {
			case a.Name == "vel" && a.Component == 2:
				want = vz
			case a.Name == "pos" && a.Component == 0:
				want = float32(i)
			case a.Name == "pos" && a.Component == 2:
				want = pz
			}
			if got := fmath.F(e.Outputs[k][i]); got != want {
				t.Errorf("instance %d: %s = %g, want %g", i, a.String(), got, want)
			}
		}
	}
}

func TestKill(t *testing.T) {
	p := scripts.Kill()
	prog, err := Compile(p)
	if err != nil {
		t.Fatal(err)
	}
	ages := []float32{0.2, 0.95, 0.99, 1.0, 1.5, 4.95}
	bound, err := vm.NewBound(prog, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	consts, err := prog.Constants(0.1, scripts.Uniforms())
	if err != nil {
		t.Fatal(err)
	}
	n := len(ages)
	e := &vm.Exec{
		N:         n,
		Inputs:    make([][]uint32, len(prog.Inputs)),
		Outputs:   make([][]uint32, len(prog.Outputs)),
		DataSets:  make([]vm.DataSetBinding, prog.DataSets),
		Constants: consts,
	}
	for k, a := range prog.Inputs {
		buf := make([]uint32, n)
		for i := range buf {
			if a.Name == "age" {
				buf[i] = fmath.W(ages[i])
			} else {
				buf[i] = fmath.W(float32(i*10 + a.Component))
			}
		}
		e.Inputs[k] = buf
	}
	for k := range e.Outputs {
		e.Outputs[k] = make([]uint32, n)
	}
	if err := bound.Execute(e); err != nil {
		t.Fatal(err)
	}
	// the last particle reaches its lifetime
	if e.DataSets[0].Cursor != n-1 {
		t.Errorf("%d particles kept, want %d", e.DataSets[0].Cursor, n-1)
	}
	// 0.95 and 0.99 cross 1.0
	if e.DataSets[1].Cursor != 2 {
		t.Errorf("%d death events, want 2", e.DataSets[1].Cursor)
	}
	for k, a := range prog.Outputs {
		switch {
		case a.DataSet == 0 && a.Name == "state":
			for i := 0; i < n-1; i++ {
				want := scripts.StateAlive
				if i == 1 || i == 2 {
					want = scripts.StateDead
				}
				if got := int32(e.Outputs[k][i]); got != want {
					t.Errorf("particle %d: state %d, want %d", i, got, want)
				}
			}
		case a.DataSet == 1:
			for j, i := range []int{1, 2} {
				want := float32(i*10 + a.Component)
				if got := fmath.F(e.Outputs[k][j]); got != want {
					t.Errorf("event %d: %s = %g, want %g", j, a.String(), got, want)
				}
			}
		}
	}
}

func TestFountain(t *testing.T) {
	p := scripts.Fountain()
	prog, err := Compile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.CallSites) != 1 || prog.CallSites[0].Capability != "curve" {
		t.Fatalf("call sites %+v", prog.CallSites)
	}
	calls := 0
	sample := func(c *vm.CallContext) {
		calls++
		in, out := c.In(0), c.Out(0)
		for i := 0; i < c.N; i++ {
			out[i] = fmath.W(fmath.F(in[i]) * 2)
		}
	}
	const n = 20
	run := func(level vm.OptimizationLevel) [][]uint32 {
		calls = 0
		bound, err := vm.NewBound(prog, []vm.ExternalFunc{sample}, &vm.Config{Level: level})
		if err != nil {
			t.Fatal(err)
		}
		consts, err := prog.Constants(0.1, scripts.Uniforms())
		if err != nil {
			t.Fatal(err)
		}
		e := &vm.Exec{
			N:         n,
			Outputs:   make([][]uint32, len(prog.Outputs)),
			DataSets:  make([]vm.DataSetBinding, prog.DataSets),
			Constants: consts,
			Seed:      42,
		}
		for k := range e.Outputs {
			e.Outputs[k] = make([]uint32, n)
		}
		if err := bound.Execute(e); err != nil {
			t.Fatal(err)
		}
		if want := (n + bound.Width() - 1) / bound.Width(); calls != want {
			t.Errorf("%d calls for %d instances at %d lanes, want %d", calls, n, bound.Width(), want)
		}
		return e.Outputs
	}
	a := run(vm.OptimizationLevelNone)
	b := run(vm.OptimizationLevelWide)
	for k, attr := range prog.Outputs {
		for i := range a[k] {
			if a[k][i] != b[k][i] {
				t.Fatalf("%s[%d] differs between levels", attr.String(), i)
			}
			v := fmath.F(a[k][i])
			switch attr.Name {
			case "pos":
				if v < -0.1 || v >= 0.1 {
					t.Errorf("%s[%d] = %g", attr.String(), i, v)
				}
			case "age":
				if v != 0 {
					t.Errorf("age[%d] = %g", i, v)
				}
			case "vel":
				if attr.Component == 2 && (v < 0 || v >= 10) {
					t.Errorf("vel.z[%d] = %g", i, v)
				}
			}
		}
	}
}

func TestRegisterPressure(t *testing.T) {
	b := ir.NewBuilder()
	a := b.Input("a", ir.FloatType, 0)
	o := b.Output("o", ir.FloatType, 0)
	var vals []ir.VarID
	for i := 0; i < vm.MaxTemps+10; i++ {
		v := b.Temp(fmt.Sprintf("t%d", i), ir.FloatType)
		b.Assign(v, b.Mul(b.Ref(a), b.Float(float32(i+1))))
		vals = append(vals, v)
	}
	sum := b.Ref(vals[0])
	for _, v := range vals[1:] {
		sum = b.Add(sum, b.Ref(v))
	}
	b.Assign(o, sum)
	p, err := b.Program()
	if err != nil {
		t.Fatal(err)
	}
	_, err = Compile(p)
	if !errors.Is(err, ErrRegisterPressure) {
		t.Fatalf("got %v, want %v", err, ErrRegisterPressure)
	}
	var ce *lower.CompileError
	if !errors.As(err, &ce) || ce.Pass != "codegen" {
		t.Errorf("got %#v", err)
	}
}

type testLogger struct {
	lines []string
}

func (l *testLogger) Printf(f string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(f, args...))
}

func TestOptions(t *testing.T) {
	var l testLogger
	var dump strings.Builder
	if _, err := Compile(scripts.Orbit(), WithLogger(&l), WithDumpIR(&dump)); err != nil {
		t.Fatal(err)
	}
	if len(l.lines) == 0 || !strings.HasPrefix(l.lines[len(l.lines)-1], "compile:") {
		t.Errorf("log %q", l.lines)
	}
	if !strings.Contains(dump.String(), "gather") {
		t.Errorf("lowered orbit has no gather:\n%s", dump.String())
	}
	if _, err := Compile(scripts.Orbit(), WithMaxPasses(1)); !errors.Is(err, lower.ErrNoFixedPoint) {
		t.Errorf("got %v, want %v", err, lower.ErrNoFixedPoint)
	}
}
