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

package dataset

import (
	"errors"
	"testing"

	"github.com/SnellerInc/vecvm/compile"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

func particles(t *testing.T) *DataSet {
	t.Helper()
	d, err := New("particles", scripts.Particle...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNew(t *testing.T) {
	d := particles(t)
	if got := len(d.Attrs()); got != len(scripts.Particle) {
		t.Fatalf("%d attributes", got)
	}
	bad := [][]ir.Field{
		{{Name: "a", Type: ir.FloatType}, {Name: "a", Type: ir.IntType}},
		{{Name: "m", Type: ir.Matrix(2, 2)}},
		{{Name: "v"}},
	}
	for i := range bad {
		if _, err := New("bad", bad[i]...); err == nil {
			t.Errorf("case %d: no error", i)
		}
	}
}

func TestLookup(t *testing.T) {
	d := particles(t)
	d.Append(3)
	if _, err := d.Float32s("pos", 2); err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		name string
		comp int
	}{
		{"Pos", 0},
		{"pos", 3},
		{"pos", -1},
		{"missing", 0},
	} {
		if _, err := d.Column(c.name, c.comp); !errors.Is(err, ErrNoAttribute) {
			t.Errorf("%s[%d]: got %v", c.name, c.comp, err)
		}
	}
	if _, err := d.Int32s("age", 0); err == nil {
		t.Error("int view of a float attribute")
	}
}

func TestCompact(t *testing.T) {
	d := particles(t)
	if first := d.Append(6); first != 0 {
		t.Fatalf("first = %d", first)
	}
	age, err := d.Float32s("age", 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range age {
		age[i] = float32(i)
	}
	if first := d.Append(1); first != 6 {
		t.Fatalf("first = %d", first)
	}
	d.Kill(0)
	d.Kill(3)
	d.Kill(4)
	d.Compact()
	if d.Len() != 4 {
		t.Fatalf("len = %d", d.Len())
	}
	age, _ = d.Float32s("age", 0)
	want := []float32{1, 2, 5, 0}
	for i := range want {
		if age[i] != want[i] {
			t.Errorf("age[%d] = %g, want %g", i, age[i], want[i])
		}
	}
	d.Compact()
	if d.Len() != 4 {
		t.Fatalf("len = %d after empty compact", d.Len())
	}
	d.Reset()
	if d.Len() != 0 {
		t.Fatalf("len = %d after reset", d.Len())
	}
}

func TestBindKill(t *testing.T) {
	prog, err := compile.Compile(scripts.Kill())
	if err != nil {
		t.Fatal(err)
	}
	bound, err := vm.NewBound(prog, nil, &vm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	dt := float32(0.1)
	consts, err := prog.Constants(dt, scripts.Uniforms())
	if err != nil {
		t.Fatal(err)
	}

	parts := particles(t)
	deaths, err := New("deaths", scripts.Death...)
	if err != nil {
		t.Fatal(err)
	}
	ages := []float32{0.5, 0.95, 4.95, 2}
	parts.Append(len(ages))
	age, _ := parts.Float32s("age", 0)
	copy(age, ages)
	x, _ := parts.Float32s("pos", 0)
	for i := range x {
		x[i] = float32(10 + i)
	}

	sets := []*DataSet{parts, deaths}
	parts.Allocate(parts.Len())
	deaths.Allocate(parts.Len())
	e := &vm.Exec{N: parts.Len(), Constants: consts}
	if err := Bind(prog, sets, 0, e); err != nil {
		t.Fatal(err)
	}
	for i := range e.Outputs {
		if n := len(e.Outputs[i]); n%vm.LaneCount != 0 || n < len(ages) {
			t.Fatalf("output %d holds %d values", i, n)
		}
	}
	if err := bound.Execute(e); err != nil {
		t.Fatal(err)
	}
	Commit(sets, e)
	if parts.Written() != 3 || deaths.Written() != 1 {
		t.Fatalf("written %d particles, %d deaths", parts.Written(), deaths.Written())
	}
	parts.Swap()
	deaths.Swap()

	age, _ = parts.Float32s("age", 0)
	state, _ := parts.Int32s("state", 0)
	wantAge := []float32{ages[0] + dt, ages[1] + dt, ages[3] + dt}
	wantState := []int32{scripts.StateAlive, scripts.StateDead, scripts.StateAlive}
	for i := range wantAge {
		if age[i] != wantAge[i] || state[i] != wantState[i] {
			t.Errorf("particle %d: age %g state %d, want %g %d", i, age[i], state[i], wantAge[i], wantState[i])
		}
	}
	ex, _ := deaths.Float32s("pos", 0)
	if len(ex) != 1 || ex[0] != 11 {
		t.Errorf("death positions %v", ex)
	}

	wrong, err := New("wrong", ir.Field{Name: "where", Type: ir.Vector(ir.Float, 3)})
	if err != nil {
		t.Fatal(err)
	}
	if err := Bind(prog, []*DataSet{parts, wrong}, 0, e); !errors.Is(err, ErrNoAttribute) {
		t.Fatalf("bind to the wrong layout: %v", err)
	}
	if err := Bind(prog, []*DataSet{parts}, 0, e); err == nil {
		t.Fatal("bind with a missing data set")
	}
}
