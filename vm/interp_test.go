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

package vm

import (
	"errors"
	"math"
	"testing"
)

func f32(f float32) uint32 { return math.Float32bits(f) }

// gravityProgram computes vel += dt*g for
// every instance of data set 0.
func gravityProgram() *Program {
	var a Assembler
	a.Emit(OpInput, Temp(0), Input(0))
	a.Emit(OpMulF, Temp(1), Const(DeltaTimeSlot), Const(2))
	a.Emit(OpAddF, Temp(0), Temp(0), Temp(1))
	a.Emit(OpAcquireIndex, Temp(2), Imm(0), Const(3))
	a.Emit(OpOutput, Output(0), Temp(2), Temp(0))
	return &Program{
		Code:     a.Finish(),
		NumTemps: 3,
		Inputs:   []Attr{{Name: "vel"}},
		Outputs:  []Attr{{Name: "vel"}},
		DataSets: 1,
		Uniforms: []Uniform{{Name: "g", Slot: 2, Count: 1}},
		Literals: []uint32{0xFFFFFFFF},
	}
}

func bind(t *testing.T, p *Program, level OptimizationLevel, funcs ...ExternalFunc) *BoundProgram {
	t.Helper()
	b, err := NewBound(p, funcs, &Config{Level: level})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestExecutePartialGroup(t *testing.T) {
	p := gravityProgram()
	consts, err := p.Constants(0.5, map[string][]uint32{"g": {f32(-9.8)}})
	if err != nil {
		t.Fatal(err)
	}
	for _, level := range []OptimizationLevel{OptimizationLevelNone, OptimizationLevelWide} {
		b := bind(t, p, level)
		const n = 5
		in := make([]uint32, n)
		for i := range in {
			in[i] = f32(float32(i))
		}
		out := make([]uint32, n+1)
		out[n] = 0xdeadbeef
		e := &Exec{
			N:         n,
			Inputs:    [][]uint32{in},
			Outputs:   [][]uint32{out},
			DataSets:  make([]DataSetBinding, 1),
			Constants: consts,
		}
		if err := b.Execute(e); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < n; i++ {
			dt, g := float32(0.5), float32(-9.8)
			want := float32(i) + float32(dt*g)
			if got := math.Float32frombits(out[i]); got != want {
				t.Errorf("%s: instance %d: got %g, want %g", level, i, got, want)
			}
		}
		if out[n] != 0xdeadbeef {
			t.Errorf("%s: wrote past the last instance", level)
		}
		if e.DataSets[0].Cursor != n {
			t.Errorf("%s: cursor %d, want %d", level, e.DataSets[0].Cursor, n)
		}
	}
}

func TestExecuteCompacts(t *testing.T) {
	var a Assembler
	a.Emit(OpInput, Temp(0), Input(0))
	a.Emit(OpCmpGTF, Temp(1), Temp(0), Const(ZeroSlot))
	a.Emit(OpAcquireIndex, Temp(2), Imm(0), Temp(1))
	a.Emit(OpOutput, Output(0), Temp(2), Temp(0))
	p := &Program{
		Code:     a.Finish(),
		NumTemps: 3,
		Inputs:   []Attr{{Name: "age"}},
		Outputs:  []Attr{{Name: "age"}},
		DataSets: 1,
	}
	b := bind(t, p, OptimizationLevelNone)
	in := []uint32{f32(1), f32(-1), f32(2), f32(0), f32(3), f32(-5), f32(4)}
	out := make([]uint32, len(in))
	e := &Exec{
		N:         len(in),
		Inputs:    [][]uint32{in},
		Outputs:   [][]uint32{out},
		DataSets:  make([]DataSetBinding, 1),
		Constants: make([]uint32, p.ConstSlots()),
	}
	if err := b.Execute(e); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 3, 4}
	if e.DataSets[0].Cursor != len(want) {
		t.Fatalf("kept %d, want %d", e.DataSets[0].Cursor, len(want))
	}
	for i, w := range want {
		if got := math.Float32frombits(out[i]); got != w {
			t.Errorf("out[%d] = %g, want %g", i, got, w)
		}
	}
}

func TestExecuteChecksBuffers(t *testing.T) {
	p := gravityProgram()
	b := bind(t, p, OptimizationLevelNone)
	consts, _ := p.Constants(0, map[string][]uint32{"g": {0}})
	e := &Exec{
		N:         4,
		Inputs:    [][]uint32{make([]uint32, 4)},
		Outputs:   [][]uint32{make([]uint32, 3)},
		DataSets:  make([]DataSetBinding, 1),
		Constants: consts,
	}
	if err := b.Execute(e); err == nil {
		t.Fatal("expected an error for a short output buffer")
	}
	e.Outputs[0] = make([]uint32, 4)
	e.Constants = consts[:1]
	if err := b.Execute(e); err == nil {
		t.Fatal("expected an error for a short constant table")
	}
}

func TestCallExt(t *testing.T) {
	var a Assembler
	a.Emit(OpInput, Temp(0), Input(0))
	a.EmitCall(0, []Operand{Temp(0), Const(2)}, []Operand{Temp(1)})
	a.Emit(OpAcquireIndex, Temp(2), Imm(0), Const(3))
	a.Emit(OpOutput, Output(0), Temp(2), Temp(1))
	p := &Program{
		Code:      a.Finish(),
		NumTemps:  3,
		Inputs:    []Attr{{Name: "x"}},
		Outputs:   []Attr{{Name: "y"}},
		DataSets:  1,
		Literals:  []uint32{f32(10), 0xFFFFFFFF},
		CallSites: []CallSite{{Capability: "test", Name: "add", NumIn: 2, NumOut: 1, ConstIn: []bool{false, true}}},
	}
	calls := 0
	add := func(c *CallContext) {
		calls++
		x, k, y := c.In(0), math.Float32frombits(c.ConstIn(1)), c.Out(0)
		for i := 0; i < c.N; i++ {
			y[i] = f32(math.Float32frombits(x[i]) + k)
		}
	}
	b := bind(t, p, OptimizationLevelNone, add)
	in := []uint32{f32(1), f32(2), f32(3), f32(4), f32(5), f32(6)}
	out := make([]uint32, len(in))
	e := &Exec{
		N:         len(in),
		Inputs:    [][]uint32{in},
		Outputs:   [][]uint32{out},
		DataSets:  make([]DataSetBinding, 1),
		Constants: []uint32{0, 0, f32(10), 0xFFFFFFFF},
	}
	if err := b.Execute(e); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("%d calls, want one per pass (2)", calls)
	}
	for i := range in {
		if got, want := math.Float32frombits(out[i]), float32(i+1)+10; got != want {
			t.Errorf("out[%d] = %g, want %g", i, got, want)
		}
	}
}

func TestNewBoundRejectsMissingFuncs(t *testing.T) {
	p := &Program{
		Code:      []byte{byte(OpDone)},
		CallSites: []CallSite{{Capability: "test", Name: "f", NumIn: 0, NumOut: 0, ConstIn: []bool{}}},
	}
	if _, err := NewBound(p, nil, nil); err == nil {
		t.Fatal("expected an error for a missing function")
	}
	if _, err := NewBound(p, []ExternalFunc{nil}, nil); err == nil {
		t.Fatal("expected an error for a nil function")
	}
}

func TestGatherClamps(t *testing.T) {
	var a Assembler
	a.Emit(OpInstanceIdx, Temp(0))
	a.Emit(OpGather, Temp(1), Temp(0), Imm(2), Imm(2), Imm(3))
	a.Emit(OpAcquireIndex, Temp(2), Imm(0), Const(8))
	a.Emit(OpOutput, Output(0), Temp(2), Temp(1))
	p := &Program{
		Code:     a.Finish(),
		NumTemps: 3,
		Outputs:  []Attr{{Name: "v"}},
		DataSets: 1,
		Uniforms: []Uniform{{Name: "m", Slot: 2, Count: 6}},
		Literals: []uint32{0xFFFFFFFF},
	}
	b := bind(t, p, OptimizationLevelNone)
	consts, err := p.Constants(0, map[string][]uint32{"m": {10, 11, 20, 21, 30, 31}})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, 5)
	e := &Exec{
		N:         5,
		Inputs:    [][]uint32{},
		Outputs:   [][]uint32{out},
		DataSets:  make([]DataSetBinding, 1),
		Constants: consts,
	}
	if err := b.Execute(e); err != nil {
		t.Fatal(err)
	}
	want := []uint32{10, 20, 30, 30, 30}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestRandomIsDeterministic(t *testing.T) {
	var a Assembler
	a.Emit(OpRandom, Temp(0), Const(2))
	a.Emit(OpAcquireIndex, Temp(1), Imm(0), Const(3))
	a.Emit(OpOutput, Output(0), Temp(1), Temp(0))
	p := &Program{
		Code:     a.Finish(),
		NumTemps: 2,
		Outputs:  []Attr{{Name: "r"}},
		DataSets: 1,
		Literals: []uint32{f32(1), 0xFFFFFFFF},
	}
	run := func(level OptimizationLevel, seed uint64) []uint32 {
		b := bind(t, p, level)
		out := make([]uint32, 9)
		e := &Exec{
			N:         len(out),
			Inputs:    [][]uint32{},
			Outputs:   [][]uint32{out},
			DataSets:  make([]DataSetBinding, 1),
			Constants: []uint32{0, 0, f32(1), 0xFFFFFFFF},
			Seed:      seed,
		}
		if err := b.Execute(e); err != nil {
			t.Fatal(err)
		}
		return out
	}
	x, y, z := run(OptimizationLevelNone, 1), run(OptimizationLevelWide, 1), run(OptimizationLevelNone, 2)
	same := true
	for i := range x {
		if x[i] != y[i] {
			t.Errorf("lane %d differs across levels", i)
		}
		if f := math.Float32frombits(x[i]); f < 0 || f >= 1 {
			t.Errorf("lane %d: %g not in [0, 1)", i, f)
		}
		same = same && x[i] == z[i]
	}
	if same {
		t.Error("different seeds produced identical streams")
	}
}

func TestFatalOnUnknownOpcode(t *testing.T) {
	p := &Program{Code: []byte{byte(OpMov), byte(ClassTemp), 0, 0, byte(ClassConst), 0, 0, 0xf0}, NumTemps: 1}
	if err := p.Validate(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Validate: got %v, want ErrCorrupt", err)
	}
	s := newState(p, LaneCount)
	s.bind(&Exec{N: 1, Constants: make([]uint32, p.ConstSlots())})
	defer func() {
		r := recover()
		fe, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("recovered %v, want *FatalError", r)
		}
		if fe.PC != 7 {
			t.Errorf("fatal at pc %d, want 7", fe.PC)
		}
	}()
	s.execute()
}

func TestValidate(t *testing.T) {
	base := gravityProgram()
	run := []struct {
		name string
		edit func(p *Program)
	}{
		{"missing done", func(p *Program) { p.Code = p.Code[:len(p.Code)-1] }},
		{"truncated", func(p *Program) { p.Code = p.Code[:len(p.Code)-3] }},
		{"temp out of range", func(p *Program) { p.NumTemps = 2 }},
		{"no data set", func(p *Program) { p.DataSets = 0 }},
		{"uniform layout", func(p *Program) { p.Uniforms[0].Slot = 3 }},
		{"no advance", func(p *Program) { p.Inputs[0].NoAdvance = true }},
	}
	if err := base.Validate(); err != nil {
		t.Fatal(err)
	}
	for i := range run {
		t.Run(run[i].name, func(t *testing.T) {
			p := gravityProgram()
			run[i].edit(p)
			if err := p.Validate(); !errors.Is(err, ErrCorrupt) {
				t.Errorf("got %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	p := gravityProgram()
	p.CallSites = []CallSite{{Capability: "c", Name: "n", NumIn: 1, NumOut: 2, ConstIn: []bool{true}}}
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out Program
	if err := out.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if out.String() != p.String() {
		t.Errorf("round trip changed the program:\n%s\nvs\n%s", out.String(), p.String())
	}
	buf[len(programMagic)] ^= 1
	if err := out.UnmarshalBinary(buf); !errors.Is(err, ErrBuildMismatch) {
		t.Errorf("got %v, want ErrBuildMismatch", err)
	}
	buf[len(programMagic)] ^= 1
	if err := out.UnmarshalBinary(buf[:len(buf)-1]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("truncated: got %v, want ErrCorrupt", err)
	}
}

func TestFormat(t *testing.T) {
	got := formatBytecode(gravityProgram().Code, nil)
	want := "0000: input t0, in0\n" +
		"0007: mul.f t1, c1, c2\n" +
		"0011: add.f t0, t0, t1\n" +
		"001b: acquireindex t2, #0, c3\n" +
		"0025: output out0, t2, t0\n" +
		"002f: done\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
