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

package binder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/SnellerInc/vecvm/compile"
	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/scripts"
	"github.com/SnellerInc/vecvm/vm"
)

func site(name string, consts ...bool) *vm.CallSite {
	return &vm.CallSite{
		Capability: "math",
		Name:       name,
		NumIn:      len(consts),
		NumOut:     1,
		ConstIn:    consts,
	}
}

// call invokes fn over n lanes whose register
// inputs hold ins[k][i] and whose constant
// inputs hold ins[k][0].
func call(s *vm.CallSite, fn vm.ExternalFunc, n int, ins ...[]float32) []float32 {
	regs := make([][]uint32, len(ins))
	for k, in := range ins {
		if s.ConstIn[k] {
			regs[k] = []uint32{fmath.W(in[0])}
			continue
		}
		regs[k] = make([]uint32, n)
		for i := range regs[k] {
			regs[k][i] = fmath.W(in[i])
		}
	}
	out := make([]uint32, n)
	fn(vm.NewCallContext(s, n, regs, [][]uint32{out}))
	res := make([]float32, n)
	for i := range out {
		res[i] = fmath.F(out[i])
	}
	return res
}

func TestCombinations(t *testing.T) {
	fn := func(x, y, z float32) float32 { return x*100 + y*10 + z }
	impl := Float3(fn)
	x := []float32{1, 2, 3, 4}
	y := []float32{5, 6, 7, 8}
	z := []float32{9, 0, 1, 2}
	for mask := 0; mask < 8; mask++ {
		consts := []bool{mask&1 != 0, mask&2 != 0, mask&4 != 0}
		t.Run(fmt.Sprintf("%03b", mask), func(t *testing.T) {
			s := site("f", consts...)
			ext, ok := impl(s)
			if !ok {
				t.Fatal("not resolved")
			}
			got := call(s, ext, 4, x, y, z)
			for i := range got {
				lane := func(in []float32, k int) float32 {
					if consts[k] {
						return in[0]
					}
					return in[i]
				}
				if want := fn(lane(x, 0), lane(y, 1), lane(z, 2)); got[i] != want {
					t.Errorf("lane %d: got %g, want %g", i, got[i], want)
				}
			}
		})
	}
	if _, ok := impl(site("f", false, false)); ok {
		t.Error("resolved with the wrong arity")
	}
	if _, ok := Float2(func(x, y float32) float32 { return x - y })(site("g", true, false)); !ok {
		t.Error("Float2 not resolved")
	}
}

type countingProvider struct {
	Funcs
	resolved int
}

func (c *countingProvider) Resolve(s *vm.CallSite) (vm.ExternalFunc, bool) {
	c.resolved++
	return c.Funcs.Resolve(s)
}

func TestRegistryCache(t *testing.T) {
	p := &countingProvider{Funcs: Funcs{"sq": Float1(func(x float32) float32 { return x * x })}}
	r := NewRegistry()
	r.Register("math", p)
	in := []float32{1, 2, 3, -4, 5}
	var results [][]float32
	for i := 0; i < 2; i++ {
		s := site("sq", false)
		fn, err := r.Resolve(s)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, call(s, fn, len(in), in))
	}
	if p.resolved != 1 || r.Len() != 1 {
		t.Errorf("resolved %d times, %d cached", p.resolved, r.Len())
	}
	for i := range in {
		if results[0][i] != results[1][i] || results[0][i] != in[i]*in[i] {
			t.Errorf("lane %d: %g and %g", i, results[0][i], results[1][i])
		}
	}
	// a constant input is a different site
	if _, err := r.Resolve(site("sq", true)); err != nil {
		t.Fatal(err)
	}
	if p.resolved != 2 || r.Len() != 2 {
		t.Errorf("resolved %d times, %d cached", p.resolved, r.Len())
	}
	r.Register("math", p)
	if r.Len() != 0 {
		t.Errorf("%d cached after re-registering", r.Len())
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewRegistry()
	r.Register("math", Funcs{"sq": Float1(func(x float32) float32 { return x * x })})
	testcases := []*vm.CallSite{
		{Capability: "nope", Name: "sq", NumIn: 1, NumOut: 1, ConstIn: []bool{false}},
		{Capability: "math", Name: "cube", NumIn: 1, NumOut: 1, ConstIn: []bool{false}},
		{Capability: "math", Name: "sq", NumIn: 2, NumOut: 1, ConstIn: []bool{false, false}},
	}
	for _, s := range testcases {
		if _, err := r.Resolve(s); !errors.Is(err, ErrNoImplementation) {
			t.Errorf("%s::%s/%d: got %v", s.Capability, s.Name, s.NumIn, err)
		}
	}
}

func TestCurve(t *testing.T) {
	even, err := NewCurve([]float32{0, 0.25, 0.5, 0.75, 1}, []float32{0, 1, 4, 9, 16})
	if err != nil {
		t.Fatal(err)
	}
	uneven, err := NewCurve([]float32{0, 0.1, 0.5, 1}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if !even.Uniform() || uneven.Uniform() {
		t.Fatalf("uniform: %v %v", even.Uniform(), uneven.Uniform())
	}
	for i := -2; i <= 42; i++ {
		x := float32(i) / 40
		if a, b := even.lookup(x), even.search(x); a != b {
			t.Errorf("sample(%g): lookup %g, search %g", x, a, b)
		}
	}
	testcases := []struct {
		c       *Curve
		in, out float32
	}{
		{even, -1, 0},
		{even, 0.25, 1},
		{even, 0.375, 2.5},
		{even, 2, 16},
		{uneven, 0.05, 1.5},
		{uneven, 0.1, 2},
		{uneven, 0.5, 3},
		{uneven, 0.75, 3.5},
		{uneven, 1, 4},
	}
	for _, tc := range testcases {
		if got := tc.c.Sample(tc.in); got != tc.out {
			t.Errorf("sample(%g) = %g, want %g", tc.in, got, tc.out)
		}
	}
	if _, err := NewCurve([]float32{0, 0}, []float32{1, 2}); err == nil {
		t.Error("accepted repeated keys")
	}
}

func TestBind(t *testing.T) {
	prog, err := compile.Compile(scripts.Fountain())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	_, err = Bind(prog, r, nil)
	var be *BindError
	if !errors.As(err, &be) || !errors.Is(err, ErrNoImplementation) {
		t.Fatalf("got %v", err)
	}
	if be.Capability != CurveCapability || be.Name != "sample" || be.Site != 0 {
		t.Errorf("bind error %+v", be)
	}
	c, err := NewCurve([]float32{0, 1}, []float32{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	r.Register(CurveCapability, c.Provider())
	bound, err := Bind(prog, r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bound.Program != prog {
		t.Error("bound a different program")
	}
}
