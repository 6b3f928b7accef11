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
	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/vm"
)

// Impl builds the implementation of one
// function for a particular call site.
type Impl func(site *vm.CallSite) (vm.ExternalFunc, bool)

// Funcs is a Provider holding one Impl per function name.
type Funcs map[string]Impl

func (f Funcs) Resolve(site *vm.CallSite) (vm.ExternalFunc, bool) {
	impl, ok := f[site.Name]
	if !ok {
		return nil, false
	}
	return impl(site)
}

// lane reads the value of an input
// for one lane.
type lane interface {
	reg | konst
	at(i int) float32
}

// reg is a register input; one value per lane.
type reg []uint32

func (r reg) at(i int) float32 { return fmath.F(r[i]) }

// konst is a constant input shared by every lane.
type konst float32

func (k konst) at(int) float32 { return float32(k) }

func regIn(c *vm.CallContext, i int) reg     { return reg(c.In(i)) }
func constIn(c *vm.CallContext, i int) konst { return konst(fmath.F(c.ConstIn(i))) }

func unary[A lane](fn func(x float32) float32, a func(*vm.CallContext, int) A) vm.ExternalFunc {
	return func(c *vm.CallContext) {
		x, out := a(c, 0), c.Out(0)
		for i := 0; i < c.N; i++ {
			out[i] = fmath.W(fn(x.at(i)))
		}
	}
}

func binary[A, B lane](fn func(x, y float32) float32, a func(*vm.CallContext, int) A, b func(*vm.CallContext, int) B) vm.ExternalFunc {
	return func(c *vm.CallContext) {
		x, y, out := a(c, 0), b(c, 1), c.Out(0)
		for i := 0; i < c.N; i++ {
			out[i] = fmath.W(fn(x.at(i), y.at(i)))
		}
	}
}

func ternary[A, B, C lane](fn func(x, y, z float32) float32, a func(*vm.CallContext, int) A, b func(*vm.CallContext, int) B, d func(*vm.CallContext, int) C) vm.ExternalFunc {
	return func(c *vm.CallContext) {
		x, y, z, out := a(c, 0), b(c, 1), d(c, 2), c.Out(0)
		for i := 0; i < c.N; i++ {
			out[i] = fmath.W(fn(x.at(i), y.at(i), z.at(i)))
		}
	}
}

func arity(site *vm.CallSite, nin, nout int) bool {
	return site.NumIn == nin && site.NumOut == nout && len(site.ConstIn) == nin
}

// Float1 implements a function of one float
// input and one float output.
func Float1(fn func(x float32) float32) Impl {
	return func(site *vm.CallSite) (vm.ExternalFunc, bool) {
		if !arity(site, 1, 1) {
			return nil, false
		}
		if site.ConstIn[0] {
			return unary(fn, constIn), true
		}
		return unary(fn, regIn), true
	}
}

// Float2 implements a function of two float
// inputs and one float output.
func Float2(fn func(x, y float32) float32) Impl {
	return func(site *vm.CallSite) (vm.ExternalFunc, bool) {
		if !arity(site, 2, 1) {
			return nil, false
		}
		switch constMask(site) {
		case 0b00:
			return binary(fn, regIn, regIn), true
		case 0b01:
			return binary(fn, constIn, regIn), true
		case 0b10:
			return binary(fn, regIn, constIn), true
		default:
			return binary(fn, constIn, constIn), true
		}
	}
}

// Float3 implements a function of three float
// inputs and one float output.
func Float3(fn func(x, y, z float32) float32) Impl {
	return func(site *vm.CallSite) (vm.ExternalFunc, bool) {
		if !arity(site, 3, 1) {
			return nil, false
		}
		switch constMask(site) {
		case 0b000:
			return ternary(fn, regIn, regIn, regIn), true
		case 0b001:
			return ternary(fn, constIn, regIn, regIn), true
		case 0b010:
			return ternary(fn, regIn, constIn, regIn), true
		case 0b011:
			return ternary(fn, constIn, constIn, regIn), true
		case 0b100:
			return ternary(fn, regIn, regIn, constIn), true
		case 0b101:
			return ternary(fn, constIn, regIn, constIn), true
		case 0b110:
			return ternary(fn, regIn, constIn, constIn), true
		default:
			return ternary(fn, constIn, constIn, constIn), true
		}
	}
}

// Raw implements a function with the given arity
// directly on the call context.
func Raw(nin, nout int, fn vm.ExternalFunc) Impl {
	return func(site *vm.CallSite) (vm.ExternalFunc, bool) {
		if !arity(site, nin, nout) {
			return nil, false
		}
		return fn, true
	}
}
