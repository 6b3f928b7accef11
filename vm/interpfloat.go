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
	"github.com/SnellerInc/vecvm/internal/fmath"
)

func init() {
	opinfo[OpNegF].exec = unaryF(func(x float32) float32 { return -x })
	opinfo[OpAbsF].exec = unaryF(fmath.Abs)
	opinfo[OpSignF].exec = unaryF(fmath.Sign)
	opinfo[OpFloorF].exec = unaryF(fmath.Floor)
	opinfo[OpCeilF].exec = unaryF(fmath.Ceil)
	opinfo[OpFracF].exec = unaryF(fmath.Frac)
	opinfo[OpSqrtF].exec = unaryF(fmath.Sqrt)
	opinfo[OpSinF].exec = unaryF(fmath.Sin)
	opinfo[OpCosF].exec = unaryF(fmath.Cos)
	opinfo[OpTanF].exec = unaryF(fmath.Tan)
	opinfo[OpAsinF].exec = unaryF(fmath.Asin)
	opinfo[OpAcosF].exec = unaryF(fmath.Acos)
	opinfo[OpAtanF].exec = unaryF(fmath.Atan)
	opinfo[OpExpF].exec = unaryF(fmath.Exp)
	opinfo[OpExp2F].exec = unaryF(fmath.Exp2)
	opinfo[OpLogF].exec = unaryF(fmath.Log)
	opinfo[OpLog2F].exec = unaryF(fmath.Log2)

	opinfo[OpAddF].exec = bcaddf
	opinfo[OpSubF].exec = bcsubf
	opinfo[OpMulF].exec = bcmulf
	opinfo[OpDivF].exec = bcdivf
	opinfo[OpModF].exec = binaryF(fmath.Mod)
	opinfo[OpMinF].exec = binaryF(fmath.Min)
	opinfo[OpMaxF].exec = binaryF(fmath.Max)
	opinfo[OpPowF].exec = binaryF(fmath.Pow)
	opinfo[OpAtan2F].exec = binaryF(fmath.Atan2)
	opinfo[OpMadF].exec = ternaryF(fmath.Mad)
	opinfo[OpLerpF].exec = ternaryF(fmath.Lerp)
	opinfo[OpClampF].exec = ternaryF(fmath.Clamp)
}

func unaryF(fn func(float32) float32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		for i := range dst {
			dst[i] = fmath.W(fn(fmath.F(a[i])))
		}
		return pc + 2*OperandSize
	}
}

func binaryF(fn func(x, y float32) float32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		for i := range dst {
			dst[i] = fmath.W(fn(fmath.F(a[i]), fmath.F(b[i])))
		}
		return pc + 3*OperandSize
	}
}

func ternaryF(fn func(x, y, z float32) float32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		c := s.src(pc + 3*OperandSize)
		for i := range dst {
			dst[i] = fmath.W(fn(fmath.F(a[i]), fmath.F(b[i]), fmath.F(c[i])))
		}
		return pc + 4*OperandSize
	}
}

// the four basic operators are
// open-coded to avoid the indirect call

func bcaddf(s *state, pc int) int {
	dst := s.dst(pc)
	a := s.src(pc + OperandSize)
	b := s.src(pc + 2*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(fmath.F(a[i]) + fmath.F(b[i]))
	}
	return pc + 3*OperandSize
}

func bcsubf(s *state, pc int) int {
	dst := s.dst(pc)
	a := s.src(pc + OperandSize)
	b := s.src(pc + 2*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(fmath.F(a[i]) - fmath.F(b[i]))
	}
	return pc + 3*OperandSize
}

func bcmulf(s *state, pc int) int {
	dst := s.dst(pc)
	a := s.src(pc + OperandSize)
	b := s.src(pc + 2*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(fmath.F(a[i]) * fmath.F(b[i]))
	}
	return pc + 3*OperandSize
}

func bcdivf(s *state, pc int) int {
	dst := s.dst(pc)
	a := s.src(pc + OperandSize)
	b := s.src(pc + 2*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(fmath.F(a[i]) / fmath.F(b[i]))
	}
	return pc + 3*OperandSize
}
