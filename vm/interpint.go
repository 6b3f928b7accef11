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
	opinfo[OpNegI].exec = unaryI(func(x int32) int32 { return -x })
	opinfo[OpAbsI].exec = unaryI(fmath.Iabs)
	opinfo[OpSignI].exec = unaryI(fmath.Isign)
	opinfo[OpAddI].exec = binaryI(func(x, y int32) int32 { return x + y })
	opinfo[OpSubI].exec = binaryI(func(x, y int32) int32 { return x - y })
	opinfo[OpMulI].exec = binaryI(func(x, y int32) int32 { return x * y })
	opinfo[OpMinI].exec = binaryI(fmath.Imin)
	opinfo[OpMaxI].exec = binaryI(fmath.Imax)
	opinfo[OpClampI].exec = bcclampi

	opinfo[OpAnd].exec = binaryW(func(x, y uint32) uint32 { return x & y })
	opinfo[OpOr].exec = binaryW(func(x, y uint32) uint32 { return x | y })
	opinfo[OpXor].exec = binaryW(func(x, y uint32) uint32 { return x ^ y })
	opinfo[OpShl].exec = binaryW(func(x, y uint32) uint32 { return x << (y & 31) })
	opinfo[OpShr].exec = binaryW(func(x, y uint32) uint32 { return uint32(int32(x) >> (y & 31)) })
	opinfo[OpNot].exec = bcnot
	opinfo[OpSelect].exec = bcselect
}

func unaryI(fn func(int32) int32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		for i := range dst {
			dst[i] = uint32(fn(int32(a[i])))
		}
		return pc + 2*OperandSize
	}
}

func binaryI(fn func(x, y int32) int32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		for i := range dst {
			dst[i] = uint32(fn(int32(a[i]), int32(b[i])))
		}
		return pc + 3*OperandSize
	}
}

func binaryW(fn func(x, y uint32) uint32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		for i := range dst {
			dst[i] = fn(a[i], b[i])
		}
		return pc + 3*OperandSize
	}
}

func bcclampi(s *state, pc int) int {
	dst := s.dst(pc)
	x := s.src(pc + OperandSize)
	lo := s.src(pc + 2*OperandSize)
	hi := s.src(pc + 3*OperandSize)
	for i := range dst {
		dst[i] = uint32(fmath.Imin(fmath.Imax(int32(x[i]), int32(lo[i])), int32(hi[i])))
	}
	return pc + 4*OperandSize
}

func bcnot(s *state, pc int) int {
	dst := s.dst(pc)
	a := s.src(pc + OperandSize)
	for i := range dst {
		dst[i] = ^a[i]
	}
	return pc + 2*OperandSize
}

func bcselect(s *state, pc int) int {
	dst := s.dst(pc)
	c := s.src(pc + OperandSize)
	a := s.src(pc + 2*OperandSize)
	b := s.src(pc + 3*OperandSize)
	for i := range dst {
		if c[i] != 0 {
			dst[i] = a[i]
		} else {
			dst[i] = b[i]
		}
	}
	return pc + 4*OperandSize
}
