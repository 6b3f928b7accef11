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
	opinfo[OpF2I].exec = convert(func(x uint32) uint32 { return uint32(fmath.Int(fmath.F(x))) })
	opinfo[OpI2F].exec = convert(func(x uint32) uint32 { return fmath.W(float32(int32(x))) })
	opinfo[OpF2B].exec = convert(func(x uint32) uint32 { return fmath.B(fmath.F(x) != 0) })
	opinfo[OpB2F].exec = convert(func(x uint32) uint32 {
		if x != 0 {
			return fmath.W(1)
		}
		return 0
	})
	opinfo[OpI2B].exec = convert(func(x uint32) uint32 { return fmath.B(x != 0) })
	opinfo[OpB2I].exec = convert(func(x uint32) uint32 {
		if x != 0 {
			return 1
		}
		return 0
	})
}

func convert(fn func(uint32) uint32) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		for i := range dst {
			dst[i] = fn(a[i])
		}
		return pc + 2*OperandSize
	}
}
