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
	opinfo[OpCmpLTF].exec = cmpF(func(x, y float32) bool { return x < y })
	opinfo[OpCmpLEF].exec = cmpF(func(x, y float32) bool { return x <= y })
	opinfo[OpCmpGTF].exec = cmpF(func(x, y float32) bool { return x > y })
	opinfo[OpCmpGEF].exec = cmpF(func(x, y float32) bool { return x >= y })
	opinfo[OpCmpEQF].exec = cmpF(func(x, y float32) bool { return x == y })
	opinfo[OpCmpNEF].exec = cmpF(func(x, y float32) bool { return x != y })

	opinfo[OpCmpLTI].exec = cmpI(func(x, y int32) bool { return x < y })
	opinfo[OpCmpLEI].exec = cmpI(func(x, y int32) bool { return x <= y })
	opinfo[OpCmpGTI].exec = cmpI(func(x, y int32) bool { return x > y })
	opinfo[OpCmpGEI].exec = cmpI(func(x, y int32) bool { return x >= y })
	opinfo[OpCmpEQI].exec = cmpI(func(x, y int32) bool { return x == y })
	opinfo[OpCmpNEI].exec = cmpI(func(x, y int32) bool { return x != y })
}

func cmpF(fn func(x, y float32) bool) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		for i := range dst {
			dst[i] = fmath.B(fn(fmath.F(a[i]), fmath.F(b[i])))
		}
		return pc + 3*OperandSize
	}
}

func cmpI(fn func(x, y int32) bool) opfn {
	return func(s *state, pc int) int {
		dst := s.dst(pc)
		a := s.src(pc + OperandSize)
		b := s.src(pc + 2*OperandSize)
		for i := range dst {
			dst[i] = fmath.B(fn(int32(a[i]), int32(b[i])))
		}
		return pc + 3*OperandSize
	}
}
