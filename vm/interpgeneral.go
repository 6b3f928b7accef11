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
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/SnellerInc/vecvm/internal/fmath"
)

// noIndex marks a lane that does not write
const noIndex = 0xFFFFFFFF

func init() {
	opinfo[OpInstanceIdx].exec = bcinstanceidx
	opinfo[OpInput].exec = bcinput
	opinfo[OpInputNoAdvance].exec = bcinputnoadvance
	opinfo[OpOutput].exec = bcoutput
	opinfo[OpAcquireIndex].exec = bcacquireindex
	opinfo[OpRandom].exec = bcrandom
	opinfo[OpNoise1].exec = bcnoise1
	opinfo[OpNoise2].exec = bcnoise2
	opinfo[OpNoise3].exec = bcnoise3
	opinfo[OpGather].exec = bcgather
	opinfo[OpCallExt].exec = bccallext
}

func bcinstanceidx(s *state, pc int) int {
	dst := s.dst(pc)
	first := s.exec.Start + s.base
	for i := range dst {
		dst[i] = uint32(first + i)
	}
	return pc + OperandSize
}

func bcinput(s *state, pc int) int {
	dst := s.dst(pc)
	k := s.index(pc+OperandSize, ClassInput, len(s.ins))
	buf := s.ins[k]
	off := s.inoff[k] + s.base
	if off+s.lanes > len(buf) {
		s.fatal("input read past the end of its buffer")
	}
	copy(dst, buf[off:off+s.lanes])
	for i := s.lanes; i < len(dst); i++ {
		dst[i] = 0
	}
	return pc + 2*OperandSize
}

func bcinputnoadvance(s *state, pc int) int {
	dst := s.dst(pc)
	k := s.index(pc+OperandSize, ClassInput, len(s.ins))
	buf := s.ins[k]
	off := s.inoff[k]
	if off >= len(buf) {
		s.fatal("input read past the end of its buffer")
	}
	v := buf[off]
	for i := range dst {
		dst[i] = v
	}
	return pc + 2*OperandSize
}

func bcoutput(s *state, pc int) int {
	k := s.index(pc, ClassOutput, len(s.outs))
	idx := s.src(pc + OperandSize)
	val := s.src(pc + 2*OperandSize)
	buf := s.outs[k]
	off := s.outoff[k]
	for i := 0; i < s.lanes; i++ {
		if idx[i] == noIndex {
			continue
		}
		j := off + int(idx[i])
		if j >= len(buf) {
			s.fatal("output index past the end of its buffer")
		}
		buf[j] = val[i]
	}
	return pc + 3*OperandSize
}

func bcacquireindex(s *state, pc int) int {
	dst := s.dst(pc)
	ds := s.imm(pc + OperandSize)
	keep := s.src(pc + 2*OperandSize)
	if ds >= len(s.exec.DataSets) {
		s.fatal("acquireindex of an unbound data set")
	}
	b := &s.exec.DataSets[ds]
	for i := range dst {
		if i < s.lanes && keep[i] != 0 {
			dst[i] = uint32(b.Cursor)
			b.Cursor++
		} else {
			dst[i] = noIndex
		}
	}
	return pc + 3*OperandSize
}

// bcrandom hashes the instance index with the
// call seed; pc distinguishes the sites of one
// program, so each site yields an independent stream.
func bcrandom(s *state, pc int) int {
	dst := s.dst(pc)
	scale := s.src(pc + OperandSize)
	var msg [8]byte
	first := s.exec.Start + s.base
	for i := range dst {
		binary.LittleEndian.PutUint64(msg[:], uint64(first+i))
		h := siphash.Hash(s.exec.Seed, uint64(pc), msg[:])
		dst[i] = fmath.W(fmath.Unit(h) * fmath.F(scale[i]))
	}
	return pc + 2*OperandSize
}

func bcnoise1(s *state, pc int) int {
	dst := s.dst(pc)
	x := s.src(pc + OperandSize)
	for i := range dst {
		dst[i] = fmath.W(s.noise.Noise1(fmath.F(x[i])))
	}
	return pc + 2*OperandSize
}

func bcnoise2(s *state, pc int) int {
	dst := s.dst(pc)
	x := s.src(pc + OperandSize)
	y := s.src(pc + 2*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(s.noise.Noise2(fmath.F(x[i]), fmath.F(y[i])))
	}
	return pc + 3*OperandSize
}

func bcnoise3(s *state, pc int) int {
	dst := s.dst(pc)
	x := s.src(pc + OperandSize)
	y := s.src(pc + 2*OperandSize)
	z := s.src(pc + 3*OperandSize)
	for i := range dst {
		dst[i] = fmath.W(s.noise.Noise3(fmath.F(x[i]), fmath.F(y[i]), fmath.F(z[i])))
	}
	return pc + 4*OperandSize
}

// bcgather reads consts[base+idx*stride] with the
// index of each lane clamped to [0, count).
func bcgather(s *state, pc int) int {
	dst := s.dst(pc)
	idx := s.src(pc + OperandSize)
	base := s.imm(pc + 2*OperandSize)
	stride := s.imm(pc + 3*OperandSize)
	count := s.imm(pc + 4*OperandSize)
	if count == 0 || base+(count-1)*stride >= s.nconst {
		s.fatal("gather out of range")
	}
	consts := s.exec.Constants
	for i := range dst {
		j := int(int32(idx[i]))
		if j < 0 {
			j = 0
		} else if j >= count {
			j = count - 1
		}
		dst[i] = consts[base+j*stride]
	}
	return pc + 5*OperandSize
}

func bccallext(s *state, pc int) int {
	site := s.imm(pc)
	if site >= len(s.calls) {
		s.fatal("bad call site")
	}
	ctx := &s.calls[site]
	pc += OperandSize
	ctx.N = s.lanes
	for i := range ctx.ins {
		c, k := s.operand(pc)
		if c == ClassConst {
			if k >= s.nconst {
				s.fatal("bad call input")
			}
			ctx.ins[i] = s.consts[k*s.width : k*s.width+1]
		} else {
			ctx.ins[i] = s.src(pc)[:s.lanes]
		}
		pc += OperandSize
	}
	for i := range ctx.outs {
		ctx.outs[i] = s.dst(pc)[:s.lanes]
		pc += OperandSize
	}
	s.funcs[site](ctx)
	return pc
}
