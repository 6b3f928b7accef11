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

	"github.com/SnellerInc/vecvm/internal/noise"
	"github.com/SnellerInc/vecvm/ints"
)

// LaneCount is the width of one group of lanes.
const LaneCount = 4

// state is the register file of one call.
type state struct {
	prog  *Program
	funcs []ExternalFunc
	noise *noise.Table
	exec  *Exec

	code   []byte
	pc     int // current instruction
	width  int // lanes per pass
	base   int // first lane of the pass
	lanes  int // valid lanes in the pass
	ntemps int
	nconst int

	temps  []uint32
	consts []uint32 // broadcast constants
	ins    [][]uint32
	inoff  []int
	outs   [][]uint32
	outoff []int
	calls  []CallContext
}

func newState(p *Program, width int) *state {
	s := &state{
		prog:   p,
		code:   p.Code,
		width:  width,
		ntemps: p.NumTemps,
		nconst: p.ConstSlots(),
		temps:  make([]uint32, p.NumTemps*width),
		consts: make([]uint32, p.ConstSlots()*width),
		ins:    make([][]uint32, len(p.Inputs)),
		inoff:  make([]int, len(p.Inputs)),
		outs:   make([][]uint32, len(p.Outputs)),
		outoff: make([]int, len(p.Outputs)),
		calls:  make([]CallContext, len(p.CallSites)),
	}
	for i := range s.calls {
		site := &p.CallSites[i]
		s.calls[i].Site = site
		s.calls[i].ins = make([][]uint32, site.NumIn)
		s.calls[i].outs = make([][]uint32, site.NumOut)
	}
	return s
}

func (s *state) fatal(msg string) {
	op := Opcode(numOpcodes)
	if s.pc < len(s.code) {
		op = Opcode(s.code[s.pc])
	}
	panic(&FatalError{PC: s.pc, Op: op, Msg: msg})
}

// bind prepares the state for one call.
func (s *state) bind(e *Exec) {
	s.exec = e
	w := s.width
	for i, c := range e.Constants {
		lanes := s.consts[i*w : i*w+w]
		for j := range lanes {
			lanes[j] = c
		}
	}
	for i := range s.prog.Inputs {
		s.ins[i] = e.Inputs[i]
		s.inoff[i] = e.DataSets[s.prog.Inputs[i].DataSet].InputOffset
	}
	for i := range s.prog.Outputs {
		s.outs[i] = e.Outputs[i]
		s.outoff[i] = e.DataSets[s.prog.Outputs[i].DataSet].OutputOffset
	}
}

// unbind drops references to caller buffers.
func (s *state) unbind() {
	s.exec = nil
	for i := range s.ins {
		s.ins[i] = nil
	}
	for i := range s.outs {
		s.outs[i] = nil
	}
	for i := range s.calls {
		c := &s.calls[i]
		for j := range c.ins {
			c.ins[j] = nil
		}
		for j := range c.outs {
			c.outs[j] = nil
		}
	}
}

func (s *state) operand(pc int) (Class, int) {
	if pc+OperandSize > len(s.code) {
		s.fatal("truncated instruction")
	}
	return Class(s.code[pc]), int(binary.LittleEndian.Uint16(s.code[pc+1:]))
}

// dst returns the lanes of the temporary at pc.
func (s *state) dst(pc int) []uint32 {
	c, i := s.operand(pc)
	if c != ClassTemp || i >= s.ntemps {
		s.fatal("bad destination operand")
	}
	return s.temps[i*s.width : (i+1)*s.width]
}

// src returns the lanes of the temporary
// or broadcast constant at pc.
func (s *state) src(pc int) []uint32 {
	c, i := s.operand(pc)
	switch {
	case c == ClassTemp && i < s.ntemps:
		return s.temps[i*s.width : (i+1)*s.width]
	case c == ClassConst && i < s.nconst:
		return s.consts[i*s.width : (i+1)*s.width]
	}
	s.fatal("bad source operand")
	return nil
}

func (s *state) imm(pc int) int {
	c, i := s.operand(pc)
	if c != ClassImm {
		s.fatal("bad immediate operand")
	}
	return i
}

func (s *state) index(pc int, class Class, limit int) int {
	c, i := s.operand(pc)
	if c != class || i >= limit {
		s.fatal("bad register operand")
	}
	return i
}

// run executes the program once for the lanes
// [base, base+lanes) of the current call.
func (s *state) run() {
	pc := 0
	for {
		s.pc = pc
		if pc >= len(s.code) {
			s.fatal("ran past the end of the program")
		}
		op := Opcode(s.code[pc])
		if op >= numOpcodes || opinfo[op].exec == nil {
			panic(&FatalError{PC: pc, Op: op, Msg: "unknown opcode"})
		}
		pc = opinfo[op].exec(s, pc+1)
		if pc < 0 {
			return
		}
	}
}

// execute runs every pass of the call.
func (s *state) execute() {
	n := s.exec.N
	passes := ints.Chunks(n, s.width)
	for i := 0; i < passes; i++ {
		s.base = i * s.width
		s.lanes = ints.Min(s.width, n-s.base)
		s.run()
	}
}

func bcdone(s *state, pc int) int { return -1 }

func bcmov(s *state, pc int) int {
	dst, src := s.dst(pc), s.src(pc+OperandSize)
	copy(dst, src)
	return pc + 2*OperandSize
}

func init() {
	opinfo[OpDone].exec = bcdone
	opinfo[OpMov].exec = bcmov
}
