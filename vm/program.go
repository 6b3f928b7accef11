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
	"fmt"
	"math"
	"strings"
)

// Attr is one input or output register:
// a single component of a data set attribute.
type Attr struct {
	DataSet   int
	Name      string
	Component int
	// NoAdvance is set for inputs that are
	// only read with inputnoadvance.
	NoAdvance bool
}

func (a *Attr) String() string {
	return fmt.Sprintf("%d:%s[%d]", a.DataSet, a.Name, a.Component)
}

// Uniform is a named range of constant slots
// filled from caller-supplied values.
type Uniform struct {
	Name  string
	Slot  int
	Count int
}

// CallSite describes one external call.
type CallSite struct {
	Capability string
	Name       string
	NumIn      int
	NumOut     int
	// ConstIn reports, for each input, whether
	// it is a constant slot rather than a register.
	ConstIn []bool
}

// Program is a compiled script.
type Program struct {
	Code      []byte
	NumTemps  int
	Inputs    []Attr
	Outputs   []Attr
	DataSets  int
	Uniforms  []Uniform
	Literals  []uint32
	CallSites []CallSite
}

// ConstSlots returns the size of the
// constant table of the program.
func (p *Program) ConstSlots() int {
	n := FirstUniformSlot
	for i := range p.Uniforms {
		n += p.Uniforms[i].Count
	}
	return n + len(p.Literals)
}

// LiteralSlot returns the slot of literal i.
func (p *Program) LiteralSlot(i int) int {
	return p.ConstSlots() - len(p.Literals) + i
}

// Validate checks that every instruction is known,
// every operand has the class its opcode expects
// and every index is within its bank.
func (p *Program) Validate() error {
	err := p.validate()
	if err != nil {
		return bytecodeerror("validate", p, err)
	}
	return nil
}

func (p *Program) validate() error {
	if p.NumTemps > MaxTemps || len(p.Inputs) > MaxInputs || len(p.Outputs) > MaxOutputs {
		return fmt.Errorf("register bank overflow: %w", ErrCorrupt)
	}
	nconst := p.ConstSlots()
	if nconst > MaxConsts {
		return fmt.Errorf("%d constant slots: %w", nconst, ErrCorrupt)
	}
	slot := FirstUniformSlot
	for i := range p.Uniforms {
		if p.Uniforms[i].Slot != slot || p.Uniforms[i].Count <= 0 {
			return fmt.Errorf("uniform %s: bad layout: %w", p.Uniforms[i].Name, ErrCorrupt)
		}
		slot += p.Uniforms[i].Count
	}
	for _, list := range [][]Attr{p.Inputs, p.Outputs} {
		for i := range list {
			if list[i].DataSet < 0 || list[i].DataSet >= p.DataSets {
				return fmt.Errorf("attribute %s: no data set: %w", list[i].String(), ErrCorrupt)
			}
		}
	}
	for i := range p.CallSites {
		s := &p.CallSites[i]
		if len(s.ConstIn) != s.NumIn {
			return fmt.Errorf("call site %d: %w", i, ErrCorrupt)
		}
	}
	check := func(pc int, k ArgKind, o Operand) error {
		if !k.accepts(o.Class) {
			return fmt.Errorf("pc %d: operand %s is not %s: %w", pc, o, k, ErrCorrupt)
		}
		limit := 0
		switch o.Class {
		case ClassTemp:
			limit = p.NumTemps
		case ClassInput:
			limit = len(p.Inputs)
		case ClassOutput:
			limit = len(p.Outputs)
		case ClassConst:
			limit = nconst
		case ClassImm:
			return nil
		}
		if int(o.Index) >= limit {
			return fmt.Errorf("pc %d: operand %s out of range: %w", pc, o, ErrCorrupt)
		}
		return nil
	}
	last := Opcode(numOpcodes)
	err := visitBytecode(p.Code, p.CallSites, func(pc int, op Opcode, args []Operand) error {
		last = op
		info := &opinfo[op]
		for i, k := range info.args {
			if err := check(pc, k, args[i]); err != nil {
				return err
			}
		}
		switch op {
		case OpCallExt:
			s := &p.CallSites[args[0].Index]
			rest := args[1:]
			for i := 0; i < s.NumIn; i++ {
				if err := check(pc, ArgSrc, rest[i]); err != nil {
					return err
				}
				if s.ConstIn[i] != (rest[i].Class == ClassConst) {
					return fmt.Errorf("pc %d: call site %d input %d class mismatch: %w", pc, args[0].Index, i, ErrCorrupt)
				}
			}
			for _, o := range rest[s.NumIn:] {
				if err := check(pc, ArgDst, o); err != nil {
					return err
				}
			}
		case OpAcquireIndex:
			if int(args[1].Index) >= p.DataSets {
				return fmt.Errorf("pc %d: no data set %d: %w", pc, args[1].Index, ErrCorrupt)
			}
		case OpGather:
			base, stride, count := int(args[2].Index), int(args[3].Index), int(args[4].Index)
			if count == 0 || base+(count-1)*stride >= nconst {
				return fmt.Errorf("pc %d: gather out of range: %w", pc, ErrCorrupt)
			}
		case OpInput:
			if p.Inputs[args[1].Index].NoAdvance {
				return fmt.Errorf("pc %d: advancing read of no-advance input: %w", pc, ErrCorrupt)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if last != OpDone {
		return fmt.Errorf("program does not end with done: %w", ErrCorrupt)
	}
	return nil
}

// Constants assembles the constant table: the zero
// slot, the delta time, the uniforms, then the literals.
func (p *Program) Constants(dt float32, uniforms map[string][]uint32) ([]uint32, error) {
	out := make([]uint32, p.ConstSlots())
	out[DeltaTimeSlot] = math.Float32bits(dt)
	for i := range p.Uniforms {
		u := &p.Uniforms[i]
		v, ok := uniforms[u.Name]
		if !ok {
			return nil, fmt.Errorf("missing uniform %q", u.Name)
		}
		if len(v) != u.Count {
			return nil, fmt.Errorf("uniform %q: have %d components, want %d", u.Name, len(v), u.Count)
		}
		copy(out[u.Slot:], v)
	}
	copy(out[p.LiteralSlot(0):], p.Literals)
	return out, nil
}

// String returns a disassembly of p.
func (p *Program) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; temps %d, data sets %d\n", p.NumTemps, p.DataSets)
	for i := range p.Inputs {
		fmt.Fprintf(&sb, "; in%d = %s\n", i, p.Inputs[i].String())
	}
	for i := range p.Outputs {
		fmt.Fprintf(&sb, "; out%d = %s\n", i, p.Outputs[i].String())
	}
	for i := range p.Uniforms {
		u := &p.Uniforms[i]
		fmt.Fprintf(&sb, "; c%d..c%d = %s\n", u.Slot, u.Slot+u.Count-1, u.Name)
	}
	for i, w := range p.Literals {
		fmt.Fprintf(&sb, "; c%d = 0x%08x\n", p.LiteralSlot(i), w)
	}
	sb.WriteString(formatBytecode(p.Code, p.CallSites))
	return sb.String()
}
