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
	"fmt"
	"strings"
)

// Opcode is a bytecode operation.
// Each instruction is one opcode byte followed
// by a fixed, opcode-defined list of operands.
type Opcode uint8

const (
	OpDone Opcode = iota
	OpMov

	OpNegF
	OpAbsF
	OpSignF
	OpFloorF
	OpCeilF
	OpFracF
	OpSqrtF
	OpSinF
	OpCosF
	OpTanF
	OpAsinF
	OpAcosF
	OpAtanF
	OpExpF
	OpExp2F
	OpLogF
	OpLog2F

	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpModF
	OpMinF
	OpMaxF
	OpPowF
	OpAtan2F
	OpMadF
	OpLerpF
	OpClampF

	OpCmpLTF
	OpCmpLEF
	OpCmpGTF
	OpCmpGEF
	OpCmpEQF
	OpCmpNEF

	OpNegI
	OpAbsI
	OpSignI
	OpAddI
	OpSubI
	OpMulI
	OpMinI
	OpMaxI
	OpClampI

	OpCmpLTI
	OpCmpLEI
	OpCmpGTI
	OpCmpGEI
	OpCmpEQI
	OpCmpNEI

	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpSelect

	OpF2I
	OpI2F
	OpF2B
	OpB2F
	OpI2B
	OpB2I

	OpInstanceIdx
	OpInput
	OpInputNoAdvance
	OpOutput
	OpAcquireIndex
	OpRandom
	OpNoise1
	OpNoise2
	OpNoise3
	OpGather
	OpCallExt

	numOpcodes
)

// ArgKind is the kind of one operand
// that follows an opcode.
type ArgKind uint8

const (
	ArgDst ArgKind = iota // temporary register, written; shown as t[i]
	ArgSrc                // temporary register or constant slot, read
	ArgIn                 // input register; shown as in[i]
	ArgOut                // output register; shown as out[i]
	ArgImm                // 16-bit immediate; shown as #i
)

func (a ArgKind) String() string {
	switch a {
	case ArgDst:
		return "Dst"
	case ArgSrc:
		return "Src"
	case ArgIn:
		return "In"
	case ArgOut:
		return "Out"
	case ArgImm:
		return "Imm"
	default:
		return "<Unknown>"
	}
}

// Class is the storage class of an encoded operand.
type Class uint8

const (
	ClassTemp Class = iota + 1
	ClassInput
	ClassOutput
	ClassConst
	ClassImm
)

// OperandSize is the encoded size of one operand:
// a class byte and a little-endian uint16 index.
const OperandSize = 3

// Bank capacities shared by the compiler
// and the interpreter.
const (
	MaxTemps   = 255
	MaxInputs  = 255
	MaxOutputs = 255
	MaxConsts  = 65535
)

// Fixed constant slots.
const (
	ZeroSlot      = 0
	DeltaTimeSlot = 1
	// FirstUniformSlot is the slot of the
	// first uniform component; literals
	// follow the uniforms.
	FirstUniformSlot = 2
)

// Operand is one decoded instruction operand.
type Operand struct {
	Class Class
	Index uint16
}

func Temp(i int) Operand   { return Operand{ClassTemp, uint16(i)} }
func Input(i int) Operand  { return Operand{ClassInput, uint16(i)} }
func Output(i int) Operand { return Operand{ClassOutput, uint16(i)} }
func Const(i int) Operand  { return Operand{ClassConst, uint16(i)} }
func Imm(i int) Operand    { return Operand{ClassImm, uint16(i)} }

func (o Operand) String() string {
	switch o.Class {
	case ClassTemp:
		return fmt.Sprintf("t%d", o.Index)
	case ClassInput:
		return fmt.Sprintf("in%d", o.Index)
	case ClassOutput:
		return fmt.Sprintf("out%d", o.Index)
	case ClassConst:
		return fmt.Sprintf("c%d", o.Index)
	case ClassImm:
		return fmt.Sprintf("#%d", o.Index)
	default:
		return fmt.Sprintf("?%d:%d", o.Class, o.Index)
	}
}

// accepts reports whether an operand of
// class c may appear where k is expected.
func (k ArgKind) accepts(c Class) bool {
	switch k {
	case ArgDst:
		return c == ClassTemp
	case ArgSrc:
		return c == ClassTemp || c == ClassConst
	case ArgIn:
		return c == ClassInput
	case ArgOut:
		return c == ClassOutput
	case ArgImm:
		return c == ClassImm
	}
	return false
}

type opfn func(s *state, pc int) int

type opinfotype struct {
	text string
	args []ArgKind
	// va is set for callext, whose fixed
	// arguments are followed by the input and
	// output operands of its call site.
	va   bool
	exec opfn
}

func makeOpinfo() [numOpcodes]opinfotype {
	sharedArgs := make(map[string][]ArgKind)

	makeArgs := func(args ...ArgKind) []ArgKind {
		key := fmt.Sprint(args)
		if val, ok := sharedArgs[key]; ok {
			return val
		}
		sharedArgs[key] = args
		return args
	}

	unary := makeArgs(ArgDst, ArgSrc)
	binary := makeArgs(ArgDst, ArgSrc, ArgSrc)
	ternary := makeArgs(ArgDst, ArgSrc, ArgSrc, ArgSrc)

	return [numOpcodes]opinfotype{
		// When adding a new entry:
		//   - 'text' is the opcode name; use dots to separate the type suffix
		//   - 'args' lists the operands, use makeArgs() to define them
		//   - the exec function is registered by init() in the interp*.go files
		OpDone: {text: "done"},
		OpMov:  {text: "mov", args: unary},

		OpNegF:   {text: "neg.f", args: unary},
		OpAbsF:   {text: "abs.f", args: unary},
		OpSignF:  {text: "sign.f", args: unary},
		OpFloorF: {text: "floor.f", args: unary},
		OpCeilF:  {text: "ceil.f", args: unary},
		OpFracF:  {text: "frac.f", args: unary},
		OpSqrtF:  {text: "sqrt.f", args: unary},
		OpSinF:   {text: "sin.f", args: unary},
		OpCosF:   {text: "cos.f", args: unary},
		OpTanF:   {text: "tan.f", args: unary},
		OpAsinF:  {text: "asin.f", args: unary},
		OpAcosF:  {text: "acos.f", args: unary},
		OpAtanF:  {text: "atan.f", args: unary},
		OpExpF:   {text: "exp.f", args: unary},
		OpExp2F:  {text: "exp2.f", args: unary},
		OpLogF:   {text: "log.f", args: unary},
		OpLog2F:  {text: "log2.f", args: unary},

		OpAddF:   {text: "add.f", args: binary},
		OpSubF:   {text: "sub.f", args: binary},
		OpMulF:   {text: "mul.f", args: binary},
		OpDivF:   {text: "div.f", args: binary},
		OpModF:   {text: "mod.f", args: binary},
		OpMinF:   {text: "min.f", args: binary},
		OpMaxF:   {text: "max.f", args: binary},
		OpPowF:   {text: "pow.f", args: binary},
		OpAtan2F: {text: "atan2.f", args: binary},
		OpMadF:   {text: "mad.f", args: ternary},
		OpLerpF:  {text: "lerp.f", args: ternary},
		OpClampF: {text: "clamp.f", args: ternary},

		OpCmpLTF: {text: "cmplt.f", args: binary},
		OpCmpLEF: {text: "cmple.f", args: binary},
		OpCmpGTF: {text: "cmpgt.f", args: binary},
		OpCmpGEF: {text: "cmpge.f", args: binary},
		OpCmpEQF: {text: "cmpeq.f", args: binary},
		OpCmpNEF: {text: "cmpne.f", args: binary},

		OpNegI:   {text: "neg.i", args: unary},
		OpAbsI:   {text: "abs.i", args: unary},
		OpSignI:  {text: "sign.i", args: unary},
		OpAddI:   {text: "add.i", args: binary},
		OpSubI:   {text: "sub.i", args: binary},
		OpMulI:   {text: "mul.i", args: binary},
		OpMinI:   {text: "min.i", args: binary},
		OpMaxI:   {text: "max.i", args: binary},
		OpClampI: {text: "clamp.i", args: ternary},

		OpCmpLTI: {text: "cmplt.i", args: binary},
		OpCmpLEI: {text: "cmple.i", args: binary},
		OpCmpGTI: {text: "cmpgt.i", args: binary},
		OpCmpGEI: {text: "cmpge.i", args: binary},
		OpCmpEQI: {text: "cmpeq.i", args: binary},
		OpCmpNEI: {text: "cmpne.i", args: binary},

		OpAnd:    {text: "and", args: binary},
		OpOr:     {text: "or", args: binary},
		OpXor:    {text: "xor", args: binary},
		OpNot:    {text: "not", args: unary},
		OpShl:    {text: "shl", args: binary},
		OpShr:    {text: "shr", args: binary},
		OpSelect: {text: "select", args: ternary},

		OpF2I: {text: "cvt.f.i", args: unary},
		OpI2F: {text: "cvt.i.f", args: unary},
		OpF2B: {text: "cvt.f.b", args: unary},
		OpB2F: {text: "cvt.b.f", args: unary},
		OpI2B: {text: "cvt.i.b", args: unary},
		OpB2I: {text: "cvt.b.i", args: unary},

		// instanceidx dst          - global instance index
		// input dst, in            - per-instance attribute read
		// inputnoadvance dst, in   - first instance of the range, broadcast
		// output out, idx, val     - write val at idx unless idx is -1
		// acquireindex dst, #ds, keep - next write index of data set #ds
		OpInstanceIdx:    {text: "instanceidx", args: makeArgs(ArgDst)},
		OpInput:          {text: "input", args: makeArgs(ArgDst, ArgIn)},
		OpInputNoAdvance: {text: "inputnoadvance", args: makeArgs(ArgDst, ArgIn)},
		OpOutput:         {text: "output", args: makeArgs(ArgOut, ArgSrc, ArgSrc)},
		OpAcquireIndex:   {text: "acquireindex", args: makeArgs(ArgDst, ArgImm, ArgSrc)},

		OpRandom: {text: "random", args: unary},
		OpNoise1: {text: "noise1", args: unary},
		OpNoise2: {text: "noise2", args: binary},
		OpNoise3: {text: "noise3", args: ternary},

		// gather dst, idx, #base, #stride, #count
		OpGather: {text: "gather", args: makeArgs(ArgDst, ArgSrc, ArgImm, ArgImm, ArgImm)},
		// callext #site, <site inputs...>, <site outputs...>
		OpCallExt: {text: "callext", args: makeArgs(ArgImm), va: true},
	}
}

var opinfo = makeOpinfo()

func (op Opcode) String() string {
	if op < numOpcodes {
		return opinfo[op].text
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Args returns the fixed operand kinds of op.
func (op Opcode) Args() []ArgKind {
	if op < numOpcodes {
		return opinfo[op].args
	}
	return nil
}

func decodeOperand(code []byte, pc int) Operand {
	return Operand{Class: Class(code[pc]), Index: binary.LittleEndian.Uint16(code[pc+1:])}
}

func appendOperand(code []byte, o Operand) []byte {
	return append(code, byte(o.Class), byte(o.Index), byte(o.Index>>8))
}

// visitBytecode decodes code instruction by instruction.
// The operands of callext include the site's
// inputs and outputs.
func visitBytecode(code []byte, sites []CallSite, fn func(pc int, op Opcode, args []Operand) error) error {
	pc := 0
	var args []Operand
	for pc < len(code) {
		op := Opcode(code[pc])
		if op >= numOpcodes {
			return fmt.Errorf("pc %d: unknown opcode %d: %w", pc, op, ErrCorrupt)
		}
		info := &opinfo[op]
		start := pc
		pc++
		args = args[:0]
		kinds := info.args
		n := len(kinds)
		if pc+n*OperandSize > len(code) {
			return fmt.Errorf("pc %d: truncated %s: %w", start, info.text, ErrCorrupt)
		}
		for i := 0; i < n; i++ {
			args = append(args, decodeOperand(code, pc))
			pc += OperandSize
		}
		if info.va {
			site := int(args[0].Index)
			if args[0].Class != ClassImm || site >= len(sites) {
				return fmt.Errorf("pc %d: bad call site %s: %w", start, args[0], ErrCorrupt)
			}
			extra := sites[site].NumIn + sites[site].NumOut
			if pc+extra*OperandSize > len(code) {
				return fmt.Errorf("pc %d: truncated %s: %w", start, info.text, ErrCorrupt)
			}
			for i := 0; i < extra; i++ {
				args = append(args, decodeOperand(code, pc))
				pc += OperandSize
			}
		}
		if err := fn(start, op, args); err != nil {
			return err
		}
	}
	return nil
}

func formatBytecode(code []byte, sites []CallSite) string {
	var b strings.Builder
	err := visitBytecode(code, sites, func(pc int, op Opcode, args []Operand) error {
		fmt.Fprintf(&b, "%04x: %s", pc, opinfo[op].text)
		for i, a := range args {
			if i == 0 {
				b.WriteString(" ")
			} else {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		if op == OpCallExt {
			s := &sites[args[0].Index]
			fmt.Fprintf(&b, " ; %s::%s", s.Capability, s.Name)
		}
		b.WriteString("\n")
		return nil
	})
	if err != nil {
		fmt.Fprintf(&b, "<bytecode error: %s>", err)
	}
	return b.String()
}
