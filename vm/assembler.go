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
)

// Assembler encodes instructions.
// Operands are checked against the opcode's
// argument kinds; a mismatch is a compiler bug
// and panics.
type Assembler struct {
	code []byte
}

// Emit appends one instruction.
func (a *Assembler) Emit(op Opcode, args ...Operand) {
	if op >= numOpcodes {
		panic(fmt.Sprintf("vm: emit of unknown opcode %d", op))
	}
	info := &opinfo[op]
	if len(args) != len(info.args) {
		panic(fmt.Sprintf("vm: %s takes %d operands, got %d", info.text, len(info.args), len(args)))
	}
	a.code = append(a.code, byte(op))
	for i, arg := range args {
		if !info.args[i].accepts(arg.Class) {
			panic(fmt.Sprintf("vm: %s operand %d: %s is not %s", info.text, i, arg, info.args[i]))
		}
		a.code = appendOperand(a.code, arg)
	}
}

// EmitCall appends a callext instruction for
// the given site followed by its operands.
func (a *Assembler) EmitCall(site int, ins, outs []Operand) {
	a.Emit(OpCallExt, Imm(site))
	for _, in := range ins {
		if !ArgSrc.accepts(in.Class) {
			panic(fmt.Sprintf("vm: callext input %s", in))
		}
		a.code = appendOperand(a.code, in)
	}
	for _, out := range outs {
		if !ArgDst.accepts(out.Class) {
			panic(fmt.Sprintf("vm: callext output %s", out))
		}
		a.code = appendOperand(a.code, out)
	}
}

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.code) }

// Finish terminates the program with done and
// returns the code, resetting the assembler.
func (a *Assembler) Finish() []byte {
	a.Emit(OpDone)
	r := a.code
	a.code = nil
	return r
}
