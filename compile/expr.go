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

package compile

import (
	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/vm"
)

var floatOps = map[ir.Op]vm.Opcode{
	ir.OpNeg:   vm.OpNegF,
	ir.OpAbs:   vm.OpAbsF,
	ir.OpSign:  vm.OpSignF,
	ir.OpFloor: vm.OpFloorF,
	ir.OpCeil:  vm.OpCeilF,
	ir.OpFrac:  vm.OpFracF,
	ir.OpSqrt:  vm.OpSqrtF,
	ir.OpSin:   vm.OpSinF,
	ir.OpCos:   vm.OpCosF,
	ir.OpTan:   vm.OpTanF,
	ir.OpAsin:  vm.OpAsinF,
	ir.OpAcos:  vm.OpAcosF,
	ir.OpAtan:  vm.OpAtanF,
	ir.OpExp:   vm.OpExpF,
	ir.OpExp2:  vm.OpExp2F,
	ir.OpLog:   vm.OpLogF,
	ir.OpLog2:  vm.OpLog2F,

	ir.OpAdd:   vm.OpAddF,
	ir.OpSub:   vm.OpSubF,
	ir.OpMul:   vm.OpMulF,
	ir.OpDiv:   vm.OpDivF,
	ir.OpMod:   vm.OpModF,
	ir.OpMin:   vm.OpMinF,
	ir.OpMax:   vm.OpMaxF,
	ir.OpPow:   vm.OpPowF,
	ir.OpAtan2: vm.OpAtan2F,
	ir.OpLerp:  vm.OpLerpF,
	ir.OpClamp: vm.OpClampF,

	ir.OpLT: vm.OpCmpLTF,
	ir.OpLE: vm.OpCmpLEF,
	ir.OpGT: vm.OpCmpGTF,
	ir.OpGE: vm.OpCmpGEF,
	ir.OpEQ: vm.OpCmpEQF,
	ir.OpNE: vm.OpCmpNEF,
}

var intOps = map[ir.Op]vm.Opcode{
	ir.OpNeg:   vm.OpNegI,
	ir.OpAbs:   vm.OpAbsI,
	ir.OpSign:  vm.OpSignI,
	ir.OpAdd:   vm.OpAddI,
	ir.OpSub:   vm.OpSubI,
	ir.OpMul:   vm.OpMulI,
	ir.OpMin:   vm.OpMinI,
	ir.OpMax:   vm.OpMaxI,
	ir.OpClamp: vm.OpClampI,

	ir.OpLT: vm.OpCmpLTI,
	ir.OpLE: vm.OpCmpLEI,
	ir.OpGT: vm.OpCmpGTI,
	ir.OpGE: vm.OpCmpGEI,
	ir.OpEQ: vm.OpCmpEQI,
	ir.OpNE: vm.OpCmpNEI,

	ir.OpAnd: vm.OpAnd,
	ir.OpOr:  vm.OpOr,
	ir.OpXor: vm.OpXor,
	ir.OpNot: vm.OpNot,
	ir.OpShl: vm.OpShl,
	ir.OpShr: vm.OpShr,
}

// bools are canonical, so equality
// is a comparison of the bits
var boolOps = map[ir.Op]vm.Opcode{
	ir.OpAnd: vm.OpAnd,
	ir.OpOr:  vm.OpOr,
	ir.OpXor: vm.OpXor,
	ir.OpNot: vm.OpNot,
	ir.OpEQ:  vm.OpCmpEQI,
	ir.OpNE:  vm.OpCmpNEI,
}

var converts = [...][4]vm.Opcode{
	// indexed by [target][source]
	ir.Float: {ir.Int: vm.OpI2F, ir.Bool: vm.OpB2F},
	ir.Int:   {ir.Float: vm.OpF2I, ir.Bool: vm.OpB2I},
	ir.Bool:  {ir.Float: vm.OpF2B, ir.Int: vm.OpI2B},
}

func (g *gen) expr(h ir.Handle) (vm.Operand, error) {
	if o, ok := g.memo[h]; ok {
		return o, nil
	}
	o, err := g.expr1(h)
	if err != nil {
		return o, err
	}
	g.memo[h] = o
	return o, nil
}

func (g *gen) exprs(args []ir.Handle) ([]vm.Operand, error) {
	out := make([]vm.Operand, len(args))
	for i, a := range args {
		o, err := g.expr(a)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

// emit computes op over the values of
// args into a new register.
func (g *gen) emit(h ir.Handle, op vm.Opcode, args []ir.Handle) (vm.Operand, error) {
	srcs, err := g.exprs(args)
	if err != nil {
		return vm.Operand{}, err
	}
	dst, err := g.alloc(h)
	if err != nil {
		return dst, err
	}
	g.asm.Emit(op, append([]vm.Operand{dst}, srcs...)...)
	return dst, nil
}

func (g *gen) expr1(h ir.Handle) (vm.Operand, error) {
	n := g.p.Node(h)
	switch n.Kind {
	case ir.KConst:
		return g.literal(n.Bits[0]), nil
	case ir.KVar, ir.KSwizzle:
		v, c, ok := g.p.Slot(h)
		if !ok {
			return vm.Operand{}, g.errorf(h, "unexpected %s of type %s", n.Kind, n.Type)
		}
		return g.read(h, slot{v, c})
	case ir.KGather:
		idx, err := g.expr(n.Args[0])
		if err != nil {
			return idx, err
		}
		dst, err := g.alloc(h)
		if err != nil {
			return dst, err
		}
		v := g.p.Var(n.Var)
		base := g.uniforms[v.Attr] + v.Offset + n.Index
		g.asm.Emit(vm.OpGather, dst, idx, vm.Imm(base), vm.Imm(v.Type.Vec), vm.Imm(v.Type.Cols))
		return dst, nil
	case ir.KCall:
		return g.intrinsic(h, n)
	case ir.KExpr:
		return g.op(h, n)
	}
	return vm.Operand{}, g.errorf(h, "unexpected %s expression", n.Kind)
}

func (g *gen) op(h ir.Handle, n *ir.Node) (vm.Operand, error) {
	switch n.Op {
	case ir.OpDeltaTime:
		return vm.Const(vm.DeltaTimeSlot), nil
	case ir.OpInstanceIndex:
		dst, err := g.alloc(h)
		if err == nil {
			g.asm.Emit(vm.OpInstanceIdx, dst)
		}
		return dst, err
	case ir.OpSelect:
		return g.emit(h, vm.OpSelect, n.Args)
	case ir.OpToFloat, ir.OpToInt, ir.OpToBool:
		from := g.p.Type(n.Args[0]).Base
		if from == n.Type.Base {
			return g.expr(n.Args[0])
		}
		return g.emit(h, converts[n.Type.Base][from], n.Args)
	case ir.OpAdd:
		if n.Type.Base == ir.Float {
			if o, ok, err := g.mad(h, n); ok || err != nil {
				return o, err
			}
		}
	}
	base := n.Type.Base
	if len(n.Args) > 0 {
		base = g.p.Type(n.Args[0]).Base
	}
	var table map[ir.Op]vm.Opcode
	switch base {
	case ir.Float:
		table = floatOps
	case ir.Int:
		table = intOps
	case ir.Bool:
		table = boolOps
	}
	op, ok := table[n.Op]
	if !ok {
		return vm.Operand{}, g.errorf(h, "no instruction for %s %s", base, n.Op)
	}
	return g.emit(h, op, n.Args)
}

// mad fuses an addition with one of its
// operands when that operand is a product.
func (g *gen) mad(h ir.Handle, n *ir.Node) (vm.Operand, bool, error) {
	for i, a := range n.Args {
		m := g.p.Node(a)
		if _, done := g.memo[a]; done || m.Kind != ir.KExpr || m.Op != ir.OpMul {
			continue
		}
		o, err := g.emit(h, vm.OpMadF, []ir.Handle{m.Args[0], m.Args[1], n.Args[1-i]})
		return o, true, err
	}
	return vm.Operand{}, false, nil
}

func (g *gen) intrinsic(h ir.Handle, n *ir.Node) (vm.Operand, error) {
	switch n.Name {
	case ir.Noise:
		ops := [...]vm.Opcode{1: vm.OpNoise1, 2: vm.OpNoise2, 3: vm.OpNoise3}
		if len(n.Args) < 1 || len(n.Args) > 3 {
			break
		}
		return g.emit(h, ops[len(n.Args)], n.Args)
	case ir.Random:
		return g.emit(h, vm.OpRandom, n.Args)
	case ir.Saturate:
		x, err := g.expr(n.Args[0])
		if err != nil {
			return x, err
		}
		dst, err := g.alloc(h)
		if err != nil {
			return dst, err
		}
		g.asm.Emit(vm.OpClampF, dst, x, vm.Const(vm.ZeroSlot), g.literal(fmath.W(1)))
		return dst, nil
	case ir.Step:
		// x >= edge
		ge, err := g.emit(h, vm.OpCmpGEF, []ir.Handle{n.Args[1], n.Args[0]})
		if err != nil {
			return ge, err
		}
		dst, err := g.alloc(h)
		if err != nil {
			return dst, err
		}
		g.asm.Emit(vm.OpB2F, dst, ge)
		return dst, nil
	}
	return vm.Operand{}, g.errorf(h, "no instruction for call of %s", n.Name)
}
