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

package ir

import (
	"fmt"
)

// Op is an expression operator.
type Op uint8

const (
	OpInvalid Op = iota

	OpNeg
	OpAbs
	OpSign
	OpFloor
	OpCeil
	OpFrac
	OpSqrt
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpExp
	OpExp2
	OpLog
	OpLog2
	OpNot
	OpToFloat
	OpToInt
	OpToBool

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpPow
	OpAtan2
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	OpLT
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE

	OpSelect
	OpLerp
	OpClamp

	OpDot
	OpCross
	OpLength
	OpDistance
	OpNormalize
	OpMatMul
	OpTranspose
	OpConstruct

	OpInstanceIndex
	OpDeltaTime

	opMax
)

type opclass uint8

const (
	classUnary   opclass = iota // component-wise, one operand
	classBinary                 // component-wise, scalar operands broadcast
	classCompare                // component-wise, bool result
	classConvert                // component-wise, new base
	classSpecial                // typed individually
)

type opinfo struct {
	text  string
	args  int // -1 for variadic
	class opclass
	bases []Base // accepted operand bases for component-wise ops
}

var (
	numeric = []Base{Float, Int}
	floats  = []Base{Float}
	bitwise = []Base{Int, Bool}
	anyBase = []Base{Float, Int, Bool}
)

var ops = [opMax]opinfo{
	OpNeg:   {text: "neg", args: 1, class: classUnary, bases: numeric},
	OpAbs:   {text: "abs", args: 1, class: classUnary, bases: numeric},
	OpSign:  {text: "sign", args: 1, class: classUnary, bases: numeric},
	OpFloor: {text: "floor", args: 1, class: classUnary, bases: floats},
	OpCeil:  {text: "ceil", args: 1, class: classUnary, bases: floats},
	OpFrac:  {text: "frac", args: 1, class: classUnary, bases: floats},
	OpSqrt:  {text: "sqrt", args: 1, class: classUnary, bases: floats},
	OpSin:   {text: "sin", args: 1, class: classUnary, bases: floats},
	OpCos:   {text: "cos", args: 1, class: classUnary, bases: floats},
	OpTan:   {text: "tan", args: 1, class: classUnary, bases: floats},
	OpAsin:  {text: "asin", args: 1, class: classUnary, bases: floats},
	OpAcos:  {text: "acos", args: 1, class: classUnary, bases: floats},
	OpAtan:  {text: "atan", args: 1, class: classUnary, bases: floats},
	OpExp:   {text: "exp", args: 1, class: classUnary, bases: floats},
	OpExp2:  {text: "exp2", args: 1, class: classUnary, bases: floats},
	OpLog:   {text: "log", args: 1, class: classUnary, bases: floats},
	OpLog2:  {text: "log2", args: 1, class: classUnary, bases: floats},
	OpNot:   {text: "not", args: 1, class: classUnary, bases: bitwise},

	OpToFloat: {text: "tofloat", args: 1, class: classConvert, bases: anyBase},
	OpToInt:   {text: "toint", args: 1, class: classConvert, bases: anyBase},
	OpToBool:  {text: "tobool", args: 1, class: classConvert, bases: anyBase},

	OpAdd:   {text: "add", args: 2, class: classBinary, bases: numeric},
	OpSub:   {text: "sub", args: 2, class: classBinary, bases: numeric},
	OpMul:   {text: "mul", args: 2, class: classBinary, bases: numeric},
	OpDiv:   {text: "div", args: 2, class: classBinary, bases: numeric},
	OpMod:   {text: "mod", args: 2, class: classBinary, bases: numeric},
	OpMin:   {text: "min", args: 2, class: classBinary, bases: numeric},
	OpMax:   {text: "max", args: 2, class: classBinary, bases: numeric},
	OpPow:   {text: "pow", args: 2, class: classBinary, bases: floats},
	OpAtan2: {text: "atan2", args: 2, class: classBinary, bases: floats},
	OpAnd:   {text: "and", args: 2, class: classBinary, bases: bitwise},
	OpOr:    {text: "or", args: 2, class: classBinary, bases: bitwise},
	OpXor:   {text: "xor", args: 2, class: classBinary, bases: bitwise},
	OpShl:   {text: "shl", args: 2, class: classBinary, bases: []Base{Int}},
	OpShr:   {text: "shr", args: 2, class: classBinary, bases: []Base{Int}},

	OpLT: {text: "lt", args: 2, class: classCompare, bases: numeric},
	OpLE: {text: "le", args: 2, class: classCompare, bases: numeric},
	OpGT: {text: "gt", args: 2, class: classCompare, bases: numeric},
	OpGE: {text: "ge", args: 2, class: classCompare, bases: numeric},
	OpEQ: {text: "eq", args: 2, class: classCompare, bases: anyBase},
	OpNE: {text: "ne", args: 2, class: classCompare, bases: anyBase},

	OpSelect: {text: "select", args: 3, class: classSpecial},
	OpLerp:   {text: "lerp", args: 3, class: classSpecial, bases: floats},
	OpClamp:  {text: "clamp", args: 3, class: classSpecial, bases: numeric},

	OpDot:       {text: "dot", args: 2, class: classSpecial},
	OpCross:     {text: "cross", args: 2, class: classSpecial},
	OpLength:    {text: "length", args: 1, class: classSpecial},
	OpDistance:  {text: "distance", args: 2, class: classSpecial},
	OpNormalize: {text: "normalize", args: 1, class: classSpecial},
	OpMatMul:    {text: "matmul", args: 2, class: classSpecial},
	OpTranspose: {text: "transpose", args: 1, class: classSpecial},
	OpConstruct: {text: "construct", args: -1, class: classSpecial},

	OpInstanceIndex: {text: "instanceidx", args: 0, class: classSpecial},
	OpDeltaTime:     {text: "dt", args: 0, class: classSpecial},
}

func (o Op) String() string {
	if o < opMax && ops[o].text != "" {
		return ops[o].text
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ComponentWise reports whether component i of the
// result depends only on component i of each
// (non-broadcast) operand.
func (o Op) ComponentWise() bool {
	if o >= opMax {
		return false
	}
	switch ops[o].class {
	case classUnary, classBinary, classCompare, classConvert:
		return true
	}
	return o == OpSelect || o == OpLerp || o == OpClamp
}

func hasBase(list []Base, b Base) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// plain reports whether t is a plain
// (non-struct, non-void) value.
func plain(t Type) bool { return t.Base != Void && t.Base != Struct }

// broadcast returns the wider of two operand
// types that must either match or be scalar.
func broadcast(a, b Type) (Type, bool) {
	switch {
	case a.Equal(b):
		return a, true
	case a.IsScalar() && a.Base == b.Base:
		return b, true
	case b.IsScalar() && a.Base == b.Base:
		return a, true
	}
	return Type{}, false
}

func sameShape(t Type, b Base) Type {
	t.Base = b
	return t
}

// ResultType computes the type of op applied to
// operands of the given types. ctype is only used
// by OpConstruct.
func ResultType(op Op, ctype Type, args []Type) (Type, error) {
	if op == OpInvalid || op >= opMax {
		return Type{}, fmt.Errorf("invalid operator %d", op)
	}
	info := &ops[op]
	if info.args >= 0 && len(args) != info.args {
		return Type{}, fmt.Errorf("%s: want %d operands, have %d", op, info.args, len(args))
	}
	bad := func() (Type, error) {
		return Type{}, fmt.Errorf("%s: invalid operand types %v", op, args)
	}
	switch info.class {
	case classUnary:
		t := args[0]
		if !plain(t) || !hasBase(info.bases, t.Base) {
			return bad()
		}
		if t.IsMatrix() && op != OpNeg {
			return bad()
		}
		return t, nil
	case classConvert:
		t := args[0]
		if !plain(t) || t.IsMatrix() {
			return bad()
		}
		switch op {
		case OpToFloat:
			return sameShape(t, Float), nil
		case OpToInt:
			return sameShape(t, Int), nil
		default:
			return sameShape(t, Bool), nil
		}
	case classBinary, classCompare:
		a, b := args[0], args[1]
		if !plain(a) || !plain(b) || !hasBase(info.bases, a.Base) {
			return bad()
		}
		t, ok := broadcast(a, b)
		if !ok {
			return bad()
		}
		if t.IsMatrix() {
			switch op {
			case OpAdd, OpSub, OpMul, OpDiv:
			default:
				return bad()
			}
		}
		if info.class == classCompare {
			return sameShape(t, Bool), nil
		}
		return t, nil
	}
	switch op {
	case OpSelect:
		c, a, b := args[0], args[1], args[2]
		if !a.Equal(b) || a.Base == Void {
			return bad()
		}
		if c.Base != Bool || c.IsMatrix() {
			return bad()
		}
		if !c.IsScalar() && (c.Vec != a.Vec || a.IsMatrix() || a.IsStruct()) {
			return bad()
		}
		return a, nil
	case OpLerp, OpClamp:
		x := args[0]
		if !plain(x) || x.IsMatrix() || !hasBase(info.bases, x.Base) {
			return bad()
		}
		for _, o := range args[1:] {
			if _, ok := broadcast(x, o); !ok {
				return bad()
			}
			if !o.IsScalar() && !o.Equal(x) {
				return bad()
			}
		}
		if op == OpLerp && !args[1].Equal(x) {
			return bad()
		}
		return x, nil
	case OpDot, OpDistance:
		a, b := args[0], args[1]
		if !a.IsVector() || a.Base != Float || !a.Equal(b) {
			return bad()
		}
		return FloatType, nil
	case OpCross:
		a, b := args[0], args[1]
		if a.Base != Float || a.Vec != 3 || a.Cols != 0 || !a.Equal(b) {
			return bad()
		}
		return a, nil
	case OpLength:
		if !args[0].IsVector() || args[0].Base != Float {
			return bad()
		}
		return FloatType, nil
	case OpNormalize:
		if !args[0].IsVector() || args[0].Base != Float {
			return bad()
		}
		return args[0], nil
	case OpMatMul:
		a, b := args[0], args[1]
		if a.Base != Float || b.Base != Float {
			return bad()
		}
		switch {
		case a.IsMatrix() && b.IsMatrix():
			if b.Vec != a.Cols {
				return bad()
			}
			return Matrix(b.Cols, a.Vec), nil
		case a.IsMatrix() && !b.IsMatrix():
			if b.Cols != 0 || b.Vec != a.Cols {
				return bad()
			}
			return Vector(Float, a.Vec), nil
		case !a.IsMatrix() && b.IsMatrix():
			if a.Cols != 0 || a.Vec != b.Vec {
				return bad()
			}
			return Vector(Float, b.Cols), nil
		}
		return bad()
	case OpTranspose:
		if !args[0].IsMatrix() {
			return bad()
		}
		return Matrix(args[0].Vec, args[0].Cols), nil
	case OpConstruct:
		if !plain(ctype) || ctype.IsScalar() {
			return bad()
		}
		n := 0
		for _, a := range args {
			if !plain(a) || a.Base != ctype.Base {
				return bad()
			}
			n += a.Components()
		}
		if n != ctype.Components() {
			return Type{}, fmt.Errorf("construct %s: have %d components, want %d", ctype, n, ctype.Components())
		}
		return ctype, nil
	case OpInstanceIndex:
		return IntType, nil
	case OpDeltaTime:
		return FloatType, nil
	}
	return bad()
}
