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
	"math"

	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/internal/noise"
	"github.com/SnellerInc/vecvm/ints"
)

// AttrKey names an attribute of a data set.
type AttrKey struct {
	DataSet int
	Name    string
}

// Env is the environment of a single
// instance for the reference evaluator.
type Env struct {
	DeltaTime float32
	// Index is the global instance index.
	Index int32
	// Inputs holds every component of
	// each input attribute.
	Inputs   map[AttrKey][]uint32
	Uniforms map[string][]uint32
	Noise    *noise.Table
	// External evaluates an external call.
	External func(cap, name string, args []uint32, nout int) ([]uint32, error)
}

// Result is the outcome of evaluating
// a program for one instance.
type Result struct {
	Outputs map[AttrKey][]uint32
	Keep    map[int]bool
}

type evaluator struct {
	p    *Program
	env  *Env
	vals [][]uint32
	err  error
}

// Eval runs p for one instance directly on the graph,
// without lowering. Random values are not supported.
func (p *Program) Eval(env *Env) (*Result, error) {
	e := &evaluator{p: p, env: env, vals: make([][]uint32, len(p.Vars))}
	if env.Noise == nil {
		env.Noise = noise.New(0)
	}
	for i := range p.Vars {
		v := &p.Vars[i]
		vals := make([]uint32, v.Type.Components())
		if v.Mode == Output {
			for c := range vals {
				vals[c] = e.passthrough(v.DataSet, v.Attr, v.Offset+c)
			}
		}
		e.vals[i] = vals
	}
	e.body(p.Body)
	if e.err != nil {
		return nil, e.err
	}
	res := &Result{Outputs: make(map[AttrKey][]uint32), Keep: make(map[int]bool)}
	for i := range p.Vars {
		v := &p.Vars[i]
		if v.Mode != Output {
			continue
		}
		k := AttrKey{DataSet: v.DataSet, Name: v.Attr}
		out := res.Outputs[k]
		for len(out) < v.Offset+len(e.vals[i]) {
			out = append(out, 0)
		}
		copy(out[v.Offset:], e.vals[i])
		res.Outputs[k] = out
	}
	for _, k := range p.Keeps {
		res.Keep[k.DataSet] = e.vals[k.Var][0] != 0
	}
	return res, nil
}

func (e *evaluator) fail(f string, args ...any) []uint32 {
	if e.err == nil {
		e.err = fmt.Errorf(f, args...)
	}
	return nil
}

// passthrough returns the value an unassigned output
// component takes: the input covering it, or zero.
func (e *evaluator) passthrough(ds int, attr string, comp int) uint32 {
	for i := range e.p.Vars {
		v := &e.p.Vars[i]
		if v.Mode != Input || v.DataSet != ds || v.Attr != attr {
			continue
		}
		if comp >= v.Offset && comp < v.Offset+v.Type.Components() {
			in := e.env.Inputs[AttrKey{DataSet: ds, Name: attr}]
			if comp < len(in) {
				return in[comp]
			}
		}
	}
	return 0
}

func (e *evaluator) body(list []Handle) {
	for _, h := range list {
		if e.err != nil {
			return
		}
		e.stmt(h)
	}
}

func (e *evaluator) store(v VarID, mask Mask, val []uint32) {
	for i, c := range mask.Bits() {
		e.vals[v][c] = val[i]
	}
}

func (e *evaluator) stmt(h Handle) {
	n := e.p.Node(h)
	switch n.Kind {
	case KAssign:
		val := e.expr(n.Args[0])
		if e.err == nil {
			e.store(n.Var, n.Mask, val)
		}
	case KCallStmt:
		var args []uint32
		for _, a := range n.Args {
			args = append(args, e.expr(a)...)
		}
		nout := 0
		for _, o := range n.Outs {
			nout += o.Mask.Count()
		}
		if e.env.External == nil {
			e.fail("no external function for %s::%s", n.Cap, n.Name)
			return
		}
		res, err := e.env.External(n.Cap, n.Name, args, nout)
		if err != nil {
			e.fail("%s::%s: %w", n.Cap, n.Name, err)
			return
		}
		if len(res) != nout {
			e.fail("%s::%s returned %d values, want %d", n.Cap, n.Name, len(res), nout)
			return
		}
		for _, o := range n.Outs {
			k := o.Mask.Count()
			e.store(o.Var, o.Mask, res[:k])
			res = res[k:]
		}
	case KIf:
		c := e.expr(n.Args[0])
		if e.err != nil {
			return
		}
		if c[0] != 0 {
			e.body(n.Then)
		} else {
			e.body(n.Else)
		}
	default:
		e.fail("unexpected %s statement", n.Kind)
	}
}

func (e *evaluator) read(v VarID) []uint32 {
	vr := e.p.Var(v)
	switch vr.Mode {
	case Input:
		in, ok := e.env.Inputs[AttrKey{DataSet: vr.DataSet, Name: vr.Attr}]
		n := vr.Type.Components()
		if !ok || len(in) < vr.Offset+n {
			return e.fail("missing input %d:%s", vr.DataSet, vr.Attr)
		}
		return in[vr.Offset : vr.Offset+n]
	case Uniform, Param:
		u, ok := e.env.Uniforms[vr.Attr]
		n := vr.Type.Components()
		if !ok || len(u) < vr.Offset+n {
			return e.fail("missing uniform %s", vr.Attr)
		}
		return u[vr.Offset : vr.Offset+n]
	}
	return e.vals[v]
}

func (e *evaluator) expr(h Handle) []uint32 {
	if e.err != nil {
		return nil
	}
	n := e.p.Node(h)
	switch n.Kind {
	case KVar:
		return append([]uint32(nil), e.read(n.Var)...)
	case KConst:
		return n.Bits
	case KSwizzle:
		x := e.expr(n.Args[0])
		if e.err != nil {
			return nil
		}
		out := make([]uint32, len(n.Comps))
		for i, c := range n.Comps {
			out[i] = x[c]
		}
		return out
	case KField:
		x := e.expr(n.Args[0])
		if e.err != nil {
			return nil
		}
		off := e.p.Type(n.Args[0]).FieldOffset(n.Index)
		return x[off : off+n.Type.Components()]
	case KColumn:
		m := e.expr(n.Args[0])
		idx := e.expr(n.Args[1])
		if e.err != nil {
			return nil
		}
		mt := e.p.Type(n.Args[0])
		c := clampIndex(int32(idx[0]), mt.Cols)
		return m[c*mt.Vec : (c+1)*mt.Vec]
	case KGather:
		m := e.read(n.Var)
		idx := e.expr(n.Args[0])
		if e.err != nil {
			return nil
		}
		mt := e.p.Var(n.Var).Type
		c := clampIndex(int32(idx[0]), mt.Cols)
		base := c*mt.Vec + n.Index
		return m[base : base+n.Type.Components()]
	case KExpr:
		args := make([][]uint32, len(n.Args))
		for i, a := range n.Args {
			args[i] = e.expr(a)
		}
		if e.err != nil {
			return nil
		}
		return e.op(n, args)
	case KCall:
		args := make([][]uint32, len(n.Args))
		for i, a := range n.Args {
			args[i] = e.expr(a)
		}
		if e.err != nil {
			return nil
		}
		return e.call(n, args)
	}
	return e.fail("unexpected %s expression", n.Kind)
}

func clampIndex(i int32, n int) int {
	return ints.Clamp(int(i), 0, n-1)
}

// lane returns component i of x,
// broadcasting scalars.
func lane(x []uint32, i int) uint32 {
	if len(x) == 1 {
		return x[0]
	}
	return x[i]
}

func (e *evaluator) call(n *Node, args [][]uint32) []uint32 {
	switch n.Name {
	case Noise:
		var pt []float32
		for _, a := range args {
			for _, w := range a {
				pt = append(pt, fmath.F(w))
			}
		}
		var r float32
		switch len(pt) {
		case 1:
			r = e.env.Noise.Noise1(pt[0])
		case 2:
			r = e.env.Noise.Noise2(pt[0], pt[1])
		default:
			r = e.env.Noise.Noise3(pt[0], pt[1], pt[2])
		}
		return []uint32{fmath.W(r)}
	case Saturate:
		out := make([]uint32, len(args[0]))
		for i, w := range args[0] {
			out[i] = fmath.W(fmath.Clamp(fmath.F(w), 0, 1))
		}
		return out
	case Step:
		out := make([]uint32, n.Type.Components())
		for i := range out {
			if fmath.F(lane(args[1], i)) >= fmath.F(lane(args[0], i)) {
				out[i] = fmath.W(1)
			}
		}
		return out
	}
	return e.fail("cannot evaluate intrinsic %s", n.Name)
}

// scalar1 applies the unary component-wise operator
// op with operand base b to one lane.
func scalar1(op Op, b Base, x uint32) uint32 {
	f := fmath.F(x)
	i := int32(x)
	if b == Float {
		switch op {
		case OpNeg:
			return fmath.W(-f)
		case OpAbs:
			return fmath.W(fmath.Abs(f))
		case OpSign:
			return fmath.W(fmath.Sign(f))
		case OpFloor:
			return fmath.W(fmath.Floor(f))
		case OpCeil:
			return fmath.W(fmath.Ceil(f))
		case OpFrac:
			return fmath.W(fmath.Frac(f))
		case OpSqrt:
			return fmath.W(fmath.Sqrt(f))
		case OpSin:
			return fmath.W(fmath.Sin(f))
		case OpCos:
			return fmath.W(fmath.Cos(f))
		case OpTan:
			return fmath.W(fmath.Tan(f))
		case OpAsin:
			return fmath.W(fmath.Asin(f))
		case OpAcos:
			return fmath.W(fmath.Acos(f))
		case OpAtan:
			return fmath.W(fmath.Atan(f))
		case OpExp:
			return fmath.W(fmath.Exp(f))
		case OpExp2:
			return fmath.W(fmath.Exp2(f))
		case OpLog:
			return fmath.W(fmath.Log(f))
		case OpLog2:
			return fmath.W(fmath.Log2(f))
		case OpToInt:
			return uint32(fmath.Int(f))
		case OpToBool:
			return fmath.B(f != 0)
		case OpToFloat:
			return x
		}
	}
	switch op {
	case OpNeg:
		return uint32(-i)
	case OpAbs:
		return uint32(fmath.Iabs(i))
	case OpSign:
		return uint32(fmath.Isign(i))
	case OpNot:
		return ^x
	case OpToFloat:
		if b == Bool {
			if x != 0 {
				return fmath.W(1)
			}
			return 0
		}
		return fmath.W(float32(i))
	case OpToInt:
		if b == Bool {
			if x != 0 {
				return 1
			}
			return 0
		}
		return x
	case OpToBool:
		return fmath.B(x != 0)
	}
	panic(fmt.Sprintf("ir: no scalar rule for %s on %s", op, b))
}

// scalar2 applies a binary component-wise operator.
func scalar2(op Op, b Base, x, y uint32) uint32 {
	if b == Float {
		f, g := fmath.F(x), fmath.F(y)
		switch op {
		case OpAdd:
			return fmath.W(f + g)
		case OpSub:
			return fmath.W(f - g)
		case OpMul:
			return fmath.W(f * g)
		case OpDiv:
			return fmath.W(f / g)
		case OpMod:
			return fmath.W(fmath.Mod(f, g))
		case OpMin:
			return fmath.W(fmath.Min(f, g))
		case OpMax:
			return fmath.W(fmath.Max(f, g))
		case OpPow:
			return fmath.W(fmath.Pow(f, g))
		case OpAtan2:
			return fmath.W(fmath.Atan2(f, g))
		case OpLT:
			return fmath.B(f < g)
		case OpLE:
			return fmath.B(f <= g)
		case OpGT:
			return fmath.B(f > g)
		case OpGE:
			return fmath.B(f >= g)
		case OpEQ:
			return fmath.B(f == g)
		case OpNE:
			return fmath.B(f != g)
		}
	}
	i, j := int32(x), int32(y)
	switch op {
	case OpAdd:
		return uint32(i + j)
	case OpSub:
		return uint32(i - j)
	case OpMul:
		return uint32(i * j)
	case OpDiv:
		return uint32(fmath.Int(float32(i) / float32(j)))
	case OpMod:
		return uint32(fmath.Int(fmath.Mod(float32(i), float32(j))))
	case OpMin:
		return uint32(fmath.Imin(i, j))
	case OpMax:
		return uint32(fmath.Imax(i, j))
	case OpAnd:
		return x & y
	case OpOr:
		return x | y
	case OpXor:
		return x ^ y
	case OpShl:
		return x << (y & 31)
	case OpShr:
		return uint32(i >> (y & 31))
	case OpLT:
		return fmath.B(i < j)
	case OpLE:
		return fmath.B(i <= j)
	case OpGT:
		return fmath.B(i > j)
	case OpGE:
		return fmath.B(i >= j)
	case OpEQ:
		return fmath.B(x == y)
	case OpNE:
		return fmath.B(x != y)
	}
	panic(fmt.Sprintf("ir: no scalar rule for %s on %s", op, b))
}

func (e *evaluator) op(n *Node, args [][]uint32) []uint32 {
	var at Type
	if len(n.Args) > 0 {
		at = e.p.Type(n.Args[0])
	}
	out := make([]uint32, n.Type.Components())
	switch n.Op {
	case OpSelect:
		for i := range out {
			if lane(args[0], i) != 0 {
				out[i] = args[1][i]
			} else {
				out[i] = args[2][i]
			}
		}
		return out
	case OpLerp:
		for i := range out {
			out[i] = fmath.W(fmath.Lerp(fmath.F(args[0][i]), fmath.F(args[1][i]), fmath.F(lane(args[2], i))))
		}
		return out
	case OpClamp:
		for i := range out {
			x, lo, hi := args[0][i], lane(args[1], i), lane(args[2], i)
			if at.Base == Float {
				out[i] = fmath.W(fmath.Clamp(fmath.F(x), fmath.F(lo), fmath.F(hi)))
			} else {
				out[i] = uint32(fmath.Imin(fmath.Imax(int32(x), int32(lo)), int32(hi)))
			}
		}
		return out
	case OpDot:
		return []uint32{fmath.W(dot(args[0], args[1]))}
	case OpLength:
		return []uint32{fmath.W(fmath.Sqrt(dot(args[0], args[0])))}
	case OpDistance:
		d := make([]uint32, len(args[0]))
		for i := range d {
			d[i] = fmath.W(fmath.F(args[0][i]) - fmath.F(args[1][i]))
		}
		return []uint32{fmath.W(fmath.Sqrt(dot(d, d)))}
	case OpNormalize:
		l := fmath.Sqrt(dot(args[0], args[0]))
		for i := range out {
			out[i] = fmath.W(fmath.F(args[0][i]) / l)
		}
		return out
	case OpCross:
		a, b := floats32(args[0]), floats32(args[1])
		out[0] = fmath.W(float32(a[1]*b[2]) - float32(a[2]*b[1]))
		out[1] = fmath.W(float32(a[2]*b[0]) - float32(a[0]*b[2]))
		out[2] = fmath.W(float32(a[0]*b[1]) - float32(a[1]*b[0]))
		return out
	case OpMatMul:
		return matmul(at, e.p.Type(n.Args[1]), args[0], args[1])
	case OpTranspose:
		for c := 0; c < at.Cols; c++ {
			for r := 0; r < at.Vec; r++ {
				out[r*at.Cols+c] = args[0][c*at.Vec+r]
			}
		}
		return out
	case OpConstruct:
		out = out[:0]
		for _, a := range args {
			out = append(out, a...)
		}
		return out
	case OpInstanceIndex:
		return []uint32{uint32(e.env.Index)}
	case OpDeltaTime:
		return []uint32{math.Float32bits(e.env.DeltaTime)}
	}
	switch ops[n.Op].args {
	case 1:
		for i := range out {
			out[i] = scalar1(n.Op, at.Base, args[0][i])
		}
	case 2:
		for i := range out {
			out[i] = scalar2(n.Op, at.Base, lane(args[0], i), lane(args[1], i))
		}
	default:
		return e.fail("cannot evaluate %s", n.Op)
	}
	return out
}

func floats32(x []uint32) []float32 {
	out := make([]float32, len(x))
	for i := range x {
		out[i] = fmath.F(x[i])
	}
	return out
}

// dot sums the products left to right,
// rounding every product.
func dot(a, b []uint32) float32 {
	acc := float32(fmath.F(a[0]) * fmath.F(b[0]))
	for i := 1; i < len(a); i++ {
		acc += float32(fmath.F(a[i]) * fmath.F(b[i]))
	}
	return acc
}

// column k of a column-major matrix
func column(t Type, m []uint32, k int) []uint32 {
	return m[k*t.Vec : (k+1)*t.Vec]
}

// sumColumns returns sum over k of column k of a
// scaled by w[k], accumulating left to right.
func sumColumns(t Type, a []uint32, w []uint32) []uint32 {
	out := make([]uint32, t.Vec)
	for r := 0; r < t.Vec; r++ {
		acc := float32(fmath.F(a[r]) * fmath.F(w[0]))
		for k := 1; k < t.Cols; k++ {
			acc += float32(fmath.F(column(t, a, k)[r]) * fmath.F(w[k]))
		}
		out[r] = fmath.W(acc)
	}
	return out
}

func matmul(at, bt Type, a, b []uint32) []uint32 {
	switch {
	case at.IsMatrix() && bt.IsMatrix():
		var out []uint32
		for i := 0; i < bt.Cols; i++ {
			out = append(out, sumColumns(at, a, column(bt, b, i))...)
		}
		return out
	case at.IsMatrix():
		return sumColumns(at, a, b)
	default:
		out := make([]uint32, bt.Cols)
		for i := range out {
			out[i] = fmath.W(dot(a, column(bt, b, i)))
		}
		return out
	}
}
