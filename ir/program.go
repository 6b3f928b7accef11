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

	"golang.org/x/exp/slices"
)

// Program is a script: its variables,
// the node arena and the statement list.
type Program struct {
	Vars  []Var
	Nodes []Node
	Body  []Handle
	Keeps []Keep
}

// Node returns the node referenced by h.
// The returned node must not be modified.
func (p *Program) Node(h Handle) *Node { return &p.Nodes[h] }

// Var returns the variable with the given id.
func (p *Program) Var(id VarID) *Var { return &p.Vars[id] }

// Type returns the type of node h.
func (p *Program) Type(h Handle) Type { return p.Nodes[h].Type }

// Derive returns a new program sharing the
// variables and arena of p with an empty body.
// Appending to the derived program never
// changes p.
func (p *Program) Derive() *Program {
	return &Program{
		Vars:  p.Vars[:len(p.Vars):len(p.Vars)],
		Nodes: p.Nodes[:len(p.Nodes):len(p.Nodes)],
		Keeps: slices.Clone(p.Keeps),
	}
}

// Keep returns the keep variable of
// data set ds, if there is one.
func (p *Program) Keep(ds int) (VarID, bool) {
	for _, k := range p.Keeps {
		if k.DataSet == ds {
			return k.Var, true
		}
	}
	return -1, false
}

// NewVar adds a variable to the program.
func (p *Program) NewVar(v Var) VarID {
	if v.Attr == "" {
		v.Attr = v.Name
	}
	p.Vars = append(p.Vars, v)
	return VarID(len(p.Vars) - 1)
}

func (p *Program) add(n Node) Handle {
	p.Nodes = append(p.Nodes, n)
	return Handle(len(p.Nodes) - 1)
}

// Ref returns a reference to variable v.
func (p *Program) Ref(v VarID) Handle {
	return p.add(Node{Kind: KVar, Type: p.Vars[v].Type, Var: v})
}

// Const returns a constant of type t.
func (p *Program) Const(t Type, bits ...uint32) Handle {
	if len(bits) != t.Components() {
		panic(fmt.Sprintf("ir: constant %s with %d components", t, len(bits)))
	}
	return p.add(Node{Kind: KConst, Type: t, Bits: slices.Clone(bits)})
}

func (p *Program) Float(f float32) Handle { return p.Const(FloatType, math.Float32bits(f)) }

func (p *Program) Int(i int32) Handle { return p.Const(IntType, uint32(i)) }

func (p *Program) Bool(b bool) Handle {
	w := uint32(0)
	if b {
		w = 0xFFFFFFFF
	}
	return p.Const(BoolType, w)
}

// swizzleType returns the type of
// selecting comps from a value of type t.
func swizzleType(t Type, comps []int) (Type, error) {
	n := t.Components()
	if len(comps) == 0 || len(comps) > MaxComponents {
		return Type{}, fmt.Errorf("swizzle of %d components from %s", len(comps), t)
	}
	base := Void
	for _, c := range comps {
		if c < 0 || c >= n {
			return Type{}, fmt.Errorf("component %d out of range for %s", c, t)
		}
		b := t.ComponentBase(c)
		if base != Void && b != base {
			return Type{}, fmt.Errorf("swizzle mixes %s and %s components", base, b)
		}
		base = b
	}
	if len(comps) == 1 {
		return Scalar(base), nil
	}
	return Vector(base, len(comps)), nil
}

// Swizzle selects flattened components of x.
func (p *Program) Swizzle(x Handle, comps ...int) Handle {
	t, err := swizzleType(p.Type(x), comps)
	if err != nil {
		panic("ir: " + err.Error())
	}
	return p.add(Node{Kind: KSwizzle, Type: t, Comps: slices.Clone(comps), Args: []Handle{x}})
}

// Field selects field f of the struct value x.
func (p *Program) Field(x Handle, f int) Handle {
	t := p.Type(x)
	if !t.IsStruct() || f < 0 || f >= len(t.Fields) {
		panic(fmt.Sprintf("ir: field %d of %s", f, t))
	}
	return p.add(Node{Kind: KField, Type: t.Fields[f].Type, Index: f, Args: []Handle{x}})
}

// Column selects column idx of the matrix m.
func (p *Program) Column(m, idx Handle) Handle {
	t := p.Type(m)
	if !t.IsMatrix() || !p.Type(idx).IsScalar() || p.Type(idx).Base != Int {
		panic(fmt.Sprintf("ir: column of %s by %s", t, p.Type(idx)))
	}
	return p.add(Node{Kind: KColumn, Type: t.Column(), Args: []Handle{m, idx}})
}

// Gather reads column idx of the uniform matrix v,
// starting at the given row; t is either the
// column type (row 0) or a scalar.
func (p *Program) Gather(v VarID, idx Handle, row int, t Type) Handle {
	return p.add(Node{Kind: KGather, Type: t, Var: v, Index: row, Args: []Handle{idx}})
}

// Expr applies op to args.
// It panics if the operand types are invalid.
func (p *Program) Expr(op Op, args ...Handle) Handle {
	t, err := ResultType(op, Type{}, p.types(args))
	if err != nil {
		panic("ir: " + err.Error())
	}
	return p.add(Node{Kind: KExpr, Type: t, Op: op, Args: slices.Clone(args)})
}

// Construct builds a value of type t from
// the concatenated components of args.
func (p *Program) Construct(t Type, args ...Handle) Handle {
	t, err := ResultType(OpConstruct, t, p.types(args))
	if err != nil {
		panic("ir: " + err.Error())
	}
	return p.add(Node{Kind: KExpr, Type: t, Op: OpConstruct, Args: slices.Clone(args)})
}

// Call applies the intrinsic name to args.
func (p *Program) Call(name string, args ...Handle) Handle {
	t, err := IntrinsicType(name, p.types(args))
	if err != nil {
		panic("ir: " + err.Error())
	}
	return p.add(Node{Kind: KCall, Type: t, Name: name, Args: slices.Clone(args)})
}

// Assign stores the components of rhs
// into the components of v selected by mask.
func (p *Program) Assign(v VarID, mask Mask, rhs Handle) Handle {
	return p.add(Node{Kind: KAssign, Var: v, Mask: mask, Args: []Handle{rhs}})
}

// CallStmt calls the external function name of
// capability cap and stores its outputs in outs.
func (p *Program) CallStmt(cap, name string, outs []Target, args ...Handle) Handle {
	return p.add(Node{Kind: KCallStmt, Cap: cap, Name: name, Outs: slices.Clone(outs), Args: slices.Clone(args)})
}

// If executes then when cond is true and els otherwise.
func (p *Program) If(cond Handle, then, els []Handle) Handle {
	return p.add(Node{Kind: KIf, Args: []Handle{cond}, Then: slices.Clone(then), Else: slices.Clone(els)})
}

// Read returns an expression reading the
// components of v selected by mask, packed.
func (p *Program) Read(v VarID, mask Mask) Handle {
	t := p.Vars[v].Type
	if mask == MaskAll(t.Components()) {
		return p.Ref(v)
	}
	if t.IsScalar() {
		return p.Ref(v)
	}
	return p.Swizzle(p.Ref(v), mask.Bits()...)
}

func (p *Program) types(args []Handle) []Type {
	out := make([]Type, len(args))
	for i, a := range args {
		out[i] = p.Type(a)
	}
	return out
}

// Rebuild returns a copy of the expression node h
// with its operands replaced by args, or h itself
// if args are unchanged.
func (p *Program) Rebuild(h Handle, args []Handle) Handle {
	n := p.Node(h)
	if slices.Equal(n.Args, args) {
		return h
	}
	switch n.Kind {
	case KSwizzle:
		return p.Swizzle(args[0], n.Comps...)
	case KField:
		return p.Field(args[0], n.Index)
	case KColumn:
		return p.Column(args[0], args[1])
	case KGather:
		return p.Gather(n.Var, args[0], n.Index, n.Type)
	case KExpr:
		if n.Op == OpConstruct {
			return p.Construct(n.Type, args...)
		}
		return p.Expr(n.Op, args...)
	case KCall:
		return p.Call(n.Name, args...)
	case KAssign:
		return p.Assign(n.Var, n.Mask, args[0])
	case KCallStmt:
		return p.CallStmt(n.Cap, n.Name, n.Outs, args...)
	}
	panic(fmt.Sprintf("ir: cannot rebuild %s", n.Kind))
}

// ConstIndex returns the value of h if it is
// an integer constant.
func (p *Program) ConstIndex(h Handle) (int, bool) {
	n := p.Node(h)
	if n.Kind != KConst || !n.Type.IsScalar() || n.Type.Base != Int {
		return 0, false
	}
	return int(int32(n.Bits[0])), true
}

// Slot returns the variable component read by
// the scalar leaf h: a scalar variable reference
// or a one-component swizzle of a variable.
func (p *Program) Slot(h Handle) (VarID, int, bool) {
	n := p.Node(h)
	switch n.Kind {
	case KVar:
		if n.Type.IsScalar() {
			return n.Var, 0, true
		}
	case KSwizzle:
		x := p.Node(n.Args[0])
		if x.Kind == KVar && len(n.Comps) == 1 {
			return x.Var, n.Comps[0], true
		}
	}
	return -1, 0, false
}

// Reads calls fn for every variable
// component that expression h reads.
func (p *Program) Reads(h Handle, fn func(v VarID, comp int)) {
	p.reads(h, nil, fn)
}

// reads visits the components sel of the value
// of h; a nil sel selects every component.
func (p *Program) reads(h Handle, sel []int, fn func(VarID, int)) {
	n := p.Node(h)
	pick := func(off int, local []int) []int {
		if sel == nil {
			if local == nil {
				return nil
			}
			out := make([]int, len(local))
			for i := range local {
				out[i] = local[i] + off
			}
			return out
		}
		out := make([]int, len(sel))
		for i, s := range sel {
			if local != nil {
				s = local[s]
			}
			out[i] = s + off
		}
		return out
	}
	switch n.Kind {
	case KVar:
		if sel == nil {
			for c := 0; c < n.Type.Components(); c++ {
				fn(n.Var, c)
			}
			return
		}
		for _, c := range sel {
			fn(n.Var, c)
		}
	case KSwizzle:
		p.reads(n.Args[0], pick(0, n.Comps), fn)
	case KField:
		t := p.Type(n.Args[0])
		off := t.FieldOffset(n.Index)
		local := make([]int, n.Type.Components())
		for i := range local {
			local[i] = i
		}
		p.reads(n.Args[0], pick(off, local), fn)
	case KColumn:
		k, ok := p.ConstIndex(n.Args[1])
		if !ok {
			p.reads(n.Args[0], nil, fn)
			p.reads(n.Args[1], nil, fn)
			return
		}
		rows := n.Type.Vec
		local := make([]int, rows)
		for i := range local {
			local[i] = i
		}
		p.reads(n.Args[0], pick(k*rows, local), fn)
	case KConst:
	default:
		for _, a := range n.Args {
			p.reads(a, nil, fn)
		}
	}
}

// Walk calls fn for every statement in body,
// including the statements nested in branches.
func (p *Program) Walk(body []Handle, fn func(h Handle)) {
	for _, h := range body {
		fn(h)
		n := p.Node(h)
		if n.Kind == KIf {
			p.Walk(n.Then, fn)
			p.Walk(n.Else, fn)
		}
	}
}
