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

package lower

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/vecvm/ints"
	"github.com/SnellerInc/vecvm/ir"
)

type colKey struct {
	h ir.Handle
	k int
}

type matrices struct {
	p    *ir.Program
	cols map[ir.VarID][]ir.VarID
	memo map[ir.Handle]ir.Handle
	cmem map[colKey]ir.Handle
	err  error
}

// Matrices replaces every matrix variable that is
// not a uniform with one vector variable per column
// and rewrites matrix expressions in terms of
// columns. Uniform matrices are read in place,
// through constant column dereferences or, for a
// dynamic column index, a gather.
func Matrices(src *ir.Program) (*ir.Program, bool, error) {
	used := make(map[ir.VarID]bool)
	src.Walk(src.Body, func(h ir.Handle) {
		n := src.Node(h)
		switch n.Kind {
		case ir.KAssign:
			used[n.Var] = true
		case ir.KCallStmt:
			for _, o := range n.Outs {
				used[o.Var] = true
			}
		}
	})
	visitExprs(src, src.Body, func(h ir.Handle, n *ir.Node) {
		if n.Kind == ir.KVar {
			used[n.Var] = true
		}
	})
	m := &matrices{
		p:    src.Derive(),
		cols: make(map[ir.VarID][]ir.VarID),
		memo: make(map[ir.Handle]ir.Handle),
		cmem: make(map[colKey]ir.Handle),
	}
	for i := range src.Vars {
		v := &src.Vars[i]
		if !used[ir.VarID(i)] || !v.Type.IsMatrix() || v.Mode.Constant() {
			continue
		}
		cols := make([]ir.VarID, v.Type.Cols)
		for k := range cols {
			cv := *v
			cv.Name = fmt.Sprintf("%s.col%d", v.Name, k)
			cv.Type = v.Type.Column()
			cv.Offset = v.Offset + k*v.Type.Vec
			cols[k] = m.p.NewVar(cv)
		}
		m.cols[ir.VarID(i)] = cols
	}
	body := m.body(src.Body)
	if m.err != nil {
		return nil, false, m.err
	}
	m.p.Body = body
	out, changed := finish(src, m.p)
	return out, changed, nil
}

func (m *matrices) fail(h ir.Handle, err error) ir.Handle {
	if m.err == nil {
		m.err = errorAt("matrices", m.p, h, err)
	}
	return h
}

func (m *matrices) body(list []ir.Handle) []ir.Handle {
	out := make([]ir.Handle, 0, len(list))
	for _, h := range list {
		out = append(out, m.stmt(h)...)
		if m.err != nil {
			return list
		}
	}
	return out
}

func (m *matrices) stmt(h ir.Handle) []ir.Handle {
	p := m.p
	n := p.Node(h)
	switch n.Kind {
	case ir.KAssign:
		if cols, ok := m.cols[n.Var]; ok {
			return m.assignColumns(n, cols)
		}
		return []ir.Handle{p.Rebuild(h, []ir.Handle{m.expr(n.Args[0])})}
	case ir.KCallStmt:
		args := make([]ir.Handle, len(n.Args))
		for i, a := range n.Args {
			args[i] = m.expr(a)
		}
		var outs []ir.Target
		split := false
		for _, o := range n.Outs {
			cols, ok := m.cols[o.Var]
			if !ok {
				outs = append(outs, o)
				continue
			}
			split = true
			rows := p.Var(o.Var).Type.Vec
			for k := range cols {
				cm := (o.Mask >> (k * rows)) & ir.MaskAll(rows)
				if cm != 0 {
					outs = append(outs, ir.Target{Var: cols[k], Mask: cm})
				}
			}
		}
		if split {
			return []ir.Handle{p.CallStmt(n.Cap, n.Name, outs, args...)}
		}
		return []ir.Handle{p.Rebuild(h, args)}
	case ir.KIf:
		c := m.expr(n.Args[0])
		then, els := m.body(n.Then), m.body(n.Else)
		if c == n.Args[0] && slices.Equal(then, n.Then) && slices.Equal(els, n.Else) {
			return []ir.Handle{h}
		}
		return []ir.Handle{p.If(c, then, els)}
	}
	m.fail(h, fmt.Errorf("unexpected %s statement", n.Kind))
	return nil
}

// assignColumns splits an assignment to a
// matrix variable into one per written column.
func (m *matrices) assignColumns(n *ir.Node, cols []ir.VarID) []ir.Handle {
	p := m.p
	rows := p.Var(n.Var).Type.Vec
	rhs := n.Args[0]
	rt := p.Type(rhs)
	var dst []ir.VarID
	var masks []ir.Mask
	var vals []ir.Handle
	if rt.IsMatrix() {
		for k := range cols {
			dst = append(dst, cols[k])
			masks = append(masks, ir.MaskAll(rows))
			vals = append(vals, m.col(rhs, k))
		}
	} else {
		bits := n.Mask.Bits()
		for k := range cols {
			var cm ir.Mask
			var picks []ir.Handle
			for i, b := range bits {
				if b/rows == k {
					cm |= 1 << (b % rows)
					picks = append(picks, m.scalar(rhs, i))
				}
			}
			if cm == 0 {
				continue
			}
			val := m.expr(rhs)
			if len(picks) != rt.Components() {
				val = pack(p, ir.Vector(ir.Float, len(picks)), picks)
			}
			dst = append(dst, cols[k])
			masks = append(masks, cm)
			vals = append(vals, val)
		}
	}
	writes := make([][]slot, len(vals))
	for i := range vals {
		for _, c := range masks[i].Bits() {
			writes[i] = append(writes[i], slot{dst[i], c})
		}
	}
	var out []ir.Handle
	if clobbers(p, writes, vals) {
		// later columns read columns written earlier
		for i := range vals {
			t := p.NewVar(ir.Var{Name: fmt.Sprintf("%s.next%d", p.Var(n.Var).Name, i), Type: p.Type(vals[i]), Mode: ir.Temp})
			out = append(out, p.Assign(t, ir.MaskAll(p.Type(vals[i]).Components()), vals[i]))
			vals[i] = p.Ref(t)
		}
	}
	for i := range vals {
		out = append(out, p.Assign(dst[i], masks[i], vals[i]))
	}
	return out
}

func constRef(p *ir.Program, h ir.Handle) (ir.VarID, bool) {
	n := p.Node(h)
	if n.Kind == ir.KVar && p.Var(n.Var).Mode.Constant() {
		return n.Var, true
	}
	return -1, false
}

func (m *matrices) expr(h ir.Handle) ir.Handle {
	if r, ok := m.memo[h]; ok {
		return r
	}
	r := m.rewrite(h)
	m.memo[h] = r
	return r
}

func (m *matrices) exprs(args []ir.Handle) []ir.Handle {
	out := make([]ir.Handle, len(args))
	for i, a := range args {
		out[i] = m.expr(a)
	}
	return out
}

func (m *matrices) rewrite(h ir.Handle) ir.Handle {
	p := m.p
	n := p.Node(h)
	if n.Type.IsMatrix() {
		if _, ok := constRef(p, h); ok {
			return h
		}
		return m.fail(h, fmt.Errorf("matrix value used as a scalar: %w", ErrInvariant))
	}
	switch n.Kind {
	case ir.KVar, ir.KConst:
		return h
	case ir.KSwizzle:
		x := n.Args[0]
		if !p.Type(x).IsMatrix() {
			return p.Rebuild(h, []ir.Handle{m.expr(x)})
		}
		if _, ok := constRef(p, x); ok {
			return h
		}
		return m.swizzleColumns(n, x)
	case ir.KColumn:
		x := n.Args[0]
		_, uniform := constRef(p, x)
		if k, ok := p.ConstIndex(n.Args[1]); ok {
			if uniform {
				return h
			}
			return m.col(x, clampIndex(k, p.Type(x).Cols))
		}
		if uniform {
			return p.Gather(p.Node(x).Var, m.expr(n.Args[1]), 0, n.Type)
		}
		return m.fail(h, ErrDynamicIndex)
	case ir.KExpr:
		switch n.Op {
		case ir.OpMatMul:
			a, b := n.Args[0], n.Args[1]
			if p.Type(a).IsMatrix() {
				return m.combine(a, m.expr(b))
			}
			bt := p.Type(b)
			x := m.expr(a)
			picks := make([]ir.Handle, bt.Cols)
			for i := range picks {
				picks[i] = dotOf(p, x, m.col(b, i))
			}
			return pack(p, n.Type, picks)
		case ir.OpConstruct:
			var args []ir.Handle
			for _, a := range n.Args {
				at := p.Type(a)
				if !at.IsMatrix() {
					args = append(args, m.expr(a))
					continue
				}
				for k := 0; k < at.Cols; k++ {
					args = append(args, m.col(a, k))
				}
			}
			return p.Rebuild(h, args)
		}
	}
	return p.Rebuild(h, m.exprs(n.Args))
}

func clampIndex(k, n int) int {
	return ints.Clamp(k, 0, n-1)
}

// dotOf returns the dot product of x and y,
// which may both be scalars.
func dotOf(p *ir.Program, x, y ir.Handle) ir.Handle {
	if p.Type(x).IsScalar() {
		return p.Expr(ir.OpMul, x, y)
	}
	return p.Expr(ir.OpDot, x, y)
}

// combine returns the sum over j of column j
// of the matrix a scaled by component j of w,
// accumulated left to right.
func (m *matrices) combine(a, w ir.Handle) ir.Handle {
	p := m.p
	cols := p.Type(a).Cols
	acc := p.Expr(ir.OpMul, m.col(a, 0), pick(p, w, 0))
	for j := 1; j < cols; j++ {
		acc = p.Expr(ir.OpAdd, acc, p.Expr(ir.OpMul, m.col(a, j), pick(p, w, j)))
	}
	return acc
}

// scalar returns component i of the non-uniform
// value x as a scalar expression.
func (m *matrices) scalar(x ir.Handle, i int) ir.Handle {
	p := m.p
	t := p.Type(x)
	if t.IsMatrix() {
		return pick(p, m.col(x, i/t.Vec), i%t.Vec)
	}
	return pick(p, m.expr(x), i)
}

// swizzleColumns rewrites a swizzle of a
// matrix as swizzles of its columns.
func (m *matrices) swizzleColumns(n *ir.Node, x ir.Handle) ir.Handle {
	p := m.p
	rows := p.Type(x).Vec
	var pieces []ir.Handle
	for i := 0; i < len(n.Comps); {
		k := n.Comps[i] / rows
		var sel []int
		for ; i < len(n.Comps) && n.Comps[i]/rows == k; i++ {
			sel = append(sel, n.Comps[i]%rows)
		}
		c := m.col(x, k)
		if rows == 1 || (len(sel) == rows && isIdentity(sel)) {
			pieces = append(pieces, c)
		} else {
			pieces = append(pieces, p.Swizzle(c, sel...))
		}
	}
	if len(pieces) == 1 {
		return pieces[0]
	}
	return p.Construct(n.Type, pieces...)
}

func isIdentity(sel []int) bool {
	for i, c := range sel {
		if c != i {
			return false
		}
	}
	return true
}

// col returns column k of the matrix value h.
func (m *matrices) col(h ir.Handle, k int) ir.Handle {
	key := colKey{h, k}
	if r, ok := m.cmem[key]; ok {
		return r
	}
	r := m.column(h, k)
	m.cmem[key] = r
	return r
}

func (m *matrices) colOrScalar(h ir.Handle, k int) ir.Handle {
	if m.p.Type(h).IsMatrix() {
		return m.col(h, k)
	}
	return m.expr(h)
}

func (m *matrices) column(h ir.Handle, k int) ir.Handle {
	p := m.p
	n := p.Node(h)
	t := n.Type
	ct := t.Column()
	switch n.Kind {
	case ir.KVar:
		if cols, ok := m.cols[n.Var]; ok {
			return p.Ref(cols[k])
		}
		return p.Column(h, p.Int(int32(k)))
	case ir.KConst:
		return p.Const(ct, n.Bits[k*t.Vec:(k+1)*t.Vec]...)
	case ir.KExpr:
		switch n.Op {
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
			return p.Expr(n.Op, m.colOrScalar(n.Args[0], k), m.colOrScalar(n.Args[1], k))
		case ir.OpNeg:
			return p.Expr(ir.OpNeg, m.col(n.Args[0], k))
		case ir.OpSelect:
			return p.Expr(ir.OpSelect, m.expr(n.Args[0]), m.col(n.Args[1], k), m.col(n.Args[2], k))
		case ir.OpMatMul:
			return m.combine(n.Args[0], m.col(n.Args[1], k))
		case ir.OpTranspose:
			a := n.Args[0]
			picks := make([]ir.Handle, p.Type(a).Cols)
			for j := range picks {
				picks[j] = pick(p, m.col(a, j), k)
			}
			return pack(p, ct, picks)
		case ir.OpConstruct:
			picks := make([]ir.Handle, t.Vec)
			for r := range picks {
				picks[r] = m.component(n.Args, k*t.Vec+r)
			}
			return pack(p, ct, picks)
		}
	}
	return m.fail(h, fmt.Errorf("matrix %s: %w", n.Kind, ErrInvariant))
}

// component returns flattened component i
// of the concatenation of args.
func (m *matrices) component(args []ir.Handle, i int) ir.Handle {
	for _, a := range args {
		n := m.p.Type(a).Components()
		if i < n {
			return m.scalar(a, i)
		}
		i -= n
	}
	panic("lower: component out of range")
}
