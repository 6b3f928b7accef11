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

	"github.com/SnellerInc/vecvm/ir"
)

// concatenated lists the intrinsics that take the
// components of all of their arguments as one
// scalar argument list instead of being applied
// once per component. External call statements
// are always concatenated.
//
//	intrinsic  arguments            result
//	noise      1 to 3 float comps   noise1, noise2 or noise3
var concatenated = map[string]bool{
	ir.Noise: true,
}

type compKey struct {
	h ir.Handle
	i int
}

type scalarizer struct {
	p     *ir.Program
	memo  map[compKey]ir.Handle
	temps int
	err   error
}

// Scalarize splits every assignment into one
// assignment per written component and every
// expression into scalar expressions. After it
// has run, every operand is a scalar: a scalar
// variable, a one-component swizzle of a
// variable, a scalar constant, a scalar gather
// or a scalar expression of those.
func Scalarize(src *ir.Program) (*ir.Program, bool, error) {
	s := &scalarizer{p: src.Derive(), memo: make(map[compKey]ir.Handle)}
	var body []ir.Handle
	for _, h := range src.Body {
		body = s.stmt(h, body)
		if s.err != nil {
			return nil, false, s.err
		}
	}
	s.p.Body = body
	out, changed := finish(src, s.p)
	return out, changed, nil
}

func (s *scalarizer) fail(h ir.Handle, err error) ir.Handle {
	if s.err == nil {
		s.err = errorAt("scalarize", s.p, h, err)
	}
	return h
}

func (s *scalarizer) stmt(h ir.Handle, out []ir.Handle) []ir.Handle {
	p := s.p
	n := p.Node(h)
	switch n.Kind {
	case ir.KAssign:
		rhs := n.Args[0]
		if n.Mask.Count() == 1 {
			return append(out, p.Rebuild(h, []ir.Handle{s.comp(rhs, 0)}))
		}
		bits := n.Mask.Bits()
		vals := make([]ir.Handle, len(bits))
		writes := make([][]slot, len(bits))
		for i, c := range bits {
			vals[i] = s.comp(rhs, i)
			writes[i] = []slot{{n.Var, c}}
		}
		if clobbers(p, writes, vals) {
			// every component reads the old value
			for i := range vals {
				t := p.NewVar(ir.Var{Name: fmt.Sprintf("split%d", s.temps), Type: p.Type(vals[i]), Mode: ir.Temp})
				s.temps++
				out = append(out, p.Assign(t, ir.MaskAll(1), vals[i]))
				vals[i] = p.Ref(t)
			}
		}
		for i, c := range bits {
			out = append(out, p.Assign(n.Var, ir.MaskOf(c), vals[i]))
		}
		return out
	case ir.KCallStmt:
		args := s.concat(n.Args)
		single := true
		for _, o := range n.Outs {
			single = single && o.Mask.Count() == 1
		}
		if single {
			return append(out, p.Rebuild(h, args))
		}
		var outs []ir.Target
		for _, o := range n.Outs {
			for _, c := range o.Mask.Bits() {
				outs = append(outs, ir.Target{Var: o.Var, Mask: ir.MaskOf(c)})
			}
		}
		return append(out, p.CallStmt(n.Cap, n.Name, outs, args...))
	}
	s.fail(h, fmt.Errorf("unexpected %s statement", n.Kind))
	return out
}

// concat returns the scalar components of args in order.
func (s *scalarizer) concat(args []ir.Handle) []ir.Handle {
	var out []ir.Handle
	for _, a := range args {
		for i := 0; i < s.p.Type(a).Components(); i++ {
			out = append(out, s.comp(a, i))
		}
	}
	return out
}

// comp returns component i of h as a scalar expression.
func (s *scalarizer) comp(h ir.Handle, i int) ir.Handle {
	key := compKey{h, i}
	if r, ok := s.memo[key]; ok {
		return r
	}
	r := s.scalar(h, i)
	s.memo[key] = r
	return r
}

// bcast returns component i of h, or
// h itself when h is a scalar.
func (s *scalarizer) bcast(h ir.Handle, i int) ir.Handle {
	if s.p.Type(h).IsScalar() {
		return s.comp(h, 0)
	}
	return s.comp(h, i)
}

func (s *scalarizer) scalar(h ir.Handle, i int) ir.Handle {
	p := s.p
	n := p.Node(h)
	switch n.Kind {
	case ir.KVar:
		if n.Type.IsScalar() {
			return h
		}
		return p.Swizzle(h, i)
	case ir.KConst:
		if n.Type.IsScalar() {
			return h
		}
		return p.Const(ir.Scalar(n.Type.ComponentBase(i)), n.Bits[i])
	case ir.KSwizzle:
		x := n.Args[0]
		if p.Node(x).Kind == ir.KVar && len(n.Comps) == 1 {
			return h
		}
		return s.comp(x, n.Comps[i])
	case ir.KField:
		x := n.Args[0]
		return s.comp(x, p.Type(x).FieldOffset(n.Index)+i)
	case ir.KColumn:
		x := n.Args[0]
		rows := n.Type.Vec
		if k, ok := p.ConstIndex(n.Args[1]); ok {
			return s.comp(x, clampIndex(k, p.Type(x).Cols)*rows+i)
		}
		if v, ok := constRef(p, x); ok {
			return p.Gather(v, s.comp(n.Args[1], 0), i, ir.FloatType)
		}
		return s.fail(h, ErrDynamicIndex)
	case ir.KGather:
		idx := s.comp(n.Args[0], 0)
		if n.Type.IsScalar() {
			return p.Rebuild(h, []ir.Handle{idx})
		}
		return p.Gather(n.Var, idx, n.Index+i, ir.FloatType)
	case ir.KExpr:
		return s.expr(h, n, i)
	case ir.KCall:
		if concatenated[n.Name] {
			return p.Rebuild(h, s.concat(n.Args))
		}
		args := make([]ir.Handle, len(n.Args))
		for j, a := range n.Args {
			args[j] = s.bcast(a, i)
		}
		return p.Rebuild(h, args)
	}
	return s.fail(h, fmt.Errorf("unexpected %s expression", n.Kind))
}

// dot returns the left to right sum of the
// products of the components of x and y.
func (s *scalarizer) dot(x, y ir.Handle) ir.Handle {
	p := s.p
	n := p.Type(x).Components()
	acc := p.Expr(ir.OpMul, s.comp(x, 0), s.comp(y, 0))
	for k := 1; k < n; k++ {
		acc = p.Expr(ir.OpAdd, acc, p.Expr(ir.OpMul, s.comp(x, k), s.comp(y, k)))
	}
	return acc
}

// length returns sqrt(dot(x, x)),
// shared by every use of x.
func (s *scalarizer) length(x ir.Handle) ir.Handle {
	key := compKey{x, -1}
	if r, ok := s.memo[key]; ok {
		return r
	}
	r := s.p.Expr(ir.OpSqrt, s.dot(x, x))
	s.memo[key] = r
	return r
}

func (s *scalarizer) expr(h ir.Handle, n *ir.Node, i int) ir.Handle {
	p := s.p
	switch n.Op {
	case ir.OpDot:
		return s.dot(n.Args[0], n.Args[1])
	case ir.OpLength:
		return s.length(n.Args[0])
	case ir.OpDistance:
		a, b := n.Args[0], n.Args[1]
		k := p.Type(a).Components()
		d := make([]ir.Handle, k)
		for j := range d {
			d[j] = p.Expr(ir.OpSub, s.comp(a, j), s.comp(b, j))
		}
		acc := p.Expr(ir.OpMul, d[0], d[0])
		for j := 1; j < k; j++ {
			acc = p.Expr(ir.OpAdd, acc, p.Expr(ir.OpMul, d[j], d[j]))
		}
		return p.Expr(ir.OpSqrt, acc)
	case ir.OpNormalize:
		x := n.Args[0]
		return p.Expr(ir.OpDiv, s.comp(x, i), s.length(x))
	case ir.OpCross:
		a, b := n.Args[0], n.Args[1]
		j, k := (i+1)%3, (i+2)%3
		return p.Expr(ir.OpSub,
			p.Expr(ir.OpMul, s.comp(a, j), s.comp(b, k)),
			p.Expr(ir.OpMul, s.comp(a, k), s.comp(b, j)))
	case ir.OpConstruct:
		for _, a := range n.Args {
			k := p.Type(a).Components()
			if i < k {
				return s.comp(a, i)
			}
			i -= k
		}
		return s.fail(h, fmt.Errorf("construct component out of range: %w", ErrInvariant))
	case ir.OpMatMul, ir.OpTranspose:
		return s.fail(h, fmt.Errorf("%s: %w", n.Op, ErrInvariant))
	case ir.OpInstanceIndex, ir.OpDeltaTime:
		return h
	}
	args := make([]ir.Handle, len(n.Args))
	for j, a := range n.Args {
		args[j] = s.bcast(a, i)
	}
	if (n.Op == ir.OpDiv || n.Op == ir.OpMod) && n.Type.Base == ir.Int {
		x := p.Expr(ir.OpToFloat, args[0])
		y := p.Expr(ir.OpToFloat, args[1])
		return p.Expr(ir.OpToInt, p.Expr(n.Op, x, y))
	}
	if n.Type.IsScalar() {
		return p.Rebuild(h, args)
	}
	return p.Expr(n.Op, args...)
}
