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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/vecvm/ir"
)

type avail struct {
	dst   slot
	reads []slot
}

type merger struct {
	p    *ir.Program
	memo map[ir.Handle]ir.Handle
	// avail maps the text of an expression to
	// the slot that currently holds its value
	avail map[string]*avail
}

// Merge folds swizzles of swizzles, constants and
// scalars, and replaces a scalar expression that
// was already computed into a slot with a copy of
// that slot, as long as neither the slot nor any
// input of the expression was written in between.
func Merge(src *ir.Program) (*ir.Program, bool, error) {
	m := &merger{
		p:     src.Derive(),
		memo:  make(map[ir.Handle]ir.Handle),
		avail: make(map[string]*avail),
	}
	m.p.Body = m.body(src.Body)
	out, changed := finish(src, m.p)
	return out, changed, nil
}

func (m *merger) body(list []ir.Handle) []ir.Handle {
	p := m.p
	out := make([]ir.Handle, len(list))
	for i, h := range list {
		n := p.Node(h)
		switch n.Kind {
		case ir.KAssign:
			rhs := m.fold(n.Args[0])
			if s := n.Mask.Single(); s >= 0 {
				rhs = m.cse(slot{n.Var, s}, rhs)
			} else {
				for _, c := range n.Mask.Bits() {
					m.written(slot{n.Var, c})
				}
			}
			out[i] = p.Rebuild(h, []ir.Handle{rhs})
		case ir.KCallStmt:
			args := make([]ir.Handle, len(n.Args))
			for j, a := range n.Args {
				args[j] = m.fold(a)
			}
			for _, o := range n.Outs {
				for _, c := range o.Mask.Bits() {
					m.written(slot{o.Var, c})
				}
			}
			out[i] = p.Rebuild(h, args)
		case ir.KIf:
			// only folding inside branches
			m.avail = make(map[string]*avail)
			c := m.fold(n.Args[0])
			then, els := m.body(n.Then), m.body(n.Else)
			m.avail = make(map[string]*avail)
			out[i] = p.If(c, then, els)
			if c == n.Args[0] && slices.Equal(then, n.Then) && slices.Equal(els, n.Else) {
				out[i] = h
			}
		default:
			out[i] = h
		}
	}
	return out
}

// written drops every available expression
// held in s or reading s.
func (m *merger) written(s slot) {
	for k, a := range m.avail {
		if a.dst == s {
			delete(m.avail, k)
			continue
		}
		for _, r := range a.reads {
			if r == s {
				delete(m.avail, k)
				break
			}
		}
	}
}

// cse returns the value to store in dst:
// rhs, or a copy of the slot already holding it.
func (m *merger) cse(dst slot, rhs ir.Handle) ir.Handle {
	p := m.p
	key := ""
	if reusable(p, rhs) {
		key = p.Format(rhs)
		if a, ok := m.avail[key]; ok {
			if a.dst == dst {
				m.written(dst)
				return rhs
			}
			rhs = readSlot(p, a.dst)
			key = ""
		}
	}
	var reads []slot
	self := false
	p.Reads(rhs, func(v ir.VarID, c int) {
		s := slot{v, c}
		reads = append(reads, s)
		self = self || s == dst
	})
	m.written(dst)
	if key != "" && !self {
		m.avail[key] = &avail{dst: dst, reads: reads}
	}
	return rhs
}

// reusable reports whether h is a computed scalar
// whose value may be shared: an expression or a
// call that does not draw random numbers.
func reusable(p *ir.Program, h ir.Handle) bool {
	n := p.Node(h)
	if n.Kind != ir.KExpr && n.Kind != ir.KCall {
		return false
	}
	ok := true
	var visit func(h ir.Handle)
	visit = func(h ir.Handle) {
		n := p.Node(h)
		if n.Kind == ir.KCall && n.Name == ir.Random {
			ok = false
		}
		for _, a := range n.Args {
			visit(a)
		}
	}
	visit(h)
	return ok && n.Type.IsScalar()
}

func (m *merger) fold(h ir.Handle) ir.Handle {
	if r, ok := m.memo[h]; ok {
		return r
	}
	r := m.fold1(h)
	m.memo[h] = r
	return r
}

func (m *merger) fold1(h ir.Handle) ir.Handle {
	p := m.p
	n := p.Node(h)
	if len(n.Args) == 0 {
		return h
	}
	args := make([]ir.Handle, len(n.Args))
	for i, a := range n.Args {
		args[i] = m.fold(a)
	}
	if n.Kind != ir.KSwizzle {
		return p.Rebuild(h, args)
	}
	x := p.Node(args[0])
	xt := x.Type
	switch {
	case x.Kind == ir.KSwizzle:
		comps := make([]int, len(n.Comps))
		for i, c := range n.Comps {
			comps[i] = x.Comps[c]
		}
		return m.fold(p.Swizzle(x.Args[0], comps...))
	case x.Kind == ir.KConst:
		bits := make([]uint32, len(n.Comps))
		for i, c := range n.Comps {
			bits[i] = x.Bits[c]
		}
		return p.Const(n.Type, bits...)
	case xt.IsScalar():
		return args[0]
	case !xt.IsStruct() && !xt.IsMatrix() && len(n.Comps) == xt.Components() && isIdentity(n.Comps):
		return args[0]
	}
	return p.Rebuild(h, args)
}
