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
	"github.com/SnellerInc/vecvm/ir"
)

// Propagate replaces reads of a slot whose most
// recent assignment is a plain copy (a constant or
// a read of another slot) with the copied value,
// as long as the source slot was not written
// since. DeadCode then removes the copy when it
// has no remaining readers.
func Propagate(src *ir.Program) (*ir.Program, bool, error) {
	if hasBranches(src, src.Body) {
		return src, false, nil
	}
	p := src.Derive()
	copies := make(map[slot]ir.Handle)
	kill := func(s slot) {
		delete(copies, s)
		for d, h := range copies {
			if v, c, ok := p.Slot(h); ok && v == s.v && c == s.c {
				delete(copies, d)
			}
		}
	}
	body := make([]ir.Handle, len(src.Body))
	for i, h := range src.Body {
		n := p.Node(h)
		memo := make(map[ir.Handle]ir.Handle)
		args := make([]ir.Handle, len(n.Args))
		for j, a := range n.Args {
			args[j] = substitute(p, a, copies, memo)
		}
		body[i] = p.Rebuild(h, args)
		switch n.Kind {
		case ir.KAssign:
			for _, c := range n.Mask.Bits() {
				kill(slot{n.Var, c})
			}
			dst := n.Mask.Single()
			if dst < 0 {
				continue
			}
			rhs := args[0]
			if p.Node(rhs).Kind == ir.KConst {
				copies[slot{n.Var, dst}] = rhs
			} else if v, c, ok := p.Slot(rhs); ok && (v != n.Var || c != dst) {
				copies[slot{n.Var, dst}] = rhs
			}
		case ir.KCallStmt:
			for _, o := range n.Outs {
				for _, c := range o.Mask.Bits() {
					kill(slot{o.Var, c})
				}
			}
		}
	}
	p.Body = body
	out, changed := finish(src, p)
	return out, changed, nil
}

// substitute returns h with every scalar read of a
// slot in copies replaced by the copied value.
func substitute(p *ir.Program, h ir.Handle, copies map[slot]ir.Handle, memo map[ir.Handle]ir.Handle) ir.Handle {
	if r, ok := memo[h]; ok {
		return r
	}
	r := h
	if v, c, ok := p.Slot(h); ok {
		if src, ok := copies[slot{v, c}]; ok {
			r = src
		}
	} else if n := p.Node(h); len(n.Args) > 0 {
		args := make([]ir.Handle, len(n.Args))
		for i, a := range n.Args {
			args[i] = substitute(p, a, copies, memo)
		}
		r = p.Rebuild(h, args)
	}
	memo[h] = r
	return r
}
