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

type branches struct {
	p     *ir.Program
	preds int
	err   error
}

// Branches flattens every If into predicated
// assignments. The condition is stored once in a
// fresh boolean temporary; each assignment in a
// branch becomes
//
//	v.mask = select(pred, rhs, v.mask)
//
// where pred conjoins the conditions of the
// enclosing branches. External calls may not
// appear inside a branch.
func Branches(src *ir.Program) (*ir.Program, bool, error) {
	if !hasBranches(src, src.Body) {
		return src, false, nil
	}
	b := &branches{p: src.Derive()}
	body := b.body(src.Body, -1, nil)
	if b.err != nil {
		return nil, false, b.err
	}
	b.p.Body = body
	out, changed := finish(src, b.p)
	return out, changed, nil
}

// pred stores x in a fresh predicate temporary.
func (b *branches) pred(x ir.Handle, out []ir.Handle) (ir.VarID, []ir.Handle) {
	v := b.p.NewVar(ir.Var{Name: fmt.Sprintf("pred%d", b.preds), Type: ir.BoolType, Mode: ir.Temp})
	b.preds++
	return v, append(out, b.p.Assign(v, ir.MaskAll(1), x))
}

// body appends the flattened statements of
// list to out; pred is -1 outside of branches.
func (b *branches) body(list []ir.Handle, pred ir.VarID, out []ir.Handle) []ir.Handle {
	p := b.p
	for _, h := range list {
		if b.err != nil {
			return out
		}
		n := p.Node(h)
		switch n.Kind {
		case ir.KAssign:
			if pred < 0 {
				out = append(out, h)
				continue
			}
			keep := p.Read(n.Var, n.Mask)
			sel := p.Expr(ir.OpSelect, p.Ref(pred), n.Args[0], keep)
			out = append(out, p.Assign(n.Var, n.Mask, sel))
		case ir.KCallStmt:
			if pred >= 0 {
				b.err = errorAt("branches", p, h, ErrConditionalCall)
				return out
			}
			out = append(out, h)
		case ir.KIf:
			var c ir.VarID
			c, out = b.pred(n.Args[0], out)
			then := p.Ref(c)
			if pred >= 0 {
				then = p.Expr(ir.OpAnd, p.Ref(pred), then)
			}
			var tp ir.VarID
			if pred >= 0 {
				tp, out = b.pred(then, out)
			} else {
				tp = c
			}
			if len(n.Else) > 0 {
				els := p.Expr(ir.OpNot, p.Ref(c))
				if pred >= 0 {
					els = p.Expr(ir.OpAnd, p.Ref(pred), els)
				}
				var ep ir.VarID
				ep, out = b.pred(els, out)
				out = b.body(n.Then, tp, out)
				out = b.body(n.Else, ep, out)
			} else {
				out = b.body(n.Then, tp, out)
			}
		default:
			b.err = errorAt("branches", p, h, fmt.Errorf("unexpected %s statement", n.Kind))
			return out
		}
	}
	return out
}
