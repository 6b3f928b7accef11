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

// Validate checks that p is fully lowered: the body
// holds only assignments of one component and
// external calls with one-component targets, and
// every expression is a scalar built from scalar
// leaves without matrix, struct or vector operators.
func Validate(p *ir.Program) error {
	bad := func(h ir.Handle, f string, args ...any) error {
		return errorAt("validate", p, h, fmt.Errorf("%s: %w", fmt.Sprintf(f, args...), ErrInvariant))
	}
	seen := make(map[ir.Handle]bool)
	var expr func(h ir.Handle) error
	expr = func(h ir.Handle) error {
		if seen[h] {
			return nil
		}
		seen[h] = true
		n := p.Node(h)
		if !n.Type.IsScalar() {
			return bad(h, "%s of type %s", n.Kind, n.Type)
		}
		switch n.Kind {
		case ir.KVar, ir.KConst:
			return nil
		case ir.KSwizzle:
			if p.Node(n.Args[0]).Kind != ir.KVar {
				return bad(h, "swizzle of a computed value")
			}
			return nil
		case ir.KGather:
			return expr(n.Args[0])
		case ir.KExpr:
			switch n.Op {
			case ir.OpDot, ir.OpCross, ir.OpLength, ir.OpDistance, ir.OpNormalize,
				ir.OpMatMul, ir.OpTranspose, ir.OpConstruct:
				return bad(h, "operator %s", n.Op)
			case ir.OpDiv, ir.OpMod:
				if n.Type.Base == ir.Int {
					return bad(h, "integer %s", n.Op)
				}
			}
		case ir.KCall:
			switch n.Name {
			case ir.Noise, ir.Random, ir.Saturate, ir.Step:
			default:
				return bad(h, "call of %s", n.Name)
			}
		default:
			return bad(h, "%s expression", n.Kind)
		}
		for _, a := range n.Args {
			if err := expr(a); err != nil {
				return err
			}
		}
		return nil
	}
	for _, h := range p.Body {
		n := p.Node(h)
		switch n.Kind {
		case ir.KAssign:
			if n.Mask.Count() != 1 {
				return bad(h, "assignment of %d components", n.Mask.Count())
			}
		case ir.KCallStmt:
			for _, o := range n.Outs {
				if o.Mask.Count() != 1 {
					return bad(h, "call target of %d components", o.Mask.Count())
				}
			}
		default:
			return bad(h, "%s statement", n.Kind)
		}
		for _, a := range n.Args {
			if err := expr(a); err != nil {
				return err
			}
		}
	}
	return nil
}
