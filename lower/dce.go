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

// liveAtExit returns the slots read after the
// program ends: every component of the output
// variables and the keep variables.
func liveAtExit(p *ir.Program) map[slot]bool {
	live := make(map[slot]bool)
	for i := range p.Vars {
		v := &p.Vars[i]
		if v.Mode != ir.Output {
			continue
		}
		for c := 0; c < v.Type.Components(); c++ {
			live[slot{ir.VarID(i), c}] = true
		}
	}
	for _, k := range p.Keeps {
		live[slot{k.Var, 0}] = true
	}
	return live
}

// DeadCode removes assignments whose components
// are overwritten or never read before the end of
// the program, and assignments of a slot to
// itself. External calls are always kept.
func DeadCode(src *ir.Program) (*ir.Program, bool, error) {
	if hasBranches(src, src.Body) {
		return src, false, nil
	}
	p := src
	live := liveAtExit(p)
	keep := make([]bool, len(p.Body))
	for i := len(p.Body) - 1; i >= 0; i-- {
		n := p.Node(p.Body[i])
		switch n.Kind {
		case ir.KAssign:
			if s := n.Mask.Single(); s >= 0 {
				if v, c, ok := p.Slot(n.Args[0]); ok && v == n.Var && c == s {
					continue
				}
			}
			any := false
			for _, c := range n.Mask.Bits() {
				s := slot{n.Var, c}
				any = any || live[s]
				delete(live, s)
			}
			if !any {
				continue
			}
		case ir.KCallStmt:
			for _, o := range n.Outs {
				for _, c := range o.Mask.Bits() {
					delete(live, slot{o.Var, c})
				}
			}
		}
		keep[i] = true
		for _, a := range n.Args {
			p.Reads(a, func(v ir.VarID, c int) {
				live[slot{v, c}] = true
			})
		}
	}
	out := src.Derive()
	for i, h := range src.Body {
		if keep[i] {
			out.Body = append(out.Body, h)
		}
	}
	q, changed := finish(src, out)
	return q, changed, nil
}
