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
	"strconv"
	"strings"
)

// FormatScalar returns the text of one lane of base b.
func FormatScalar(b Base, w uint32) string {
	switch b {
	case Float:
		f := math.Float32frombits(w)
		if f != f {
			return fmt.Sprintf("nan(0x%x)", w)
		}
		return strconv.FormatFloat(float64(f), 'g', -1, 32)
	case Int:
		return strconv.Itoa(int(int32(w)))
	case Bool:
		if w != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("0x%x", w)
}

func (p *Program) varName(v VarID) string {
	return p.Vars[v].Name + "#" + strconv.Itoa(int(v))
}

func (p *Program) formatComps(t Type, comps []int) string {
	n := t.Components()
	var sb strings.Builder
	if n > 4 {
		sb.WriteString("[")
		for i, c := range comps {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(strconv.Itoa(c))
		}
		sb.WriteString("]")
		return sb.String()
	}
	for _, c := range comps {
		sb.WriteString(compname(c, n))
	}
	return sb.String()
}

// Format returns the canonical text of node h.
// Two expressions with the same text compute
// the same value from the same variables.
func (p *Program) Format(h Handle) string {
	var sb strings.Builder
	p.format(&sb, h, 0)
	return sb.String()
}

func (p *Program) format(sb *strings.Builder, h Handle, depth int) {
	n := p.Node(h)
	switch n.Kind {
	case KVar:
		sb.WriteString(p.varName(n.Var))
	case KConst:
		if n.Type.IsScalar() {
			sb.WriteString(FormatScalar(n.Type.Base, n.Bits[0]))
			return
		}
		sb.WriteString("(" + n.Type.String())
		for i, w := range n.Bits {
			sb.WriteString(" " + FormatScalar(n.Type.ComponentBase(i), w))
		}
		sb.WriteString(")")
	case KSwizzle:
		p.format(sb, n.Args[0], depth)
		sb.WriteString("." + p.formatComps(p.Type(n.Args[0]), n.Comps))
	case KField:
		p.format(sb, n.Args[0], depth)
		sb.WriteString(":" + p.Type(n.Args[0]).Fields[n.Index].Name)
	case KColumn:
		p.format(sb, n.Args[0], depth)
		sb.WriteString("[")
		p.format(sb, n.Args[1], depth)
		sb.WriteString("]")
	case KGather:
		fmt.Fprintf(sb, "(gather %s %s ", n.Type, p.varName(n.Var))
		p.format(sb, n.Args[0], depth)
		fmt.Fprintf(sb, " %d)", n.Index)
	case KExpr:
		if n.Op == OpConstruct {
			sb.WriteString("(" + n.Type.String())
		} else {
			sb.WriteString("(" + n.Op.String())
		}
		for _, a := range n.Args {
			sb.WriteString(" ")
			p.format(sb, a, depth)
		}
		sb.WriteString(")")
	case KCall:
		sb.WriteString("(call " + n.Name)
		for _, a := range n.Args {
			sb.WriteString(" ")
			p.format(sb, a, depth)
		}
		sb.WriteString(")")
	case KAssign:
		v := p.Var(n.Var)
		sb.WriteString(p.varName(n.Var) + "." + n.Mask.Format(v.Type.Components()) + " = ")
		p.format(sb, n.Args[0], depth)
	case KCallStmt:
		for i, o := range n.Outs {
			if i > 0 {
				sb.WriteString(", ")
			}
			v := p.Var(o.Var)
			sb.WriteString(p.varName(o.Var) + "." + o.Mask.Format(v.Type.Components()))
		}
		if len(n.Outs) > 0 {
			sb.WriteString(" = ")
		}
		sb.WriteString(n.Cap + "::" + n.Name + "(")
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			p.format(sb, a, depth)
		}
		sb.WriteString(")")
	case KIf:
		sb.WriteString("if ")
		p.format(sb, n.Args[0], depth)
		sb.WriteString(" {\n")
		p.formatBody(sb, n.Then, depth+1)
		sb.WriteString(strings.Repeat("\t", depth) + "}")
		if len(n.Else) > 0 {
			sb.WriteString(" else {\n")
			p.formatBody(sb, n.Else, depth+1)
			sb.WriteString(strings.Repeat("\t", depth) + "}")
		}
	default:
		fmt.Fprintf(sb, "<%s>", n.Kind)
	}
}

func (p *Program) formatBody(sb *strings.Builder, body []Handle, depth int) {
	for _, h := range body {
		sb.WriteString(strings.Repeat("\t", depth))
		p.format(sb, h, depth)
		sb.WriteString("\n")
	}
}

// String returns the canonical text of the
// variables, keeps and statements of p.
func (p *Program) String() string {
	var sb strings.Builder
	used := make([]bool, len(p.Vars))
	p.Walk(p.Body, func(h Handle) {
		n := p.Node(h)
		switch n.Kind {
		case KAssign:
			used[n.Var] = true
		case KCallStmt:
			for _, o := range n.Outs {
				used[o.Var] = true
			}
		}
		for _, a := range n.Args {
			p.Reads(a, func(v VarID, _ int) { used[v] = true })
		}
	})
	for _, k := range p.Keeps {
		used[k.Var] = true
	}
	for i := range p.Vars {
		v := &p.Vars[i]
		if used[i] || v.Mode == Output || v.Mode == Input {
			fmt.Fprintf(&sb, "%s#%d\n", v.String(), i)
		}
	}
	for _, k := range p.Keeps {
		fmt.Fprintf(&sb, "keep %d %s\n", k.DataSet, p.varName(k.Var))
	}
	p.formatBody(&sb, p.Body, 0)
	return sb.String()
}
