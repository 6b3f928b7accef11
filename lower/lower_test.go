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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/SnellerInc/vecvm/internal/scripttest"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scripts"
)

var (
	float2 = ir.Vector(ir.Float, 2)
	float3 = ir.Vector(ir.Float, 3)
)

func mustBuild(t *testing.T, fn func(b *ir.Builder)) *ir.Program {
	t.Helper()
	b := ir.NewBuilder()
	fn(b)
	p, err := b.Program()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func checkScalar(t *testing.T, p *ir.Program) {
	t.Helper()
	if err := Validate(p); err != nil {
		t.Fatal(err)
	}
	for _, h := range p.Body {
		n := p.Node(h)
		switch n.Kind {
		case ir.KAssign:
			if n.Mask.Count() != 1 {
				t.Errorf("assignment with mask %b: %s", n.Mask, p.Format(h))
			}
		case ir.KCallStmt:
		default:
			t.Errorf("unexpected %s statement: %s", n.Kind, p.Format(h))
		}
	}
}

func TestLowerMatchesEval(t *testing.T) {
	for _, tc := range scripttest.Cases() {
		t.Run(tc.Name, func(t *testing.T) {
			p := tc.Build()
			lp, err := Lower(p)
			if err != nil {
				t.Fatal(err)
			}
			checkScalar(t, lp)
			for i := 0; i < 6; i++ {
				want, err := p.Eval(scripttest.Env(p, i))
				if err != nil {
					t.Fatal(err)
				}
				got, err := lp.Eval(scripttest.Env(lp, i))
				if err != nil {
					t.Fatal(err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Errorf("instance %d:\ngot  %v\nwant %v\nlowered:\n%s", i, got, want, lp)
				}
			}
		})
	}
}

func TestLowerFixedPoint(t *testing.T) {
	for _, tc := range scripttest.Cases() {
		t.Run(tc.Name, func(t *testing.T) {
			lp, err := Lower(tc.Build())
			if err != nil {
				t.Fatal(err)
			}
			again, err := Lower(lp)
			if err != nil {
				t.Fatal(err)
			}
			if again.String() != lp.String() {
				t.Errorf("lowering is not idempotent:\n%s\nthen\n%s", lp, again)
			}
			for i := range Passes {
				if _, changed, err := Passes[i].Run(lp); err != nil || changed {
					t.Errorf("%s: changed=%v err=%v", Passes[i].Name, changed, err)
				}
			}
		})
	}
}

func TestSplitReadsOldValue(t *testing.T) {
	testcases := []struct {
		name   string
		build  func(b *ir.Builder)
		prefix string // staging temporaries
		staged bool
	}{
		{
			name: "swap",
			build: func(b *ir.Builder) {
				a := b.Input("a", float3, 0)
				o := b.Output("o", float3, 0)
				b.Assign(o, b.Ref(a))
				b.AssignMask(o, ir.MaskOf(0, 1), b.Swizzle(b.Ref(o), 1, 0))
			},
			prefix: "split",
			staged: true,
		},
		{
			name: "cross",
			build: func(b *ir.Builder) {
				a := b.Input("a", float3, 0)
				c := b.Input("c", float3, 0)
				o := b.Output("o", float3, 0)
				b.Assign(o, b.Ref(a))
				b.Assign(o, b.Expr(ir.OpCross, b.Ref(o), b.Ref(c)))
			},
			prefix: "split",
			staged: true,
		},
		{
			name: "other variable",
			build: func(b *ir.Builder) {
				a := b.Input("a", float3, 0)
				o := b.Output("o", float3, 0)
				b.Assign(o, b.Swizzle(b.Ref(a), 2, 1, 0))
			},
			prefix: "split",
		},
		{
			name: "transpose",
			build: func(b *ir.Builder) {
				a := b.Input("a", float2, 0)
				m := b.Temp("m", ir.Matrix(2, 2))
				o := b.Output("o", ir.Matrix(2, 2), 0)
				b.Assign(m, b.Construct(ir.Matrix(2, 2), b.Ref(a), b.Add(b.Ref(a), b.Float(1))))
				b.Assign(m, b.Expr(ir.OpTranspose, b.Ref(m)))
				b.Assign(o, b.Ref(m))
			},
			prefix: "m.next",
			staged: true,
		},
		{
			name: "matrix from other matrix",
			build: func(b *ir.Builder) {
				a := b.Input("a", float2, 0)
				m := b.Temp("m", ir.Matrix(2, 2))
				o := b.Output("o", ir.Matrix(2, 2), 0)
				b.Assign(m, b.Construct(ir.Matrix(2, 2), b.Ref(a), b.Ref(a)))
				b.Assign(o, b.Expr(ir.OpTranspose, b.Ref(m)))
			},
			prefix: "o.next",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := mustBuild(t, tc.build)
			q, _, err := Matrices(p)
			if err != nil {
				t.Fatal(err)
			}
			q, _, err = Scalarize(q)
			if err != nil {
				t.Fatal(err)
			}
			staged := false
			for i := range q.Vars {
				staged = staged || strings.HasPrefix(q.Vars[i].Name, tc.prefix)
			}
			if staged != tc.staged {
				t.Errorf("staged %v, want %v:\n%s", staged, tc.staged, q)
			}
			lp, err := Lower(p)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 4; i++ {
				want, err := p.Eval(scripttest.Env(p, i))
				if err != nil {
					t.Fatal(err)
				}
				got, err := lp.Eval(scripttest.Env(lp, i))
				if err != nil {
					t.Fatal(err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Errorf("instance %d:\ngot  %v\nwant %v\nlowered:\n%s", i, got, want, lp)
				}
			}
		})
	}
}

func TestLowerErrors(t *testing.T) {
	testcases := []struct {
		name  string
		build func(b *ir.Builder)
		want  error
		pass  string
	}{
		{
			name: "dynamic column",
			build: func(b *ir.Builder) {
				k := b.Input("k", ir.IntType, 0)
				a := b.Input("a", float2, 0)
				m := b.Temp("m", ir.Matrix(2, 2))
				o := b.Output("o", float2, 0)
				b.Assign(m, b.Construct(ir.Matrix(2, 2), b.Ref(a), b.Ref(a)))
				b.Assign(o, b.Column(b.Ref(m), b.Ref(k)))
			},
			want: ErrDynamicIndex,
			pass: "matrices",
		},
		{
			name: "conditional call",
			build: func(b *ir.Builder) {
				a := b.Input("a", ir.FloatType, 0)
				o := b.Output("o", ir.FloatType, 0)
				b.If(b.Gt(b.Ref(a), b.Float(0)), func() {
					b.CallExternal("curve", "sample", []ir.Target{{Var: o, Mask: ir.MaskAll(1)}}, b.Ref(a))
				}, nil)
			},
			want: ErrConditionalCall,
			pass: "branches",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Lower(mustBuild(t, tc.build))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("%T is not a *CompileError", err)
			}
			if ce.Pass != tc.pass {
				t.Errorf("pass %q, want %q", ce.Pass, tc.pass)
			}
			if ce.Construct == "" {
				t.Error("no offending construct")
			}
		})
	}
}

func TestDeadCode(t *testing.T) {
	var unused ir.VarID
	p := mustBuild(t, func(b *ir.Builder) {
		a := b.Input("a", float3, 0)
		unused = b.Temp("unused", float3)
		o := b.Output("o", float3, 0)
		b.Assign(unused, b.Add(b.Ref(a), b.Float(1)))
		b.Assign(o, b.Mul(b.Ref(a), b.Float(2)))
	})
	lp, err := Lower(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range lp.Body {
		if n := lp.Node(h); n.Kind == ir.KAssign && n.Var == unused {
			t.Errorf("dead assignment survived: %s", lp.Format(h))
		}
	}
	if len(lp.Body) != 3 {
		t.Errorf("%d statements, want 3:\n%s", len(lp.Body), lp)
	}
}

func TestCommonSubexpressions(t *testing.T) {
	p := mustBuild(t, func(b *ir.Builder) {
		a := b.Input("a", float2, 0)
		o1 := b.Output("o1", ir.FloatType, 0)
		o2 := b.Output("o2", ir.FloatType, 0)
		b.Assign(o1, b.Add(b.Swizzle(b.Ref(a), 0), b.Swizzle(b.Ref(a), 1)))
		b.Assign(o2, b.Add(b.Swizzle(b.Ref(a), 0), b.Swizzle(b.Ref(a), 1)))
	})
	lp, err := Lower(p)
	if err != nil {
		t.Fatal(err)
	}
	adds := 0
	visitExprs(lp, lp.Body, func(h ir.Handle, n *ir.Node) {
		if n.Kind == ir.KExpr && n.Op == ir.OpAdd {
			adds++
		}
	})
	if adds != 1 {
		t.Errorf("%d additions, want 1:\n%s", adds, lp)
	}
}

type testLogger struct {
	lines []string
}

func (l *testLogger) Printf(f string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(f, args...))
}

func TestOptions(t *testing.T) {
	var l testLogger
	if _, err := Lower(scripts.Gravity(), WithLogger(&l)); err != nil {
		t.Fatal(err)
	}
	if len(l.lines) == 0 || !strings.Contains(l.lines[0], "matrices") && !strings.Contains(l.lines[0], "scalarize") {
		t.Errorf("unexpected log %q", l.lines)
	}
	_, err := Lower(scripts.Gravity(), WithMaxPasses(1))
	if !errors.Is(err, ErrNoFixedPoint) {
		t.Errorf("got %v, want %v", err, ErrNoFixedPoint)
	}
}
