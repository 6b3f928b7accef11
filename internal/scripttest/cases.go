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

package scripttest

import (
	"fmt"

	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scripts"
)

var (
	float2 = ir.Vector(ir.Float, 2)
	float3 = ir.Vector(ir.Float, 3)
	float4 = ir.Vector(ir.Float, 4)
)

// Case is a named program that the reference
// evaluator supports: it draws no random
// numbers and makes no external calls.
type Case struct {
	Name  string
	Build func() *ir.Program
}

func build(fn func(b *ir.Builder)) func() *ir.Program {
	return func() *ir.Program {
		b := ir.NewBuilder()
		fn(b)
		p, err := b.Program()
		if err != nil {
			panic(fmt.Sprintf("scripttest: %s", err))
		}
		return p
	}
}

// Cases returns the shipped scripts that
// Env supports followed by programs covering
// matrices, geometry, structs, integers,
// column writes, keeps, noise and assignments
// that read their own target.
func Cases() []Case {
	var out []Case
	for _, name := range []string{"gravity", "kill", "burst", "orbit", "bands", "turbulence"} {
		out = append(out, Case{name, scripts.Named[name]})
	}
	return append(out,
		Case{"matrix", build(matrixCase)},
		Case{"geometry", build(geometryCase)},
		Case{"struct", build(structCase)},
		Case{"int", build(intCase)},
		Case{"column", build(columnCase)},
		Case{"keep", build(keepCase)},
		Case{"noise", build(noiseCase)},
		Case{"self", build(selfCase)},
		Case{"matself", build(matrixSelfCase)},
	)
}

func matrixCase(b *ir.Builder) {
	u := b.Uniform("m", ir.Matrix(3, 2))
	a := b.Input("a", float3, 0)
	t := b.Temp("t", ir.Matrix(2, 3))
	c := b.Temp("c", ir.Matrix(2, 2))
	o := b.Output("o", float4, 0)
	mt := b.Output("mt", ir.Matrix(3, 2), 0)
	mv := b.Output("mv", float2, 0)
	b.Assign(t, b.Construct(ir.Matrix(2, 3), b.Ref(a), b.Mul(b.Ref(a), b.Float(2))))
	b.Assign(c, b.MatMul(b.Ref(u), b.Ref(t)))
	b.Assign(o, b.Construct(float4, b.Ref(c)))
	b.Assign(mt, b.Expr(ir.OpTranspose, b.Ref(t)))
	b.Assign(mv, b.Add(b.MatMul(b.Ref(u), b.Ref(a)), b.MatMul(b.Ref(a), b.Ref(t))))
}

func geometryCase(b *ir.Builder) {
	a := b.Input("a", float3, 0)
	c := b.Input("c", float3, 0)
	o := b.Output("o", float4, 0)
	n := b.Output("n", float3, 0)
	s := b.Output("s", float3, 0)
	b.Assign(o, b.Construct(float4,
		b.Dot(b.Ref(a), b.Ref(c)),
		b.Expr(ir.OpLength, b.Ref(a)),
		b.Expr(ir.OpDistance, b.Ref(a), b.Ref(c)),
		b.Call(ir.Saturate, b.Swizzle(b.Ref(a), 0))))
	b.Assign(n, b.Add(b.Expr(ir.OpNormalize, b.Ref(a)), b.Expr(ir.OpCross, b.Ref(a), b.Ref(c))))
	b.AssignMask(n, ir.MaskOf(0, 2), b.Expr(ir.OpLerp, b.Swizzle(b.Ref(a), 0, 2), b.Swizzle(b.Ref(c), 1, 2), b.Float(0.25)))
	b.Assign(s, b.Add(
		b.Expr(ir.OpClamp, b.Ref(c), b.Float(-0.5), b.Float(0.5)),
		b.Call(ir.Step, b.Float(0.3), b.Ref(a))))
}

func structCase(b *ir.Builder) {
	st := ir.StructOf("particle",
		ir.Field{Name: "pos", Type: float3},
		ir.Field{Name: "id", Type: ir.IntType},
		ir.Field{Name: "alive", Type: ir.BoolType})
	a := b.Input("a", float3, 0)
	s := b.Temp("s", st)
	o := b.Output("o", float3, 0)
	id := b.Output("id", ir.IntType, 0)
	b.AssignField(s, "pos", b.Ref(a))
	b.AssignField(s, "id", b.InstanceIndex())
	b.AssignField(s, "alive", b.Gt(b.Swizzle(b.Ref(a), 0), b.Float(0.5)))
	b.Assign(o, b.Select(b.Field(b.Ref(s), "alive"), b.Field(b.Ref(s), "pos"), b.Vec(0, 0, 0)))
	b.Assign(id, b.Field(b.Ref(s), "id"))
}

func intCase(b *ir.Builder) {
	k := b.Input("k", ir.IntType, 0)
	o := b.Output("o", ir.Vector(ir.Int, 4), 0)
	idx := b.InstanceIndex()
	b.Assign(o, b.Construct(ir.Vector(ir.Int, 4),
		b.Div(idx, b.Int(3)),
		b.Expr(ir.OpMod, idx, b.Int(4)),
		b.Expr(ir.OpShl, b.Ref(k), b.Int(2)),
		b.Expr(ir.OpShr, b.Expr(ir.OpNeg, idx), b.Ref(k))))
}

func columnCase(b *ir.Builder) {
	a := b.Input("a", float3, 0)
	m := b.Temp("m", ir.Matrix(2, 2))
	o := b.Output("o", float4, 0)
	b.Assign(m, b.Construct(ir.Matrix(2, 2), b.Swizzle(b.Ref(a), 0, 1), b.Swizzle(b.Ref(a), 1, 2)))
	b.AssignColumn(m, 1, b.Swizzle(b.Ref(m), 3, 0))
	b.Assign(o, b.Construct(float4, b.Ref(m)))
}

func keepCase(b *ir.Builder) {
	a := b.Input("a", float3, 0)
	k := b.Temp("k", ir.BoolType)
	o := b.Output("o", ir.FloatType, 0)
	b.If(b.Gt(b.Swizzle(b.Ref(a), 0), b.Float(1)), func() {
		b.Assign(k, b.Bool(true))
		b.Assign(o, b.Float(1))
	}, nil)
	b.Keep(0, k)
}

func noiseCase(b *ir.Builder) {
	a := b.Input("a", float3, 0)
	o := b.Output("o", float3, 0)
	b.Assign(o, b.Construct(float3,
		b.Call(ir.Noise, b.Swizzle(b.Ref(a), 0)),
		b.Call(ir.Noise, b.Swizzle(b.Ref(a), 2), b.Swizzle(b.Ref(a), 1)),
		b.Call(ir.Noise, b.Ref(a))))
	n := b.Output("n", ir.FloatType, 0)
	b.Assign(n, b.Call(ir.Noise, b.Swizzle(b.Ref(a), 0, 1), b.Swizzle(b.Ref(a), 2)))
}

func selfCase(b *ir.Builder) {
	a := b.Input("a", float3, 0)
	c := b.Input("c", float3, 0)
	v := b.Temp("v", float3)
	o := b.Output("o", float3, 0)
	w := b.Output("w", float3, 0)
	b.Assign(v, b.Ref(a))
	b.Assign(v, b.Expr(ir.OpCross, b.Ref(v), b.Ref(c)))
	b.AssignMask(v, ir.MaskOf(0, 1), b.Swizzle(b.Ref(v), 1, 0))
	b.Assign(o, b.Ref(v))
	b.Assign(w, b.Ref(c))
	b.Assign(w, b.Swizzle(b.Ref(w), 2, 1, 0))
}

func matrixSelfCase(b *ir.Builder) {
	u := b.Uniform("rot", ir.Matrix(3, 3))
	a := b.Input("a", float3, 0)
	c := b.Input("c", float3, 0)
	v := b.Temp("v", float3)
	m := b.Temp("m", ir.Matrix(3, 3))
	o := b.Output("o", float3, 0)
	mt := b.Output("mt", ir.Matrix(3, 3), 0)
	b.Assign(v, b.Ref(a))
	b.Assign(v, b.MatMul(b.Ref(u), b.Ref(v)))
	b.Assign(o, b.Ref(v))
	b.Assign(m, b.Construct(ir.Matrix(3, 3), b.Ref(a), b.Ref(c), b.Add(b.Ref(a), b.Ref(c))))
	b.Assign(m, b.Expr(ir.OpTranspose, b.Ref(m)))
	b.Assign(mt, b.Ref(m))
}
