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

// Package scripts holds the particle scripts
// shipped with vecvm. Each function returns a
// freshly built program; the attribute layouts
// they read and write are Particle (data set 0)
// and Death (data set 1).
package scripts

import (
	"fmt"
	"math"

	"github.com/SnellerInc/vecvm/ir"
)

// Particle states.
const (
	StateAlive int32 = 1
	StateDead  int32 = 2
)

var (
	float3 = ir.Vector(ir.Float, 3)

	// Particle is the attribute layout of data set 0.
	Particle = []ir.Field{
		{Name: "pos", Type: float3},
		{Name: "vel", Type: float3},
		{Name: "age", Type: ir.FloatType},
		{Name: "state", Type: ir.IntType},
		{Name: "color", Type: float3},
	}
	// Death is the attribute layout of data set 1,
	// written once for every particle that dies.
	Death = []ir.Field{
		{Name: "pos", Type: float3},
	}
)

func f32s(fs ...float32) []uint32 {
	out := make([]uint32, len(fs))
	for i := range fs {
		out[i] = math.Float32bits(fs[i])
	}
	return out
}

// Uniforms returns the default values of
// every uniform used by the scripts.
func Uniforms() map[string][]uint32 {
	const a = 0.1
	s, c := float32(math.Sin(a)), float32(math.Cos(a))
	return map[string][]uint32{
		"gravity":  f32s(0, 0, -9.8),
		"lifetime": f32s(5),
		"origin":   f32s(0, 0, 0),
		"speed":    f32s(5),
		"strength": f32s(0.5),
		// rotation about z, column-major
		"rot": f32s(c, s, 0, -s, c, 0, 0, 0, 1),
	}
}

func build(b *ir.Builder) *ir.Program {
	p, err := b.Program()
	if err != nil {
		panic(fmt.Sprintf("scripts: %s", err))
	}
	return p
}

// Gravity integrates velocity and position:
//
//	vel += gravity*dt
//	pos += vel*dt
func Gravity() *ir.Program {
	b := ir.NewBuilder()
	g := b.Uniform("gravity", float3)
	pos := b.Input("pos", float3, 0)
	vel := b.Input("vel", float3, 0)
	opos := b.Output("pos", float3, 0)
	ovel := b.Output("vel", float3, 0)
	v := b.Add(b.Ref(vel), b.Mul(b.Ref(g), b.DeltaTime()))
	b.Assign(ovel, v)
	b.Assign(opos, b.Add(b.Ref(pos), b.Mul(b.Ref(ovel), b.DeltaTime())))
	return build(b)
}

// Kill ages particles, marks the ones crossing an
// age of 1 this tick as dead, writes a death event
// for them, and drops particles older than lifetime.
func Kill() *ir.Program {
	b := ir.NewBuilder()
	life := b.Uniform("lifetime", ir.FloatType)
	age := b.Input("age", ir.FloatType, 0)
	pos := b.Input("pos", float3, 0)
	oage := b.Output("age", ir.FloatType, 0)
	state := b.Output("state", ir.IntType, 0)
	epos := b.Output("pos", float3, 1)
	crossed := b.Temp("crossed", ir.BoolType)
	alive := b.Temp("alive", ir.BoolType)

	b.Assign(oage, b.Add(b.Ref(age), b.DeltaTime()))
	b.Assign(crossed, b.Expr(ir.OpAnd,
		b.Lt(b.Ref(age), b.Float(1)),
		b.Expr(ir.OpGE, b.Ref(oage), b.Float(1))))
	b.Assign(state, b.Select(b.Ref(crossed), b.Int(StateDead), b.Int(StateAlive)))
	b.Assign(epos, b.Ref(pos))
	b.Assign(alive, b.Lt(b.Ref(oage), b.Ref(life)))
	b.Keep(0, alive)
	b.Keep(1, crossed)
	return build(b)
}

// Fountain spawns particles around origin with a
// random velocity whose vertical speed follows
// the curve::sample external function.
func Fountain() *ir.Program {
	b := ir.NewBuilder()
	origin := b.Uniform("origin", float3)
	speed := b.Uniform("speed", ir.FloatType)
	pos := b.Output("pos", float3, 0)
	vel := b.Output("vel", float3, 0)
	age := b.Output("age", ir.FloatType, 0)
	state := b.Output("state", ir.IntType, 0)
	color := b.Output("color", float3, 0)
	lift := b.Temp("lift", ir.FloatType)

	jitter := b.Sub(b.Call(ir.Random, b.Vec(0.2, 0.2, 0.2)), b.Float(0.1))
	b.Assign(pos, b.Add(b.Ref(origin), jitter))
	b.CallExternal("curve", "sample", []ir.Target{{Var: lift, Mask: ir.MaskAll(1)}}, b.Call(ir.Random, b.Float(1)))
	side := b.Sub(b.Call(ir.Random, b.Vec(2, 2)), b.Float(1))
	b.Assign(vel, b.Construct(float3, side, b.Mul(b.Ref(lift), b.Ref(speed))))
	b.Assign(age, b.Float(0))
	b.Assign(state, b.Int(StateAlive))
	b.Assign(color, b.Vec(1, 1, 1))
	return build(b)
}

// Burst handles death events: every event spawns
// one particle at the event position moving up.
func Burst() *ir.Program {
	b := ir.NewBuilder()
	speed := b.Uniform("speed", ir.FloatType)
	epos := b.Input("pos", float3, 1)
	pos := b.Output("pos", float3, 0)
	vel := b.Output("vel", float3, 0)
	age := b.Output("age", ir.FloatType, 0)
	state := b.Output("state", ir.IntType, 0)
	color := b.Output("color", float3, 0)

	b.Assign(pos, b.Ref(epos))
	b.Assign(vel, b.Construct(float3, b.Vec(0, 0), b.Ref(speed)))
	b.Assign(age, b.Float(0))
	b.Assign(state, b.Int(StateAlive))
	b.Assign(color, b.Vec(1, 0.5, 0))
	return build(b)
}

// Orbit rotates positions by rot twice and
// velocities by the inverse of rot, then adds
// the column of rot selected by the state.
func Orbit() *ir.Program {
	b := ir.NewBuilder()
	rot := b.Uniform("rot", ir.Matrix(3, 3))
	pos := b.Input("pos", float3, 0)
	vel := b.Input("vel", float3, 0)
	state := b.Input("state", ir.IntType, 0)
	opos := b.Output("pos", float3, 0)
	ovel := b.Output("vel", float3, 0)
	twice := b.Temp("twice", ir.Matrix(3, 3))

	b.Assign(twice, b.MatMul(b.Ref(rot), b.Ref(rot)))
	b.Assign(opos, b.MatMul(b.Ref(twice), b.Ref(pos)))
	spin := b.MatMul(b.Ref(vel), b.Ref(rot))
	kick := b.Mul(b.Column(b.Ref(rot), b.Ref(state)), b.DeltaTime())
	b.Assign(ovel, b.Add(spin, kick))
	return build(b)
}

// Bands colors particles by age:
// red below 1, green below 2, blue otherwise.
func Bands() *ir.Program {
	b := ir.NewBuilder()
	age := b.Input("age", ir.FloatType, 0)
	color := b.Output("color", float3, 0)
	b.If(b.Lt(b.Ref(age), b.Float(1)), func() {
		b.Assign(color, b.Vec(1, 0, 0))
	}, func() {
		b.If(b.Lt(b.Ref(age), b.Float(2)), func() {
			b.Assign(color, b.Vec(0, 1, 0))
		}, func() {
			b.Assign(color, b.Vec(0, 0, 1))
		})
	})
	return build(b)
}

// Turbulence perturbs velocities with
// gradient noise sampled around the position.
func Turbulence() *ir.Program {
	b := ir.NewBuilder()
	strength := b.Uniform("strength", ir.FloatType)
	pos := b.Input("pos", float3, 0)
	vel := b.Input("vel", float3, 0)
	age := b.Input("age", ir.FloatType, 0)
	ovel := b.Output("vel", float3, 0)

	p := b.Ref(pos)
	a := b.Ref(age)
	n := b.Construct(float3,
		b.Call(ir.Noise, b.Swizzle(p, 0, 1), a),
		b.Call(ir.Noise, b.Swizzle(p, 1, 2), a),
		b.Call(ir.Noise, b.Swizzle(p, 2, 0), a))
	b.Assign(ovel, b.Add(b.Ref(vel), b.Mul(n, b.Mul(b.Ref(strength), b.DeltaTime()))))
	return build(b)
}

// Named maps the script names accepted
// by the command line to their builders.
var Named = map[string]func() *ir.Program{
	"gravity":    Gravity,
	"kill":       Kill,
	"fountain":   Fountain,
	"burst":      Burst,
	"orbit":      Orbit,
	"bands":      Bands,
	"turbulence": Turbulence,
}
