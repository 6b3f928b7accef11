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

// Package scripttest builds deterministic
// environments for testing scripts.
package scripttest

import (
	"math"

	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scripts"
)

// DeltaTime is the delta time of every Env.
const DeltaTime = 0.1

// FirstIndex is the global index of instance 0.
const FirstIndex = 11

// Value returns the value of component c of
// instance i. Floats step through an age of
// 1.0 at instance 2 and ints through zero.
func Value(b ir.Base, i, c int) uint32 {
	switch b {
	case ir.Int:
		return uint32(int32(i - 2 + c))
	case ir.Bool:
		return fmath.B((i+c)%2 == 0)
	}
	return math.Float32bits(float32(i)*0.475 - float32(c)*0.5)
}

// Env returns the environment of instance i
// of p: every input component is set with
// Value and every uniform missing from
// scripts.Uniforms is set as instance 7.
func Env(p *ir.Program, i int) *ir.Env {
	env := &ir.Env{
		DeltaTime: DeltaTime,
		Index:     int32(i) + FirstIndex,
		Inputs:    make(map[ir.AttrKey][]uint32),
		Uniforms:  scripts.Uniforms(),
	}
	for j := range p.Vars {
		v := p.Var(ir.VarID(j))
		n := v.Type.Components()
		switch v.Mode {
		case ir.Input:
			k := ir.AttrKey{DataSet: v.DataSet, Name: v.Attr}
			buf := env.Inputs[k]
			for len(buf) < v.Offset+n {
				buf = append(buf, 0)
			}
			for c := 0; c < n; c++ {
				buf[v.Offset+c] = Value(v.Type.ComponentBase(c), i, v.Offset+c)
			}
			env.Inputs[k] = buf
		case ir.Uniform, ir.Param:
			if _, ok := env.Uniforms[v.Attr]; ok {
				continue
			}
			buf := make([]uint32, n)
			for c := range buf {
				buf[c] = Value(v.Type.ComponentBase(c), 7, c)
			}
			env.Uniforms[v.Attr] = buf
		}
	}
	return env
}
