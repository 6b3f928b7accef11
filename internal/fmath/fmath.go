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

// Package fmath implements the lane-level scalar
// semantics shared by the interpreter and the
// reference evaluator, so that both produce
// bit-identical results for the same inputs.
package fmath

import (
	"math"
)

// True and False are the canonical
// 32-bit encodings of boolean lanes.
const (
	True  uint32 = 0xFFFFFFFF
	False uint32 = 0
)

// F returns the float32 stored in w.
func F(w uint32) float32 { return math.Float32frombits(w) }

// W returns the bits of f.
func W(f float32) uint32 { return math.Float32bits(f) }

// B returns the lane encoding of b.
func B(b bool) uint32 {
	if b {
		return True
	}
	return False
}

func wrap1(fn func(float64) float64) func(float32) float32 {
	return func(x float32) float32 { return float32(fn(float64(x))) }
}

func wrap2(fn func(float64, float64) float64) func(float32, float32) float32 {
	return func(x, y float32) float32 { return float32(fn(float64(x), float64(y))) }
}

var (
	Floor = wrap1(math.Floor)
	Ceil  = wrap1(math.Ceil)
	Sqrt  = wrap1(math.Sqrt)
	Sin   = wrap1(math.Sin)
	Cos   = wrap1(math.Cos)
	Tan   = wrap1(math.Tan)
	Asin  = wrap1(math.Asin)
	Acos  = wrap1(math.Acos)
	Atan  = wrap1(math.Atan)
	Exp   = wrap1(math.Exp)
	Exp2  = wrap1(math.Exp2)
	Log   = wrap1(math.Log)
	Log2  = wrap1(math.Log2)
	Pow   = wrap2(math.Pow)
	Atan2 = wrap2(math.Atan2)
	Mod   = wrap2(math.Mod)
)

// Frac returns the sign-preserving fractional part of x.
func Frac(x float32) float32 { return Mod(x, 1) }

func Abs(x float32) float32 { return math.Float32frombits(math.Float32bits(x) &^ (1 << 31)) }

// Sign returns -1, 0 or 1; NaN is returned unchanged.
func Sign(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func Min(x, y float32) float32 {
	if y < x {
		return y
	}
	return x
}

func Max(x, y float32) float32 {
	if y > x {
		return y
	}
	return x
}

func Clamp(x, lo, hi float32) float32 { return Min(Max(x, lo), hi) }

// Lerp returns a + (b-a)*t, rounding each step.
func Lerp(a, b, t float32) float32 {
	d := float32(b - a)
	return a + float32(d*t)
}

// Mad returns a*b + c without fusing the multiply.
func Mad(a, b, c float32) float32 {
	return float32(a*b) + c
}

// Int truncates x toward zero, saturating
// at the int32 range; NaN converts to 0.
func Int(x float32) int32 {
	switch {
	case x != x:
		return 0
	case x >= math.MaxInt32:
		return math.MaxInt32
	case x <= math.MinInt32:
		return math.MinInt32
	}
	return int32(x)
}

func Iabs(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func Isign(x int32) int32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func Imin(x, y int32) int32 {
	if y < x {
		return y
	}
	return x
}

func Imax(x, y int32) int32 {
	if y > x {
		return y
	}
	return x
}

// Unit maps the top 24 bits of h to [0, 1).
func Unit(h uint64) float32 {
	return float32(h>>40) / (1 << 24)
}
