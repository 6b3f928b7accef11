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

package binder

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/vecvm/internal/fmath"
)

// CurveCapability is the capability name
// under which curves are usually registered.
const CurveCapability = "curve"

// Curve is a piecewise linear function given by
// increasing keys and their values. Inputs below
// the first key or above the last are clamped.
//
// A Curve provides one function, sample, of one
// input and one output. When the keys are evenly
// spaced, sample locates the segment of an input
// arithmetically; otherwise it searches the keys.
type Curve struct {
	keys, values []float32
	uniform      bool
	inv          float32
}

// NewCurve returns the curve through (keys[i], values[i]).
func NewCurve(keys, values []float32) (*Curve, error) {
	if len(keys) == 0 || len(keys) != len(values) {
		return nil, fmt.Errorf("binder: curve with %d keys and %d values", len(keys), len(values))
	}
	for i := 1; i < len(keys); i++ {
		if !(keys[i] > keys[i-1]) {
			return nil, fmt.Errorf("binder: curve keys not increasing at %d", i)
		}
	}
	c := &Curve{keys: keys, values: values}
	if len(keys) > 2 {
		step := (keys[len(keys)-1] - keys[0]) / float32(len(keys)-1)
		c.uniform = true
		for i := 1; i < len(keys); i++ {
			d := keys[i] - keys[i-1]
			if fmath.Abs(d-step) > step*1e-5 {
				c.uniform = false
				break
			}
		}
		c.inv = 1 / step
	}
	return c, nil
}

// Uniform reports whether sample
// uses the arithmetic lookup.
func (c *Curve) Uniform() bool { return c.uniform }

// segment interpolates in segment j.
func (c *Curve) segment(j int, t float32) float32 {
	k0, k1 := c.keys[j], c.keys[j+1]
	return fmath.Lerp(c.values[j], c.values[j+1], (t-k0)/(k1-k0))
}

func (c *Curve) clamp(t float32) (float32, bool) {
	n := len(c.keys)
	switch {
	case t != t:
		return t, true
	case n == 1 || t <= c.keys[0]:
		return c.values[0], true
	case t >= c.keys[n-1]:
		return c.values[n-1], true
	}
	return 0, false
}

// lookup locates the segment of t arithmetically.
func (c *Curve) lookup(t float32) float32 {
	if v, ok := c.clamp(t); ok {
		return v
	}
	j := int((t - c.keys[0]) * c.inv)
	// correct for rounding at the segment ends
	if j > len(c.keys)-2 {
		j = len(c.keys) - 2
	}
	for j > 0 && t < c.keys[j] {
		j--
	}
	for j < len(c.keys)-2 && t >= c.keys[j+1] {
		j++
	}
	return c.segment(j, t)
}

// search locates the segment of t by binary search.
func (c *Curve) search(t float32) float32 {
	if v, ok := c.clamp(t); ok {
		return v
	}
	j, found := slices.BinarySearch(c.keys, t)
	if !found {
		j--
	}
	return c.segment(j, t)
}

// Sample evaluates the curve at t.
func (c *Curve) Sample(t float32) float32 {
	if c.uniform {
		return c.lookup(t)
	}
	return c.search(t)
}

// Provider returns the provider of the
// curve capability for c.
func (c *Curve) Provider() Funcs {
	fn := c.search
	if c.uniform {
		fn = c.lookup
	}
	return Funcs{"sample": Float1(fn)}
}
