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
)

// Intrinsic names.
const (
	// Noise evaluates gradient noise at the point
	// formed by concatenating the components of its
	// float arguments (one to three in total).
	Noise = "noise"
	// Random returns a per-instance random value
	// in [0, scale) for each component of scale.
	Random = "random"
	// Saturate clamps each component to [0, 1].
	Saturate = "saturate"
	// Step returns 1 for each component of x
	// that is >= edge and 0 otherwise.
	Step = "step"
)

// IntrinsicType returns the result type of an
// intrinsic call with operands of the given types.
func IntrinsicType(name string, args []Type) (Type, error) {
	bad := func() (Type, error) {
		return Type{}, fmt.Errorf("%s: invalid operand types %v", name, args)
	}
	floatish := func(t Type) bool {
		return t.Base == Float && t.Cols == 0
	}
	switch name {
	case Noise:
		n := 0
		for _, a := range args {
			if !floatish(a) {
				return bad()
			}
			n += a.Components()
		}
		if n < 1 || n > 3 {
			return Type{}, fmt.Errorf("%s: want 1 to 3 components, have %d", name, n)
		}
		return FloatType, nil
	case Random, Saturate:
		if len(args) != 1 || !floatish(args[0]) {
			return bad()
		}
		return args[0], nil
	case Step:
		if len(args) != 2 || !floatish(args[0]) || !floatish(args[1]) {
			return bad()
		}
		t, ok := broadcast(args[0], args[1])
		if !ok {
			return bad()
		}
		return t, nil
	}
	return Type{}, fmt.Errorf("unknown intrinsic %q", name)
}
