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

package fmath

import (
	"math"
	"testing"
)

func TestModSign(t *testing.T) {
	testcases := []struct {
		x, y, want float32
	}{
		{5.5, 2, 1.5},
		{-5.5, 2, -1.5},
		{5.5, -2, 1.5},
	}
	for _, tc := range testcases {
		if got := Mod(tc.x, tc.y); got != tc.want {
			t.Errorf("Mod(%g, %g) = %g, want %g", tc.x, tc.y, got, tc.want)
		}
	}
	if got := Frac(-1.25); got != -0.25 {
		t.Errorf("Frac(-1.25) = %g", got)
	}
}

func TestInt(t *testing.T) {
	testcases := []struct {
		in   float32
		want int32
	}{
		{1.9, 1},
		{-1.9, -1},
		{float32(math.NaN()), 0},
		{1e20, math.MaxInt32},
		{-1e20, math.MinInt32},
	}
	for _, tc := range testcases {
		if got := Int(tc.in); got != tc.want {
			t.Errorf("Int(%g) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSign(t *testing.T) {
	if Sign(-3) != -1 || Sign(2) != 1 || Sign(0) != 0 {
		t.Fatal("Sign")
	}
	nan := float32(math.NaN())
	if s := Sign(nan); s == s {
		t.Fatal("Sign(NaN) should be NaN")
	}
}
