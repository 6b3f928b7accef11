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

package ints

import (
	"math/bits"
)

// Bitmap is a fixed-capacity set of small integers.
type Bitmap []uint64

// NewBitmap returns a bitmap able to hold [0, n).
func NewBitmap(n int) Bitmap {
	return make(Bitmap, Chunks(n, 64))
}

// Test checks if the k-th bit is set
func (b Bitmap) Test(k int) bool {
	return b[k/64]&(1<<(uint(k)%64)) != 0
}

// Set sets the k-th bit
func (b Bitmap) Set(k int) {
	b[k/64] |= 1 << (uint(k) % 64)
}

// Clear clears the k-th bit
func (b Bitmap) Clear(k int) {
	b[k/64] &^= 1 << (uint(k) % 64)
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// LowestClear returns the index of the lowest
// zero bit below limit, or -1 if every one of
// the first limit bits is set.
func (b Bitmap) LowestClear(limit int) int {
	for i, w := range b {
		if w == ^uint64(0) {
			continue
		}
		n := i*64 + bits.TrailingZeros64(^w)
		if n >= limit {
			return -1
		}
		return n
	}
	return -1
}
