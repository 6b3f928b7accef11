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

// Package noise implements seeded gradient noise
// in one, two and three dimensions.
//
// A Table is built lazily on first use and is
// read-only afterwards, so a single Table may be
// shared by any number of concurrent readers.
package noise

import (
	"math"
	"math/rand"
	"sync"
)

// Table is a seeded permutation table.
// The zero value is usable and uses seed 0.
type Table struct {
	Seed int64

	once sync.Once
	perm [512]uint8
}

// New returns a Table using the given seed.
func New(seed int64) *Table {
	return &Table{Seed: seed}
}

func (t *Table) init() {
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	r := rand.New(rand.NewSource(t.Seed))
	r.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
	for i := range t.perm {
		t.perm[i] = p[i&255]
	}
}

func (t *Table) table() *[512]uint8 {
	t.once.Do(t.init)
	return &t.perm
}

func fade(t float64) float64 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(t, a, b float64) float64 { return a + t*(b-a) }

func grad1(h uint8, x float64) float64 {
	g := float64(h&7) + 1
	if h&8 != 0 {
		g = -g
	}
	return g * x / 8
}

func grad2(h uint8, x, y float64) float64 {
	switch h & 7 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	case 3:
		return -x - y
	case 4:
		return x
	case 5:
		return -x
	case 6:
		return y
	default:
		return -y
	}
}

func grad3(h uint8, x, y, z float64) float64 {
	h &= 15
	u := y
	if h < 8 {
		u = x
	}
	v := z
	if h < 4 {
		v = y
	} else if h == 12 || h == 14 {
		v = x
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}

func split(x float64) (int, float64) {
	f := math.Floor(x)
	return int(int64(f) & 255), x - f
}

func clamp1(v float64) float32 {
	return float32(math.Max(-1, math.Min(1, v)))
}

// Noise1 returns one-dimensional gradient noise in [-1, 1].
func (t *Table) Noise1(x float32) float32 {
	p := t.table()
	xi, xf := split(float64(x))
	u := fade(xf)
	return clamp1(2 * lerp(u, grad1(p[xi], xf), grad1(p[xi+1], xf-1)))
}

// Noise2 returns two-dimensional gradient noise in [-1, 1].
func (t *Table) Noise2(x, y float32) float32 {
	p := t.table()
	xi, xf := split(float64(x))
	yi, yf := split(float64(y))
	u, v := fade(xf), fade(yf)
	aa := p[int(p[xi])+yi]
	ab := p[int(p[xi])+yi+1]
	ba := p[int(p[xi+1])+yi]
	bb := p[int(p[xi+1])+yi+1]
	r := lerp(v,
		lerp(u, grad2(aa, xf, yf), grad2(ba, xf-1, yf)),
		lerp(u, grad2(ab, xf, yf-1), grad2(bb, xf-1, yf-1)))
	return clamp1(r * 0.7071)
}

// Noise3 returns three-dimensional gradient noise in [-1, 1].
func (t *Table) Noise3(x, y, z float32) float32 {
	p := t.table()
	xi, xf := split(float64(x))
	yi, yf := split(float64(y))
	zi, zf := split(float64(z))
	u, v, w := fade(xf), fade(yf), fade(zf)
	a := int(p[xi]) + yi
	aa := int(p[a]) + zi
	ab := int(p[a+1]) + zi
	b := int(p[xi+1]) + yi
	ba := int(p[b]) + zi
	bb := int(p[b+1]) + zi
	r := lerp(w,
		lerp(v,
			lerp(u, grad3(p[aa], xf, yf, zf), grad3(p[ba], xf-1, yf, zf)),
			lerp(u, grad3(p[ab], xf, yf-1, zf), grad3(p[bb], xf-1, yf-1, zf))),
		lerp(v,
			lerp(u, grad3(p[aa+1], xf, yf, zf-1), grad3(p[ba+1], xf-1, yf, zf-1)),
			lerp(u, grad3(p[ab+1], xf, yf-1, zf-1), grad3(p[bb+1], xf-1, yf-1, zf-1))))
	return clamp1(r)
}
