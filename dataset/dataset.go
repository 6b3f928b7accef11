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

// Package dataset implements double-buffered
// columnar storage for script instances.
//
// A DataSet stores one column of 32-bit words per
// attribute component. Programs read the committed
// buffer and write the next one; Swap commits the
// instances written since the last Allocate.
package dataset

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/SnellerInc/vecvm/ints"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/vm"
)

// ErrNoAttribute is returned when a program
// reads or writes an attribute component
// that a data set does not have.
var ErrNoAttribute = errors.New("no such attribute")

type attr struct {
	field ir.Field
	// first column of the attribute
	col int
}

// DataSet is a set of instances sharing
// one attribute layout.
// A DataSet is not safe for concurrent use.
type DataSet struct {
	Name string

	attrs  []attr
	byName map[string]int
	bases  []ir.Base

	cur, next [][]uint32
	n         int
	// written counts the instances
	// stored in next since Allocate
	written int
	dead    ints.Bitmap
}

// New returns an empty data set with the given
// attributes. Attribute names are case sensitive
// and must be unique; attributes are scalars
// or vectors.
func New(name string, attrs ...ir.Field) (*DataSet, error) {
	d := &DataSet{
		Name:   name,
		byName: make(map[string]int),
	}
	for _, f := range attrs {
		if _, dup := d.byName[f.Name]; dup {
			return nil, fmt.Errorf("dataset %s: duplicate attribute %q", name, f.Name)
		}
		if f.Type.IsStruct() || f.Type.IsMatrix() || f.Type.Base == ir.Void {
			return nil, fmt.Errorf("dataset %s: attribute %q has type %s", name, f.Name, f.Type)
		}
		d.byName[f.Name] = len(d.attrs)
		d.attrs = append(d.attrs, attr{field: f, col: len(d.bases)})
		for c := 0; c < f.Type.Components(); c++ {
			d.bases = append(d.bases, f.Type.Base)
		}
	}
	d.cur = make([][]uint32, len(d.bases))
	d.next = make([][]uint32, len(d.bases))
	return d, nil
}

// Attrs returns the attributes of d.
func (d *DataSet) Attrs() []ir.Field {
	out := make([]ir.Field, len(d.attrs))
	for i := range d.attrs {
		out[i] = d.attrs[i].field
	}
	return out
}

// Len returns the number of committed instances.
func (d *DataSet) Len() int { return d.n }

// Written returns the number of instances
// written to the next buffer so far.
func (d *DataSet) Written() int { return d.written }

// Allocate prepares the next buffer to receive up
// to capacity instances, rounded up to whole lane
// groups, and discards anything written to it.
func (d *DataSet) Allocate(capacity int) {
	capacity = ints.AlignUp(capacity, vm.LaneCount)
	for i := range d.next {
		if cap(d.next[i]) < capacity {
			d.next[i] = make([]uint32, capacity)
		}
		d.next[i] = d.next[i][:cap(d.next[i])]
	}
	d.written = 0
}

// Swap commits the instances written to the
// next buffer; they replace the committed ones.
func (d *DataSet) Swap() {
	d.cur, d.next = d.next, d.cur
	d.n = d.written
	d.written = 0
	for i := range d.cur {
		d.cur[i] = d.cur[i][:d.n]
	}
	d.dead = nil
}

// Reset removes every instance.
func (d *DataSet) Reset() {
	d.n = 0
	d.written = 0
	for i := range d.cur {
		d.cur[i] = d.cur[i][:0]
	}
	d.dead = nil
}

// Append adds n zeroed instances to the committed
// buffer and returns the index of the first one.
func (d *DataSet) Append(n int) int {
	first := d.n
	for i := range d.cur {
		col := d.cur[i]
		if cap(col) < first+n {
			grown := make([]uint32, first+n, ints.AlignUp(first+n, vm.LaneCount))
			copy(grown, col)
			col = grown
		}
		d.cur[i] = col[:first+n]
		clear32(d.cur[i][first:])
	}
	d.n += n
	return first
}

func clear32(b []uint32) {
	for i := range b {
		b[i] = 0
	}
}

// Carry copies the committed instances to the next
// buffer after the instances already written.
// The next buffer must have room for them.
func (d *DataSet) Carry() {
	for i := range d.cur {
		copy(d.next[i][d.written:d.written+d.n], d.cur[i])
	}
	d.written += d.n
}

// Kill marks committed instance i for
// removal by the next Compact.
func (d *DataSet) Kill(i int) {
	if i < 0 || i >= d.n {
		panic(fmt.Sprintf("dataset %s: kill of instance %d of %d", d.Name, i, d.n))
	}
	if len(d.dead) == 0 {
		d.dead = ints.NewBitmap(d.n)
	}
	d.dead.Set(i)
}

// Compact removes the killed instances,
// keeping the others in order.
func (d *DataSet) Compact() {
	if d.dead.Count() == 0 {
		d.dead = nil
		return
	}
	j := 0
	for i := 0; i < d.n; i++ {
		if d.dead.Test(i) {
			continue
		}
		if i != j {
			for _, col := range d.cur {
				col[j] = col[i]
			}
		}
		j++
	}
	d.n = j
	for i := range d.cur {
		d.cur[i] = d.cur[i][:j]
	}
	d.dead = nil
}

// column returns the index of the
// column of component comp of name.
func (d *DataSet) column(name string, comp int) (int, error) {
	i, ok := d.byName[name]
	if !ok || comp < 0 || comp >= d.attrs[i].field.Type.Components() {
		return 0, fmt.Errorf("dataset %s: %s[%d]: %w", d.Name, name, comp, ErrNoAttribute)
	}
	return d.attrs[i].col + comp, nil
}

// Column returns the committed values of
// component comp of attribute name.
// The slice aliases the data set.
func (d *DataSet) Column(name string, comp int) ([]uint32, error) {
	c, err := d.column(name, comp)
	if err != nil {
		return nil, err
	}
	return d.cur[c], nil
}

func (d *DataSet) typed(name string, comp int, b ir.Base) ([]uint32, error) {
	c, err := d.column(name, comp)
	if err != nil {
		return nil, err
	}
	if d.bases[c] != b {
		return nil, fmt.Errorf("dataset %s: %s is %s, not %s", d.Name, name, d.bases[c], b)
	}
	return d.cur[c], nil
}

// Float32s returns a float view of a committed
// float attribute component.
func (d *DataSet) Float32s(name string, comp int) ([]float32, error) {
	col, err := d.typed(name, comp, ir.Float)
	if err != nil || len(col) == 0 {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&col[0])), len(col)), nil
}

// Int32s returns an integer view of a committed
// int attribute component.
func (d *DataSet) Int32s(name string, comp int) ([]int32, error) {
	col, err := d.typed(name, comp, ir.Int)
	if err != nil || len(col) == 0 {
		return nil, err
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&col[0])), len(col)), nil
}

// Bind points the registers of e at the data sets
// a program reads and writes: data set i of the
// program is sets[i]. Inputs read the committed
// instances starting at start; outputs are appended
// to the next buffers after the instances already
// written. Bind does not set e.N.
func Bind(p *vm.Program, sets []*DataSet, start int, e *vm.Exec) error {
	if len(sets) < p.DataSets {
		return fmt.Errorf("dataset: program uses %d data sets, have %d", p.DataSets, len(sets))
	}
	e.Inputs = resize(e.Inputs, len(p.Inputs))
	e.Outputs = resize(e.Outputs, len(p.Outputs))
	for k := range p.Inputs {
		a := &p.Inputs[k]
		d := sets[a.DataSet]
		c, err := d.column(a.Name, a.Component)
		if err != nil {
			return err
		}
		e.Inputs[k] = d.cur[c]
	}
	for k := range p.Outputs {
		a := &p.Outputs[k]
		d := sets[a.DataSet]
		c, err := d.column(a.Name, a.Component)
		if err != nil {
			return err
		}
		e.Outputs[k] = d.next[c]
	}
	if cap(e.DataSets) < len(sets) {
		e.DataSets = make([]vm.DataSetBinding, len(sets))
	}
	e.DataSets = e.DataSets[:len(sets)]
	for i, d := range sets {
		e.DataSets[i] = vm.DataSetBinding{InputOffset: start, Cursor: d.written}
	}
	return nil
}

// Commit records the instances written by an
// execution bound with Bind.
func Commit(sets []*DataSet, e *vm.Exec) {
	for i, d := range sets {
		d.written = e.DataSets[i].Cursor
	}
}

func resize(s [][]uint32, n int) [][]uint32 {
	if cap(s) < n {
		return make([][]uint32, n)
	}
	return s[:n]
}
