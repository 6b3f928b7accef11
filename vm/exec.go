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

package vm

import (
	"fmt"
	"sync"

	"github.com/SnellerInc/vecvm/internal/noise"
)

// DataSetBinding locates the instances of
// one data set that a call reads and writes.
type DataSetBinding struct {
	// InputOffset is the index of the first
	// instance read by the call.
	InputOffset int
	// OutputOffset is added to every
	// index produced by acquireindex.
	OutputOffset int
	// Cursor is the next index handed out by
	// acquireindex. It is advanced by the call.
	Cursor int
}

// Exec is one invocation of a bound program.
type Exec struct {
	// N is the number of instances.
	N int
	// Start is the global index of the
	// first instance; it feeds instanceidx
	// and random.
	Start int
	// Inputs and Outputs hold one buffer
	// per input and output register.
	Inputs   [][]uint32
	Outputs  [][]uint32
	DataSets []DataSetBinding
	// Constants is the table built by
	// Program.Constants.
	Constants []uint32
	Seed      uint64
}

// Config holds the execution options
// of a bound program.
type Config struct {
	Level OptimizationLevel
	// Noise is the table read by the noise
	// instructions; nil means a table with seed 0.
	Noise *noise.Table
}

// BoundProgram is a program with one implementation
// per call site. It may be executed concurrently.
type BoundProgram struct {
	*Program

	funcs []ExternalFunc
	noise *noise.Table
	width int
	level OptimizationLevel
	pool  sync.Pool
}

// NewBound validates p and attaches funcs,
// which must hold one function per call site.
func NewBound(p *Program, funcs []ExternalFunc, cfg *Config) (*BoundProgram, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(funcs) != len(p.CallSites) {
		return nil, fmt.Errorf("vm: %d functions for %d call sites", len(funcs), len(p.CallSites))
	}
	for i, fn := range funcs {
		if fn == nil {
			s := &p.CallSites[i]
			return nil, fmt.Errorf("vm: call site %d (%s::%s) has no implementation", i, s.Capability, s.Name)
		}
	}
	b := &BoundProgram{
		Program: p,
		funcs:   funcs,
		level:   OptimizationLevelDetect,
	}
	if cfg != nil {
		b.noise = cfg.Noise
		b.level = cfg.Level
	}
	if b.noise == nil {
		b.noise = noise.New(0)
	}
	if b.level == OptimizationLevelDetect {
		b.level = DetectOptimizationLevel()
	}
	b.width = LaneCount * b.level.Groups()
	return b, nil
}

// Width returns the number of lanes
// processed by one pass of the program.
func (b *BoundProgram) Width() int { return b.width }

func (b *BoundProgram) check(e *Exec) error {
	p := b.Program
	if e.N < 0 {
		return fmt.Errorf("vm: negative instance count %d", e.N)
	}
	if len(e.Inputs) != len(p.Inputs) || len(e.Outputs) != len(p.Outputs) {
		return fmt.Errorf("vm: have %d/%d buffers, want %d inputs and %d outputs",
			len(e.Inputs), len(e.Outputs), len(p.Inputs), len(p.Outputs))
	}
	if len(e.DataSets) < p.DataSets {
		return fmt.Errorf("vm: %d data set bindings, want %d", len(e.DataSets), p.DataSets)
	}
	if len(e.Constants) != p.ConstSlots() {
		return fmt.Errorf("vm: %d constants, want %d", len(e.Constants), p.ConstSlots())
	}
	if e.N == 0 {
		return nil
	}
	for i := range p.Inputs {
		a := &p.Inputs[i]
		need := e.DataSets[a.DataSet].InputOffset + e.N
		if a.NoAdvance {
			need = e.DataSets[a.DataSet].InputOffset + 1
		}
		if len(e.Inputs[i]) < need {
			return fmt.Errorf("vm: input %s: buffer holds %d values, want %d", a.String(), len(e.Inputs[i]), need)
		}
	}
	for i := range p.Outputs {
		a := &p.Outputs[i]
		d := &e.DataSets[a.DataSet]
		need := d.OutputOffset + d.Cursor + e.N
		if len(e.Outputs[i]) < need {
			return fmt.Errorf("vm: output %s: buffer holds %d values, want %d", a.String(), len(e.Outputs[i]), need)
		}
	}
	return nil
}

// Execute runs the program over e.N instances.
// The cursors of e.DataSets are advanced by the
// number of indices acquired.
func (b *BoundProgram) Execute(e *Exec) error {
	if err := b.check(e); err != nil {
		return err
	}
	if e.N == 0 {
		return nil
	}
	s, _ := b.pool.Get().(*state)
	if s == nil {
		s = newState(b.Program, b.width)
		s.funcs = b.funcs
		s.noise = b.noise
	}
	s.bind(e)
	s.execute()
	s.unbind()
	b.pool.Put(s)
	return nil
}
