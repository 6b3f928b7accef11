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

// Package compile translates scripts into
// bytecode for package vm.
//
// Compile first lowers a program to scalar
// assignments (see package lower) and then emits
// one instruction per operator in statement order.
// Every scalar variable component is bound to the
// register or constant slot holding its current
// value; registers are reference counted and
// released after the last read of the components
// bound to them. Inputs are loaded on first use
// and outputs are written once, after the body,
// through the index acquired for their data set.
package compile

import (
	"errors"
	"fmt"
	"io"

	"github.com/SnellerInc/vecvm/internal/fmath"
	"github.com/SnellerInc/vecvm/ints"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/lower"
	"github.com/SnellerInc/vecvm/vm"
)

// ErrRegisterPressure is returned when more
// values are live at once than there are
// temporary registers.
var ErrRegisterPressure = errors.New("too many live values")

// Logger is the interface used to
// report compilation progress.
type Logger interface {
	Printf(f string, args ...any)
}

type options struct {
	logger    Logger
	maxPasses int
	dump      io.Writer
}

// Option configures Compile.
type Option func(o *options)

// WithLogger reports lowering passes
// and code statistics to l.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxPasses bounds the number of
// iterations of the lowering passes.
func WithMaxPasses(n int) Option {
	return func(o *options) { o.maxPasses = n }
}

// WithDumpIR writes the lowered program to w.
func WithDumpIR(w io.Writer) Option {
	return func(o *options) { o.dump = w }
}

// Compile lowers p and generates its bytecode.
// Errors are of type *lower.CompileError.
func Compile(p *ir.Program, opts ...Option) (*vm.Program, error) {
	o := options{maxPasses: lower.DefaultMaxPasses}
	for _, fn := range opts {
		fn(&o)
	}
	lopts := []lower.Option{lower.WithMaxPasses(o.maxPasses)}
	if o.logger != nil {
		lopts = append(lopts, lower.WithLogger(o.logger))
	}
	lp, err := lower.Lower(p, lopts...)
	if err != nil {
		return nil, err
	}
	if o.dump != nil {
		io.WriteString(o.dump, lp.String())
	}
	g := newGen(lp)
	if err := g.program(); err != nil {
		var ce *lower.CompileError
		if !errors.As(err, &ce) {
			err = &lower.CompileError{Pass: "codegen", Err: err}
		}
		return nil, err
	}
	if err := g.out.Validate(); err != nil {
		return nil, &lower.CompileError{Pass: "codegen", Err: err}
	}
	if o.logger != nil {
		o.logger.Printf("compile: %d bytes, %d temps, %d inputs, %d outputs, %d constants",
			len(g.out.Code), g.out.NumTemps, len(g.out.Inputs), len(g.out.Outputs), g.out.ConstSlots())
	}
	return g.out, nil
}

// slot is one scalar component of a variable.
type slot struct {
	v ir.VarID
	c int
}

type attrKey struct {
	ds        int
	name      string
	comp      int
	noadvance bool
}

type gen struct {
	p   *ir.Program
	out *vm.Program
	asm vm.Assembler

	used ints.Bitmap
	// refs counts the slots bound to each register
	refs []int
	vals map[slot]vm.Operand
	// memo holds the value of every expression
	// node computed by the current statement
	memo    map[ir.Handle]vm.Operand
	scratch []vm.Operand

	uniforms map[string]int
	literals map[uint32]int
	inputs   map[attrKey]int

	lastRead map[slot]int
	pinned   map[slot]bool
}

func newGen(p *ir.Program) *gen {
	return &gen{
		p:        p,
		out:      &vm.Program{},
		used:     ints.NewBitmap(vm.MaxTemps),
		refs:     make([]int, vm.MaxTemps),
		vals:     make(map[slot]vm.Operand),
		uniforms: make(map[string]int),
		literals: make(map[uint32]int),
		inputs:   make(map[attrKey]int),
		lastRead: make(map[slot]int),
		pinned:   make(map[slot]bool),
	}
}

func (g *gen) errorf(h ir.Handle, f string, args ...any) error {
	ce := &lower.CompileError{Pass: "codegen", Err: fmt.Errorf(f, args...)}
	if h != ir.Nil {
		ce.Construct = g.p.Format(h)
	}
	return ce
}

func (g *gen) program() error {
	g.layout()
	for i, h := range g.p.Body {
		g.memo = make(map[ir.Handle]vm.Operand)
		if err := g.stmt(h); err != nil {
			return err
		}
		for _, o := range g.scratch {
			g.release(o)
		}
		g.scratch = g.scratch[:0]
		g.expire(h, i)
	}
	if err := g.outputs(); err != nil {
		return err
	}
	g.out.Code = g.asm.Finish()
	return nil
}

// layout assigns the data sets, the uniform
// slots and the liveness of every component.
func (g *gen) layout() {
	p := g.p
	ds := -1
	for i := range p.Vars {
		v := p.Var(ir.VarID(i))
		switch v.Mode {
		case ir.Input, ir.Output:
			ds = ints.Max(ds, v.DataSet)
		}
		if v.Mode == ir.Output {
			for c := 0; c < v.Type.Components(); c++ {
				g.pinned[slot{ir.VarID(i), c}] = true
			}
		}
	}
	for _, k := range p.Keeps {
		ds = ints.Max(ds, k.DataSet)
		g.pinned[slot{k.Var, 0}] = true
	}
	g.out.DataSets = ds + 1

	// uniforms are laid out in order of first
	// appearance of a variable that is read
	read := make(map[ir.VarID]bool)
	for i, h := range p.Body {
		for _, a := range p.Node(h).Args {
			p.Reads(a, func(v ir.VarID, c int) {
				read[v] = true
				g.lastRead[slot{v, c}] = i
			})
		}
		g.gathers(h, read)
	}
	next := vm.FirstUniformSlot
	for i := range p.Vars {
		v := p.Var(ir.VarID(i))
		if !v.Mode.Constant() || !read[ir.VarID(i)] {
			continue
		}
		if _, ok := g.uniforms[v.Attr]; ok {
			continue
		}
		count := 0
		for j := range p.Vars {
			w := p.Var(ir.VarID(j))
			if w.Mode.Constant() && w.Attr == v.Attr {
				count = ints.Max(count, w.Offset+w.Type.Components())
			}
		}
		g.uniforms[v.Attr] = next
		g.out.Uniforms = append(g.out.Uniforms, vm.Uniform{Name: v.Attr, Slot: next, Count: count})
		next += count
	}
}

// gathers marks the uniforms read by the
// gathers in the arguments of statement h.
func (g *gen) gathers(h ir.Handle, read map[ir.VarID]bool) {
	var visit func(h ir.Handle)
	visit = func(h ir.Handle) {
		n := g.p.Node(h)
		if n.Kind == ir.KGather {
			read[n.Var] = true
		}
		for _, a := range n.Args {
			visit(a)
		}
	}
	for _, a := range g.p.Node(h).Args {
		visit(a)
	}
}

// expire unbinds the components that are not
// read after statement i.
func (g *gen) expire(h ir.Handle, i int) {
	n := g.p.Node(h)
	drop := func(s slot) {
		if !g.pinned[s] && g.lastRead[s] <= i {
			g.unbind(s)
		}
	}
	for _, a := range n.Args {
		g.p.Reads(a, func(v ir.VarID, c int) { drop(slot{v, c}) })
	}
	switch n.Kind {
	case ir.KAssign:
		drop(slot{n.Var, n.Mask.Single()})
	case ir.KCallStmt:
		for _, o := range n.Outs {
			drop(slot{o.Var, o.Mask.Single()})
		}
	}
}

func (g *gen) alloc(h ir.Handle) (vm.Operand, error) {
	r := g.used.LowestClear(vm.MaxTemps)
	if r < 0 {
		return vm.Operand{}, g.errorf(h, "%w", ErrRegisterPressure)
	}
	g.used.Set(r)
	if r+1 > g.out.NumTemps {
		g.out.NumTemps = r + 1
	}
	o := vm.Temp(r)
	g.scratch = append(g.scratch, o)
	return o, nil
}

// release frees o if it is a register
// that no component is bound to.
func (g *gen) release(o vm.Operand) {
	if o.Class == vm.ClassTemp && g.refs[o.Index] == 0 {
		g.used.Clear(int(o.Index))
	}
}

func (g *gen) bind(s slot, o vm.Operand) {
	if o.Class == vm.ClassTemp {
		g.refs[o.Index]++
	}
	g.unbind(s)
	g.vals[s] = o
}

func (g *gen) unbind(s slot) {
	o, ok := g.vals[s]
	if !ok {
		return
	}
	delete(g.vals, s)
	if o.Class == vm.ClassTemp {
		g.refs[o.Index]--
		g.release(o)
	}
}

// literal returns the constant slot holding w.
func (g *gen) literal(w uint32) vm.Operand {
	if w == 0 {
		return vm.Const(vm.ZeroSlot)
	}
	i, ok := g.literals[w]
	if !ok {
		i = len(g.out.Literals)
		g.literals[w] = i
		g.out.Literals = append(g.out.Literals, w)
	}
	return vm.Const(g.out.LiteralSlot(0) + i)
}

// input returns the input register of one
// attribute component, adding it if needed.
func (g *gen) input(k attrKey) int {
	i, ok := g.inputs[k]
	if !ok {
		i = len(g.out.Inputs)
		g.inputs[k] = i
		g.out.Inputs = append(g.out.Inputs, vm.Attr{DataSet: k.ds, Name: k.name, Component: k.comp, NoAdvance: k.noadvance})
	}
	return i
}

// load emits a read of one input component.
func (g *gen) load(h ir.Handle, v *ir.Var, c int) (vm.Operand, error) {
	k := attrKey{ds: v.DataSet, name: v.Attr, comp: v.Offset + c, noadvance: v.NoAdvance}
	dst, err := g.alloc(h)
	if err != nil {
		return dst, err
	}
	op := vm.OpInput
	if v.NoAdvance {
		op = vm.OpInputNoAdvance
	}
	g.asm.Emit(op, dst, vm.Input(g.input(k)))
	return dst, nil
}

// passthrough returns the value of an output
// component that was never assigned: the input
// covering the same attribute component, or zero.
func (g *gen) passthrough(h ir.Handle, v *ir.Var, c int) (vm.Operand, error) {
	comp := v.Offset + c
	for i := range g.p.Vars {
		in := g.p.Var(ir.VarID(i))
		if in.Mode != ir.Input || in.DataSet != v.DataSet || in.Attr != v.Attr {
			continue
		}
		if comp >= in.Offset && comp < in.Offset+in.Type.Components() {
			return g.read(h, slot{ir.VarID(i), comp - in.Offset})
		}
	}
	return vm.Const(vm.ZeroSlot), nil
}

// read returns the operand holding s.
func (g *gen) read(h ir.Handle, s slot) (vm.Operand, error) {
	if o, ok := g.vals[s]; ok {
		return o, nil
	}
	v := g.p.Var(s.v)
	switch v.Mode {
	case ir.Uniform, ir.Param:
		return vm.Const(g.uniforms[v.Attr] + v.Offset + s.c), nil
	case ir.Input:
		o, err := g.load(h, v, s.c)
		if err != nil {
			return o, err
		}
		g.bind(s, o)
		return o, nil
	case ir.Output:
		o, err := g.passthrough(h, v, s.c)
		if err != nil {
			return o, err
		}
		g.bind(s, o)
		return o, nil
	}
	return vm.Const(vm.ZeroSlot), nil
}

func (g *gen) stmt(h ir.Handle) error {
	n := g.p.Node(h)
	switch n.Kind {
	case ir.KAssign:
		o, err := g.expr(n.Args[0])
		if err != nil {
			return err
		}
		g.bind(slot{n.Var, n.Mask.Single()}, o)
		return nil
	case ir.KCallStmt:
		return g.call(h, n)
	}
	return g.errorf(h, "unexpected %s statement", n.Kind)
}

func (g *gen) call(h ir.Handle, n *ir.Node) error {
	site := vm.CallSite{
		Capability: n.Cap,
		Name:       n.Name,
		NumIn:      len(n.Args),
		NumOut:     len(n.Outs),
	}
	ins := make([]vm.Operand, len(n.Args))
	for i, a := range n.Args {
		o, err := g.expr(a)
		if err != nil {
			return err
		}
		ins[i] = o
		site.ConstIn = append(site.ConstIn, o.Class == vm.ClassConst)
	}
	outs := make([]vm.Operand, len(n.Outs))
	for i := range n.Outs {
		o, err := g.alloc(h)
		if err != nil {
			return err
		}
		outs[i] = o
	}
	g.asm.EmitCall(len(g.out.CallSites), ins, outs)
	g.out.CallSites = append(g.out.CallSites, site)
	for i, t := range n.Outs {
		g.bind(slot{t.Var, t.Mask.Single()}, outs[i])
	}
	return nil
}

// outputs acquires the write index of every
// data set and writes every output component.
func (g *gen) outputs() error {
	p := g.p
	type write struct {
		key attrKey
		src slot
	}
	var writes []write
	pos := make(map[attrKey]int)
	for i := range p.Vars {
		v := p.Var(ir.VarID(i))
		if v.Mode != ir.Output {
			continue
		}
		for c := 0; c < v.Type.Components(); c++ {
			k := attrKey{ds: v.DataSet, name: v.Attr, comp: v.Offset + c}
			w := write{key: k, src: slot{ir.VarID(i), c}}
			// the last variable covering
			// a component decides its value
			if j, ok := pos[k]; ok {
				writes[j] = w
				continue
			}
			pos[k] = len(writes)
			writes = append(writes, w)
		}
	}
	index := make([]vm.Operand, g.out.DataSets)
	for ds := range index {
		kv, ok := p.Keep(ds)
		if !ok && !g.writes(ds) {
			continue
		}
		var keep vm.Operand
		if ok {
			o, err := g.read(ir.Nil, slot{kv, 0})
			if err != nil {
				return err
			}
			keep = o
		} else {
			keep = g.literal(fmath.True)
		}
		dst, err := g.alloc(ir.Nil)
		if err != nil {
			return err
		}
		g.asm.Emit(vm.OpAcquireIndex, dst, vm.Imm(ds), keep)
		index[ds] = dst
	}
	for _, w := range writes {
		val, err := g.read(ir.Nil, w.src)
		if err != nil {
			return err
		}
		k := len(g.out.Outputs)
		g.out.Outputs = append(g.out.Outputs, vm.Attr{DataSet: w.key.ds, Name: w.key.name, Component: w.key.comp})
		g.asm.Emit(vm.OpOutput, vm.Output(k), index[w.key.ds], val)
	}
	return nil
}

// writes reports whether the program
// has an output in data set ds.
func (g *gen) writes(ds int) bool {
	for i := range g.p.Vars {
		v := g.p.Var(ir.VarID(i))
		if v.Mode == ir.Output && v.DataSet == ds {
			return true
		}
	}
	return false
}
