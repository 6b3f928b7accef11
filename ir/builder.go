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
	"math"
)

// Builder constructs a well-typed Program.
//
// The first error encountered is recorded and
// returned by Program; after an error every
// expression method returns Nil.
type Builder struct {
	prog  Program
	err   error
	stack [][]Handle
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{stack: [][]Handle{nil}}
}

func (b *Builder) fail(f string, args ...any) Handle {
	if b.err == nil {
		b.err = fmt.Errorf(f, args...)
	}
	return Nil
}

func (b *Builder) ok(args ...Handle) bool {
	if b.err != nil {
		return false
	}
	for _, a := range args {
		if a == Nil {
			return false
		}
	}
	return true
}

func (b *Builder) emit(h Handle) {
	top := len(b.stack) - 1
	b.stack[top] = append(b.stack[top], h)
}

func checkVarType(t Type) error {
	switch {
	case t.Base == Void:
		return fmt.Errorf("void variable")
	case t.Components() > MaxComponents:
		return fmt.Errorf("type %s has more than %d components", t, MaxComponents)
	case t.IsStruct():
		if len(t.Fields) == 0 {
			return fmt.Errorf("empty struct %s", t.Name)
		}
		for _, f := range t.Fields {
			if !plain(f.Type) || f.Type.IsMatrix() {
				return fmt.Errorf("struct %s: field %s has type %s", t.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// NewVar adds an arbitrary variable.
func (b *Builder) NewVar(v Var) VarID {
	if err := checkVarType(v.Type); err != nil {
		b.fail("variable %s: %w", v.Name, err)
	}
	if v.Type.IsStruct() && v.Mode != Temp {
		b.fail("variable %s: %s variables cannot be structs", v.Name, v.Mode)
	}
	return b.prog.NewVar(v)
}

// Temp declares a temporary.
func (b *Builder) Temp(name string, t Type) VarID {
	return b.NewVar(Var{Name: name, Type: t, Mode: Temp})
}

// Input declares an attribute read from data set ds.
func (b *Builder) Input(name string, t Type, ds int) VarID {
	return b.NewVar(Var{Name: name, Type: t, Mode: Input, DataSet: ds})
}

// Output declares an attribute written to data set ds.
func (b *Builder) Output(name string, t Type, ds int) VarID {
	return b.NewVar(Var{Name: name, Type: t, Mode: Output, DataSet: ds})
}

// Uniform declares a per-execution constant.
func (b *Builder) Uniform(name string, t Type) VarID {
	return b.NewVar(Var{Name: name, Type: t, Mode: Uniform})
}

// Param declares a script parameter.
func (b *Builder) Param(name string, t Type) VarID {
	return b.NewVar(Var{Name: name, Type: t, Mode: Param})
}

func (b *Builder) Ref(v VarID) Handle {
	if b.err != nil {
		return Nil
	}
	if v < 0 || int(v) >= len(b.prog.Vars) {
		return b.fail("no variable %d", v)
	}
	return b.prog.Ref(v)
}

func (b *Builder) Float(f float32) Handle {
	if b.err != nil {
		return Nil
	}
	return b.prog.Float(f)
}

func (b *Builder) Int(i int32) Handle {
	if b.err != nil {
		return Nil
	}
	return b.prog.Int(i)
}

func (b *Builder) Bool(v bool) Handle {
	if b.err != nil {
		return Nil
	}
	return b.prog.Bool(v)
}

// Vec returns a float vector constant.
func (b *Builder) Vec(fs ...float32) Handle {
	if b.err != nil {
		return Nil
	}
	bits := make([]uint32, len(fs))
	for i := range fs {
		bits[i] = math.Float32bits(fs[i])
	}
	if len(fs) == 1 {
		return b.prog.Const(FloatType, bits...)
	}
	return b.prog.Const(Vector(Float, len(fs)), bits...)
}

// Const returns a constant of type t.
func (b *Builder) Const(t Type, bits ...uint32) Handle {
	if b.err != nil {
		return Nil
	}
	if !plain(t) || len(bits) != t.Components() {
		return b.fail("constant %s with %d components", t, len(bits))
	}
	return b.prog.Const(t, bits...)
}

// Swizzle selects flattened components of x.
func (b *Builder) Swizzle(x Handle, comps ...int) Handle {
	if !b.ok(x) {
		return Nil
	}
	if _, err := swizzleType(b.prog.Type(x), comps); err != nil {
		return b.fail("swizzle: %w", err)
	}
	return b.prog.Swizzle(x, comps...)
}

// Field selects the named field of struct value x.
func (b *Builder) Field(x Handle, name string) Handle {
	if !b.ok(x) {
		return Nil
	}
	t := b.prog.Type(x)
	f := t.FieldIndex(name)
	if !t.IsStruct() || f < 0 {
		return b.fail("%s has no field %q", t, name)
	}
	return b.prog.Field(x, f)
}

// Column selects column idx of matrix m.
func (b *Builder) Column(m, idx Handle) Handle {
	if !b.ok(m, idx) {
		return Nil
	}
	t, it := b.prog.Type(m), b.prog.Type(idx)
	if !t.IsMatrix() || !it.IsScalar() || it.Base != Int {
		return b.fail("cannot index %s by %s", t, it)
	}
	if k, ok := b.prog.ConstIndex(idx); ok && (k < 0 || k >= t.Cols) {
		return b.fail("column %d out of range for %s", k, t)
	}
	return b.prog.Column(m, idx)
}

// Expr applies op to args.
func (b *Builder) Expr(op Op, args ...Handle) Handle {
	if !b.ok(args...) {
		return Nil
	}
	if op == OpConstruct {
		return b.fail("construct requires a type")
	}
	if _, err := ResultType(op, Type{}, b.prog.types(args)); err != nil {
		return b.fail("%w", err)
	}
	return b.prog.Expr(op, args...)
}

// Construct builds a vector or matrix of
// type t from the components of args.
func (b *Builder) Construct(t Type, args ...Handle) Handle {
	if !b.ok(args...) {
		return Nil
	}
	if _, err := ResultType(OpConstruct, t, b.prog.types(args)); err != nil {
		return b.fail("%w", err)
	}
	return b.prog.Construct(t, args...)
}

// Call applies an intrinsic.
func (b *Builder) Call(name string, args ...Handle) Handle {
	if !b.ok(args...) {
		return Nil
	}
	if _, err := IntrinsicType(name, b.prog.types(args)); err != nil {
		return b.fail("%w", err)
	}
	return b.prog.Call(name, args...)
}

func (b *Builder) Add(x, y Handle) Handle       { return b.Expr(OpAdd, x, y) }
func (b *Builder) Sub(x, y Handle) Handle       { return b.Expr(OpSub, x, y) }
func (b *Builder) Mul(x, y Handle) Handle       { return b.Expr(OpMul, x, y) }
func (b *Builder) Div(x, y Handle) Handle       { return b.Expr(OpDiv, x, y) }
func (b *Builder) Gt(x, y Handle) Handle        { return b.Expr(OpGT, x, y) }
func (b *Builder) Lt(x, y Handle) Handle        { return b.Expr(OpLT, x, y) }
func (b *Builder) Select(c, x, y Handle) Handle { return b.Expr(OpSelect, c, x, y) }
func (b *Builder) Dot(x, y Handle) Handle       { return b.Expr(OpDot, x, y) }
func (b *Builder) MatMul(x, y Handle) Handle    { return b.Expr(OpMatMul, x, y) }

// DeltaTime returns the tick delta time.
func (b *Builder) DeltaTime() Handle { return b.Expr(OpDeltaTime) }

// InstanceIndex returns the global index
// of the executing instance.
func (b *Builder) InstanceIndex() Handle { return b.Expr(OpInstanceIndex) }

func (b *Builder) writable(v VarID) bool {
	if v < 0 || int(v) >= len(b.prog.Vars) {
		b.fail("no variable %d", v)
		return false
	}
	if m := b.prog.Vars[v].Mode; !m.Writable() {
		b.fail("cannot assign %s variable %s", m, b.prog.Vars[v].Name)
		return false
	}
	return true
}

// Assign stores rhs into every component of v.
func (b *Builder) Assign(v VarID, rhs Handle) {
	if !b.ok(rhs) || !b.writable(v) {
		return
	}
	b.AssignMask(v, MaskAll(b.prog.Vars[v].Type.Components()), rhs)
}

// AssignMask stores the components of rhs into
// the components of v selected by mask.
func (b *Builder) AssignMask(v VarID, mask Mask, rhs Handle) {
	if !b.ok(rhs) || !b.writable(v) {
		return
	}
	vt, rt := b.prog.Vars[v].Type, b.prog.Type(rhs)
	n := vt.Components()
	switch {
	case mask == 0 || mask&^MaskAll(n) != 0:
		b.fail("mask %b out of range for %s", mask, vt)
		return
	case rt.Components() != mask.Count():
		b.fail("assigning %s to %d components of %s", rt, mask.Count(), b.prog.Vars[v].Name)
		return
	case mask == MaskAll(n) && (vt.IsStruct() || vt.IsMatrix() || rt.IsStruct() || rt.IsMatrix()):
		if !vt.Equal(rt) {
			b.fail("assigning %s to %s", rt, vt)
			return
		}
	default:
		if rt.IsStruct() {
			b.fail("assigning %s to part of %s", rt, vt)
			return
		}
		for _, c := range mask.Bits() {
			if vt.ComponentBase(c) != rt.Base {
				b.fail("assigning %s to %s component %d of %s", rt, vt.ComponentBase(c), c, vt)
				return
			}
		}
	}
	b.emit(b.prog.Assign(v, mask, rhs))
}

// AssignField stores rhs into the named field of
// struct variable v.
func (b *Builder) AssignField(v VarID, field string, rhs Handle) {
	if !b.ok(rhs) || !b.writable(v) {
		return
	}
	t := b.prog.Vars[v].Type
	f := t.FieldIndex(field)
	if !t.IsStruct() || f < 0 {
		b.fail("%s has no field %q", t, field)
		return
	}
	off := t.FieldOffset(f)
	n := t.Fields[f].Type.Components()
	b.AssignMask(v, MaskAll(n)<<off, rhs)
}

// AssignColumn stores rhs into constant
// column k of matrix variable v.
func (b *Builder) AssignColumn(v VarID, k int, rhs Handle) {
	if !b.ok(rhs) || !b.writable(v) {
		return
	}
	t := b.prog.Vars[v].Type
	if !t.IsMatrix() || k < 0 || k >= t.Cols {
		b.fail("no column %d in %s", k, t)
		return
	}
	b.AssignMask(v, MaskAll(t.Vec)<<(k*t.Vec), rhs)
}

// CallExternal calls function name of capability
// cap, storing its scalar outputs in outs.
func (b *Builder) CallExternal(cap, name string, outs []Target, args ...Handle) {
	if !b.ok(args...) {
		return
	}
	if cap == "" {
		b.fail("external call %s without capability", name)
		return
	}
	for _, a := range args {
		if t := b.prog.Type(a); !plain(t) || t.IsMatrix() {
			b.fail("%s::%s: invalid argument type %s", cap, name, t)
			return
		}
	}
	for _, o := range outs {
		if !b.writable(o.Var) {
			return
		}
		vt := b.prog.Vars[o.Var].Type
		if o.Mask == 0 || o.Mask&^MaskAll(vt.Components()) != 0 {
			b.fail("%s::%s: bad output mask %b for %s", cap, name, o.Mask, vt)
			return
		}
	}
	b.emit(b.prog.CallStmt(cap, name, outs, args...))
}

// If emits a conditional; then and els populate
// the branches and els may be nil.
func (b *Builder) If(cond Handle, then, els func()) {
	if !b.ok(cond) {
		return
	}
	if t := b.prog.Type(cond); !t.IsScalar() || t.Base != Bool {
		b.fail("if condition has type %s", t)
		return
	}
	run := func(fn func()) []Handle {
		b.stack = append(b.stack, nil)
		if fn != nil {
			fn()
		}
		top := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		return top
	}
	t := run(then)
	e := run(els)
	if b.err != nil {
		return
	}
	b.emit(b.prog.If(cond, t, e))
}

// Keep makes the boolean variable v decide
// whether an instance is written to data set ds.
func (b *Builder) Keep(ds int, v VarID) {
	if !b.writable(v) {
		return
	}
	if t := b.prog.Vars[v].Type; !t.IsScalar() || t.Base != Bool {
		b.fail("keep variable %s has type %s", b.prog.Vars[v].Name, t)
		return
	}
	if _, ok := b.prog.Keep(ds); ok {
		b.fail("data set %d already has a keep variable", ds)
		return
	}
	b.prog.Keeps = append(b.prog.Keeps, Keep{DataSet: ds, Var: v})
}

// Err returns the first recorded error.
func (b *Builder) Err() error { return b.err }

// Program returns the built program.
func (b *Builder) Program() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) != 1 {
		return nil, fmt.Errorf("unterminated branch")
	}
	p := b.prog
	p.Body = b.stack[0]
	return &p, nil
}
