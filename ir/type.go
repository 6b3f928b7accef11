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
	"math/bits"
	"strings"
)

// Base is the numeric base of a type.
type Base uint8

const (
	Void Base = iota
	Float
	Int
	Bool
	Struct
)

func (b Base) String() string {
	switch b {
	case Void:
		return "void"
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Struct:
		return "struct"
	default:
		return fmt.Sprintf("Base(%d)", uint8(b))
	}
}

// MaxComponents is the largest number of
// scalar components a single value may have.
const MaxComponents = 16

// Field is one member of a struct type.
// Fields are scalars or vectors.
type Field struct {
	Name string
	Type Type
}

// Type is the type of a value.
//
// Scalars have Vec == 1 and Cols == 0.
// Vectors have Vec > 1 and Cols == 0.
// Matrices have Cols > 0 columns of
// Vec rows each and are stored column-major.
// Structs have Base == Struct and a list of Fields.
type Type struct {
	Base   Base
	Vec    int
	Cols   int
	Name   string
	Fields []Field
}

func Scalar(b Base) Type { return Type{Base: b, Vec: 1} }

func Vector(b Base, n int) Type { return Type{Base: b, Vec: n} }

// Matrix returns a float matrix type with
// the given number of columns and rows.
func Matrix(cols, rows int) Type { return Type{Base: Float, Vec: rows, Cols: cols} }

// StructOf returns a struct type.
func StructOf(name string, fields ...Field) Type {
	return Type{Base: Struct, Name: name, Fields: fields}
}

var (
	VoidType  = Type{}
	FloatType = Scalar(Float)
	IntType   = Scalar(Int)
	BoolType  = Scalar(Bool)
)

func (t Type) IsScalar() bool {
	return t.Base != Void && t.Base != Struct && t.Vec == 1 && t.Cols == 0
}

func (t Type) IsVector() bool { return t.Base != Struct && t.Vec > 1 && t.Cols == 0 }

func (t Type) IsMatrix() bool { return t.Cols > 0 }

func (t Type) IsStruct() bool { return t.Base == Struct }

// Components returns the number of
// scalar components in a value of type t.
func (t Type) Components() int {
	switch {
	case t.Base == Void:
		return 0
	case t.Base == Struct:
		n := 0
		for i := range t.Fields {
			n += t.Fields[i].Type.Components()
		}
		return n
	case t.Cols > 0:
		return t.Cols * t.Vec
	default:
		return t.Vec
	}
}

// Column returns the type of one column of a matrix.
func (t Type) Column() Type { return Vector(t.Base, t.Vec) }

// ComponentBase returns the base type
// of the i-th flattened component.
func (t Type) ComponentBase(i int) Base {
	if t.Base != Struct {
		return t.Base
	}
	f, _ := t.FieldAt(i)
	return t.Fields[f].Type.Base
}

// FieldOffset returns the flattened component
// offset of field i.
func (t Type) FieldOffset(i int) int {
	n := 0
	for j := 0; j < i; j++ {
		n += t.Fields[j].Type.Components()
	}
	return n
}

// FieldIndex returns the index of the named
// field or -1 if it does not exist.
func (t Type) FieldIndex(name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// FieldAt returns the field that holds flattened
// component i and the component within that field.
func (t Type) FieldAt(i int) (field, sub int) {
	for j := range t.Fields {
		n := t.Fields[j].Type.Components()
		if i < n {
			return j, i
		}
		i -= n
	}
	return -1, -1
}

func (t Type) Equal(o Type) bool {
	if t.Base != o.Base || t.Vec != o.Vec || t.Cols != o.Cols || t.Name != o.Name || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
			return false
		}
	}
	return true
}

func (t Type) String() string {
	switch {
	case t.Base == Struct:
		return t.Name
	case t.Cols > 0:
		return fmt.Sprintf("%s%dx%d", t.Base, t.Cols, t.Vec)
	case t.Vec > 1:
		return fmt.Sprintf("%s%d", t.Base, t.Vec)
	default:
		return t.Base.String()
	}
}

// Mask is a write mask over the
// flattened components of a variable.
type Mask uint16

// MaskAll returns a mask covering n components.
func MaskAll(n int) Mask { return Mask(1<<n - 1) }

// MaskOf returns a mask with the given components set.
func MaskOf(comps ...int) Mask {
	var m Mask
	for _, c := range comps {
		m |= 1 << c
	}
	return m
}

func (m Mask) Count() int { return bits.OnesCount16(uint16(m)) }

func (m Mask) Has(i int) bool { return m&(1<<i) != 0 }

// Bits returns the set components in ascending order.
func (m Mask) Bits() []int {
	out := make([]int, 0, m.Count())
	for w := uint16(m); w != 0; w &= w - 1 {
		out = append(out, bits.TrailingZeros16(w))
	}
	return out
}

// Single returns the component of a
// one-component mask, or -1.
func (m Mask) Single() int {
	if m.Count() != 1 {
		return -1
	}
	return bits.TrailingZeros16(uint16(m))
}

const swizzleLetters = "xyzw"

// compname formats component i of a
// value with n components.
func compname(i, n int) string {
	if n <= 4 {
		return swizzleLetters[i : i+1]
	}
	return fmt.Sprintf("[%d]", i)
}

// Format returns the mask in swizzle notation
// for a value with n components.
func (m Mask) Format(n int) string {
	var sb strings.Builder
	for _, b := range m.Bits() {
		sb.WriteString(compname(b, n))
	}
	return sb.String()
}
