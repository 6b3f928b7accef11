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

// Mode is the storage mode of a variable.
type Mode uint8

const (
	// Temp is script-local storage.
	// Temporaries read before they are
	// written read as zero.
	Temp Mode = iota
	// Input is a per-instance attribute read
	// from a data set.
	Input
	// Output is a per-instance attribute written
	// to a data set. Components that are never
	// assigned pass through the Input variable
	// covering the same attribute component,
	// or are written as zero.
	Output
	// Uniform is a read-only value supplied by
	// the caller once per execution.
	//
	// Uniform matrices are column-major:
	// column c, row r of a matrix with R rows
	// is uniform component c*R + r.
	Uniform
	// Param is a read-only script parameter.
	// It is stored exactly like a Uniform.
	Param
)

func (m Mode) String() string {
	switch m {
	case Temp:
		return "temp"
	case Input:
		return "input"
	case Output:
		return "output"
	case Uniform:
		return "uniform"
	case Param:
		return "param"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Constant reports whether variables of
// this mode live in the constant table.
func (m Mode) Constant() bool { return m == Uniform || m == Param }

// Writable reports whether variables of
// this mode may be assigned.
func (m Mode) Writable() bool { return m == Temp || m == Output }

// VarID identifies a variable within a Program.
type VarID int32

// Var is a named storage location.
type Var struct {
	Name string
	Type Type
	Mode Mode
	// DataSet is the data set index
	// of Input and Output variables.
	DataSet int
	// Attr is the attribute or uniform name.
	// Several variables may share one Attr
	// at different Offsets.
	Attr string
	// Offset is the first attribute
	// component covered by the variable.
	Offset int
	// NoAdvance makes every instance read
	// the first instance of the bound range.
	NoAdvance bool
}

func (v *Var) String() string {
	s := fmt.Sprintf("%s %s %s", v.Mode, v.Type, v.Name)
	switch v.Mode {
	case Input, Output:
		s += fmt.Sprintf(" @%d:%s+%d", v.DataSet, v.Attr, v.Offset)
		if v.NoAdvance {
			s += " noadvance"
		}
	case Uniform, Param:
		if v.Attr != v.Name {
			s += " @" + v.Attr
		}
	}
	return s
}
