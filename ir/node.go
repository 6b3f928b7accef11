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

// Package ir implements the typed expression graph
// that particle scripts are written in.
//
// All nodes of a Program live in one append-only
// arena and are referenced by Handle. A node is
// never modified once it has been appended, so
// a Program derived from another one may share
// its arena; statement order is an explicit
// slice of handles.
package ir

import (
	"fmt"
)

// Kind is the kind of a Node.
type Kind uint8

const (
	KVar      Kind = iota // variable reference
	KConst                // constant; one word per component
	KSwizzle              // component selection by flattened index
	KColumn               // matrix column dereference
	KGather               // dynamically indexed uniform matrix column
	KField                // struct field dereference
	KExpr                 // operator application
	KCall                 // intrinsic call
	KAssign               // masked assignment statement
	KCallStmt             // external call statement
	KIf                   // conditional statement
)

var kindNames = [...]string{
	KVar:      "var",
	KConst:    "const",
	KSwizzle:  "swizzle",
	KColumn:   "column",
	KGather:   "gather",
	KField:    "field",
	KExpr:     "expr",
	KCall:     "call",
	KAssign:   "assign",
	KCallStmt: "callstmt",
	KIf:       "if",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Statement reports whether nodes of
// this kind appear in a statement list.
func (k Kind) Statement() bool { return k >= KAssign }

// Handle references a Node in a Program arena.
type Handle int32

// Nil is the invalid handle.
const Nil Handle = -1

// Target is one output destination of an
// external call statement. The call's scalar
// outputs are distributed over the set
// components of the targets in order.
type Target struct {
	Var  VarID
	Mask Mask
}

// Node is one element of the expression graph.
// Nodes are immutable once added to a Program.
type Node struct {
	Kind Kind
	Type Type
	// Var is the variable of KVar, KGather and
	// KAssign nodes.
	Var VarID
	// Bits holds the components of a KConst.
	Bits []uint32
	// Comps holds the flattened component
	// indices selected by a KSwizzle.
	Comps []int
	Op    Op
	// Args holds the operands. For KAssign,
	// Args[0] is the assigned value; for KIf,
	// Args[0] is the condition; for KColumn,
	// Args[0] is the matrix and Args[1] the
	// column index; for KGather, Args[0] is
	// the column index.
	Args []Handle
	// Index is the field of a KField and
	// the first row of a KGather.
	Index int
	// Name and Cap identify the callee of KCall
	// and KCallStmt nodes. Intrinsics have no Cap.
	Name string
	Cap  string
	// Mask is the write mask of a KAssign.
	// The components of the assigned value are
	// stored into the set components in order.
	Mask Mask
	Outs []Target
	Then []Handle
	Else []Handle
}

// Keep names the boolean variable deciding
// whether an instance is written to a data set.
type Keep struct {
	DataSet int
	Var     VarID
}
