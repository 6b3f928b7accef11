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

// Package vm implements the bytecode
// interpreter that runs compiled scripts.
//
// A Program is a flat instruction stream over
// four register banks: temporaries, per-instance
// inputs, per-instance outputs and a constant
// table. Every instruction operates on a group of
// LaneCount lanes at once; the interpreter makes
// as many passes as needed to cover the instances
// of a call, and lanes past the last instance are
// computed but never written.
//
// Programs are produced by package compile, bound
// to external function implementations by package
// binder, and executed with BoundProgram.Execute,
// which is safe to call from multiple goroutines.
package vm
