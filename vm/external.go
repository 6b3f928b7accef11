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

// ExternalFunc implements one call site.
// It is invoked once per pass with up to
// the pass width of active lanes.
type ExternalFunc func(c *CallContext)

// CallContext carries the operands of one
// external call. The slices are only valid
// for the duration of the call.
type CallContext struct {
	Site *CallSite
	// N is the number of active lanes.
	N int

	ins  [][]uint32
	outs [][]uint32
}

// In returns the N lanes of register input i.
// For a constant input it returns a single
// element; see ConstIn.
func (c *CallContext) In(i int) []uint32 { return c.ins[i] }

// ConstIn returns the value of constant input i.
func (c *CallContext) ConstIn(i int) uint32 { return c.ins[i][0] }

// Out returns the N lanes of output i.
func (c *CallContext) Out(i int) []uint32 { return c.outs[i] }

// NewCallContext returns a context for invoking
// an ExternalFunc outside of the interpreter,
// with n active lanes. Constant inputs of site
// must be passed as single-element slices.
func NewCallContext(site *CallSite, n int, ins, outs [][]uint32) *CallContext {
	return &CallContext{Site: site, N: n, ins: ins, outs: outs}
}
