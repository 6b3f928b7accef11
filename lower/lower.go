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

// Package lower rewrites a vector, matrix, struct
// and branch program into an equivalent program
// of scalar assignments that package compile can
// translate instruction by instruction.
//
// Lowering is a sequence of passes run repeatedly
// until none of them changes the program. Passes
// never modify their input; each returns a program
// derived from it (see ir.Program.Derive) and
// whether anything changed.
package lower

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/vecvm/ir"
)

var (
	// ErrDynamicIndex is returned for a non-constant
	// column index into a matrix that is not a uniform.
	ErrDynamicIndex = errors.New("non-constant column index of a non-uniform matrix")
	// ErrConditionalCall is returned for an external
	// call statement inside a branch.
	ErrConditionalCall = errors.New("external call inside a branch")
	// ErrInvariant is returned when the lowered
	// program is not fully scalar.
	ErrInvariant = errors.New("construct survived lowering")
	// ErrNoFixedPoint is returned when the passes keep
	// changing the program after the maximum number
	// of iterations.
	ErrNoFixedPoint = errors.New("lowering did not reach a fixed point")
)

// CompileError is the error returned for a
// program that cannot be lowered or compiled.
type CompileError struct {
	// Pass is the name of the failing pass.
	Pass string
	// Construct is the text of the
	// offending node, if there is one.
	Construct string
	Err       error
}

func (c *CompileError) Error() string {
	if c.Construct == "" {
		return fmt.Sprintf("%s: %s", c.Pass, c.Err)
	}
	return fmt.Sprintf("%s: %s: %s", c.Pass, c.Err, c.Construct)
}

func (c *CompileError) Unwrap() error { return c.Err }

func errorAt(pass string, p *ir.Program, h ir.Handle, err error) error {
	ce := &CompileError{Pass: pass, Err: err}
	if h != ir.Nil {
		ce.Construct = p.Format(h)
	}
	return ce
}

// Logger is the interface used to report
// the progress of lowering.
// It is satisfied by *log.Logger.
type Logger interface {
	Printf(f string, args ...any)
}

// Pass is one lowering step.
type Pass struct {
	Name string
	Run  func(p *ir.Program) (*ir.Program, bool, error)
}

// Passes lists the passes in the order Lower runs them.
var Passes = []Pass{
	{"matrices", Matrices},
	{"branches", Branches},
	{"scalarize", Scalarize},
	{"merge", Merge},
	{"propagate", Propagate},
	{"deadcode", DeadCode},
}

// DefaultMaxPasses is the default bound on the number
// of times the pass list is run.
const DefaultMaxPasses = 64

type options struct {
	logger    Logger
	maxPasses int
}

// Option configures Lower.
type Option func(o *options)

// WithLogger makes Lower report every pass
// that changes the program.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxPasses bounds the number of times
// the pass list is run.
func WithMaxPasses(n int) Option {
	return func(o *options) { o.maxPasses = n }
}

// Lower runs Passes until the program stops
// changing, then checks the result with Validate.
func Lower(p *ir.Program, opts ...Option) (*ir.Program, error) {
	o := options{maxPasses: DefaultMaxPasses}
	for _, fn := range opts {
		fn(&o)
	}
	for iter := 0; ; iter++ {
		if iter >= o.maxPasses {
			return nil, &CompileError{Pass: "lower", Err: fmt.Errorf("%w after %d iterations", ErrNoFixedPoint, iter)}
		}
		any := false
		for i := range Passes {
			q, changed, err := Passes[i].Run(p)
			if err != nil {
				var ce *CompileError
				if !errors.As(err, &ce) {
					err = &CompileError{Pass: Passes[i].Name, Err: err}
				}
				return nil, err
			}
			if changed {
				if o.logger != nil {
					o.logger.Printf("lower: iteration %d: %s: %d statements", iter, Passes[i].Name, len(q.Body))
				}
				p = q
				any = true
			}
		}
		if !any {
			break
		}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// finish returns dst if it differs from src,
// and src otherwise.
func finish(src, dst *ir.Program) (*ir.Program, bool) {
	if len(dst.Vars) == len(src.Vars) && slices.Equal(src.Body, dst.Body) {
		return src, false
	}
	return dst, true
}

// slot is one scalar component of a variable.
type slot struct {
	v ir.VarID
	c int
}

// readSlot returns a scalar read of s.
func readSlot(p *ir.Program, s slot) ir.Handle {
	if p.Var(s.v).Type.IsScalar() {
		return p.Ref(s.v)
	}
	return p.Swizzle(p.Ref(s.v), s.c)
}

// clobbers reports whether one of the parts of a
// split assignment reads a slot written by an
// earlier part; writes[i] lists the slots that
// part i stores vals[i] into.
func clobbers(p *ir.Program, writes [][]slot, vals []ir.Handle) bool {
	written := make(map[slot]bool)
	for i, h := range vals {
		hit := false
		p.Reads(h, func(v ir.VarID, c int) {
			hit = hit || written[slot{v, c}]
		})
		if hit {
			return true
		}
		for _, s := range writes[i] {
			written[s] = true
		}
	}
	return false
}

// hasBranches reports whether body holds an If.
func hasBranches(p *ir.Program, body []ir.Handle) bool {
	for _, h := range body {
		if p.Node(h).Kind == ir.KIf {
			return true
		}
	}
	return false
}

// visitExprs calls fn once for every expression
// node reachable from the statements of body,
// operands before their users.
func visitExprs(p *ir.Program, body []ir.Handle, fn func(h ir.Handle, n *ir.Node)) {
	seen := make(map[ir.Handle]bool)
	var visit func(h ir.Handle)
	visit = func(h ir.Handle) {
		if seen[h] {
			return
		}
		seen[h] = true
		n := p.Node(h)
		for _, a := range n.Args {
			visit(a)
		}
		fn(h, n)
	}
	p.Walk(body, func(h ir.Handle) {
		for _, a := range p.Node(h).Args {
			visit(a)
		}
	})
}

// pick returns component i of x, which
// may be a scalar.
func pick(p *ir.Program, x ir.Handle, i int) ir.Handle {
	if p.Type(x).IsScalar() {
		return x
	}
	return p.Swizzle(x, i)
}

// pack builds a value of type t from scalars.
func pack(p *ir.Program, t ir.Type, picks []ir.Handle) ir.Handle {
	if len(picks) == 1 {
		return picks[0]
	}
	return p.Construct(t, picks...)
}
