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
	"errors"
	"fmt"
)

// Errorf is a global diagnostic function
// that can be set during init() to capture
// additional diagnostic information from
// the vm.
var Errorf func(f string, args ...any)

func errorf(f string, args ...any) {
	if Errorf != nil {
		Errorf(f, args...)
	}
}

var (
	// ErrCorrupt is returned for bytecode
	// that fails validation.
	ErrCorrupt = errors.New("vm: corrupt bytecode")
	// ErrBuildMismatch is returned when decoding a
	// program produced with a different opcode set.
	ErrBuildMismatch = errors.New("vm: program built for a different opcode set")
)

// FatalError is the panic value raised when the
// interpreter reaches an instruction it cannot
// execute. It indicates a compiler or binder bug.
type FatalError struct {
	PC  int
	Op  Opcode
	Msg string
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("vm: fatal at pc %d (%s): %s", f.PC, f.Op, f.Msg)
}

// bytecodeerror reports validation errors in a consistent way
func bytecodeerror(ctx string, p *Program, err error) error {
	errorf("%s: %s", ctx, err)
	errorf("bytecode:\n%s\n", p.String())
	return fmt.Errorf("%s: %w", ctx, err)
}
