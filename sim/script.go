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

package sim

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/vecvm/binder"
	"github.com/SnellerInc/vecvm/ir"
	"github.com/SnellerInc/vecvm/scriptcache"
	"github.com/SnellerInc/vecvm/vm"
)

// Role is the stage of a tick a script runs in.
type Role uint8

const (
	// Update scripts read the live particles
	// and write the surviving ones.
	Update Role = iota
	// Spawn scripts write new particles.
	Spawn
	// Event scripts read the events written
	// by the update and write new particles.
	Event
)

func (r Role) String() string {
	switch r {
	case Update:
		return "update"
	case Spawn:
		return "spawn"
	case Event:
		return "event"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Data set indices seen by scripts.
const (
	ParticleSet = 0
	EventSet    = 1
)

// Script is a compiled script shared by instances.
type Script struct {
	Name    string
	Role    Role
	Program *vm.Program
	// Bound is nil when Err is set.
	Bound *vm.BoundProgram
	// Err is the bind error that
	// disabled the script.
	Err error
}

// Enabled reports whether the script runs.
func (s *Script) Enabled() bool { return s != nil && s.Err == nil }

// complete returns p with a variable for every
// particle attribute component it does not write.
// Update scripts pass such components through;
// spawn and event scripts write them as zero.
func complete(p *ir.Program, role Role, layout []ir.Field) *ir.Program {
	covered := func(mode ir.Mode, name string, c int) bool {
		for i := range p.Vars {
			v := &p.Vars[i]
			if v.Mode == mode && v.DataSet == ParticleSet && v.Attr == name &&
				c >= v.Offset && c < v.Offset+v.Type.Components() {
				return true
			}
		}
		return false
	}
	var q *ir.Program
	for _, f := range layout {
		for c := 0; c < f.Type.Components(); c++ {
			if covered(ir.Output, f.Name, c) {
				continue
			}
			if q == nil {
				q = p.Derive()
				q.Body = p.Body
			}
			v := ir.Var{
				Name:    fmt.Sprintf("%s.%d", f.Name, c),
				Type:    ir.Scalar(f.Type.Base),
				DataSet: ParticleSet,
				Attr:    f.Name,
				Offset:  c,
			}
			if role == Update && !covered(ir.Input, f.Name, c) {
				v.Mode = ir.Input
				q.NewVar(v)
			}
			v.Mode = ir.Output
			q.NewVar(v)
		}
	}
	if q == nil {
		return p
	}
	return q
}

// Loader compiles scripts through a cache
// and binds them against a registry.
type Loader struct {
	cache    *scriptcache.Cache
	registry *binder.Registry
	config   vm.Config
	layout   []ir.Field
	logger   Logger
}

// NewLoader returns a loader for particles with the given layout.
func NewLoader(c *scriptcache.Cache, r *binder.Registry, cfg *vm.Config, layout []ir.Field, opts ...Option) *Loader {
	l := &Loader{
		cache:    c,
		registry: r,
		layout:   layout,
	}
	if cfg != nil {
		l.config = *cfg
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loader) logf(f string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(f, args...)
	}
}

// Load compiles and binds p for role. A compile error
// is returned; a bind error disables the script and
// is reported on the returned Script.
func (l *Loader) Load(name string, p *ir.Program, role Role) (*Script, error) {
	prog, err := l.cache.Get(complete(p, role, l.layout))
	if err != nil {
		return nil, fmt.Errorf("sim: compiling %s script %s: %w", role, name, err)
	}
	s := &Script{Name: name, Role: role, Program: prog}
	s.Bound, err = binder.Bind(prog, l.registry, &l.config)
	if err != nil {
		var be *binder.BindError
		if !errors.As(err, &be) {
			return nil, fmt.Errorf("sim: %s script %s: %w", role, name, err)
		}
		s.Bound = nil
		s.Err = err
		l.logf("sim: %s script %s disabled: %s", role, name, err)
	}
	return s, nil
}
