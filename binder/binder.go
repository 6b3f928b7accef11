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

// Package binder resolves the external call sites
// of a compiled program to implementations.
//
// Implementations are supplied by capability
// providers registered in a Registry under the
// capability name. A site is resolved once per
// distinct (capability, name, arity, constant
// inputs) key; later programs with the same site
// reuse the cached implementation.
package binder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SnellerInc/vecvm/vm"
)

// ErrNoImplementation is returned for a call site
// that no registered provider implements.
var ErrNoImplementation = errors.New("no implementation")

// BindError is returned by Bind for a call
// site that cannot be resolved.
type BindError struct {
	Site       int
	Capability string
	Name       string
	Err        error
}

func (b *BindError) Error() string {
	return fmt.Sprintf("call site %d (%s::%s): %s", b.Site, b.Capability, b.Name, b.Err)
}

func (b *BindError) Unwrap() error { return b.Err }

// Provider implements the functions of one capability.
// Resolve returns the implementation of site, or
// false if the provider has no function matching
// the name and arity of site. The implementation
// may depend on which inputs of site are constant.
type Provider interface {
	Resolve(site *vm.CallSite) (vm.ExternalFunc, bool)
}

// Logger is the interface used to report bindings.
type Logger interface {
	Printf(f string, args ...any)
}

// Option configures a Registry.
type Option func(r *Registry)

// WithLogger reports every newly resolved site to l.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

type siteKey struct {
	capability, name string
	nin, nout        int
	consts           uint64
}

func keyOf(site *vm.CallSite) siteKey {
	return siteKey{
		capability: site.Capability,
		name:       site.Name,
		nin:        site.NumIn,
		nout:       site.NumOut,
		consts:     constMask(site),
	}
}

// constMask returns the constant input flags
// of site as a bit set; bit i is input i.
func constMask(site *vm.CallSite) uint64 {
	m := uint64(0)
	for i, c := range site.ConstIn {
		if c {
			m |= 1 << i
		}
	}
	return m
}

// Registry maps capability names to providers.
// It is safe for concurrent use.
type Registry struct {
	logger Logger

	lock      sync.Mutex
	providers map[string]Provider
	cache     map[siteKey]vm.ExternalFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		cache:     make(map[siteKey]vm.ExternalFunc),
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

// Register makes p the provider of capability.
// It replaces any previous provider and drops the
// implementations cached for that capability.
func (r *Registry) Register(capability string, p Provider) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.providers[capability] = p
	for k := range r.cache {
		if k.capability == capability {
			delete(r.cache, k)
		}
	}
}

// Resolve returns the implementation of site.
func (r *Registry) Resolve(site *vm.CallSite) (vm.ExternalFunc, error) {
	if len(site.ConstIn) > 64 {
		return nil, fmt.Errorf("%d inputs: %w", len(site.ConstIn), ErrNoImplementation)
	}
	k := keyOf(site)
	r.lock.Lock()
	defer r.lock.Unlock()
	if fn, ok := r.cache[k]; ok {
		return fn, nil
	}
	p, ok := r.providers[site.Capability]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q: %w", site.Capability, ErrNoImplementation)
	}
	fn, ok := p.Resolve(site)
	if !ok || fn == nil {
		return nil, fmt.Errorf("%d inputs, %d outputs: %w", site.NumIn, site.NumOut, ErrNoImplementation)
	}
	r.cache[k] = fn
	if r.logger != nil {
		r.logger.Printf("binder: resolved %s::%s (%d in, %d out, constants %b)", site.Capability, site.Name, site.NumIn, site.NumOut, k.consts)
	}
	return fn, nil
}

// Len returns the number of cached implementations.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.cache)
}

// Bind resolves every call site of p and returns
// the bound program. The first site that cannot
// be resolved is reported as a *BindError.
func Bind(p *vm.Program, r *Registry, cfg *vm.Config) (*vm.BoundProgram, error) {
	funcs := make([]vm.ExternalFunc, len(p.CallSites))
	for i := range p.CallSites {
		site := &p.CallSites[i]
		fn, err := r.Resolve(site)
		if err != nil {
			return nil, &BindError{Site: i, Capability: site.Capability, Name: site.Name, Err: err}
		}
		funcs[i] = fn
	}
	return vm.NewBound(p, funcs, cfg)
}
