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
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

const programMagic = "VVMP"

var (
	buildID     [blake2b.Size256]byte
	buildIDOnce sync.Once
)

// BuildID identifies the opcode set of this
// build. Encoded programs carry it, and a
// program encoded by a build with a different
// opcode set is rejected on decode.
func BuildID() [blake2b.Size256]byte {
	buildIDOnce.Do(func() {
		h, _ := blake2b.New256(nil)
		for i := range opinfo {
			fmt.Fprintf(h, "%d:%s:%v:%v\n", i, opinfo[i].text, opinfo[i].args, opinfo[i].va)
		}
		copy(buildID[:], h.Sum(nil))
	})
	return buildID
}

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v int) { e.buf = binary.AppendUvarint(e.buf, uint64(v)) }

func (e *encoder) str(s string) {
	e.uvarint(len(s))
	e.buf = append(e.buf, s...)
}

func (e *encoder) flag(b bool) {
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) attrs(list []Attr) {
	e.uvarint(len(list))
	for i := range list {
		e.uvarint(list[i].DataSet)
		e.str(list[i].Name)
		e.uvarint(list[i].Component)
		e.flag(list[i].NoAdvance)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *Program) MarshalBinary() ([]byte, error) {
	id := BuildID()
	e := &encoder{buf: append([]byte(programMagic), id[:]...)}
	e.uvarint(p.NumTemps)
	e.uvarint(p.DataSets)
	e.attrs(p.Inputs)
	e.attrs(p.Outputs)
	e.uvarint(len(p.Uniforms))
	for i := range p.Uniforms {
		e.str(p.Uniforms[i].Name)
		e.uvarint(p.Uniforms[i].Slot)
		e.uvarint(p.Uniforms[i].Count)
	}
	e.uvarint(len(p.Literals))
	for _, w := range p.Literals {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, w)
	}
	e.uvarint(len(p.CallSites))
	for i := range p.CallSites {
		s := &p.CallSites[i]
		e.str(s.Capability)
		e.str(s.Name)
		e.uvarint(s.NumIn)
		e.uvarint(s.NumOut)
		for _, c := range s.ConstIn {
			e.flag(c)
		}
	}
	e.uvarint(len(p.Code))
	e.buf = append(e.buf, p.Code...)
	return e.buf, nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("decoding %s: %w", what, ErrCorrupt)
	}
}

func (d *decoder) uvarint(what string) int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 || v > 1<<31 {
		d.fail(what)
		return 0
	}
	d.buf = d.buf[n:]
	return int(v)
}

func (d *decoder) bytes(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.buf) {
		d.fail(what)
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) str(what string) string {
	return string(d.bytes(d.uvarint(what), what))
}

func (d *decoder) flag(what string) bool {
	b := d.bytes(1, what)
	return len(b) == 1 && b[0] != 0
}

// count decodes a list length, bounded by the
// remaining input so that a corrupt length
// cannot force a huge allocation.
func (d *decoder) count(what string) int {
	n := d.uvarint(what)
	if n > len(d.buf) {
		d.fail(what)
		return 0
	}
	return n
}

func (d *decoder) attrs(what string) []Attr {
	n := d.count(what)
	if n == 0 {
		return nil
	}
	list := make([]Attr, n)
	for i := range list {
		list[i].DataSet = d.uvarint(what)
		list[i].Name = d.str(what)
		list[i].Component = d.uvarint(what)
		list[i].NoAdvance = d.flag(what)
	}
	return list
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// The decoded program is validated.
func (p *Program) UnmarshalBinary(buf []byte) error {
	id := BuildID()
	if !bytes.HasPrefix(buf, []byte(programMagic)) {
		return fmt.Errorf("bad magic: %w", ErrCorrupt)
	}
	buf = buf[len(programMagic):]
	if len(buf) < len(id) {
		return fmt.Errorf("truncated header: %w", ErrCorrupt)
	}
	if !bytes.Equal(buf[:len(id)], id[:]) {
		return ErrBuildMismatch
	}
	d := &decoder{buf: buf[len(id):]}
	var out Program
	out.NumTemps = d.uvarint("temps")
	out.DataSets = d.uvarint("data sets")
	out.Inputs = d.attrs("inputs")
	out.Outputs = d.attrs("outputs")
	if n := d.count("uniforms"); n > 0 {
		out.Uniforms = make([]Uniform, n)
		for i := range out.Uniforms {
			out.Uniforms[i].Name = d.str("uniform")
			out.Uniforms[i].Slot = d.uvarint("uniform")
			out.Uniforms[i].Count = d.uvarint("uniform")
		}
	}
	if n := d.count("literals"); n > 0 {
		raw := d.bytes(4*n, "literals")
		if d.err == nil {
			out.Literals = make([]uint32, n)
			for i := range out.Literals {
				out.Literals[i] = binary.LittleEndian.Uint32(raw[4*i:])
			}
		}
	}
	if n := d.count("call sites"); n > 0 {
		out.CallSites = make([]CallSite, n)
		for i := range out.CallSites {
			s := &out.CallSites[i]
			s.Capability = d.str("call site")
			s.Name = d.str("call site")
			s.NumIn = d.count("call site")
			s.NumOut = d.count("call site")
			s.ConstIn = make([]bool, s.NumIn)
			for j := range s.ConstIn {
				s.ConstIn[j] = d.flag("call site")
			}
		}
	}
	code := d.bytes(d.uvarint("code"), "code")
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%d trailing bytes: %w", len(d.buf), ErrCorrupt)
	}
	out.Code = append([]byte(nil), code...)
	if err := out.Validate(); err != nil {
		return err
	}
	*p = out
	return nil
}
