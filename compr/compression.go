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

// Package compr compresses serialized programs.
//
// A packed frame is one codec byte, the uvarint
// length of the uncompressed data and the
// compressed payload; Unpack needs nothing
// but the frame to restore the data.
package compr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// ErrFormat is returned by Unpack
// for a frame it cannot decode.
var ErrFormat = errors.New("compr: malformed frame")

// MaxSize bounds the uncompressed
// size announced by a frame.
const MaxSize = 64 << 20

// Compressor appends the compressed
// form of src to dst.
type Compressor interface {
	Name() string
	Compress(src, dst []byte) []byte
}

// Decompressor decompresses src into dst,
// which must have exactly the uncompressed size.
// Decompress may be called concurrently.
type Decompressor interface {
	Name() string
	Decompress(src, dst []byte) error
}

// codec ids stored in frames
const (
	codecNone byte = iota
	codecZstd
	codecS2
)

var codecNames = [...]string{
	codecNone: "none",
	codecZstd: "zstd",
	codecS2:   "s2",
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return "none" }

func (noneCompressor) Compress(src, dst []byte) []byte { return append(dst, src...) }

func (noneCompressor) Decompress(src, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("expected %d bytes; got %d", len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z zstdCompressor) Name() string { return "zstd" }

var zstdDecoder *zstd.Decoder

func init() {
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type zstdDecompressor zstd.Decoder

func (z *zstdDecompressor) Name() string { return "zstd" }

func (z *zstdDecompressor) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := (*zstd.Decoder)(z).DecodeAll(src, into)
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), len(ret))
	}
	if len(ret) > 0 && &ret[0] != &dst[0] {
		return fmt.Errorf("zstd decompress: output buffer realloc'd")
	}
	return nil
}

type s2Compressor struct{}

func (s2Compressor) Compress(src, dst []byte) []byte {
	tail := dst[len(dst):cap(dst)]
	// s2 requires non-overlapping src and dst
	if overlaps(src, tail) {
		tail = nil
	}
	got := s2.Encode(tail, src)
	if len(dst) == 0 {
		return got
	}
	if len(tail) > 0 && len(got) > 0 && &tail[0] == &got[0] {
		return dst[:len(dst)+len(got)]
	}
	return append(dst, got...)
}

func (s2Compressor) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := s2.Decode(into, src)
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), len(ret))
	}
	if len(ret) > 0 && &ret[0] != &dst[0] {
		return fmt.Errorf("s2 decompress: output buffer realloc'd")
	}
	return nil
}

func (s2Compressor) Name() string { return "s2" }

// Compression selects a compressor by name:
// "zstd", "zstd-better", "s2" or "none".
// It returns nil for an unknown name.
func Compression(name string) Compressor {
	switch name {
	case "zstd-better":
		z, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1))
		return zstdCompressor{z}
	case "zstd":
		z, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return zstdCompressor{z}
	case "s2":
		return s2Compressor{}
	case "none":
		return noneCompressor{}
	default:
		return nil
	}
}

// Decompression selects a decompressor by name.
// It returns nil for an unknown name.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd":
		return (*zstdDecompressor)(zstdDecoder)
	case "s2":
		return s2Compressor{}
	case "none":
		return noneCompressor{}
	default:
		return nil
	}
}

func codecOf(name string) (byte, bool) {
	for i, n := range codecNames {
		if n == name {
			return byte(i), true
		}
	}
	return 0, false
}

// Pack returns a frame holding src compressed with c.
func Pack(c Compressor, src []byte) ([]byte, error) {
	id, ok := codecOf(c.Name())
	if !ok {
		return nil, fmt.Errorf("compr: no frame codec for %q", c.Name())
	}
	if len(src) > MaxSize {
		return nil, fmt.Errorf("compr: %d bytes exceeds the frame limit", len(src))
	}
	dst := make([]byte, 1, 1+binary.MaxVarintLen64+len(src)/2)
	dst[0] = id
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	return c.Compress(src, dst), nil
}

// Unpack decodes a frame produced by Pack.
func Unpack(frame []byte) ([]byte, error) {
	if len(frame) == 0 || int(frame[0]) >= len(codecNames) {
		return nil, ErrFormat
	}
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > MaxSize {
		return nil, ErrFormat
	}
	dec := Decompression(codecNames[frame[0]])
	dst := make([]byte, size)
	if err := dec.Decompress(frame[1+n:], dst); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormat, err)
	}
	return dst, nil
}

func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	a0 := uintptr(unsafe.Pointer(&a[0]))
	a1 := a0 + uintptr(len(a))
	b0 := uintptr(unsafe.Pointer(&b[0]))
	b1 := b0 + uintptr(len(b))
	return a0 < b1 && b0 < a1
}
