package parser

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt32
	kindFloat32
)

// fieldValue carries one decoded layout field. Only the member matching the
// field kind is set.
type fieldValue struct {
	str    string
	ints   []int
	floats []float64
}

// layoutField describes one entry of a little-endian binary record.
//
// size is the byte width of a string field; numeric fields are always 4 bytes
// per element. count (default 1) and pad (default 0) may depend on fields
// already decoded into the target. pad bytes are skipped after the field.
type layoutField[T any] struct {
	name  string
	kind  fieldKind
	size  int
	count func(*T) int
	pad   func(*T) int
	set   func(*T, fieldValue) error
	get   func(*T) fieldValue
}

func (f layoutField[T]) elements(v *T) int {
	if f.count == nil {
		return 1
	}
	return f.count(v)
}

func (f layoutField[T]) padding(v *T) int {
	if f.pad == nil {
		return 0
	}
	return f.pad(v)
}

// cursor reads little-endian primitives from an in-memory buffer.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) take(n int, what string) ([]byte, error) {
	if n < 0 {
		return nil, newFormatError("negative length %d for %s", n, what)
	}
	if n > len(c.buf)-c.pos {
		return nil, newFormatError("truncated buffer reading %s: need %d bytes at offset %d, have %d", what, n, c.pos, len(c.buf)-c.pos)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readString(n int, what string) (string, error) {
	b, err := c.take(n, what)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00 "), nil
}

func (c *cursor) readInts(n int, what string) ([]int, error) {
	if n > (len(c.buf)-c.pos)/4 {
		return nil, newFormatError("truncated buffer reading %s: need %d values at offset %d", what, n, c.pos)
	}
	b, err := c.take(4*n, what)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out, nil
}

func (c *cursor) readFloats(n int, what string) ([]float64, error) {
	if n > (len(c.buf)-c.pos)/4 {
		return nil, newFormatError("truncated buffer reading %s: need %d values at offset %d", what, n, c.pos)
	}
	b, err := c.take(4*n, what)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out, nil
}

func (c *cursor) skip(n int, what string) error {
	_, err := c.take(n, what)
	return err
}

// decodeLayout fills v from the buffer, one field at a time.
func decodeLayout[T any](c *cursor, layout []layoutField[T], v *T) error {
	for _, f := range layout {
		var val fieldValue
		var err error
		switch f.kind {
		case kindString:
			val.str, err = c.readString(f.size, f.name)
		case kindInt32:
			val.ints, err = c.readInts(f.elements(v), f.name)
		case kindFloat32:
			val.floats, err = c.readFloats(f.elements(v), f.name)
		}
		if err != nil {
			return err
		}
		if err := f.set(v, val); err != nil {
			return err
		}
		if err := c.skip(f.padding(v), f.name+" padding"); err != nil {
			return err
		}
	}
	return nil
}

// encodeLayout is the inverse of decodeLayout.
func encodeLayout[T any](w *bytes.Buffer, layout []layoutField[T], v *T) error {
	var word [4]byte
	for _, f := range layout {
		val := f.get(v)
		switch f.kind {
		case kindString:
			if len(val.str) > f.size {
				return newFormatError("%s %q longer than %d bytes", f.name, val.str, f.size)
			}
			field := make([]byte, f.size)
			copy(field, val.str)
			w.Write(field)
		case kindInt32:
			if len(val.ints) != f.elements(v) {
				return newFormatError("%s has %d values, layout wants %d", f.name, len(val.ints), f.elements(v))
			}
			for _, n := range val.ints {
				binary.LittleEndian.PutUint32(word[:], uint32(int32(n)))
				w.Write(word[:])
			}
		case kindFloat32:
			if len(val.floats) != f.elements(v) {
				return newFormatError("%s has %d values, layout wants %d", f.name, len(val.floats), f.elements(v))
			}
			for _, x := range val.floats {
				binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(x)))
				w.Write(word[:])
			}
		}
		if p := f.padding(v); p > 0 {
			w.Write(make([]byte, p))
		}
	}
	return nil
}

// scalar helpers keep the layout tables readable.

func intField[T any](name string, set func(*T, int), get func(*T) int) layoutField[T] {
	return layoutField[T]{
		name: name,
		kind: kindInt32,
		set: func(v *T, fv fieldValue) error {
			set(v, fv.ints[0])
			return nil
		},
		get: func(v *T) fieldValue { return fieldValue{ints: []int{get(v)}} },
	}
}

func floatField[T any](name string, set func(*T, float64), get func(*T) float64) layoutField[T] {
	return layoutField[T]{
		name: name,
		kind: kindFloat32,
		set: func(v *T, fv fieldValue) error {
			set(v, fv.floats[0])
			return nil
		},
		get: func(v *T) fieldValue { return fieldValue{floats: []float64{get(v)}} },
	}
}

func stringField[T any](name string, size int, set func(*T, string) error, get func(*T) string) layoutField[T] {
	return layoutField[T]{
		name: name,
		kind: kindString,
		size: size,
		set:  func(v *T, fv fieldValue) error { return set(v, fv.str) },
		get:  func(v *T) fieldValue { return fieldValue{str: get(v)} },
	}
}
