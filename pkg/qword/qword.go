// Package qword encodes and decodes bit fields of 64-bit hardware records.
//
// Hardware records are little-endian qwords. A Field names a run of bits by
// its lowest bit number (LBN) and width, so record layouts can be written
// down as tables of Fields instead of shift expressions.
package qword

import (
	"encoding/binary"
	"fmt"
)

// Size is the size of a qword in bytes.
const Size = 8

type Field struct {
	Name  string
	LBN   uint
	Width uint
}

func (f Field) Mask() uint64 {
	if f.Width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << f.Width) - 1
}

// Get extracts the field from q.
func (f Field) Get(q uint64) uint64 {
	return (q >> f.LBN) & f.Mask()
}

// Set returns q with the field replaced by v. Bits of v above the field
// width are dropped.
func (f Field) Set(q, v uint64) uint64 {
	m := f.Mask() << f.LBN
	return (q &^ m) | ((v << f.LBN) & m)
}

// Fits reports whether v can be stored in the field without truncation.
func (f Field) Fits(v uint64) bool {
	return v&^f.Mask() == 0
}

func (f Field) String() string {
	return fmt.Sprintf("%s[%d:%d]", f.Name, f.LBN+f.Width-1, f.LBN)
}

// Value pairs a field with the value to store in it.
type Value struct {
	Field Field
	V     uint64
}

// Populate builds a qword from a set of field values, the way hardware
// headers are assembled.
func Populate(vals ...Value) uint64 {
	var q uint64
	for _, v := range vals {
		q = v.Field.Set(q, v.V)
	}
	return q
}

// Load reads a little-endian qword from b.
func Load(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// Store writes q to b as a little-endian qword.
func Store(b []byte, q uint64) {
	binary.LittleEndian.PutUint64(b, q)
}
