// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi // import "github.com/pcpstat/pmsample/pmapi"

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Atom is a single raw metric value together with its storage type.
// Integer types keep their exact bits, so that deltas between two atoms can be
// computed without a detour through float64.
type Atom struct {
	typ  Type
	bits uint64
}

// Int64Atom returns an Atom of TypeInt64.
func Int64Atom(v int64) Atom { return Atom{typ: TypeInt64, bits: uint64(v)} }

// Uint64Atom returns an Atom of TypeUint64.
func Uint64Atom(v uint64) Atom { return Atom{typ: TypeUint64, bits: v} }

// DoubleAtom returns an Atom of TypeDouble.
func DoubleAtom(v float64) Atom { return Atom{typ: TypeDouble, bits: math.Float64bits(v)} }

// AtomOf converts v into an Atom of type typ.
func AtomOf[T constraints.Integer | constraints.Float](typ Type, v T) Atom {
	switch typ {
	case TypeInt32:
		return Atom{typ: typ, bits: uint64(int64(int32(v)))}
	case TypeUint32:
		return Atom{typ: typ, bits: uint64(uint32(v))}
	case TypeInt64:
		return Atom{typ: typ, bits: uint64(int64(v))}
	case TypeUint64:
		return Atom{typ: typ, bits: uint64(v)}
	case TypeFloat:
		return Atom{typ: typ, bits: math.Float64bits(float64(float32(v)))}
	default:
		return Atom{typ: TypeDouble, bits: math.Float64bits(float64(v))}
	}
}

// Type returns the storage type of the atom.
func (a Atom) Type() Type { return a.typ }

// Float64 widens the atom to float64.
func (a Atom) Float64() float64 {
	switch {
	case a.typ.IsFloat():
		return math.Float64frombits(a.bits)
	case a.typ.IsUnsigned():
		return float64(a.bits)
	default:
		return float64(int64(a.bits))
	}
}

// Sub returns a-prev as float64. ok is false if a is smaller than prev, which
// for a counter means the value was reset or wrapped.
func (a Atom) Sub(prev Atom) (delta float64, ok bool) {
	if a.typ != prev.typ {
		cur, old := a.Float64(), prev.Float64()
		if cur < old {
			return 0, false
		}
		return cur - old, true
	}
	switch {
	case a.typ.IsFloat():
		cur, old := math.Float64frombits(a.bits), math.Float64frombits(prev.bits)
		if cur < old {
			return 0, false
		}
		return cur - old, true
	case a.typ.IsUnsigned():
		if a.bits < prev.bits {
			return 0, false
		}
		return float64(a.bits - prev.bits), true
	default:
		if int64(a.bits) < int64(prev.bits) {
			return 0, false
		}
		// The distance between two int64 values always fits a uint64.
		return float64(a.bits - prev.bits), true
	}
}

func (a Atom) String() string {
	switch {
	case a.typ.IsFloat():
		return fmt.Sprintf("%g", math.Float64frombits(a.bits))
	case a.typ.IsUnsigned():
		return fmt.Sprintf("%d", a.bits)
	default:
		return fmt.Sprintf("%d", int64(a.bits))
	}
}

// ParseAtom parses the textual form produced by Atom.String back into an
// Atom of type typ.
func ParseAtom(typ Type, s string) (Atom, error) {
	switch {
	case typ.IsFloat():
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Atom{}, err
		}
		return AtomOf(typ, v), nil
	case typ.IsUnsigned():
		bits := 64
		if typ == TypeUint32 {
			bits = 32
		}
		v, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return Atom{}, err
		}
		return Atom{typ: typ, bits: v}, nil
	case typ == TypeInt32 || typ == TypeInt64:
		bits := 64
		if typ == TypeInt32 {
			bits = 32
		}
		v, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return Atom{}, err
		}
		return Atom{typ: typ, bits: uint64(v)}, nil
	}
	return Atom{}, fmt.Errorf("cannot parse values of type %v", typ)
}
