// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmapi defines the vocabulary shared by metric sources and the
// sampling core: metric identifiers, descriptors, instance domains, raw
// value-sets and the Client interface a source implements.
package pmapi // import "github.com/pcpstat/pmsample/pmapi"

import (
	"fmt"
	"time"
)

// PmID identifies a metric within a source.
type PmID uint32

// PmIDNull marks a name that could not be resolved.
const PmIDNull PmID = 0xffffffff

func (id PmID) String() string {
	if id == PmIDNull {
		return "PM_ID_NULL"
	}
	// domain.cluster.item, as printed by the classic tools
	return fmt.Sprintf("%d.%d.%d", (id>>22)&0x1ff, (id>>10)&0xfff, id&0x3ff)
}

// NewPmID packs a domain, cluster and item number into a PmID.
func NewPmID(domain, cluster, item uint32) PmID {
	return PmID((domain&0x1ff)<<22 | (cluster&0xfff)<<10 | item&0x3ff)
}

// InDom identifies an instance domain.
type InDom uint32

// NewInDom packs a domain and serial number into an InDom.
func NewInDom(domain, serial uint32) InDom {
	return InDom((domain&0x1ff)<<22 | serial&0x3fffff)
}

// InDomNull is the instance domain of metrics that have a single value.
const InDomNull InDom = 0xffffffff

func (indom InDom) String() string {
	if indom == InDomNull {
		return "PM_INDOM_NULL"
	}
	return fmt.Sprintf("%d.%d", (indom>>22)&0x1ff, indom&0x3fffff)
}

// InNull is the instance id carried by values of metrics without an instance domain.
const InNull int32 = -1

// Semantics describes how successive values of a metric relate to each other.
type Semantics uint8

const (
	// SemCounter is a monotonically non-decreasing cumulative value.
	SemCounter Semantics = 1
	// SemInstant is a value that is meaningful on its own at the time of sampling.
	SemInstant Semantics = 3
	// SemDiscrete is a value that changes rarely, if ever.
	SemDiscrete Semantics = 4
)

func (s Semantics) String() string {
	switch s {
	case SemCounter:
		return "counter"
	case SemInstant:
		return "instant"
	case SemDiscrete:
		return "discrete"
	default:
		return fmt.Sprintf("Semantics(%d)", uint8(s))
	}
}

// ParseSemantics maps the textual form used in definition files to a Semantics.
func ParseSemantics(s string) (Semantics, error) {
	switch s {
	case "counter":
		return SemCounter, nil
	case "instant":
		return SemInstant, nil
	case "discrete":
		return SemDiscrete, nil
	}
	return 0, fmt.Errorf("unknown semantics %q", s)
}

// Type is the storage type of raw values.
type Type uint8

const (
	TypeInt32 Type = iota
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
)

var typeNames = [...]string{
	TypeInt32:  "32",
	TypeUint32: "u32",
	TypeInt64:  "64",
	TypeUint64: "u64",
	TypeFloat:  "float",
	TypeDouble: "double",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType maps the textual form used in definition files to a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return Type(t), nil
		}
	}
	return 0, fmt.Errorf("unknown type %q", s)
}

// IsUnsigned reports whether values of this type are unsigned integers.
func (t Type) IsUnsigned() bool {
	return t == TypeUint32 || t == TypeUint64
}

// IsFloat reports whether values of this type are floating point.
func (t Type) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// Desc is the immutable descriptor of a metric.
type Desc struct {
	PmID  PmID
	Type  Type
	Sem   Semantics
	Units Units
	InDom InDom
}

// Instance is one member of an instance domain.
type Instance struct {
	ID   int32
	Name string
}

// InstanceValue is the raw value of one instance in a value-set.
type InstanceValue struct {
	Inst  int32
	Value Atom
}

// ValueSet holds the values fetched for one metric. Err is set when the
// source could not provide values for this metric in this fetch.
type ValueSet struct {
	PmID   PmID
	Err    error
	Values []InstanceValue
}

// Result is the outcome of one fetch round trip.
type Result struct {
	Timestamp time.Time
	ValueSets []ValueSet
}
