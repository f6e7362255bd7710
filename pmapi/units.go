// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi // import "github.com/pcpstat/pmsample/pmapi"

import (
	"fmt"
	"math"
	"strings"
)

// Space scales, powers of 1024 bytes.
const (
	SpaceByte uint8 = iota
	SpaceKByte
	SpaceMByte
	SpaceGByte
	SpaceTByte
	SpacePByte
	SpaceEByte
)

// Time scales.
const (
	TimeNSec uint8 = iota
	TimeUSec
	TimeMSec
	TimeSec
	TimeMin
	TimeHour
)

// Units describes the dimension and scale of metric values. A dimension of 0
// means the axis does not apply, e.g. a byte counter has DimSpace 1 and
// DimTime 0, a throughput has DimSpace 1 and DimTime -1.
type Units struct {
	DimSpace   int8  `json:"dimSpace,omitempty"`
	DimTime    int8  `json:"dimTime,omitempty"`
	DimCount   int8  `json:"dimCount,omitempty"`
	ScaleSpace uint8 `json:"scaleSpace,omitempty"`
	ScaleTime  uint8 `json:"scaleTime,omitempty"`
	ScaleCount int8  `json:"scaleCount,omitempty"`
}

// SameDimension reports whether values in u can be converted to o.
func (u Units) SameDimension(o Units) bool {
	return u.DimSpace == o.DimSpace && u.DimTime == o.DimTime && u.DimCount == o.DimCount
}

var (
	spaceNames = [...]string{"byte", "Kbyte", "Mbyte", "Gbyte", "Tbyte", "Pbyte", "Ebyte"}
	timeNames  = [...]string{"nanosec", "microsec", "millisec", "sec", "min", "hour"}
)

func (u Units) String() string {
	var pos, neg []string
	add := func(dim int8, name string) {
		switch {
		case dim == 1:
			pos = append(pos, name)
		case dim > 1:
			pos = append(pos, fmt.Sprintf("%s^%d", name, dim))
		case dim == -1:
			neg = append(neg, name)
		case dim < -1:
			neg = append(neg, fmt.Sprintf("%s^%d", name, -dim))
		}
	}
	if u.DimSpace != 0 && int(u.ScaleSpace) < len(spaceNames) {
		add(u.DimSpace, spaceNames[u.ScaleSpace])
	}
	if u.DimTime != 0 && int(u.ScaleTime) < len(timeNames) {
		add(u.DimTime, timeNames[u.ScaleTime])
	}
	if u.DimCount != 0 {
		name := "count"
		if u.ScaleCount != 0 {
			name = fmt.Sprintf("count x 10^%d", u.ScaleCount)
		}
		add(u.DimCount, name)
	}
	s := strings.Join(pos, " ")
	if len(neg) > 0 {
		s += " / " + strings.Join(neg, " ")
	}
	return strings.TrimSpace(s)
}

// spaceFactor returns the number of bytes in one unit of the given scale.
func spaceFactor(scale uint8) float64 {
	return math.Pow(1024, float64(scale))
}

// timeFactor returns the number of nanoseconds in one unit of the given scale.
func timeFactor(scale uint8) (float64, error) {
	switch scale {
	case TimeNSec:
		return 1, nil
	case TimeUSec:
		return 1e3, nil
	case TimeMSec:
		return 1e6, nil
	case TimeSec:
		return 1e9, nil
	case TimeMin:
		return 60e9, nil
	case TimeHour:
		return 3600e9, nil
	}
	return 0, fmt.Errorf("invalid time scale %d", scale)
}

// UnitConverter converts a value between two units of the same dimension.
type UnitConverter interface {
	ConvertUnit(v float64, typ Type, from, to Units) (float64, error)
}

// ScaleConverter implements UnitConverter by rescaling each dimension.
type ScaleConverter struct{}

var _ UnitConverter = ScaleConverter{}

// ConvertUnit rescales v from the units from to the units to. Values of
// integer types are rounded to the nearest integer, matching what a tool
// printing integer metrics expects.
func (ScaleConverter) ConvertUnit(v float64, typ Type, from, to Units) (float64, error) {
	if !from.SameDimension(to) {
		return 0, fmt.Errorf("%w: %q to %q", ErrIncompatibleUnits, from, to)
	}
	if from == to {
		return v, nil
	}

	factor := 1.0
	if from.DimSpace != 0 {
		factor *= math.Pow(spaceFactor(from.ScaleSpace)/spaceFactor(to.ScaleSpace),
			float64(from.DimSpace))
	}
	if from.DimTime != 0 {
		f, err := timeFactor(from.ScaleTime)
		if err != nil {
			return 0, err
		}
		t, err := timeFactor(to.ScaleTime)
		if err != nil {
			return 0, err
		}
		factor *= math.Pow(f/t, float64(from.DimTime))
	}
	if from.DimCount != 0 {
		factor *= math.Pow(10, float64(from.ScaleCount-to.ScaleCount)*float64(from.DimCount))
	}

	out := v * factor
	if !typ.IsFloat() {
		out = math.Round(out)
	}
	return out, nil
}
