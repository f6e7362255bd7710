// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertUnit(t *testing.T) {
	kbyte := Units{DimSpace: 1, ScaleSpace: SpaceKByte}
	mbyte := Units{DimSpace: 1, ScaleSpace: SpaceMByte}
	msec := Units{DimTime: 1, ScaleTime: TimeMSec}
	sec := Units{DimTime: 1, ScaleTime: TimeSec}
	bytesPerSec := Units{DimSpace: 1, DimTime: -1, ScaleTime: TimeSec}
	kbytesPerMin := Units{DimSpace: 1, DimTime: -1, ScaleSpace: SpaceKByte, ScaleTime: TimeMin}
	count := Units{DimCount: 1}
	kcount := Units{DimCount: 1, ScaleCount: 3}

	tests := map[string]struct {
		value    float64
		typ      Type
		from, to Units
		expected float64
	}{
		"identity":               {value: 42.5, typ: TypeDouble, from: kbyte, to: kbyte, expected: 42.5},
		"kbyte to mbyte":         {value: 2048, typ: TypeDouble, from: kbyte, to: mbyte, expected: 2},
		"mbyte to kbyte":         {value: 3, typ: TypeUint64, from: mbyte, to: kbyte, expected: 3072},
		"msec to sec":            {value: 1500, typ: TypeDouble, from: msec, to: sec, expected: 1.5},
		"integer types round":    {value: 1500, typ: TypeUint64, from: msec, to: sec, expected: 2},
		"rate rescaled":          {value: 1024, typ: TypeDouble, from: bytesPerSec, to: kbytesPerMin, expected: 60},
		"count scale":            {value: 5000, typ: TypeDouble, from: count, to: kcount, expected: 5},
		"dimensionless identity": {value: 7, typ: TypeInt32, from: Units{}, to: Units{}, expected: 7},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ScaleConverter{}.ConvertUnit(tc.value, tc.typ, tc.from, tc.to)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestConvertUnitIncompatible(t *testing.T) {
	_, err := ScaleConverter{}.ConvertUnit(1, TypeDouble,
		Units{DimSpace: 1}, Units{DimTime: 1, ScaleTime: TimeSec})
	require.ErrorIs(t, err, ErrIncompatibleUnits)
}

func TestUnitsString(t *testing.T) {
	assert.Equal(t, "Kbyte / sec",
		Units{DimSpace: 1, DimTime: -1, ScaleSpace: SpaceKByte, ScaleTime: TimeSec}.String())
	assert.Equal(t, "millisec", Units{DimTime: 1, ScaleTime: TimeMSec}.String())
	assert.Equal(t, "count", Units{DimCount: 1}.String())
	assert.Empty(t, Units{}.String())
}
