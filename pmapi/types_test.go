// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pmapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPmID(t *testing.T) {
	id := NewPmID(60, 0, 4)
	assert.Equal(t, "60.0.4", id.String())
	assert.Equal(t, PmID(60<<22|4), id)
	assert.Equal(t, "60.2.1023", NewPmID(60, 2, 1023).String())
	assert.Equal(t, "PM_ID_NULL", PmIDNull.String())
}

func TestInDom(t *testing.T) {
	assert.Equal(t, "60.19", NewInDom(60, 19).String())
	assert.Equal(t, "PM_INDOM_NULL", InDomNull.String())
}

func TestParseSemantics(t *testing.T) {
	for _, sem := range []Semantics{SemCounter, SemInstant, SemDiscrete} {
		parsed, err := ParseSemantics(sem.String())
		require.NoError(t, err)
		assert.Equal(t, sem, parsed)
	}
	_, err := ParseSemantics("gauge")
	require.Error(t, err)
	assert.Equal(t, "Semantics(2)", Semantics(2).String())
}

func TestParseType(t *testing.T) {
	tests := map[string]struct {
		typ      Type
		unsigned bool
		float    bool
	}{
		"32":     {typ: TypeInt32},
		"u32":    {typ: TypeUint32, unsigned: true},
		"64":     {typ: TypeInt64},
		"u64":    {typ: TypeUint64, unsigned: true},
		"float":  {typ: TypeFloat, float: true},
		"double": {typ: TypeDouble, float: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			typ, err := ParseType(name)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, typ)
			assert.Equal(t, name, typ.String())
			assert.Equal(t, tc.unsigned, typ.IsUnsigned())
			assert.Equal(t, tc.float, typ.IsFloat())
		})
	}
	_, err := ParseType("string")
	require.Error(t, err)
}
