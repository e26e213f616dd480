// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package warning

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold Severity
		severity  Severity
		escalate  bool
	}{
		{"fatal threshold records mandatory", Fatal, InvalidMandatoryValue, false},
		{"fatal threshold escalates fatal", Fatal, Fatal, true},
		{"strict escalates equal", MissingMandatoryValue, MissingMandatoryValue, true},
		{"strict records below", MissingMandatoryValue, InvalidOptionalValue, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewList(tt.threshold, nil)
			err := l.Add(InvalidUUID, tt.severity, "value %q", "x")
			if tt.escalate {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrEscalated))
				var fe *FatalError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, InvalidUUID, fe.Warning.Code)
				assert.Equal(t, 0, l.Len())
			} else {
				require.NoError(t, err)
				assert.True(t, l.Has(InvalidUUID))
				assert.Equal(t, `value "x"`, l.Items()[0].Message)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []Severity{InvalidOptionalValue, MissingMandatoryValue, InvalidMandatoryValue, Fatal} {
		got, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSeverity("loud")
	assert.Error(t, err)
}

func TestList_Merge(t *testing.T) {
	a := NewList(Fatal, nil)
	b := NewList(Fatal, nil)
	require.NoError(t, b.Add(MissingKEK, MissingMandatoryValue, "consumer C1"))
	a.Merge(b)
	a.Merge(a)
	assert.Equal(t, 1, a.Len())
}
