package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeMetaValidate(t *testing.T) {
	tt := map[string]struct {
		meta         TypeMeta
		expectedKind string
		expectErr    bool
	}{
		"valid with explicit api version": {
			meta:         TypeMeta{APIVersion: APIVersionV1Alpha1, Kind: "RunConfig"},
			expectedKind: "RunConfig",
		},
		"valid with empty api version": {
			meta:         TypeMeta{Kind: "RunConfig"},
			expectedKind: "RunConfig",
		},
		"wrong kind": {
			meta:         TypeMeta{APIVersion: APIVersionV1Alpha1, Kind: "Task"},
			expectedKind: "RunConfig",
			expectErr:    true,
		},
		"unknown api version": {
			meta:         TypeMeta{APIVersion: "roboloop/v2", Kind: "RunConfig"},
			expectedKind: "RunConfig",
			expectErr:    true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			err := tc.meta.Validate(tc.expectedKind)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUnmarshalWithKind(t *testing.T) {
	type doc struct {
		TypeMeta
		Name string `json:"name"`
	}

	tt := map[string]struct {
		data      string
		expectErr bool
	}{
		"matching kind": {
			data: `{"kind": "RunConfig", "name": "demo"}`,
		},
		"mismatched kind": {
			data:      `{"kind": "Task", "name": "demo"}`,
			expectErr: true,
		},
		"missing kind": {
			data:      `{"name": "demo"}`,
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			target := &doc{}
			err := UnmarshalWithKind([]byte(tc.data), target, "RunConfig")
			if tc.expectErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, "demo", target.Name)
		})
	}
}
