//nolint:funlen // ok for tests
package inflate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	encoded, err := Encode([]byte(`{"x":1}`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{
			name:  "compressed object",
			input: encoded,
			want:  map[string]any{"x": float64(1)},
		},
		{
			name:    "plain json",
			input:   `{"x":1}`,
			wantErr: true,
		},
		{
			name:    "base64 but not deflated",
			input:   "aGVsbG8gd29ybGQ=",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOrRaw(t *testing.T) {
	encoded, err := Encode([]byte(`[1,2,3]`))
	require.NoError(t, err)

	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, DecodeOrRaw(encoded, nil))
	assert.Equal(t, `{"plain":true}`, DecodeOrRaw(`{"plain":true}`, nil))
}

func TestIsCompressedTopic(t *testing.T) {
	assert.True(t, IsCompressedTopic("CarData.z"))
	assert.False(t, IsCompressedTopic("TimingData"))
}
