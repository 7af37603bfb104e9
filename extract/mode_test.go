package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Article(), false},
		{"article", Article(), false},
		{"FULL", Full(), false},
		{"metadata", Metadata(), false},
		{"custom:h1, .byline", Custom("h1", ".byline"), false},
		{"custom", Mode{}, true},
		{"summary", Mode{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeJSONShape(t *testing.T) {
	data, err := json.Marshal(Custom("article p"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"custom","fields":["article p"]}`, string(data))

	data, err = json.Marshal(Article())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"article"}`, string(data))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "article", Article().String())
	assert.Equal(t, "custom:a,b", Custom("a", "b").String())
	assert.True(t, Metadata().Known())
	assert.False(t, Mode{Kind: "bogus"}.Known())
}
