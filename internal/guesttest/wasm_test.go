package guesttest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLEB128(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{24, []byte{0x18}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-1, []byte{0x7f}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sleb(tt.v), "sleb(%d)", tt.v)
	}

	assert.Equal(t, []byte{0xe5, 0x8e, 0x26}, uleb(624485))
	assert.Equal(t, []byte{0x80, 0x01}, uleb(128))
}

func TestBuildHeader(t *testing.T) {
	g := Article("Test")
	wasm := g.Module()

	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, wasm[:8])
	assert.Equal(t, "article-Test", g.Name())
	assert.Contains(t, string(wasm), `"title":"Test"`)
}
