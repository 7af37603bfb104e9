// Package guest loads extractor modules for the executor.
//
// The reference extractor lives in guest/extractor and is built for wasip1:
//
//	GOOS=wasip1 GOARCH=wasm go build -o extractor.wasm ./guest/extractor
//
// or with go generate in this directory.
package guest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

//go:generate go run ../internal/tools/buildguest ./extractor extractor.wasm

// Module is an extractor binary. Its name embeds a digest of the bytes so two
// different builds never share a compilation cache entry.
type Module struct {
	name   string
	digest string
	wasm   []byte
}

// FromBytes wraps wasm, which must be a WebAssembly binary.
func FromBytes(name string, wasm []byte) (*Module, error) {
	if mt := mimetype.Detect(wasm); !mt.Is("application/wasm") {
		return nil, fmt.Errorf("%s: not a wasm module (detected %s)", name, mt.String())
	}
	sum := sha256.Sum256(wasm)
	digest := hex.EncodeToString(sum[:])
	return &Module{
		name:   name + "@" + digest[:12],
		digest: digest,
		wasm:   wasm,
	}, nil
}

// FromFile reads a module from path.
func FromFile(path string) (*Module, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guest: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromBytes(name, wasm)
}

// MustFromFile is FromFile for program setup; it panics on error.
func MustFromFile(path string) *Module {
	m, err := FromFile(path)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Module) Name() string { return m.name }
func (m *Module) Module() []byte { return m.wasm }

// Digest is the hex SHA-256 of the binary.
func (m *Module) Digest() string { return m.digest }
