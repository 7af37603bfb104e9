// Package guesttest assembles tiny WASI guests for tests: fixed responders,
// fuel and memory hogs, stalls and traps. Each guest imports the same
// functions and shares one data layout, so behaviours compose as plain
// instruction sequences.
package guesttest

import (
	"encoding/binary"
	"fmt"
)

// Function index space shared by every guest.
const (
	fnFdWrite     = 0
	fnFdRead      = 1
	fnProcExit    = 2
	fnConsumeFuel = 3
	fnStart       = 4
	fnSpin        = 5
)

// Data layout: three iovecs, a scratch word, then the stdout and stderr text.
const (
	iovStdout = 0
	iovStderr = 8
	iovRead   = 16
	scratch   = 24
	textBase  = 64
	readBuf   = 32768
	readLen   = 256
)

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

// Guest is an assembled module; it satisfies executor.Guest.
type Guest struct {
	name string
	wasm []byte
}

func (g Guest) Name() string { return g.name }
func (g Guest) Module() []byte { return g.wasm }

// Spec describes a guest to assemble.
type Spec struct {
	Name   string
	Stdout string
	Stderr string
	// Body is the instruction sequence of _start, without the final end.
	Body []byte
	// MemoryPages is the initial memory size; zero means one page.
	MemoryPages uint32
	// HostModule overrides the module name of the consume_fuel import.
	HostModule string
	// OmitStart leaves _start unexported.
	OmitStart bool
}

// Build assembles s into a guest.
func Build(s Spec) Guest {
	if len(s.Stdout)+len(s.Stderr) > readBuf-textBase {
		panic(fmt.Sprintf("guesttest: %s: text does not fit the data layout", s.Name))
	}
	return Guest{name: s.Name, wasm: s.encode()}
}

func (s Spec) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	out = section(out, 1, vec(
		[]byte{0x60, 4, valI32, valI32, valI32, valI32, 1, valI32},
		[]byte{0x60, 1, valI32, 0},
		[]byte{0x60, 0, 0},
		[]byte{0x60, 1, valI64, 0},
	))

	host := s.HostModule
	if host == "" {
		host = "gorex"
	}
	out = section(out, 2, vec(
		importFunc("wasi_snapshot_preview1", "fd_write", 0),
		importFunc("wasi_snapshot_preview1", "fd_read", 0),
		importFunc("wasi_snapshot_preview1", "proc_exit", 1),
		importFunc(host, "consume_fuel", 3),
	))

	out = section(out, 3, vec([]byte{2}, []byte{2}))

	pages := s.MemoryPages
	if pages == 0 {
		pages = 1
	}
	out = section(out, 5, vec(append([]byte{0x00}, uleb(uint64(pages))...)))

	exports := [][]byte{append(name("memory"), 0x02, 0x00)}
	if !s.OmitStart {
		exports = append(exports, append(name("_start"), 0x00, fnStart))
	}
	out = section(out, 7, vec(exports...))

	out = section(out, 10, vec(funcBody(s.Body), funcBody(nil)))

	seg := []byte{0x00, 0x41, 0x00, 0x0b}
	seg = append(seg, name(string(s.layout()))...)
	out = section(out, 11, vec(seg))

	return out
}

func (s Spec) layout() []byte {
	data := make([]byte, textBase, textBase+len(s.Stdout)+len(s.Stderr))
	binary.LittleEndian.PutUint32(data[iovStdout:], textBase)
	binary.LittleEndian.PutUint32(data[iovStdout+4:], uint32(len(s.Stdout)))
	binary.LittleEndian.PutUint32(data[iovStderr:], uint32(textBase+len(s.Stdout)))
	binary.LittleEndian.PutUint32(data[iovStderr+4:], uint32(len(s.Stderr)))
	binary.LittleEndian.PutUint32(data[iovRead:], readBuf)
	binary.LittleEndian.PutUint32(data[iovRead+4:], readLen)
	data = append(data, s.Stdout...)
	data = append(data, s.Stderr...)
	return data
}

func section(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func importFunc(module, field string, typeIdx byte) []byte {
	out := append(name(module), name(field)...)
	return append(out, 0x00, typeIdx)
}

func funcBody(instrs []byte) []byte {
	body := append([]byte{0x00}, instrs...)
	body = append(body, 0x0b)
	return append(uleb(uint64(len(body))), body...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
