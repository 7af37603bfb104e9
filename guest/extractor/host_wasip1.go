//go:build wasip1

package main

import (
	"bufio"
	"encoding/json"
	"os"
)

//go:wasmimport gorex consume_fuel
func consumeFuel(units int64)

var stdin = bufio.NewReader(os.Stdin)

// hostCall invokes a host function over the stderr protocol and returns the
// raw response line.
func hostCall(fn string, args map[string]any) []byte {
	req, err := json.Marshal(map[string]any{"fn": fn, "args": args})
	if err != nil {
		return nil
	}
	os.Stderr.Write([]byte("\x00GOREX:"))
	os.Stderr.Write(req)
	os.Stderr.Write([]byte("\x00"))

	line, _ := stdin.ReadBytes('\n')
	return line
}
