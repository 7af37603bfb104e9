package guesttest

// Instruction sequences for Spec.Body.

func i32(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }

func call(idx byte) []byte { return []byte{0x10, idx} }

// WriteStdout writes Spec.Stdout to fd 1.
func WriteStdout() []byte { return fdCall(fnFdWrite, 1, iovStdout) }

// WriteStderr writes Spec.Stderr to fd 2.
func WriteStderr() []byte { return fdCall(fnFdWrite, 2, iovStderr) }

// ReadStdin reads up to 256 bytes from fd 0, blocking until data or EOF.
func ReadStdin() []byte { return fdCall(fnFdRead, 0, iovRead) }

func fdCall(fn byte, fd, iov int32) []byte {
	out := concat(i32(fd), i32(iov), i32(1), i32(scratch), call(fn))
	return append(out, 0x1a)
}

// Exit calls proc_exit.
func Exit(code int32) []byte { return concat(i32(code), call(fnProcExit)) }

// ConsumeFuel charges units through the gorex.consume_fuel import.
func ConsumeFuel(units int64) []byte {
	return concat([]byte{0x42}, sleb(units), call(fnConsumeFuel))
}

// Forever repeats body without end.
func Forever(body ...[]byte) []byte {
	out := []byte{0x03, 0x40}
	out = append(out, concat(body...)...)
	return append(out, 0x0c, 0x00, 0x0b)
}

// CallSpin calls an empty guest function; each call costs one unit of fuel.
func CallSpin() []byte { return call(fnSpin) }

// GrowUntilDenied grows memory one page at a time until memory.grow returns -1.
func GrowUntilDenied() []byte {
	out := []byte{0x03, 0x40}
	out = append(out, i32(1)...)
	out = append(out, 0x40, 0x00)
	out = append(out, i32(-1)...)
	return append(out, 0x47, 0x0d, 0x00, 0x0b)
}

// TrapIfByte traps when the byte at addr equals b.
func TrapIfByte(addr int32, b byte) []byte {
	load := concat(i32(addr), []byte{0x2d, 0x00, 0x00})
	eq := concat(i32(int32(b)), []byte{0x46})
	return concat(load, eq, []byte{0x04, 0x40}, Trap(), []byte{0x0b})
}

// Trap executes unreachable.
func Trap() []byte { return []byte{0x00} }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
