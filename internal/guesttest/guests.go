package guesttest

import (
	"encoding/json"
	"fmt"
)

// Respond answers every call with stdout.
func Respond(name, stdout string) Guest {
	return Build(Spec{Name: name, Stdout: stdout, Body: WriteStdout()})
}

// OK answers every call with {"ok": payload}.
func OK(name string, payload any) Guest {
	return Respond(name, okEnvelope(payload))
}

// Article answers every call with extracted content carrying title.
func Article(title string) Guest {
	return OK("article-"+title, map[string]any{
		"title":         title,
		"text":          "Content",
		"quality_score": 40,
		"word_count":    1,
	})
}

// Failing answers every call with a guest error of kind.
func Failing(kind, message string) Guest {
	data, _ := json.Marshal(map[string]any{"error": map[string]string{"kind": kind, "message": message}})
	return Respond("failing-"+kind, string(data))
}

// Trapping hits unreachable immediately.
func Trapping() Guest {
	return Build(Spec{Name: "trapping", Body: Trap()})
}

// ExitCode prints nothing and exits with code.
func ExitCode(code int32) Guest {
	return Build(Spec{Name: fmt.Sprintf("exit-%d", code), Body: Exit(code)})
}

// Silent returns without printing anything.
func Silent() Guest {
	return Build(Spec{Name: "silent"})
}

// FuelHog calls a function in an endless loop; only fuel can stop it.
func FuelHog() Guest {
	return Build(Spec{Name: "fuel-hog", Body: Forever(CallSpin())})
}

// BulkFuel charges units explicitly, then answers ok.
func BulkFuel(units int64) Guest {
	return Build(Spec{
		Name:   fmt.Sprintf("bulk-fuel-%d", units),
		Stdout: okEnvelope(map[string]any{"title": "charged"}),
		Body:   concat(ConsumeFuel(units), WriteStdout()),
	})
}

// TightLoop spins without calls, consuming no fuel; only the deadline stops it.
func TightLoop() Guest {
	return Build(Spec{Name: "tight-loop", Body: Forever()})
}

// Stall blocks reading stdin, consuming no fuel.
func Stall() Guest {
	return Build(Spec{Name: "stall", Body: Forever(ReadStdin())})
}

// MemoryHog grows memory until denied, then answers ok.
func MemoryHog() Guest {
	return Build(Spec{
		Name:   "memory-hog",
		Stdout: okEnvelope(map[string]any{"title": "hog"}),
		Body:   concat(GrowUntilDenied(), WriteStdout()),
	})
}

// MemoryHogTrap grows memory until denied, then traps the way an allocator
// that cannot handle failure would.
func MemoryHogTrap() Guest {
	return Build(Spec{Name: "memory-hog-trap", Body: concat(GrowUntilDenied(), Trap())})
}

// LargeMemory declares an initial memory of pages.
func LargeMemory(pages uint32) Guest {
	return Build(Spec{
		Name:        fmt.Sprintf("large-memory-%d", pages),
		Stdout:      okEnvelope(true),
		Body:        WriteStdout(),
		MemoryPages: pages,
	})
}

// HostCall calls host function fn through the stderr protocol, waits for the
// response on stdin, then answers with extracted content.
func HostCall(fn string) Guest {
	frame := fmt.Sprintf("\x00GOREX:{\"fn\":%q,\"args\":{}}\x00", fn)
	return Build(Spec{
		Name:   "host-call-" + fn,
		Stdout: okEnvelope(map[string]any{"title": "after " + fn, "quality_score": 10}),
		Stderr: frame,
		Body:   concat(WriteStderr(), ReadStdin(), WriteStdout()),
	})
}

// Switchable asks host function fn for the outcome of every call. An error
// response makes it trap; any other response yields extracted content.
func Switchable(fn string) Guest {
	// A response line starts with {"data" or {"error".
	frame := fmt.Sprintf("\x00GOREX:{\"fn\":%q,\"args\":{}}\x00", fn)
	return Build(Spec{
		Name:   "switchable-" + fn,
		Stdout: okEnvelope(map[string]any{"title": "Test", "text": "Content", "quality_score": 40}),
		Stderr: frame,
		Body:   concat(WriteStderr(), ReadStdin(), TrapIfByte(readBuf+2, 'e'), WriteStdout()),
	})
}

// NoStart lacks the _start export.
func NoStart() Guest {
	return Build(Spec{Name: "no-start", OmitStart: true})
}

// ForeignImport imports from a module the host does not provide.
func ForeignImport() Guest {
	return Build(Spec{Name: "foreign-import", HostModule: "env", Body: WriteStdout(), Stdout: okEnvelope(true)})
}

func okEnvelope(payload any) string {
	data, err := json.Marshal(map[string]any{"ok": payload})
	if err != nil {
		panic(err)
	}
	return string(data)
}
