// Command extractor is the reference extraction guest. Built for wasip1, it is
// run once per call as: extractor <op> <request-json>, and writes a single
// JSON envelope to stdout.
package main

import "os"

func main() {
	op, arg := "", "{}"
	if len(os.Args) > 1 {
		op = os.Args[1]
	}
	if len(os.Args) > 2 {
		arg = os.Args[2]
	}
	os.Stdout.Write(respond(op, []byte(arg)))
}
