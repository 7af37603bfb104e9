// Command buildguest compiles a guest package for wasip1. It is run by
// go generate in the guest package.
package main

import (
	"fmt"
	"os"
	"os/exec"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: buildguest <package> <output>")
		os.Exit(1)
	}

	pkg, output := os.Args[1], os.Args[2]

	cmd := exec.Command("go", "build", "-trimpath", "-o", output, pkg)
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "build guest:", err)
		os.Exit(1)
	}
}
