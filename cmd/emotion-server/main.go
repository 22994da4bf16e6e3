// Command emotion-server serves the voice emotion detector web interface.
//
// Usage:
//
//	emotion-server [flags]
//	emotion-server check
//	emotion-server version
//
// Configuration is read from .env, an optional YAML file and environment
// variables, in increasing order of precedence. Flags override all three.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
