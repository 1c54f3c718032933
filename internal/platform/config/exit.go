package config

import (
	"fmt"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
// CLI entry points use it for fatal wiring errors, before the structured
// logger is worth setting up.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
