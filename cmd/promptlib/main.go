// Command promptlib manages a versioned prompt library from the shell.
//
// Usage:
//
//	promptlib create greeter --content "Hello {{name}}" --tag onboarding
//	promptlib list --limit 20
//	promptlib search "code review" --type prompt
//	promptlib add-version greeter --file v2.txt --submit
//	promptlib approve greeter 2 --by lead
//	promptlib export
//
// Results are printed to stdout as JSON; logs go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
