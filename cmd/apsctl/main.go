// Command apsctl is a command-line client for Autodesk Platform Services
// storage, Design Automation and Model Derivative.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/aps-client/pkg/client"
)

// Exit codes.
const (
	exitOK = iota
	exitFailure
	exitUsage
	exitTimeout
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	if err := a.execute(ctx, root); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, client.ErrTimeout):
		return exitTimeout
	case errors.Is(err, client.ErrMissingCredential), errors.Is(err, errUsage):
		return exitUsage
	default:
		return exitFailure
	}
}
