// Striker - a remotely tasked agent that polls a command server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"striker/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "striker: %v\n", err)
		os.Exit(1)
	}
}
