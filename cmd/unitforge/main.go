package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unitforge/internal/build"
	"unitforge/internal/cli"
)

func main() {
	inv, err := cli.ParseInvocation(os.Args[1:])
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, execErr := cli.Execute(ctx, inv, cli.OSStreams())
	stop()

	// Job failures were already reported by the shell.
	var jobErr *build.JobError
	if execErr != nil && !errors.As(execErr, &jobErr) {
		fmt.Fprintf(os.Stderr, "error: %v\n", execErr)
	}
	os.Exit(result.ExitCode)
}
