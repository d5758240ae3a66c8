// Command pathwatch watches files and directories and reports what changes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code. Signals
// cancel ctx; a second signal is logged and otherwise ignored.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	app := newApp(stdout, stderr)
	stopSignals := watchShutdownSignals(app.loggerFor, cancel, signals)
	defer stopSignals()

	root := app.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	app.close()
	if err != nil {
		fmt.Fprintf(stderr, "pathwatch: %v\n", err)
		return 1
	}
	return 0
}
