// Command adbctl runs one dashboard operation from the shell: list
// devices, run commands, print device information or sample telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"adbdash/internal/adb"

	"github.com/spf13/pflag"
)

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"devices": {"devices", "List reachable devices", runDevices},
	"exec":    {"exec CMD...", "Run a shell command and print its output", runExec},
	"info":    {"info", "Print system information and installed packages", runInfo},
	"top":     {"top [--count N]", "Print telemetry samples as they arrive", runTop},
	"shell":   {"shell", "Open an interactive shell", runShell},
	"watch":   {"watch", "Print device list changes and connection events", runWatch},
	"history": {"history [--metric M] [--limit N]", "Print recorded samples", runHistory},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: adbctl [flags] COMMAND [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-36s %s\n", commands[name].usage, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	pflag.PrintDefaults()
}

func main() {
	var g globals
	pflag.StringVarP(&g.configPath, "config", "c", "", "config file (default $ADBDASH_HOME/config.yaml)")
	pflag.StringVarP(&g.device, "device", "d", "", "serial or name of the device (default: the first one)")
	pflag.BoolVarP(&g.verbose, "verbose", "v", false, "log connection details to stderr")
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "adbctl: unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := runCommand(ctx, g, cmd, args[1:])
	var cmdErr *adb.CommandError
	switch {
	case err == nil:
	case errors.As(err, &cmdErr) && cmdErr.ExitCode > 0:
		// output was already printed
		os.Exit(cmdErr.ExitCode)
	case errors.Is(err, context.Canceled):
	default:
		fmt.Fprintf(os.Stderr, "adbctl: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, g globals, cmd command, args []string) error {
	e, err := newEnv(g)
	if err != nil {
		return err
	}
	defer e.Close()
	return cmd.run(ctx, e, args)
}
