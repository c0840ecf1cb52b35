package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "status":
		err = runStatus(os.Args[2:])
	case "logs":
		err = runLogs(os.Args[2:])
	case "events":
		err = runEvents(os.Args[2:])
	case "stop":
		err = runCtl("stop", os.Args[2:])
	case "start":
		err = runCtl("start", os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "moor: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "moor %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: moor <command> [flags]

Commands:
  status             Show the state of every service
  logs               View captured service output
  events             Stream deployment lifecycle events
  stop  <service>    Stop a service
  start <service>    Start a stopped or failed service

All commands talk to moord at MOOR_ADDR (default http://127.0.0.1:7700);
override per invocation with -addr.

Run 'moor <command> --help' for command-specific flags.
`)
}
