package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	handled, exitCode := dispatchSubcommand(os.Args[1:])
	if !handled {
		printHelp()
		exitCode = 2
	}
	os.Exit(exitCode)
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "run":
		return true, runCommand(runRunCommand, args[1:])
	case "scan":
		return true, runCommand(runScanCommand, args[1:])
	case "filter":
		return true, runCommand(runFilterCommand, args[1:])
	case "report":
		return true, runCommand(runReportCommand, args[1:])
	case "serve":
		return true, runCommand(runServeCommand, args[1:])
	case "checkpoints":
		return true, runCommand(runCheckpointsCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(os.Stderr, "Run 'inhabit --help' for usage.")
		return true, 1
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Println("inhabit - type inhabitation benchmark harness")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  inhabit <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  run          Drive agents over a corpus: plan, simulate, score")
	fmt.Println("  scan         Audit a corpus: key-type targets and constructor viability")
	fmt.Println("  filter       Derive a manifest from a report (--min-targets, --min-hits)")
	fmt.Println("  report       Inspect a saved report, optionally exporting a workbook")
	fmt.Println("  serve        Serve the status API over the run archive")
	fmt.Println("  checkpoints  List or prune saved run checkpoints")
	fmt.Println("  version      Print version information")
	fmt.Println()
	fmt.Println("CONFIGURATION:")
	fmt.Println("  inhabit.yaml in the working directory (override with --config),")
	fmt.Println("  .env for secrets (override with --env-file); the process")
	fmt.Println("  environment always wins. Key variables: SMI_API_KEY /")
	fmt.Println("  OPENAI_API_KEY, SMI_API_BASE_URL, SMI_MODEL, SMI_DEFAULT_RPC_URL.")
	fmt.Println()
	fmt.Println("Run 'inhabit <command> -h' for command flags.")
}

func printVersion() {
	fmt.Printf("inhabit %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
