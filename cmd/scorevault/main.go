package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "devnet":
		return runDevnetCmd(args[2:], stdout, stderr)
	case "submit":
		return runSubmitCmd(args[2:], stdout, stderr)
	case "list", "ls":
		return runListCmd(args[2:], stdout, stderr)
	case "decrypt":
		return runDecryptCmd(args[2:], stdout, stderr)
	case "keyring":
		return runKeyringCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "scorevault %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: scorevault <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  devnet    Serve a local ledger and relayer (devnet token: mint a bearer token)")
	fmt.Fprintln(w, "  submit    Encrypt and record a value (--value, --label)")
	fmt.Fprintln(w, "  list      List owned records (--decrypt, --json)")
	fmt.Fprintln(w, "  decrypt   Decrypt one record field (--id, --field)")
	fmt.Fprintln(w, "  keyring   Rotate or inspect the local keyring (rotate, status)")
	fmt.Fprintln(w, "  version   Print the version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from the environment (DATABASE_URL, REDIS_URL,")
	fmt.Fprintln(w, "SCOREVAULT_DEPLOYMENTS, SCOREVAULT_PRIVATE_KEY, LOG_LEVEL, OTEL_ENABLED).")
}
