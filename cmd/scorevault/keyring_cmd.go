package main

import (
	"fmt"
	"io"

	"github.com/Mindburn-Labs/scorevault/pkg/config"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// runKeyringCmd manages the local keyring that seals holder keys and devnet
// plaintexts at rest.
func runKeyringCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: scorevault keyring <rotate|status>")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	vault, err := kms.NewLocalKMS(cfg.KeyringPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch args[0] {
	case "rotate":
		v, err := vault.Rotate()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "keyring %s rotated to v%d\n", cfg.KeyringPath, v)
	case "status":
		_, _ = fmt.Fprintf(stdout, "keyring %s active v%d\n", cfg.KeyringPath, vault.ActiveVersion())
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown keyring command: %s\n", args[0])
		return 2
	}
	return 0
}
