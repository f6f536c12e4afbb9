package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/scorevault/pkg/config"
	"github.com/Mindburn-Labs/scorevault/pkg/devnet"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe/relayer"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// runDevnetCmd serves the local ledger's relayer endpoints until interrupted.
func runDevnetCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "token" {
		return runDevnetTokenCmd(args[1:], stdout, stderr)
	}

	cmd := flag.NewFlagSet("devnet", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cmd.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address")
	cmd.DurationVar(&cfg.BlockTime, "block-time", cfg.BlockTime, "Delay before a submission confirms")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, stderr)
	vault, err := kms.NewLocalKMS(cfg.KeyringPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	n, err := openLocalNetwork(ctx, cfg, db, vault, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var opts []devnet.ServerOption
	opts = append(opts, devnet.WithServerLogger(logger))
	if cfg.JWTSecret != "" {
		opts = append(opts, devnet.WithJWTSecret([]byte(cfg.JWTSecret)))
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           devnet.NewServer(n, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	_, _ = fmt.Fprintf(stdout, "devnet chain=%s ledger=%s coprocessor=%s listening on %s\n",
		n.ChainID(), n.Address().Hex(), n.Coprocessor().Hex(), cfg.ListenAddr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("devnet server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("devnet shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

// runDevnetTokenCmd mints a bearer token accepted by a devnet started with
// the same SCOREVAULT_JWT_SECRET.
func runDevnetTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("devnet token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		ttl     time.Duration
	)
	cmd.StringVar(&subject, "subject", "scorevault", "Token subject")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.JWTSecret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: SCOREVAULT_JWT_SECRET is not set")
		return 2
	}
	if subject == "" || ttl <= 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --subject and a positive --ttl are required")
		return 2
	}

	token, err := relayer.NewToken([]byte(cfg.JWTSecret), subject, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
