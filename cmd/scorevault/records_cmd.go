package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/Mindburn-Labs/scorevault/pkg/config"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/workflow"
)

// exitCode maps a workflow result to a process exit code.
//
//	0 = desired state holds
//	1 = the run failed or was dropped
//	2 = invalid input or unmet precondition
func exitCode(res workflow.Result) int {
	switch res.Status {
	case workflow.StatusCompleted, workflow.StatusNoop:
		return 0
	case workflow.StatusInvalid, workflow.StatusPrecondition:
		return 2
	default:
		return 1
	}
}

func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) int) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	a, err := openApp(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()
	return fn(ctx, a)
}

func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		value      int64
		label      string
		contentRef string
		jsonOutput bool
	)
	cmd.Int64Var(&value, "value", -1, "Plaintext value to encrypt (REQUIRED)")
	cmd.StringVar(&label, "label", "", "Record label (REQUIRED)")
	cmd.StringVar(&contentRef, "ref", "", "Content reference stored with the record")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if label == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --label is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		res := a.ctrl.Submit(ctx, workflow.Submission{Value: value, Label: label, ContentRef: contentRef})
		if jsonOutput {
			out := map[string]any{"status": res.Status.String(), "message": res.Message}
			if res.Receipt != nil {
				out["tx"] = res.Receipt.TxRef.String()
				out["block"] = res.Receipt.BlockNumber
			}
			writeJSON(stdout, out)
		} else if res.Receipt != nil {
			_, _ = fmt.Fprintf(stdout, "%s tx=%s block=%d\n", res.Status, res.Receipt.TxRef, res.Receipt.BlockNumber)
		}
		return exitCode(res)
	})
}

func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var decrypt, jsonOutput bool
	cmd.BoolVar(&decrypt, "decrypt", false, "Decrypt every field after loading")
	cmd.BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		res := a.ctrl.Refresh(ctx)
		if !res.OK() {
			return exitCode(res)
		}
		code := 0
		if decrypt {
			for _, rec := range a.ctrl.Records() {
				for _, f := range []contracts.Field{contracts.FieldValue, contracts.FieldFlag} {
					if !a.ctrl.CanDecrypt(rec.ID, f) {
						continue
					}
					if r := a.ctrl.Decrypt(ctx, rec.ID, f); !r.OK() {
						code = exitCode(r)
					}
				}
			}
		}

		recs := a.ctrl.Records()
		if jsonOutput {
			writeJSON(stdout, recs)
			return code
		}
		total, err := a.ctrl.RecordCount(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "record count unavailable", "error", err)
		}
		printRecords(stdout, recs)
		_, _ = fmt.Fprintf(stdout, "%d owned, %d on ledger\n", len(recs), total)
		return code
	})
}

func runDecryptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id        uint64
		fieldName string
	)
	cmd.Uint64Var(&id, "id", 0, "Record id (REQUIRED)")
	cmd.StringVar(&fieldName, "field", "value", "Field to decrypt: value or flag")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	field, err := contracts.ParseField(fieldName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if id == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		if res := a.ctrl.Refresh(ctx); !res.OK() {
			return exitCode(res)
		}
		res := a.ctrl.Decrypt(ctx, contracts.RecordID(id), field)
		if res.Record != nil {
			_, _ = fmt.Fprintln(stdout, plaintext(*res.Record, field))
		}
		return exitCode(res)
	})
}

func plaintext(r contracts.Record, f contracts.Field) string {
	switch {
	case f == contracts.FieldFlag && r.Flag != nil:
		return fmt.Sprint(*r.Flag)
	case f == contracts.FieldValue && r.Value != nil:
		return fmt.Sprint(*r.Value)
	default:
		return "encrypted"
	}
}

func printRecords(w io.Writer, recs []contracts.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tLABEL\tVALUE\tFLAG")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Label,
			plaintext(r, contracts.FieldValue), plaintext(r, contracts.FieldFlag))
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
