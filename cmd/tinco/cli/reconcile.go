package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
)

// Reconciler compares stored balances against the movement log.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.Discrepancy, error)
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of the reconcile command.
type ReconcileSummary struct {
	OK            bool                    `json:"ok"`
	Discrepancies []inventory.Discrepancy `json:"discrepancies"`
}

// ReconcileCommand runs a synchronous reconciliation. It exits 10 when any
// balance disagrees with the log.
func ReconcileCommand(ctx context.Context, svc Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	found, err := svc.Reconcile(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if found == nil {
		found = []inventory.Discrepancy{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(ReconcileSummary{OK: len(found) == 0, Discrepancies: found}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, found)
	}
	if len(found) > 0 {
		return 10
	}
	return 0
}

func renderReconcileHuman(out io.Writer, found []inventory.Discrepancy) {
	if len(found) == 0 {
		_, _ = fmt.Fprintln(out, "All balances match the movement log.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d discrepancy(ies) detected:\n", len(found))
	for _, d := range found {
		_, _ = fmt.Fprintf(out, " - %s on_hand stored=%s replay=%s reserved stored=%s replay=%s",
			d.Key, d.StoredOnHand, d.ReplayOnHand, d.StoredReserved, d.ReplayReserved)
		if d.NegativeAvail {
			_, _ = fmt.Fprint(out, " (negative available)")
		}
		_, _ = fmt.Fprintln(out)
	}
}
