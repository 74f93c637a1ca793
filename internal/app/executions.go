package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowExecutions prints recent execution records.
func (a *App) ShowExecutions(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	executions, err := store.ListRecentExecutions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Fprintln(os.Stdout, "no executions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTrigger\tSymbol\tSide\tAmount\tPrice\tStatus\tTx/Error")

	for _, exec := range executions {
		detail := exec.TxReference
		if exec.ErrorDetail != "" {
			detail = sanitizeInline(exec.ErrorDetail)
		}
		at := exec.ExecutedAt
		if at.IsZero() {
			at = exec.CreatedAt
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			at.UTC().Format(time.RFC3339),
			exec.TriggerID,
			exec.Symbol,
			exec.Side,
			exec.Amount.String(),
			exec.ObservedPrice.StringFixed(2),
			exec.Status,
			detail,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
