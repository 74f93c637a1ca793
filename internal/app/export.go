package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"swap-triggers/internal/trigger"
)

const defaultExportPoints = 10000

// Export renders execution history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultExportPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	executions, err := store.ListExecutionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		a.Logger.Info().Msg("no executions found for export window")
		return nil
	}

	downsampled := downsampleExecutions(executions, opts.MaxPoints)
	a.Logger.Info().Int("total", len(executions)).Int("exported", len(downsampled)).Msg("exporting executions")

	if opts.CSVPath != "" {
		if err := writeExecutionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeExecutionsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleExecutions(executions []trigger.Execution, max int) []trigger.Execution {
	if max <= 0 || len(executions) <= max {
		return executions
	}

	result := make([]trigger.Execution, 0, max)
	step := float64(len(executions)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(executions) {
			idx = len(executions) - 1
		}
		result = append(result, executions[idx])
	}
	return result
}

func writeExecutionsCSV(path string, executions []trigger.Execution) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "trigger_id", "symbol", "side", "amount", "observed_price", "status", "tx_reference", "error_detail"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, exec := range executions {
		record := []string{
			exec.CreatedAt.Format(time.RFC3339),
			exec.TriggerID,
			exec.Symbol,
			string(exec.Side),
			exec.Amount.String(),
			exec.ObservedPrice.String(),
			string(exec.Status),
			exec.TxReference,
			exec.ErrorDetail,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeExecutionsPNG(path string, executions []trigger.Execution) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(executions))
	prices := make([]float64, len(executions))
	outcomes := make([]float64, len(executions))

	for i, exec := range executions {
		x[i] = exec.CreatedAt
		prices[i] = exec.ObservedPrice.InexactFloat64()
		if exec.Status == trigger.ExecSuccess {
			outcomes[i] = 1
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Observed price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Outcome (1=success)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Observed price",
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Outcome",
				XValues: x,
				YValues: outcomes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
