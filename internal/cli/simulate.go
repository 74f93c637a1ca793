package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"swap-triggers/internal/app"
)

var (
	simulateSymbol string
	simulateAbove  float64
	simulateBelow  float64
	simulateWhen   string
	simulateValues string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "预演一个触发条件的评估过程，不会真正下单",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Symbol: simulateSymbol,
			When:   simulateWhen,
			Values: simulateValues,
		}
		if simulateAbove > 0 {
			opts.Above = decimal.NewFromFloat(simulateAbove)
		}
		if simulateBelow > 0 {
			opts.Below = decimal.NewFromFloat(simulateBelow)
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTC", "Asset symbol")
	simulateCmd.Flags().Float64Var(&simulateAbove, "above", 0, "Simple predicate: ABOVE target price")
	simulateCmd.Flags().Float64Var(&simulateBelow, "below", 0, "Simple predicate: BELOW target price")
	simulateCmd.Flags().StringVar(&simulateWhen, "when", "", "Compound conditions, e.g. \"RSI<30,PRICE<60000\"")
	simulateCmd.Flags().StringVar(&simulateValues, "values", "", "固定的指标读数, 如 \"PRICE=59000,RSI=25\"")
}
