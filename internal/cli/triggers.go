package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"swap-triggers/internal/app"
)

var (
	addOwner  string
	addSymbol string
	addSide   string
	addAmount float64
	addAbove  float64
	addBelow  float64
	addWhen   string

	triggersLimit int
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Manage standing triggers",
}

var triggersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addAmount <= 0 {
			return errors.New("--amount must be greater than 0")
		}

		opts := app.AddTriggerOptions{
			Owner:  addOwner,
			Symbol: addSymbol,
			Side:   addSide,
			Amount: decimal.NewFromFloat(addAmount),
			When:   addWhen,
		}
		if addAbove > 0 {
			opts.Above = decimal.NewFromFloat(addAbove)
		}
		if addBelow > 0 {
			opts.Below = decimal.NewFromFloat(addBelow)
		}

		return getApp().AddTrigger(cmd.Context(), opts)
	},
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Display recent triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if triggersLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ListTriggers(cmd.Context(), app.ShowOptions{Limit: triggersLimit})
	},
}

var triggersCancelCmd = &cobra.Command{
	Use:   "cancel <trigger-id>",
	Short: "Cancel an active trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CancelTrigger(cmd.Context(), args[0])
	},
}

func init() {
	triggersAddCmd.Flags().StringVar(&addOwner, "owner", "", "Settlement account of the trigger owner")
	triggersAddCmd.Flags().StringVar(&addSymbol, "symbol", "", "Asset symbol, e.g. BTC")
	triggersAddCmd.Flags().StringVar(&addSide, "side", "", "BUY or SELL")
	triggersAddCmd.Flags().Float64Var(&addAmount, "amount", 0, "Quote amount for BUY, asset quantity for SELL")
	triggersAddCmd.Flags().Float64Var(&addAbove, "above", 0, "Fire when price reaches this level from below")
	triggersAddCmd.Flags().Float64Var(&addBelow, "below", 0, "Fire when price reaches this level from above")
	triggersAddCmd.Flags().StringVar(&addWhen, "when", "", "Compound conditions, e.g. \"RSI<30,PRICE<60000\"")

	triggersListCmd.Flags().IntVar(&triggersLimit, "limit", 20, "Number of triggers to display")

	triggersCmd.AddCommand(triggersAddCmd)
	triggersCmd.AddCommand(triggersListCmd)
	triggersCmd.AddCommand(triggersCancelCmd)
}
