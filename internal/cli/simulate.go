package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  float64
	simulatePrior  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并触发告警升级",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 不能为空")
		}
		if simulatePrice <= 0 || simulatePrior <= 0 {
			return errors.New("--price 与 --prior 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		prior := decimal.NewFromFloat(simulatePrior)
		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, price, prior)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "资产符号，须存在于资产登记表中")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的当前价格")
	simulateCmd.Flags().Float64Var(&simulatePrior, "prior", 0, "模拟的上一次价格")
}
