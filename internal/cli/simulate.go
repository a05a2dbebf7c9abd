package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"l3-health-alerts/internal/app"
)

var (
	simulateKey   string
	simulateValue float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条指标样本并触发告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateKey == "" {
			return errors.New("--key 必须提供")
		}

		opts := app.SimulateOptions{
			Key:   simulateKey,
			Value: simulateValue,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKey, "key", "", "指标 key (如 sequencer_balance)")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "模拟样本值")
}
