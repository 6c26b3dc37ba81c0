// Package commands implements btsinkd's command-line interface.
package commands

import "github.com/spf13/cobra"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "btsinkd",
	Short: "Headless Bluetooth Classic A2DP/AVRCP audio sink",
	Long: `btsinkd claims a USB Bluetooth controller, accepts every inbound
BR/EDR connection request, and exposes an A2DP sink (SBC) and AVRCP
target endpoint over it.

Use "btsinkd --config <path>" to point at a non-default configuration
file; every option may also be set with a BTSINKD_-prefixed environment
variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: defaults + BTSINKD_ environment variables)")
}
