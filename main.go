package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v1.0-dev"

var rootCmd = &cobra.Command{
	Use:     "mt5-trader",
	Short:   "Automated MetaTrader 5 trading bot",
	Version: version,
}

func init() {
	rootCmd.AddCommand(runCmd, sessionCmd, dbCmd, profilesCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
