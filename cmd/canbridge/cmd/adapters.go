package cmd

import (
	"fmt"

	"github.com/roffe/canbridge/adapter"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, a := range adapter.List() {
			fmt.Fprintln(cmd.OutOrStdout(), a.String())
		}
	},
}
