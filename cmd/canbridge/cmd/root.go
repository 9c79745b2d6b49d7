package cmd

import (
	"context"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
)

var log = logging.MustGetLogger("canbridge")

var rootCmd = &cobra.Command{
	Use:          "canbridge",
	Short:        "Vehicle diagnostic CAN to peripheral CAN bridge",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		name, err := cmd.Flags().GetString(flagLogLevel)
		if err != nil {
			return err
		}
		lvl, err := logging.LevelFromString(name)
		if err != nil {
			return err
		}
		logging.SetLevel(lvl)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "/etc/canbridge/canbridge.yaml", "config file, missing file means defaults")
	pf.String(flagLogLevel, "info", "log level: debug, info, warn, error")
}
