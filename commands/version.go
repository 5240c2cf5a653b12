package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version é sobrescrito no build: -ldflags "-X .../commands.Version=v1.2.3".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of scan-triage",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "scan-triage "+Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
