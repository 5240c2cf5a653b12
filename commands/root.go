package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scan-triage",
	Short: "Security scan triage for GitHub repositories",
	Long: `scan-triage receives GitHub webhooks, clones the pushed revision, runs
Gitleaks and Trivy against it and produces a prioritized risk summary.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (same as CONFIG_FILE)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			return os.Setenv("CONFIG_FILE", path)
		}
		return nil
	}
}
