package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lockwhz/scan-triage-service/internal/git"
	"github.com/lockwhz/scan-triage-service/models"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a repository once, without the queue",
	Long: `Clones the given revision, runs Gitleaks and Trivy, triages the findings
and prints the result. Nothing is persisted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		branch, _ := cmd.Flags().GetString("branch")
		commit, _ := cmd.Flags().GetString("commit")
		installation, _ := cmd.Flags().GetInt64("installation-id")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runScan(cmd, models.ScanRequest{RepoURL: repo, Branch: branch, Commit: commit, InstallationID: installation}, asJSON)
	},
}

func init() {
	scanCmd.Flags().String("repo", "", "HTTPS clone URL of the repository")
	scanCmd.Flags().String("branch", "main", "Branch to scan")
	scanCmd.Flags().String("commit", "", "Exact commit to scan (overrides the branch tip)")
	scanCmd.Flags().Int64("installation-id", 0, "GitHub App installation id for private repositories")
	scanCmd.Flags().Bool("json", false, "Print the full JSON result")
	_ = scanCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, req models.ScanRequest, asJSON bool) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	defer a.shutdown(context.WithoutCancel(ctx))

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}

	job := &models.Job{
		ID:             uuid.NewString(),
		RepoURL:        req.RepoURL,
		Branch:         req.Branch,
		Commit:         req.Commit,
		InstallationID: req.InstallationID,
		State:          models.StateRunning,
	}

	jobCtx, cancel := context.WithTimeout(ctx, a.cfg.JobTimeout)
	defer cancel()

	var spinner *pterm.SpinnerPrinter
	if !asJSON {
		spinner = startSpinner(fmt.Sprintf("Scanning %s", git.Slugify(req.RepoURL)))
	}
	res := pipeline.Process(jobCtx, job)
	if spinner != nil {
		_ = spinner.Stop()
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if res.State == models.StateFailed {
		return fmt.Errorf("scan falhou (%s): %s", res.ErrorType, res.Detail)
	}
	return nil
}
