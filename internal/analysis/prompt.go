package analysis

import "fmt"

const systemPrompt = `You are a security triage assistant for CI/CD scans.
You receive normalized findings from static-analysis tools (Trivy for vulnerabilities,
misconfigurations and secrets; Gitleaks for secrets). Secrets are already masked.
Answer strictly with the requested JSON schema.

Rules:
- Be precise and actionable.
- severity and risk_score use a 0-10 scale (0 = no risk, 10 = critical).
- top_threats holds at most 10 of the most impactful issues, without duplicates.
- fix_plan is an ordered list of concrete steps a developer can follow.`

func userPrompt(in Input, findingsJSON []byte) string {
	commit := in.Commit
	if commit == "" {
		commit = "(branch tip)"
	}
	return fmt.Sprintf("Repo: %s\nBranch: %s\nCommit: %s\n\nFindings (truncated for cost):\n%s",
		in.Repo, in.Branch, commit, findingsJSON)
}
