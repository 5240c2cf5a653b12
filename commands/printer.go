package commands

import (
	"strconv"

	"github.com/pterm/pterm"

	"github.com/lockwhz/scan-triage-service/models"
)

func startSpinner(text string) *pterm.SpinnerPrinter {
	spinner, _ := pterm.DefaultSpinner.Start(text)
	return spinner
}

func printResult(res *models.JobResult) {
	if res.State == models.StateFailed {
		pterm.Error.Printf("Scan failed [%s]: %s\n", res.ErrorType, res.Detail)
		if res.Stderr != "" {
			pterm.FgGray.Println(res.Stderr)
		}
		return
	}

	if len(res.Findings) == 0 {
		pterm.Success.Println("No findings reported by the scanners.")
	} else {
		printFindings(res.Findings)
	}

	pterm.Println()
	_ = pterm.DefaultTable.WithHasHeader().WithData([][]string{
		{"Secrets", "Vulnerabilities", "Misconfigurations", "Files"},
		{
			strconv.Itoa(res.Counts.Secrets),
			strconv.Itoa(res.Counts.Vulnerabilities),
			strconv.Itoa(res.Counts.Misconfigurations),
			strconv.Itoa(res.Counts.FilesScanned),
		},
	}).Render()

	if an := res.Analysis; an != nil {
		pterm.Println()
		title := "Risk score " + strconv.Itoa(an.RiskScore) + "/10"
		body := an.Summary
		for i, step := range an.FixPlan {
			body += "\n" + strconv.Itoa(i+1) + ". " + step
		}
		pterm.DefaultBox.WithTitle(riskStyle(an.RiskScore).Sprint(title)).Println(body)
		if an.Error != "" {
			pterm.Warning.Println(an.Error)
		}
	}
}

func printFindings(fs []models.Finding) {
	pterm.Warning.Printf("Found %d findings:\n\n", len(fs))

	data := [][]string{{"Severity", "Type", "Tool", "Rule", "Location", "Evidence"}}
	for _, f := range fs {
		loc := f.File
		if f.StartLine > 0 {
			loc += ":" + strconv.Itoa(f.StartLine)
		}
		data = append(data, []string{
			severityStyle(f.Severity),
			pterm.FgCyan.Sprint(string(f.Type)),
			f.Tool,
			f.RuleID,
			loc,
			f.Evidence,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func severityStyle(sev string) string {
	switch sev {
	case "CRITICAL", "HIGH":
		return pterm.FgRed.Sprint(sev)
	case "MEDIUM":
		return pterm.FgYellow.Sprint(sev)
	case "LOW":
		return pterm.FgBlue.Sprint(sev)
	default:
		return pterm.FgGray.Sprint(sev)
	}
}

func riskStyle(score int) pterm.Color {
	switch {
	case score >= 8:
		return pterm.FgRed
	case score >= 5:
		return pterm.FgYellow
	default:
		return pterm.FgGreen
	}
}
