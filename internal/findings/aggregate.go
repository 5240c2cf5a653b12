package findings

import "github.com/lockwhz/scan-triage-service/models"

// Aggregate projeta as contagens por categoria. FilesScanned conta arquivos
// distintos citados pelos achados.
func Aggregate(fs []models.Finding) models.Counts {
	var c models.Counts
	files := make(map[string]struct{})
	for _, f := range fs {
		switch f.Type {
		case models.FindingSecret:
			c.Secrets++
		case models.FindingVulnerability:
			c.Vulnerabilities++
		case models.FindingMisconfiguration:
			c.Misconfigurations++
		}
		if f.File != "" {
			files[f.File] = struct{}{}
		}
	}
	c.FilesScanned = len(files)
	return c
}

// CountByRule devolve ruleID → quantidade.
func CountByRule(fs []models.Finding) map[string]int {
	tally := make(map[string]int)
	for _, f := range fs {
		if f.RuleID != "" {
			tally[f.RuleID]++
		}
	}
	return tally
}

// HeuristicRisk é a nota usada quando não há triagem por LLM (ingest de CI):
// base 1, qualquer segredo ou CVE crítica 8, qualquer outra vulnerabilidade 6.
func HeuristicRisk(fs []models.Finding) int {
	risk := 1
	var anyVuln, critical, secret bool
	for _, f := range fs {
		switch f.Type {
		case models.FindingSecret:
			secret = true
		case models.FindingVulnerability:
			anyVuln = true
			if f.Severity == "CRITICAL" {
				critical = true
			}
		}
	}
	if secret {
		risk = max(risk, 8)
	}
	switch {
	case critical:
		risk = max(risk, 8)
	case anyVuln:
		risk = max(risk, 6)
	}
	return min(risk, 10)
}
