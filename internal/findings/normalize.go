// Package findings converte a saída JSON das ferramentas no modelo uniforme
// models.Finding. Normalize é total: entrada vazia, truncada ou com campos
// inesperados gera uma lista (talvez vazia), nunca erro.
package findings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lockwhz/scan-triage-service/models"
)

const (
	defaultContextLines = 2
	unknownSeverity     = "UNKNOWN"
)

type options struct {
	workspace    string
	contextLines int
}

// Option ajusta a normalização.
type Option func(*options)

// WithWorkspace habilita snippets lidos a partir do checkout em root.
func WithWorkspace(root string) Option {
	return func(o *options) { o.workspace = root }
}

// WithContextLines muda a janela do snippet (padrão ±2 linhas).
func WithContextLines(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.contextLines = n
		}
	}
}

// Normalize interpreta raw de acordo com a ferramenta. Ferramenta
// desconhecida ou JSON inválido devolvem lista vazia.
func Normalize(tool string, raw []byte, opts ...Option) []models.Finding {
	o := options{contextLines: defaultContextLines}
	for _, opt := range opts {
		opt(&o)
	}

	out := []models.Finding{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return out
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out
	}

	var (
		fs    []models.Finding
		leaks []leak
	)
	switch strings.ToLower(tool) {
	case "gitleaks":
		fs, leaks = o.gitleaks(doc)
	case "trivy":
		fs, leaks = o.trivy(doc)
	default:
		return out
	}
	// todos os segredos do relatório contra todos os snippets
	redactSnippets(fs, leaks, false)
	return append(out, fs...)
}

/* ============================= gitleaks ============================= */

// gitleaks grava uma lista; versões antigas/wrappers usam {"findings": [...]}.
func (o options) gitleaks(doc any) ([]models.Finding, []leak) {
	items := asList(doc)
	if items == nil {
		items = list(asMap(doc), "findings")
	}

	var (
		out   []models.Finding
		leaks []leak
	)
	for _, it := range items {
		m := asMap(it)
		if m == nil {
			continue
		}
		rule := str(m, "RuleID", "Rule")
		file := o.relative(str(m, "File", "FilePath"))
		start := integer(m, "StartLine")
		end := integer(m, "EndLine")
		if end < start {
			end = start
		}
		secret := str(m, "Secret", "Match")
		masked := Mask(secret)

		f := models.Finding{
			Tool:        "gitleaks",
			Type:        models.FindingSecret,
			RuleID:      rule,
			Title:       firstNonEmpty(str(m, "Description"), rule),
			Severity:    unknownSeverity,
			File:        file,
			StartLine:   start,
			EndLine:     end,
			Evidence:    masked,
			Description: str(m, "Description"),
			Secret: &models.SecretDetail{
				Entropy: number(m, "Entropy"),
				Tags:    strList(m, "Tags"),
			},
		}
		f.Snippet = o.snippet(file, start)
		leaks = append(leaks, leak{owner: len(out), file: file, from: start, to: end, raw: secret})
		out = append(out, f)
	}
	return out, leaks
}

/* =============================== trivy =============================== */

func (o options) trivy(doc any) ([]models.Finding, []leak) {
	var (
		out   []models.Finding
		leaks []leak
	)
	for _, r := range list(asMap(doc), "Results") {
		res := asMap(r)
		if res == nil {
			continue
		}
		target := o.relative(str(res, "Target"))

		for _, it := range list(res, "Secrets") {
			m := asMap(it)
			if m == nil {
				continue
			}
			match := str(m, "Match")
			masked := Mask(match)
			start := integer(m, "StartLine")
			f := models.Finding{
				Tool:        "trivy",
				Type:        models.FindingSecret,
				RuleID:      str(m, "RuleID"),
				Title:       firstNonEmpty(str(m, "Title"), str(m, "RuleID")),
				Severity:    severity(m),
				File:        target,
				StartLine:   start,
				EndLine:     max(integer(m, "EndLine"), start),
				Evidence:    masked,
				Description: str(m, "Category"),
				Secret:      &models.SecretDetail{},
			}
			f.Snippet = o.snippet(target, start)
			// trivy já devolve Match mascarado; só as linhas servem
			leaks = append(leaks, leak{owner: len(out), file: target, from: start, to: f.EndLine})
			out = append(out, f)
		}

		for _, it := range list(res, "Vulnerabilities") {
			m := asMap(it)
			if m == nil {
				continue
			}
			d := &models.VulnerabilityDetail{
				CVE:              str(m, "VulnerabilityID"),
				Package:          str(m, "PkgName"),
				InstalledVersion: str(m, "InstalledVersion"),
				FixedVersion:     str(m, "FixedVersion"),
				PrimaryURL:       str(m, "PrimaryURL"),
			}
			out = append(out, models.Finding{
				Tool:          "trivy",
				Type:          models.FindingVulnerability,
				RuleID:        d.CVE,
				Title:         firstNonEmpty(str(m, "Title"), d.CVE),
				Severity:      severity(m),
				File:          target,
				Evidence:      vulnEvidence(d),
				Description:   str(m, "Description"),
				Vulnerability: d,
			})
		}

		for _, it := range list(res, "Misconfigurations") {
			m := asMap(it)
			if m == nil {
				continue
			}
			cause := asMap(m["CauseMetadata"])
			start := integer(cause, "StartLine", "StartLineNumber")
			end := integer(cause, "EndLine", "EndLineNumber")
			if end < start {
				end = start
			}
			d := &models.MisconfigurationDetail{
				ID:         str(m, "ID"),
				Message:    str(m, "Message"),
				Resolution: str(m, "Resolution"),
			}
			out = append(out, models.Finding{
				Tool:             "trivy",
				Type:             models.FindingMisconfiguration,
				RuleID:           d.ID,
				Title:            firstNonEmpty(str(m, "Title"), d.ID),
				Severity:         severity(m),
				File:             target,
				StartLine:        start,
				EndLine:          end,
				Evidence:         d.Message,
				Description:      str(m, "Description"),
				Snippet:          o.snippet(target, start),
				Misconfiguration: d,
			})
		}
	}
	return out, leaks
}

func severity(m map[string]any) string {
	if s := strings.ToUpper(str(m, "Severity")); s != "" {
		return s
	}
	return unknownSeverity
}

func vulnEvidence(d *models.VulnerabilityDetail) string {
	if d.Package == "" {
		return ""
	}
	ev := d.Package
	if d.InstalledVersion != "" {
		ev += "@" + d.InstalledVersion
	}
	if d.FixedVersion != "" {
		ev += fmt.Sprintf(" (fixed in %s)", d.FixedVersion)
	}
	return ev
}

// relative converte caminhos absolutos dentro do workspace (gitleaks reporta
// assim) em caminhos relativos ao repositório.
func (o options) relative(file string) string {
	if o.workspace == "" || !filepath.IsAbs(file) {
		return file
	}
	rel, err := filepath.Rel(o.workspace, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return file
	}
	return filepath.ToSlash(rel)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
