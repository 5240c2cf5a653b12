package models

type FindingType string

const (
	FindingSecret           FindingType = "secret"
	FindingVulnerability    FindingType = "vulnerability"
	FindingMisconfiguration FindingType = "misconfiguration"
)

// Finding é o modelo uniforme gerado a partir da saída de qualquer scanner.
// Apenas um dos detalhes por tipo (Secret, Vulnerability, Misconfiguration)
// é preenchido, de acordo com Type.
type Finding struct {
	Tool        string      `json:"tool"`
	Type        FindingType `json:"type"`
	RuleID      string      `json:"rule_id,omitempty"`
	Title       string      `json:"title,omitempty"`
	Severity    string      `json:"severity"`
	File        string      `json:"file,omitempty"`
	StartLine   int         `json:"start_line,omitempty"`
	EndLine     int         `json:"end_line,omitempty"`
	Evidence    string      `json:"evidence,omitempty"`
	Description string      `json:"description,omitempty"`
	Snippet     *Snippet    `json:"snippet,omitempty"`

	Secret           *SecretDetail           `json:"secret,omitempty"`
	Vulnerability    *VulnerabilityDetail    `json:"vulnerability,omitempty"`
	Misconfiguration *MisconfigurationDetail `json:"misconfiguration,omitempty"`
}

type Snippet struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Code      string `json:"code"`
}

type SecretDetail struct {
	Entropy float64  `json:"entropy,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type VulnerabilityDetail struct {
	CVE              string `json:"cve,omitempty"`
	Package          string `json:"pkg,omitempty"`
	InstalledVersion string `json:"installed,omitempty"`
	FixedVersion     string `json:"fixed,omitempty"`
	PrimaryURL       string `json:"primary_url,omitempty"`
}

type MisconfigurationDetail struct {
	ID         string `json:"id,omitempty"`
	Message    string `json:"message,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Counts é a projeção por categoria dos findings normalizados.
type Counts struct {
	Secrets           int `json:"secrets"`
	Vulnerabilities   int `json:"vulnerabilities"`
	Misconfigurations int `json:"misconfigurations"`
	FilesScanned      int `json:"files_scanned"`
}

// Threat é um item priorizado devolvido pela triagem.
type Threat struct {
	ID          string `json:"id"`
	Title       string `json:"title" validate:"required"`
	Severity    int    `json:"severity" validate:"min=0,max=10"`
	File        string `json:"file"`
	Evidence    string `json:"evidence"`
	Remediation string `json:"remediation"`
}

// AnalysisResult é o resumo de risco. Em caso de falha da triagem,
// RiskScore é 0 e Error vem preenchido; as listas nunca são nil.
type AnalysisResult struct {
	Summary    string   `json:"summary"`
	RiskScore  int      `json:"risk_score" validate:"min=0,max=10"`
	TopThreats []Threat `json:"top_threats" validate:"dive"`
	FixPlan    []string `json:"fix_plan"`
	Error      string   `json:"error,omitempty"`
}
