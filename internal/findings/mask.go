package findings

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/lockwhz/scan-triage-service/models"
)

const (
	keepStart = 4
	keepEnd   = 2
	// limite de leitura para snippets; arquivos maiores ficam sem snippet
	maxSnippetFileSize = 5 << 20
)

// Mask preserva os 4 primeiros e os 2 últimos caracteres e troca o miolo por
// '*', mantendo o comprimento. Com 6 caracteres ou menos tudo é mascarado.
func Mask(s string) string {
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return ""
	}
	if n <= keepStart+keepEnd {
		return strings.Repeat("*", n)
	}
	return string(r[:keepStart]) + strings.Repeat("*", n-keepStart-keepEnd) + string(r[n-keepEnd:])
}

// snippet lê ±contextLines em torno de line. Qualquer falha devolve nil.
func (o options) snippet(file string, line int) *models.Snippet {
	if o.workspace == "" || file == "" || line <= 0 {
		return nil
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.workspace, path)
	}
	// nada fora do checkout, nem via symlink
	if !within(o.workspace, path) {
		return nil
	}
	root, err := filepath.EvalSymlinks(o.workspace)
	if err != nil {
		return nil
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil || !within(root, path) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxSnippetFileSize {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxSnippetFileSize)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if sc.Err() != nil || line > len(lines) {
		return nil
	}

	start := max(1, line-o.contextLines)
	end := min(len(lines), line+o.contextLines)
	return &models.Snippet{
		StartLine: start,
		EndLine:   end,
		Code:      strings.Join(lines[start-1:end], "\n"),
	}
}

// leak é um segredo localizado: linhas [from, to] de file e, quando o
// relatório traz, o valor bruto. owner é o índice do achado que o reportou.
type leak struct {
	owner    int
	file     string
	from, to int
	raw      string
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// redactSnippets mascara em todos os snippets de fs cada segredo de leaks: o
// valor bruto onde aparecer, ou as linhas inteiras do segredo quando o
// snippet cobre o mesmo arquivo. Com skipOwn o próprio achado é pulado (já
// foi redigido na normalização).
func redactSnippets(fs []models.Finding, leaks []leak, skipOwn bool) {
	for i := range fs {
		s := fs[i].Snippet
		if s == nil {
			continue
		}
		for _, l := range leaks {
			if skipOwn && l.owner == i {
				continue
			}
			if l.raw != "" {
				masked := Mask(l.raw)
				if strings.Contains(s.Code, l.raw) {
					s.Code = strings.ReplaceAll(s.Code, l.raw, masked)
					continue
				}
				if strings.Contains(s.Code, masked) {
					continue
				}
			}
			if l.file == fs[i].File {
				redactLines(s, l.from, l.to)
			}
		}
	}
}

// RedactSnippets cruza os achados de secret de todas as ferramentas com os
// snippets de todos os achados. Cada linha reportada como segredo é
// mascarada em qualquer snippet do mesmo arquivo, misconfiguration incluída.
func RedactSnippets(fs []models.Finding) {
	var leaks []leak
	for i, f := range fs {
		if f.Type != models.FindingSecret || f.File == "" || f.StartLine <= 0 {
			continue
		}
		leaks = append(leaks, leak{owner: i, file: f.File, from: f.StartLine, to: max(f.EndLine, f.StartLine)})
	}
	if len(leaks) > 0 {
		redactSnippets(fs, leaks, true)
	}
}

// redactLines mascara as linhas [from, to] do snippet. Usado quando o
// valor bruto não aparece literalmente (trivy já o devolve mascarado).
func redactLines(s *models.Snippet, from, to int) {
	if s == nil || from <= 0 {
		return
	}
	if to < from {
		to = from
	}
	lines := strings.Split(s.Code, "\n")
	for i := range lines {
		n := s.StartLine + i
		if n >= from && n <= to {
			lines[i] = Mask(lines[i])
		}
	}
	s.Code = strings.Join(lines, "\n")
}
