// Package webhook autentica e interpreta eventos do GitHub. Só assinatura e
// parse acontecem aqui; a execução do scan é assíncrona.
package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
	zeroSHA         = "0000000000000000000000000000000000000000"
)

// Outcome diz o que fazer com o evento.
type Outcome int

const (
	// Ignored: evento aceito e descartado (tipo não suportado, tag, branch apagado).
	Ignored Outcome = iota
	// Ping: handshake de configuração do webhook.
	Ping
	// Scan: há uma revisão para enfileirar.
	Scan
)

func (o Outcome) String() string {
	switch o {
	case Ping:
		return "ping"
	case Scan:
		return "scan"
	default:
		return "ignored"
	}
}

// Revision é a revisão extraída de push ou pull_request.
type Revision struct {
	Owner          string
	Name           string
	CloneURL       string
	Branch         string
	Commit         string
	InstallationID int64
}

// FullName devolve owner/name.
func (r Revision) FullName() string { return r.Owner + "/" + r.Name }

// Verify confere "sha256=" + hex(HMAC-SHA256(secret, body)) em tempo
// constante. Header ausente, outro algoritmo ou segredo vazio: false.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return github.ValidateSignature(signature, body, []byte(secret)) == nil
}

// ParseEvent interpreta o corpo conforme o X-GitHub-Event. Tipos não
// suportados devolvem Ignored sem erro; erro só para JSON inválido ou
// evento suportado sem os campos obrigatórios.
func ParseEvent(eventType string, body []byte) (Revision, Outcome, error) {
	switch eventType {
	case "ping":
		return Revision{}, Ping, nil
	case "push", "pull_request":
	default:
		return Revision{}, Ignored, nil
	}

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return Revision{}, Ignored, fmt.Errorf("payload %s inválido: %w", eventType, err)
	}

	switch e := event.(type) {
	case *github.PushEvent:
		return fromPush(e)
	case *github.PullRequestEvent:
		return fromPullRequest(e)
	default:
		return Revision{}, Ignored, nil
	}
}

func fromPush(e *github.PushEvent) (Revision, Outcome, error) {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") || e.GetDeleted() || e.GetAfter() == zeroSHA {
		return Revision{}, Ignored, nil
	}
	repo := e.GetRepo()
	rev := Revision{
		Owner:          repo.GetOwner().GetLogin(),
		Name:           repo.GetName(),
		CloneURL:       repo.GetCloneURL(),
		Branch:         strings.TrimPrefix(ref, "refs/heads/"),
		Commit:         e.GetAfter(),
		InstallationID: e.GetInstallation().GetID(),
	}
	if rev.Owner == "" {
		// payloads antigos trazem owner.name em vez de owner.login
		rev.Owner = repo.GetOwner().GetName()
	}
	return finish(rev)
}

func fromPullRequest(e *github.PullRequestEvent) (Revision, Outcome, error) {
	switch e.GetAction() {
	case "closed", "labeled", "unlabeled", "assigned", "unassigned", "edited":
		return Revision{}, Ignored, nil
	}
	head := e.GetPullRequest().GetHead()
	repo := e.GetRepo()
	rev := Revision{
		Owner:          repo.GetOwner().GetLogin(),
		Name:           repo.GetName(),
		CloneURL:       repo.GetCloneURL(),
		Branch:         head.GetRef(),
		Commit:         head.GetSHA(),
		InstallationID: e.GetInstallation().GetID(),
	}
	return finish(rev)
}

func finish(rev Revision) (Revision, Outcome, error) {
	if rev.Owner == "" || rev.Name == "" {
		return Revision{}, Ignored, errors.New("payload sem repository.owner/name")
	}
	if rev.Branch == "" && rev.Commit == "" {
		return Revision{}, Ignored, errors.New("payload sem ref/commit")
	}
	if rev.CloneURL == "" {
		rev.CloneURL = fmt.Sprintf("https://github.com/%s/%s.git", rev.Owner, rev.Name)
	}
	return rev, Scan, nil
}
