package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Credential é um token de curta duração usado para um único clone.
// Nunca deve ser persistido nem logado.
type Credential struct {
	InstallationID int64
	Token          string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Valid indica se o token ainda pode ser usado em now.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// CloneURL injeta o token na URL HTTPS do repositório
// (https://x-access-token:<token>@host/owner/repo.git). Sem token, devolve a URL original.
func (c *Credential) CloneURL(repoURL string) (string, error) {
	if c == nil || c.Token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("url do repositório inválida: %w", err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("credencial exige url https, recebido %q", u.Scheme)
	}
	u.User = url.UserPassword("x-access-token", c.Token)
	return u.String(), nil
}

// Scrub remove o token de textos de diagnóstico (stderr do git etc.).
func (c *Credential) Scrub(s string) string {
	if c == nil || c.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.Token, "***")
}

// CredentialSource fornece a credencial de clone de uma instalação.
type CredentialSource interface {
	Credential(ctx context.Context, installationID int64) (*Credential, error)
}

// StaticSource usa um token fixo (GITHUB_TOKEN), sem GitHub App.
type StaticSource struct {
	Token string
}

func (s StaticSource) Credential(_ context.Context, installationID int64) (*Credential, error) {
	if s.Token == "" {
		return nil, &CredentialError{InstallationID: installationID, Err: fmt.Errorf("token estático não configurado")}
	}
	return &Credential{InstallationID: installationID, Token: s.Token, IssuedAt: time.Now()}, nil
}

// AnonymousSource é usado para repositórios públicos: nenhuma credencial.
type AnonymousSource struct{}

func (AnonymousSource) Credential(_ context.Context, installationID int64) (*Credential, error) {
	return &Credential{InstallationID: installationID}, nil
}

// Router escolhe a fonte: jobs com installation id usam o App, os demais
// caem no Fallback (token estático ou anônimo).
type Router struct {
	App      CredentialSource
	Fallback CredentialSource
}

func (r Router) Credential(ctx context.Context, installationID int64) (*Credential, error) {
	if installationID != 0 && r.App != nil {
		return r.App.Credential(ctx, installationID)
	}
	if r.Fallback != nil {
		return r.Fallback.Credential(ctx, installationID)
	}
	return AnonymousSource{}.Credential(ctx, installationID)
}

// CredentialError indica falha ao emitir ou trocar o token.
type CredentialError struct {
	InstallationID int64
	StatusCode     int
	Err            error
}

func (e *CredentialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credencial da instalação %d: status %d: %v", e.InstallationID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("credencial da instalação %d: %v", e.InstallationID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }
