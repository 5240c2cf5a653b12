package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
)

const (
	clockSkew   = 60 * time.Second
	appTokenTTL = 9 * time.Minute
)

// AppAuthenticator age como um GitHub App instalado: emite o JWT do App e
// troca por tokens de instalação. Não há cache entre chamadas.
type AppAuthenticator struct {
	appID  string
	key    *rsa.PrivateKey
	client *github.Client
	now    func() time.Time
}

type AppOption func(*AppAuthenticator)

// WithBaseURL aponta para outra API (GHES ou servidor de teste).
func WithBaseURL(base string) AppOption {
	return func(a *AppAuthenticator) {
		if base == "" {
			return
		}
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		if u, err := url.Parse(base); err == nil {
			a.client.BaseURL = u
		}
	}
}

func WithHTTPClient(hc *http.Client) AppOption {
	return func(a *AppAuthenticator) {
		base := a.client.BaseURL
		a.client = github.NewClient(hc)
		a.client.BaseURL = base
	}
}

func WithClock(now func() time.Time) AppOption {
	return func(a *AppAuthenticator) { a.now = now }
}

// NewAppAuthenticator valida a chave na inicialização; PEM inválido é erro fatal.
func NewAppAuthenticator(appID string, privateKeyPEM []byte, opts ...AppOption) (*AppAuthenticator, error) {
	if appID == "" {
		return nil, errors.New("app id vazio")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("chave privada do GitHub App inválida: %w", err)
	}
	a := &AppAuthenticator{
		appID:  appID,
		key:    key,
		client: github.NewClient(&http.Client{Timeout: 30 * time.Second}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewAppAuthenticatorFromFile lê o PEM do disco.
func NewAppAuthenticatorFromFile(appID, path string, opts ...AppOption) (*AppAuthenticator, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ler chave privada: %w", err)
	}
	return NewAppAuthenticator(appID, pem, opts...)
}

// MintAppToken gera o JWT RS256 do App: iat atrasado em 60s, exp em 9 min.
func (a *AppAuthenticator) MintAppToken() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appTokenTTL)),
		Issuer:    a.appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("assinar jwt: %w", err)}
	}
	return signed, nil
}

// ExchangeInstallationToken faz um único POST em
// /app/installations/{id}/access_tokens. Sem retry.
func (a *AppAuthenticator) ExchangeInstallationToken(ctx context.Context, appToken string, installationID int64) (*Credential, error) {
	issuedAt := a.now()
	tok, resp, err := a.client.WithAuthToken(appToken).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		cerr := &CredentialError{InstallationID: installationID, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		return nil, cerr
	}
	if tok.GetToken() == "" {
		return nil, &CredentialError{InstallationID: installationID, Err: errors.New("resposta sem token")}
	}
	return &Credential{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		IssuedAt:       issuedAt,
		ExpiresAt:      tok.GetExpiresAt().Time,
	}, nil
}

// Credential implementa CredentialSource: mint + exchange a cada chamada.
func (a *AppAuthenticator) Credential(ctx context.Context, installationID int64) (*Credential, error) {
	appToken, err := a.MintAppToken()
	if err != nil {
		return nil, err
	}
	return a.ExchangeInstallationToken(ctx, appToken, installationID)
}
