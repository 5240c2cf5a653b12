package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrNotFound = errors.New("segredo não encontrado")

// SecretsManager define a interface para recuperar segredos.
type SecretsManager interface {
	GetSecret(ctx context.Context, secretName string) (string, error)
}

// EnvSecretsManager lê segredos das variáveis de ambiente.
type EnvSecretsManager struct{}

func (EnvSecretsManager) GetSecret(_ context.Context, secretName string) (string, error) {
	secret := strings.TrimSpace(os.Getenv(secretName))
	if secret == "" {
		return "", fmt.Errorf("%s: %w", secretName, ErrNotFound)
	}
	return secret, nil
}

// FileSecretsManager lê segredos montados como arquivo (ex.: /run/secrets/<nome>).
// O nome é normalizado para minúsculas, como nos secrets do podman/docker.
type FileSecretsManager struct {
	Dir string
}

func (f FileSecretsManager) GetSecret(_ context.Context, secretName string) (string, error) {
	dir := f.Dir
	if dir == "" {
		dir = "/run/secrets"
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.ToLower(secretName)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", secretName, ErrNotFound)
		}
		return "", fmt.Errorf("ler segredo %s: %w", secretName, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("%s: %w", secretName, ErrNotFound)
	}
	return secret, nil
}

// SecretsManagerAPI é o subconjunto do cliente AWS usado aqui.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager busca segredos no AWS Secrets Manager. Prefix é
// concatenado ao nome (ex.: "scan-triage/").
type AWSSecretsManager struct {
	Client SecretsManagerAPI
	Prefix string
}

func NewAWSSecretsManager(cfg aws.Config, prefix string) *AWSSecretsManager {
	return &AWSSecretsManager{Client: secretsmanager.NewFromConfig(cfg), Prefix: prefix}
}

func (a *AWSSecretsManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	out, err := a.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.Prefix + secretName),
	})
	if err != nil {
		return "", fmt.Errorf("secrets manager %s: %w", secretName, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%s: %w", secretName, ErrNotFound)
	}
	return *out.SecretString, nil
}

// Chain consulta cada fonte em ordem e devolve o primeiro segredo encontrado.
// Erros diferentes de ErrNotFound interrompem a busca.
type Chain []SecretsManager

func (c Chain) GetSecret(ctx context.Context, secretName string) (string, error) {
	for _, m := range c {
		secret, err := m.GetSecret(ctx, secretName)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", secretName, ErrNotFound)
}

// Lookup devolve o segredo ou fallback quando ele não existe em nenhuma fonte.
func Lookup(ctx context.Context, m SecretsManager, secretName, fallback string) (string, error) {
	secret, err := m.GetSecret(ctx, secretName)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	return secret, err
}
