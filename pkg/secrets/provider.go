package secrets

import (
	"context"
	"fmt"
	"os"
)

// Well-known secret keys used by the settlement service.
const (
	KeyWalletMnemonic    = "HD_WALLET_MNEMONIC"
	KeySponsorPrivateKey = "SPONSOR_PRIVATE_KEY"
)

// Provider resolves sensitive key material. Implementations must be safe
// for concurrent use.
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvProvider reads secrets straight from the process environment. Used
// in development and in deployments where the orchestrator injects
// secrets as env vars.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}
