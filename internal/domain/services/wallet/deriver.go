package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/pkg/secrets"
)

// Deriver derives per-user deposit addresses and their signing keys from
// the custodial HD wallet. Derivation is pure: the same index always
// yields the same address, so addresses can be recomputed from the
// mnemonic alone.
type Deriver struct {
	wallet   *hdwallet.Wallet
	basePath string

	mu    sync.RWMutex
	cache map[uint32]common.Address
}

// NewDeriver loads the mnemonic from the secret provider and opens the
// HD wallet. basePath is the BIP-44 prefix without the final index, e.g.
// m/44'/60'/0'/0.
func NewDeriver(ctx context.Context, provider secrets.Provider, basePath string) (*Deriver, error) {
	mnemonic, err := provider.GetSecret(ctx, secrets.KeyWalletMnemonic)
	if err != nil {
		return nil, apperrors.ConfigurationError("hd_wallet_mnemonic", "wallet mnemonic is not available")
	}

	return NewDeriverFromMnemonic(mnemonic, basePath)
}

// NewDeriverFromMnemonic opens the HD wallet directly from a mnemonic.
func NewDeriverFromMnemonic(mnemonic, basePath string) (*Deriver, error) {
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, apperrors.ConfigurationError("hd_wallet_mnemonic", fmt.Sprintf("invalid mnemonic: %v", err))
	}

	if basePath == "" {
		basePath = "m/44'/60'/0'/0"
	}

	return &Deriver{
		wallet:   w,
		basePath: basePath,
		cache:    make(map[uint32]common.Address),
	}, nil
}

// Address returns the deposit address for a wallet index.
func (d *Deriver) Address(index uint32) (common.Address, error) {
	d.mu.RLock()
	if addr, ok := d.cache[index]; ok {
		d.mu.RUnlock()
		return addr, nil
	}
	d.mu.RUnlock()

	account, err := d.derive(index)
	if err != nil {
		return common.Address{}, err
	}

	d.mu.Lock()
	d.cache[index] = account
	d.mu.Unlock()
	return account, nil
}

// PrivateKey returns the signing key for a wallet index. Keys are never
// cached; they live only as long as the caller needs them.
func (d *Deriver) PrivateKey(index uint32) (*ecdsa.PrivateKey, error) {
	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("%s/%d", d.basePath, index))
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path for index %d: %w", index, err)
	}
	account, err := d.wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derivation failed for index %d: %w", index, err)
	}
	return d.wallet.PrivateKey(account)
}

func (d *Deriver) derive(index uint32) (common.Address, error) {
	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("%s/%d", d.basePath, index))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid derivation path for index %d: %w", index, err)
	}
	account, err := d.wallet.Derive(path, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("derivation failed for index %d: %w", index, err)
	}
	return account.Address, nil
}
