package gas

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

// Sponsor tops up deposit addresses with native gas when a settlement
// path needs the deposit address itself to send transactions.
type Sponsor struct {
	client   *evm.Client
	key      *ecdsa.PrivateKey
	address  common.Address
	cfg      config.SponsorConfig
	chainCfg config.ChainConfig
	logger   *logger.Logger
}

func NewSponsor(client *evm.Client, key *ecdsa.PrivateKey, cfg config.SponsorConfig, chainCfg config.ChainConfig, log *logger.Logger) *Sponsor {
	return &Sponsor{
		client:   client,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		cfg:      cfg,
		chainCfg: chainCfg,
		logger:   log,
	}
}

// Address returns the sponsor wallet address.
func (s *Sponsor) Address() common.Address {
	return s.address
}

// TopUp sends the configured native amount to a deposit address so it
// can pay for its own transactions. Skips the transfer when the target
// already holds at least the top-up amount.
func (s *Sponsor) TopUp(ctx context.Context, to common.Address) (string, error) {
	amount, ok := new(big.Int).SetString(s.cfg.TopUpWei, 10)
	if !ok || amount.Sign() <= 0 {
		return "", apperrors.ConfigurationError("sponsor.top_up_wei", "invalid top-up amount")
	}

	existing, err := s.client.BalanceAt(ctx, to, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read target balance: %w", err)
	}
	if existing.Cmp(amount) >= 0 {
		return "", nil
	}

	if err := s.checkFloat(ctx, amount); err != nil {
		return "", err
	}

	fees, err := s.client.EstimateFees(ctx, s.chainCfg)
	if err != nil {
		return "", fmt.Errorf("fee estimation failed: %w", err)
	}

	receipt, err := s.client.Execute(ctx, s.key, evm.TxRequest{
		To:       to,
		Value:    amount,
		GasLimit: 21_000,
		Fees:     fees,
	})
	if err != nil {
		return "", fmt.Errorf("top-up transfer failed: %w", err)
	}

	s.logger.Info("Topped up deposit address",
		"to", to.Hex(), "amount_wei", amount.String(), "tx", receipt.TxHash.Hex())
	return receipt.TxHash.Hex(), nil
}

// checkFloat fails when spending amount would drop the sponsor below its
// configured floor.
func (s *Sponsor) checkFloat(ctx context.Context, amount *big.Int) error {
	balance, err := s.client.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return fmt.Errorf("failed to read sponsor balance: %w", err)
	}

	floor := big.NewInt(0)
	if v, ok := new(big.Int).SetString(s.cfg.MinBalanceWei, 10); ok {
		floor = v
	}

	remaining := new(big.Int).Sub(balance, amount)
	if remaining.Cmp(floor) < 0 {
		s.logger.Error("Sponsor wallet below minimum balance",
			"balance_wei", balance.String(), "floor_wei", floor.String())
		return apperrors.ErrInsufficientGas
	}
	return nil
}
