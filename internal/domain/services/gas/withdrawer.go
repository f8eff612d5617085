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

// Withdrawer moves native balance out of the sponsor wallet. Operator
// tool for draining an over-funded sponsor back to the treasury.
type Withdrawer struct {
	client   *evm.Client
	key      *ecdsa.PrivateKey
	address  common.Address
	chainCfg config.ChainConfig
	logger   *logger.Logger
}

func NewWithdrawer(client *evm.Client, key *ecdsa.PrivateKey, chainCfg config.ChainConfig, log *logger.Logger) *Withdrawer {
	return &Withdrawer{
		client:   client,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainCfg: chainCfg,
		logger:   log,
	}
}

// Withdraw sends amountWei from the sponsor wallet to the destination.
// A zero amount withdraws everything above the transfer fee.
func (w *Withdrawer) Withdraw(ctx context.Context, to common.Address, amountWei *big.Int) (string, error) {
	fees, err := w.client.EstimateFees(ctx, w.chainCfg)
	if err != nil {
		return "", fmt.Errorf("fee estimation failed: %w", err)
	}

	balance, err := w.client.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read sponsor balance: %w", err)
	}

	reserve := fees.TransferReserve()
	available := new(big.Int).Sub(balance, reserve)
	if available.Sign() <= 0 {
		return "", apperrors.ErrInsufficientGas
	}

	amount := amountWei
	if amount == nil || amount.Sign() == 0 {
		amount = available
	}
	if amount.Cmp(available) > 0 {
		return "", apperrors.ValidationError("amount",
			fmt.Sprintf("requested %s wei but only %s is withdrawable", amount, available))
	}

	receipt, err := w.client.Execute(ctx, w.key, evm.TxRequest{
		To:       to,
		Value:    amount,
		GasLimit: 21_000,
		Fees:     fees,
	})
	if err != nil {
		return "", fmt.Errorf("withdrawal failed: %w", err)
	}

	w.logger.Info("Withdrew from sponsor wallet",
		"to", to.Hex(), "amount_wei", amount.String(), "tx", receipt.TxHash.Hex())
	return receipt.TxHash.Hex(), nil
}
