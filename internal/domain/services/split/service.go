package split

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

const splitXferGasLimit = 90_000

// Compute divides a stable amount between the master treasury and the
// fee wallet. feeBps of the total goes to fees; integer remainder goes
// to the master side so the two legs always conserve the total.
func Compute(total *big.Int, feeBps int64) (master, fee *big.Int) {
	fee = new(big.Int).Mul(total, big.NewInt(feeBps))
	fee.Div(fee, big.NewInt(10000))
	master = new(big.Int).Sub(total, fee)
	return master, fee
}

// Service moves swap proceeds from the deposit address to the treasury
// wallets. The gasless path signs EIP-3009 authorizations with the
// deposit key and lets the sponsor wallet pay for submission, so deposit
// addresses never need native balance for the split.
type Service struct {
	client     *evm.Client
	cfg        config.SettlementConfig
	chainCfg   config.ChainConfig
	sponsorKey *ecdsa.PrivateKey // nil disables the gasless path
	master     common.Address
	feeWallet  common.Address
	stable     common.Address
	logger     *logger.Logger
}

func NewService(client *evm.Client, cfg config.SettlementConfig, chainCfg config.ChainConfig, sponsorKey *ecdsa.PrivateKey, log *logger.Logger) *Service {
	return &Service{
		client:     client,
		cfg:        cfg,
		chainCfg:   chainCfg,
		sponsorKey: sponsorKey,
		master:     common.HexToAddress(cfg.MasterAddress),
		feeWallet:  common.HexToAddress(cfg.FeeAddress),
		stable:     common.HexToAddress(chainCfg.StableToken),
		logger:     log,
	}
}

// Execute splits total stable units held by the deposit address. When
// the gasless path is enabled and a sponsor key is present it is used
// unconditionally; there is no silent fallback that would need native
// gas on the deposit address.
func (s *Service) Execute(ctx context.Context, depositKey *ecdsa.PrivateKey, from common.Address, total *big.Int) (*entities.SplitResult, error) {
	if total == nil || total.Sign() <= 0 {
		return nil, apperrors.ValidationError("total", "split amount must be positive")
	}

	master, fee := Compute(total, s.cfg.FeeBps)

	gasless := s.cfg.GaslessSplit && s.sponsorKey != nil
	if s.cfg.GaslessSplit && s.sponsorKey == nil {
		return nil, apperrors.ConfigurationError("sponsor_private_key",
			"gasless split is enabled but no sponsor key is loaded")
	}

	var (
		result *entities.SplitResult
		err    error
	)
	if gasless {
		result, err = s.executeGasless(ctx, depositKey, from, master, fee)
	} else {
		result, err = s.executeDirect(ctx, depositKey, master, fee)
	}
	if err != nil {
		return nil, err
	}

	result.Total = total
	result.MasterAmount = master
	result.FeeAmount = fee
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// executeDirect sends two plain ERC-20 transfers signed by the deposit
// key. The deposit address must still hold enough native balance from
// the swap's gas reserve.
func (s *Service) executeDirect(ctx context.Context, depositKey *ecdsa.PrivateKey, master, fee *big.Int) (*entities.SplitResult, error) {
	fees, err := s.client.EstimateFees(ctx, s.chainCfg)
	if err != nil {
		return nil, fmt.Errorf("fee estimation failed: %w", err)
	}

	masterTx, err := s.transfer(ctx, depositKey, s.master, master, fees)
	if err != nil {
		return nil, fmt.Errorf("master transfer failed: %w", err)
	}

	feeTx := ""
	if fee.Sign() > 0 {
		feeTx, err = s.transfer(ctx, depositKey, s.feeWallet, fee, fees)
		if err != nil {
			return nil, fmt.Errorf("fee transfer failed: %w", err)
		}
	}

	return &entities.SplitResult{
		MasterTxHash: masterTx,
		FeeTxHash:    feeTx,
		Gasless:      false,
	}, nil
}

func (s *Service) transfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, fees *evm.FeeEstimate) (string, error) {
	if amount.Sign() == 0 {
		return "", nil
	}
	data, err := evm.ERC20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", err
	}
	receipt, err := s.client.Execute(ctx, key, evm.TxRequest{
		To:       s.stable,
		Data:     data,
		GasLimit: splitXferGasLimit,
		Fees:     fees,
	})
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}
