package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxRequest describes one transaction to build, sign and send.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64 // 0 means estimate
	Fees     *FeeEstimate
}

// SignTx builds and signs an EIP-1559 transaction from the request,
// fetching the pending nonce and estimating gas when not provided.
func (c *Client) SignTx(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.NonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce for %s: %w", from.Hex(), err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("gas estimation failed: %w", err)
		}
		// Headroom for state drift between estimate and inclusion.
		gasLimit = gasLimit * 120 / 100
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: req.Fees.GasTipCap,
		GasFeeCap: req.Fees.GasFeeCap,
		Gas:       gasLimit,
		To:        &req.To,
		Value:     value,
		Data:      req.Data,
	})

	signed, err := types.SignTx(tx, c.Signer(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Execute signs, broadcasts and waits for one transaction.
func (c *Client) Execute(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (*types.Receipt, error) {
	signed, err := c.SignTx(ctx, key, req)
	if err != nil {
		return nil, err
	}
	return c.SendAndWait(ctx, signed)
}
