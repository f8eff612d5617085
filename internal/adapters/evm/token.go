package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ERC-20 read helpers used across the watcher, swap and sweep paths.

func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	results, err := ERC20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return results[0].(*big.Int), nil
}

func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := ERC20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, fmt.Errorf("decimals call failed: %w", err)
	}
	results, err := ERC20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, err
	}
	return results[0].(uint8), nil
}

// TokenName reads the token's EIP-712 domain name.
func (c *Client) TokenName(ctx context.Context, token common.Address) (string, error) {
	data, err := EIP3009ABI.Pack("name")
	if err != nil {
		return "", err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return "", fmt.Errorf("name call failed: %w", err)
	}
	results, err := EIP3009ABI.Unpack("name", out)
	if err != nil {
		return "", err
	}
	return results[0].(string), nil
}

// TokenVersion reads the token's EIP-712 domain version. Tokens without
// a version method get "1", which is what USDC-family tokens use.
func (c *Client) TokenVersion(ctx context.Context, token common.Address) (string, error) {
	data, err := EIP3009ABI.Pack("version")
	if err != nil {
		return "", err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return "1", nil
	}
	results, err := EIP3009ABI.Unpack("version", out)
	if err != nil {
		return "1", nil
	}
	return results[0].(string), nil
}
