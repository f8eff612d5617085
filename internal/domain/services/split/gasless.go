package split

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
)

// authorizationWindow bounds how long a signed transfer authorization
// stays submittable.
const authorizationWindow = 10 * time.Minute

var (
	transferWithAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// authorization is one signed EIP-3009 transfer the sponsor can submit.
type authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	V           uint8
	R           [32]byte
	S           [32]byte
}

// executeGasless signs two transfer authorizations with the deposit key
// and submits them from the sponsor wallet, which pays all gas.
func (s *Service) executeGasless(ctx context.Context, depositKey *ecdsa.PrivateKey, from common.Address, master, fee *big.Int) (*entities.SplitResult, error) {
	domain, err := s.domainSeparator(ctx)
	if err != nil {
		return nil, err
	}

	fees, err := s.client.EstimateFees(ctx, s.chainCfg)
	if err != nil {
		return nil, fmt.Errorf("fee estimation failed: %w", err)
	}

	masterTx, err := s.submitAuthorized(ctx, depositKey, from, s.master, master, domain, fees)
	if err != nil {
		return nil, fmt.Errorf("master authorization failed: %w", err)
	}

	feeTx := ""
	if fee.Sign() > 0 {
		feeTx, err = s.submitAuthorized(ctx, depositKey, from, s.feeWallet, fee, domain, fees)
		if err != nil {
			return nil, fmt.Errorf("fee authorization failed: %w", err)
		}
	}

	return &entities.SplitResult{
		MasterTxHash: masterTx,
		FeeTxHash:    feeTx,
		Gasless:      true,
	}, nil
}

func (s *Service) submitAuthorized(ctx context.Context, depositKey *ecdsa.PrivateKey, from, to common.Address, value *big.Int, domain common.Hash, fees *evm.FeeEstimate) (string, error) {
	if value.Sign() == 0 {
		return "", nil
	}

	auth, err := signAuthorization(depositKey, from, to, value, domain)
	if err != nil {
		return "", err
	}

	data, err := evm.EIP3009ABI.Pack("transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore,
		auth.Nonce, auth.V, auth.R, auth.S)
	if err != nil {
		return "", err
	}

	receipt, err := s.client.Execute(ctx, s.sponsorKey, evm.TxRequest{
		To:       s.stable,
		Data:     data,
		GasLimit: splitXferGasLimit,
		Fees:     fees,
	})
	if err != nil {
		return "", apperrors.Wrap(err, "transferWithAuthorization submission failed")
	}
	return receipt.TxHash.Hex(), nil
}

// signAuthorization builds and signs the EIP-712 payload, then verifies
// the signature recovers the expected signer before anything goes on
// chain. A bad recovery here means a derivation bug, and submitting it
// would only burn sponsor gas.
func signAuthorization(key *ecdsa.PrivateKey, from, to common.Address, value *big.Int, domain common.Hash) (*authorization, error) {
	now := time.Now().Unix()
	auth := &authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(now + int64(authorizationWindow.Seconds())),
	}
	if _, err := rand.Read(auth.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate authorization nonce: %w", err)
	}

	digest := authorizationDigest(auth, domain)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	recovered, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return nil, fmt.Errorf("failed to recover authorization signer: %w", err)
	}
	if crypto.PubkeyToAddress(*recovered) != from {
		return nil, fmt.Errorf("authorization signature does not recover to %s", from.Hex())
	}

	copy(auth.R[:], sig[0:32])
	copy(auth.S[:], sig[32:64])
	auth.V = sig[64] + 27

	return auth, nil
}

func authorizationDigest(auth *authorization, domain common.Hash) common.Hash {
	structHash := crypto.Keccak256Hash(
		transferWithAuthTypeHash.Bytes(),
		common.LeftPadBytes(auth.From.Bytes(), 32),
		common.LeftPadBytes(auth.To.Bytes(), 32),
		common.LeftPadBytes(auth.Value.Bytes(), 32),
		common.LeftPadBytes(auth.ValidAfter.Bytes(), 32),
		common.LeftPadBytes(auth.ValidBefore.Bytes(), 32),
		auth.Nonce[:],
	)
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domain.Bytes(),
		structHash.Bytes(),
	)
}

// domainSeparator reconstructs the token's EIP-712 domain from on-chain
// name and version.
func (s *Service) domainSeparator(ctx context.Context) (common.Hash, error) {
	name, err := s.client.TokenName(ctx, s.stable)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read token name: %w", err)
	}
	version, err := s.client.TokenVersion(ctx, s.stable)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(name)).Bytes(),
		crypto.Keccak256Hash([]byte(version)).Bytes(),
		common.LeftPadBytes(s.client.ChainIDCached().Bytes(), 32),
		common.LeftPadBytes(s.stable.Bytes(), 32),
	), nil
}
