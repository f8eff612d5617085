package swap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
)

var (
	testStable    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testRecipient = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
)

func transferLog(token, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			evm.ERC20ABI.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestRealizedOutPrefersBalanceDelta(t *testing.T) {
	// Logs say 1_000_000 but the balance moved by 1_050_000; the delta
	// wins so the extra is credited instead of stranded.
	receipt := &types.Receipt{Logs: []*types.Log{
		transferLog(testStable, common.Address{1}, testRecipient, big.NewInt(1_000_000)),
	}}

	out := realizedOut(big.NewInt(500), big.NewInt(1_050_500), receipt,
		testStable, testRecipient, big.NewInt(900_000))
	assert.Equal(t, "1050000", out.String())
}

func TestRealizedOutFallsBackToLogs(t *testing.T) {
	receipt := &types.Receipt{Logs: []*types.Log{
		// Wrong token, wrong recipient, then the real delivery.
		transferLog(common.Address{9}, common.Address{1}, testRecipient, big.NewInt(7)),
		transferLog(testStable, common.Address{1}, common.Address{2}, big.NewInt(8)),
		transferLog(testStable, common.Address{1}, testRecipient, big.NewInt(1_234_567)),
	}}

	// A failed balance read leaves before/after nil.
	out := realizedOut(nil, nil, receipt, testStable, testRecipient, big.NewInt(900_000))
	assert.Equal(t, "1234567", out.String())

	// One missing read is as useless as two.
	out = realizedOut(big.NewInt(500), nil, receipt, testStable, testRecipient, big.NewInt(900_000))
	assert.Equal(t, "1234567", out.String())
}

func TestRealizedOutFloorWhenNothingObservable(t *testing.T) {
	receipt := &types.Receipt{}
	out := realizedOut(nil, nil, receipt, testStable, testRecipient, big.NewInt(900_000))
	assert.Equal(t, "900000", out.String())

	// A non-positive delta is a read anomaly, not a settlement; fall
	// through rather than credit zero.
	out = realizedOut(big.NewInt(500), big.NewInt(500), receipt, testStable, testRecipient, big.NewInt(900_000))
	assert.Equal(t, "900000", out.String())
}
