package entities

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepositEventIdentityKey(t *testing.T) {
	event := DepositEvent{
		ChainKey: "base",
		TxHash:   "0xABCDEF",
		LogIndex: 3,
	}
	assert.Equal(t, "base:0xabcdef:3", event.IdentityKey())

	// Hash case never changes the identity.
	lower := event
	lower.TxHash = "0xabcdef"
	assert.Equal(t, event.IdentityKey(), lower.IdentityKey())
}

func TestDepositEventValidate(t *testing.T) {
	valid := DepositEvent{
		ChainKey:  "base",
		TxHash:    "0x01",
		ToAddress: "0xdeposit",
		Amount:    big.NewInt(1),
	}
	assert.NoError(t, valid.Validate())

	zero := valid
	zero.Amount = big.NewInt(0)
	assert.Error(t, zero.Validate())

	negative := valid
	negative.Amount = big.NewInt(-5)
	assert.Error(t, negative.Validate())

	noChain := valid
	noChain.ChainKey = ""
	assert.Error(t, noChain.Validate())

	noHash := valid
	noHash.TxHash = ""
	assert.Error(t, noHash.Validate())
}

func TestSettlementStatusTransitions(t *testing.T) {
	assert.True(t, SettlementStatusPending.CanTransitionTo(SettlementStatusSettled))
	assert.True(t, SettlementStatusPending.CanTransitionTo(SettlementStatusFailed))
	assert.True(t, SettlementStatusFailed.CanTransitionTo(SettlementStatusPending))
	assert.True(t, SettlementStatusStuck.CanTransitionTo(SettlementStatusPending))

	// Terminal states never move.
	assert.False(t, SettlementStatusSettled.CanTransitionTo(SettlementStatusPending))
	assert.False(t, SettlementStatusSettled.CanTransitionTo(SettlementStatusFailed))
	assert.False(t, SettlementStatusCreditedNoUser.CanTransitionTo(SettlementStatusPending))

	assert.True(t, SettlementStatusSettled.IsTerminal())
	assert.True(t, SettlementStatusCreditedNoUser.IsTerminal())
	assert.False(t, SettlementStatusFailed.IsTerminal())
}

func TestSweepAndDetectionValidation(t *testing.T) {
	assert.NoError(t, DetectionModeTransactions.Validate())
	assert.NoError(t, DetectionModeBalances.Validate())
	assert.Error(t, DetectionMode("websocket").Validate())
}
