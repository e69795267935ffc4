package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewKeySigner_Address(t *testing.T) {
	s, err := NewKeySigner(devKey, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())
}

func TestNewKeySigner_Errors(t *testing.T) {
	_, err := NewKeySigner("", big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = NewKeySigner("0xzz", big.NewInt(1))
	assert.Error(t, err)
}

func TestKeySigner_SignTxRecoversSender(t *testing.T) {
	chainID := big.NewInt(10)
	s, err := NewKeySigner(devKey, chainID)
	require.NoError(t, err)

	to := common.HexToAddress("0x1")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(3),
		Gas:       50_000,
		To:        &to,
	})

	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}
