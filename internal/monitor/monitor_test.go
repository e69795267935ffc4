package monitor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chain-reactor/internal/multicall"
)

var (
	router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	pair   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	swap   = []byte{0x38, 0xed, 0x17, 0x39}
)

func pendingTx(to *common.Address, value int64, data []byte) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21_000,
		To:        to,
		Value:     big.NewInt(value),
		Data:      data,
	})
}

func swapRule() Rule {
	return Rule{
		Name:     "router-swap",
		To:       router,
		Selector: swap,
		MinValue: big.NewInt(100),
		Calls: []Template{
			{Target: pair, Data: []byte{0x09, 0x02, 0xf1, 0xac}, Mode: multicall.MustSucceed},
			{Forward: true, Mode: multicall.AllowFailure},
		},
	}
}

func TestWatch_MatchBuildsBundle(t *testing.T) {
	w := NewWatch("swaps", swapRule())
	data := append(append([]byte{}, swap...), 0xde, 0xad)
	tx := pendingTx(&router, 500, data)

	b, err := w.ProcessTx(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, 2, b.Len())

	entries := b.Entries()
	assert.Equal(t, multicall.MustSucceed, entries[0].Mode)
	assert.Equal(t, pair, entries[0].Call.Target)
	assert.Equal(t, multicall.AllowFailure, entries[1].Mode)
	assert.Equal(t, router, entries[1].Call.Target)
	assert.Equal(t, data, entries[1].Call.Input)
}

func TestWatch_NoMatch(t *testing.T) {
	w := NewWatch("swaps", swapRule())
	other := common.HexToAddress("0x01")
	data := append(append([]byte{}, swap...), 0x00)

	cases := map[string]*types.Transaction{
		"contract creation": pendingTx(nil, 500, data),
		"other recipient":   pendingTx(&other, 500, data),
		"other selector":    pendingTx(&router, 500, []byte{0xa9, 0x05, 0x9c, 0xbb}),
		"short calldata":    pendingTx(&router, 500, swap[:2]),
		"value too small":   pendingTx(&router, 99, data),
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := w.ProcessTx(context.Background(), tx)
			require.NoError(t, err)
			assert.Nil(t, b)
		})
	}
}

func TestWatch_FirstRuleWins(t *testing.T) {
	first := Rule{To: router, Calls: []Template{{Target: pair}}}
	second := swapRule()
	w := NewWatch("swaps", first, second)

	b, err := w.ProcessTx(context.Background(), pendingTx(&router, 500, swap))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.Len())
}

func TestWatch_CancelledContext(t *testing.T) {
	w := NewWatch("swaps", swapRule())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.ProcessTx(ctx, pendingTx(&router, 500, swap))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogger_LogsAndNeverReacts(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLogger(zap.New(core))

	b, err := l.ProcessTx(context.Background(), pendingTx(&router, 1, swap))
	require.NoError(t, err)
	assert.Nil(t, b)

	h := &types.Header{Number: big.NewInt(12), Difficulty: big.NewInt(0)}
	require.NoError(t, l.ProcessBlock(context.Background(), h))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pending tx", entries[0].Message)
	assert.Equal(t, "0x38ed1739", entries[0].ContextMap()["selector"])
	assert.Equal(t, router.Hex(), entries[0].ContextMap()["to"])
	assert.Equal(t, uint64(12), entries[1].ContextMap()["number"])
}

func TestFuncAdapters(t *testing.T) {
	want := multicall.NewBundle()
	p := PendingFunc{ID: "fn", Fn: func(context.Context, *types.Transaction) (*multicall.Bundle, error) {
		return want, nil
	}}
	got, err := p.ProcessTx(context.Background(), pendingTx(&router, 0, nil))
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, "fn", p.Name())

	var seen uint64
	bm := BlockFunc{ID: "blk", Fn: func(_ context.Context, h *types.Header) error {
		seen = h.Number.Uint64()
		return nil
	}}
	require.NoError(t, bm.ProcessBlock(context.Background(), &types.Header{Number: big.NewInt(4)}))
	assert.Equal(t, uint64(4), seen)
}
