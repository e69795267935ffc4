package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-reactor/internal/chain/stub"
	"chain-reactor/internal/transport"
)

func signedTx(t *testing.T, chainID int64, nonce uint64, to common.Address, data []byte) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(chainID)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Data:      data,
	})
	require.NoError(t, err)
	return tx
}

func newClient(node *stub.Node) *Client {
	return New(transport.NewBounded(node, 200*time.Millisecond))
}

func TestClient_ChainIDAndBlockNumber(t *testing.T) {
	node := stub.NewNode(5)
	node.AddBlock(stub.NewHeader(42, common.Hash{}))
	c := newClient(node)

	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), id.Int64())

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestClient_HeaderAndBlockTxs(t *testing.T) {
	node := stub.NewNode(1)
	head := stub.NewHeader(10, common.HexToHash("0x01"))
	txA, txB := common.HexToHash("0xaa"), common.HexToHash("0xbb")
	node.AddBlock(head, txA, txB)
	c := newClient(node)

	got, err := c.HeaderByHash(context.Background(), head.Hash())
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), got.Hash())

	latest, err := c.HeaderByNumber(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), latest.Number.Uint64())

	hashes, err := c.BlockTxHashes(context.Background(), head.Hash())
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{txA, txB}, hashes)

	_, err = c.HeaderByHash(context.Background(), common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestClient_TransactionByHash(t *testing.T) {
	node := stub.NewNode(1)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx := signedTx(t, 1, 3, to, []byte{0xde, 0xad, 0xbe, 0xef})
	node.AddTransaction(tx)
	c := newClient(node)

	got, err := c.TransactionByHash(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), got.Hash())
	assert.Equal(t, to, *got.To())
	assert.Equal(t, uint64(3), got.Nonce())
	assert.True(t, got.Pending())

	_, err = c.TransactionByHash(context.Background(), common.HexToHash("0x99"))
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestClient_SendRawTransaction(t *testing.T) {
	node := stub.NewNode(1)
	c := newClient(node)
	tx := signedTx(t, 1, 0, common.Address{}, nil)

	hash, err := c.SendRawTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	require.Len(t, node.SentTransactions(), 1)
}

func TestClient_CallContractAndEstimate(t *testing.T) {
	node := stub.NewNode(1)
	node.CallResult = []byte{0x01, 0x02}
	node.Gas = 77_000
	c := newClient(node)

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	msg := ethereum.CallMsg{To: &to, Data: []byte{0xaa}}

	out, err := c.CallContract(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, out)

	gas, err := c.EstimateGas(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(77_000), gas)
}

func TestClient_TimeoutSurfacesAsTransportError(t *testing.T) {
	node := stub.NewNode(1)
	node.SetDelay("eth_blockNumber", 500*time.Millisecond)
	c := newClient(node)

	_, err := c.BlockNumber(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestRevertData(t *testing.T) {
	err := &transport.RPCError{Code: 3, Message: "execution reverted", Data: json.RawMessage(`"0x08c379a0"`)}
	data, ok := RevertData(err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x08, 0xc3, 0x79, 0xa0}, data)

	_, ok = RevertData(errors.New("plain"))
	assert.False(t, ok)
}

func TestFeeds(t *testing.T) {
	node := stub.NewNode(1)
	c := newClient(node)

	heads, err := c.SubscribeNewHeads(context.Background())
	require.NoError(t, err)
	defer heads.Unsubscribe()
	pending, err := c.SubscribePendingTransactions(context.Background())
	require.NoError(t, err)
	defer pending.Unsubscribe()

	head := stub.NewHeader(7, common.Hash{})
	go node.PushHead(head)
	select {
	case h := <-heads.Items():
		assert.Equal(t, head.Hash(), h.Hash())
	case <-time.After(time.Second):
		t.Fatal("no head")
	}

	go node.PushPending(common.HexToHash("0xabc"))
	select {
	case h := <-pending.Items():
		assert.Equal(t, common.HexToHash("0xabc"), h)
	case <-time.After(time.Second):
		t.Fatal("no pending hash")
	}
}

func TestFeed_SubscriptionErrorEndsFeed(t *testing.T) {
	node := stub.NewNode(1)
	c := newClient(node)

	heads, err := c.SubscribeNewHeads(context.Background())
	require.NoError(t, err)
	defer heads.Unsubscribe()

	boom := errors.New("node went away")
	node.Fail("newHeads", boom)

	select {
	case err := <-heads.Err():
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("no error")
	}
}

func TestFeed_UnsubscribeReleasesNode(t *testing.T) {
	node := stub.NewNode(1)
	c := newClient(node)

	pending, err := c.SubscribePendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, node.Subscribers("newPendingTransactions"))

	pending.Unsubscribe()
	assert.Equal(t, 0, node.Subscribers("newPendingTransactions"))
}
