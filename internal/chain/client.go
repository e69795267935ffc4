// Package chain provides typed Ethereum JSON-RPC methods on top of a transport.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"chain-reactor/internal/transport"
)

// Client is a typed chain client. Every method issues exactly one call through
// the transport, so the transport's bound applies per method.
type Client struct {
	tr transport.Transport
}

// New returns a client that uses tr for calls and subscriptions.
func New(tr transport.Transport) *Client {
	return &Client{tr: tr}
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.tr.Call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

// BlockNumber returns the most recent block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.tr.Call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// HeaderByHash returns the header of the block with the given hash.
func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return c.header(ctx, "eth_getBlockByHash", hash, false)
}

// HeaderByNumber returns a block header. A nil number selects the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.header(ctx, "eth_getBlockByNumber", toBlockNumArg(number), false)
}

func (c *Client) header(ctx context.Context, method string, args ...any) (*types.Header, error) {
	var head *types.Header
	if err := c.tr.Call(ctx, &head, method, args...); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, ethereum.NotFound
	}
	return head, nil
}

// BlockTxHashes returns the hashes of the transactions included in a block.
func (c *Client) BlockTxHashes(ctx context.Context, hash common.Hash) ([]common.Hash, error) {
	var block *struct {
		Transactions []common.Hash `json:"transactions"`
	}
	if err := c.tr.Call(ctx, &block, "eth_getBlockByHash", hash, false); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, ethereum.NotFound
	}
	return block.Transactions, nil
}

// Tx is a transaction together with the inclusion data the node reports.
type Tx struct {
	*types.Transaction
	From        common.Address
	BlockNumber *big.Int // nil while pending
	BlockHash   *common.Hash
}

// Pending reports whether the transaction is not yet included in a block.
func (t *Tx) Pending() bool {
	return t.BlockNumber == nil
}

type rpcTransaction struct {
	tx *types.Transaction
	txExtraInfo
}

type txExtraInfo struct {
	BlockNumber *string         `json:"blockNumber,omitempty"`
	BlockHash   *common.Hash    `json:"blockHash,omitempty"`
	From        *common.Address `json:"from,omitempty"`
}

func (tx *rpcTransaction) UnmarshalJSON(msg []byte) error {
	if err := json.Unmarshal(msg, &tx.tx); err != nil {
		return err
	}
	return json.Unmarshal(msg, &tx.txExtraInfo)
}

// TransactionByHash returns a pending or included transaction.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*Tx, error) {
	var raw *rpcTransaction
	if err := c.tr.Call(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if raw == nil || raw.tx == nil {
		return nil, ethereum.NotFound
	}
	if _, r, _ := raw.tx.RawSignatureValues(); r == nil {
		return nil, errors.New("server returned transaction without signature")
	}

	tx := &Tx{Transaction: raw.tx, BlockHash: raw.BlockHash}
	if raw.From != nil {
		tx.From = *raw.From
	}
	if raw.BlockNumber != nil {
		n, err := hexutil.DecodeBig(*raw.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block number: %w", err)
		}
		tx.BlockNumber = n
	}
	return tx, nil
}

// PendingNonceAt returns the next nonce for account including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.tr.Call(ctx, &nonce, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// SuggestGasTipCap returns the node's suggested priority fee.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip hexutil.Big
	if err := c.tr.Call(ctx, &tip, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return (*big.Int)(&tip), nil
}

// EstimateGas estimates the gas msg needs against the pending state.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas hexutil.Uint64
	if err := c.tr.Call(ctx, &gas, "eth_estimateGas", toCallArg(msg)); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// CallContract executes msg without creating a transaction. A nil block
// selects the latest state.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.tr.Call(ctx, &out, "eth_call", toCallArg(msg), toBlockNumArg(block)); err != nil {
		return nil, err
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	var hash common.Hash
	if err := c.tr.Call(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(data)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// SubscribeNewHeads streams headers of new canonical blocks.
func (c *Client) SubscribeNewHeads(ctx context.Context) (*Feed[*types.Header], error) {
	sub, err := c.tr.Subscribe(ctx, "eth", "newHeads")
	if err != nil {
		return nil, fmt.Errorf("subscribe newHeads: %w", err)
	}
	return newFeed(sub, func(raw json.RawMessage) (*types.Header, error) {
		var h types.Header
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		return &h, nil
	}), nil
}

// SubscribePendingTransactions streams hashes of transactions entering the pool.
func (c *Client) SubscribePendingTransactions(ctx context.Context) (*Feed[common.Hash], error) {
	sub, err := c.tr.Subscribe(ctx, "eth", "newPendingTransactions")
	if err != nil {
		return nil, fmt.Errorf("subscribe newPendingTransactions: %w", err)
	}
	return newFeed(sub, func(raw json.RawMessage) (common.Hash, error) {
		var h common.Hash
		err := json.Unmarshal(raw, &h)
		return h, err
	}), nil
}

// RevertData extracts revert bytes carried by an eth_call or eth_estimateGas error.
func RevertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, decErr := hexutil.Decode(s)
	if decErr != nil {
		return nil, false
	}
	return data, true
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	return rpc.BlockNumber(number.Int64()).String()
}

func toCallArg(msg ethereum.CallMsg) any {
	arg := map[string]any{
		"from": msg.From,
		"to":   msg.To,
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	if msg.GasFeeCap != nil {
		arg["maxFeePerGas"] = (*hexutil.Big)(msg.GasFeeCap)
	}
	if msg.GasTipCap != nil {
		arg["maxPriorityFeePerGas"] = (*hexutil.Big)(msg.GasTipCap)
	}
	return arg
}
